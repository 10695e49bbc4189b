// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"sync"
)

// FakeOracle is a scripted Oracle for tests: each call to Complete
// pops the next response from Responses (or loops the last one if
// Responses has only one entry), and records every request it saw.
type FakeOracle struct {
	mu        sync.Mutex
	Responses []Response
	Err       error
	Requests  [][]Message
	next      int
}

func (f *FakeOracle) Complete(_ context.Context, messages []Message, _ GenerationParams) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Requests = append(f.Requests, messages)
	if f.Err != nil {
		return Response{}, f.Err
	}
	if len(f.Responses) == 0 {
		return Response{}, nil
	}
	idx := f.next
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	} else {
		f.next++
	}
	return f.Responses[idx], nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"fmt"

	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

// MemoryRecallAgent surfaces the pre-fetched memory.Bundle as a DAG
// node input for the rest of the context-gathering fan-out (§4.6,
// Priority High so it lands before dependent steps need it). The
// actual LocusGraph query happens once up front via memory.Adapter.Inject;
// this agent's job is only to fold that bundle into the task's
// visible context, so it makes no oracle call of its own.
type MemoryRecallAgent struct {
	deps Deps
}

// NewMemoryRecallAgent builds a MemoryRecallAgent.
func NewMemoryRecallAgent(deps Deps) *MemoryRecallAgent { return &MemoryRecallAgent{deps: deps} }

func (a *MemoryRecallAgent) Kind() taskdag.AgentKind { return taskdag.KindMemoryRecall }

func (a *MemoryRecallAgent) Run(_ context.Context, in Input) (Report, error) {
	return Report{
		Summary: fmt.Sprintf("recalled %d memory event(s), %d token(s)", len(in.Bundle.Events), in.Bundle.TokensUsed),
		Detail:  in.Bundle,
	}, nil
}

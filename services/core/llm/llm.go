// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm defines the oracle contract every agent calls through.
// The LLM transport layer itself is an external collaborator outside
// this runtime's scope (§1 Non-goals) — this package fixes the
// interface the runtime depends on and provides one concrete adapter
// plus a fake for tests, without reimplementing a full
// multi-provider client stack.
package llm

import "context"

// Message is one turn of a chat-style request.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// GenerationParams mirrors the shape agents need to control sampling,
// grounded on services/llm/client.go's GenerationParams — trimmed to
// the fields the agent catalogue actually sets.
type GenerationParams struct {
	Temperature *float32
	MaxTokens   *int
	Stop        []string
}

// Response is a completed, non-streamed generation.
type Response struct {
	Content      string
	TokensUsed   int
	FinishReason string
}

// Oracle is the contract the agent catalogue calls through (§2's
// "LLM oracle" collaborator). Implementations must be safe for
// concurrent use, since multiple agents may call Complete
// simultaneously under Smart/Deep concurrency.
type Oracle interface {
	Complete(ctx context.Context, messages []Message, params GenerationParams) (Response, error)
}

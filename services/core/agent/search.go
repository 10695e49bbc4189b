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

	"github.com/aleutian-labs/locusagent/services/core/llm"
	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

// SearchAgent performs targeted grep-based search for symbols or
// patterns named by the task. Only included in Smart/Deep profiles
// (§6: Rush.IncludeSearchAgent=false).
type SearchAgent struct {
	deps Deps
}

// NewSearchAgent builds a SearchAgent.
func NewSearchAgent(deps Deps) *SearchAgent { return &SearchAgent{deps: deps} }

func (a *SearchAgent) Kind() taskdag.AgentKind { return taskdag.KindSearch }

func (a *SearchAgent) Run(ctx context.Context, in Input) (Report, error) {
	var pattern string
	var matches any

	err := runBoundedLoop(ctx, in.Profile, func(ctx context.Context, iteration int) (bool, error) {
		resp, err := a.deps.Oracle.Complete(ctx, []llm.Message{
			{Role: "system", Content: "You produce a single regular expression to search a Go repository for code relevant to the task. Respond with only the pattern."},
			{Role: "user", Content: in.Prompt},
		}, llm.GenerationParams{})
		if err != nil {
			return false, fmt.Errorf("search: oracle: %w", err)
		}
		pattern = resp.Content

		grepRes, err := a.deps.Tools.Call(ctx, in.AgentID, "grep", map[string]any{"pattern": pattern})
		if err != nil {
			return false, fmt.Errorf("search: grep: %w", err)
		}
		matches = grepRes.Result["matches"]
		return true, nil
	})
	if err != nil {
		return Report{}, err
	}

	return Report{Summary: fmt.Sprintf("searched for %q", pattern), Detail: matches}, nil
}

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
	"strings"

	"github.com/aleutian-labs/locusagent/services/core/llm"
	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

// DebugAgent diagnoses a failing test run and proposes a revised
// prompt for the next PatchAgent iteration (§4.6 debug loop, bounded
// by profile.DebugLoopCap in the orchestrator, not here).
type DebugAgent struct {
	deps Deps
}

// NewDebugAgent builds a DebugAgent.
func NewDebugAgent(deps Deps) *DebugAgent { return &DebugAgent{deps: deps} }

func (a *DebugAgent) Kind() taskdag.AgentKind { return taskdag.KindDebug }

// Diagnosis is DebugAgent's structured report detail.
type Diagnosis struct {
	RootCause     string
	RevisedPrompt string
}

func (a *DebugAgent) Run(ctx context.Context, in Input) (Report, error) {
	var testSummary Summary
	for _, dep := range in.Dependencies {
		if s, ok := dep.Report.(Summary); ok {
			testSummary = s
			break
		}
	}
	excerpt := failureExcerpt(testSummary.Stderr+"\n"+testSummary.Stdout, 60)

	var diagnosis Diagnosis
	err := runBoundedLoop(ctx, in.Profile, func(ctx context.Context, iteration int) (bool, error) {
		resp, err := a.deps.Oracle.Complete(ctx, []llm.Message{
			{Role: "system", Content: "You diagnose a failing test run and produce a revised task prompt that would fix it. Respond as:\nCAUSE: <one line>\nPROMPT: <revised instructions>"},
			{Role: "user", Content: fmt.Sprintf("Original task: %s\nTest failure output:\n%s", in.Prompt, excerpt)},
		}, llm.GenerationParams{})
		if err != nil {
			return false, fmt.Errorf("debug: oracle: %w", err)
		}
		diagnosis = parseDiagnosis(resp.Content)
		return true, nil
	})
	if err != nil {
		return Report{}, err
	}

	return Report{Summary: diagnosis.RootCause, Detail: diagnosis}, nil
}

func parseDiagnosis(text string) Diagnosis {
	var d Diagnosis
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "CAUSE:"):
			d.RootCause = strings.TrimSpace(strings.TrimPrefix(line, "CAUSE:"))
		case strings.HasPrefix(line, "PROMPT:"):
			d.RevisedPrompt = strings.TrimSpace(strings.TrimPrefix(line, "PROMPT:"))
		}
	}
	return d
}

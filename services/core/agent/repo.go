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

// RepoAgent gathers repository structure and file contents relevant
// to the task (§4.6: context-gathering fan-out, Priority Normal).
type RepoAgent struct {
	deps Deps
}

// NewRepoAgent builds a RepoAgent.
func NewRepoAgent(deps Deps) *RepoAgent { return &RepoAgent{deps: deps} }

func (a *RepoAgent) Kind() taskdag.AgentKind { return taskdag.KindRepo }

// maxExcerptFiles bounds how many files RepoAgent excerpts per run so
// a large repository cannot blow the oracle's context window.
const maxExcerptFiles = 8

func (a *RepoAgent) Run(ctx context.Context, in Input) (Report, error) {
	globRes, err := a.deps.Tools.Call(ctx, in.AgentID, "glob", map[string]any{"pattern": "**/*.go"})
	if err != nil {
		return Report{}, fmt.Errorf("repo: list files: %w", err)
	}

	paths, _ := globRes.Result["paths"].([]string)
	var excerpts strings.Builder
	for i, p := range paths {
		if i >= maxExcerptFiles {
			break
		}
		readRes, err := a.deps.Tools.Call(ctx, in.AgentID, "file_read", map[string]any{"path": p})
		if err != nil {
			continue
		}
		content, _ := readRes.Result["content"].(string)
		excerpts.WriteString(excerptFunctions(ctx, p, []byte(content)))
		excerpts.WriteString("\n")
	}

	var summary string
	err = runBoundedLoop(ctx, in.Profile, func(ctx context.Context, iteration int) (bool, error) {
		resp, err := a.deps.Oracle.Complete(ctx, []llm.Message{
			{Role: "system", Content: "You summarize repository structure relevant to a coding task."},
			{Role: "user", Content: fmt.Sprintf("Task: %s\nRelevant declarations:\n%s", in.Prompt, excerpts.String())},
		}, llm.GenerationParams{})
		if err != nil {
			return false, fmt.Errorf("repo: oracle: %w", err)
		}
		summary = resp.Content
		return true, nil
	})
	if err != nil {
		return Report{}, err
	}

	return Report{Summary: summary, Detail: paths}, nil
}

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

// CommitAgent stages the applied files and creates a git commit once
// tests pass (§4.6/§4.7 Committing state).
type CommitAgent struct {
	deps Deps
}

// NewCommitAgent builds a CommitAgent.
func NewCommitAgent(deps Deps) *CommitAgent { return &CommitAgent{deps: deps} }

func (a *CommitAgent) Kind() taskdag.AgentKind { return taskdag.KindCommit }

func (a *CommitAgent) Run(ctx context.Context, in Input) (Report, error) {
	paths := appliedPaths(in.Dependencies)
	if len(paths) == 0 {
		return Report{}, fmt.Errorf("commit: no applied files to stage")
	}

	if _, err := a.deps.Tools.Call(ctx, in.AgentID, "git_add", map[string]any{"paths": paths}); err != nil {
		return Report{}, fmt.Errorf("commit: git_add: %w", err)
	}

	var message string
	err := runBoundedLoop(ctx, in.Profile, func(ctx context.Context, iteration int) (bool, error) {
		resp, err := a.deps.Oracle.Complete(ctx, []llm.Message{
			{Role: "system", Content: "You write a single-line conventional commit message for the given task and changed files. Respond with only the message."},
			{Role: "user", Content: fmt.Sprintf("Task: %s\nFiles: %s", in.Prompt, strings.Join(paths, ", "))},
		}, llm.GenerationParams{})
		if err != nil {
			return false, fmt.Errorf("commit: oracle: %w", err)
		}
		message = strings.TrimSpace(resp.Content)
		return true, nil
	})
	if err != nil {
		return Report{}, err
	}

	result, err := a.deps.Tools.Call(ctx, in.AgentID, "git_commit", map[string]any{"message": message})
	if err != nil {
		return Report{}, fmt.Errorf("commit: git_commit: %w", err)
	}

	return Report{Summary: fmt.Sprintf("committed: %s", message), Detail: result.Result}, nil
}

// appliedPaths extracts file paths out of any patch.DiffSet found
// among the node's dependency reports.
func appliedPaths(deps map[string]taskdag.ResultEnvelope) []string {
	var paths []string
	for _, dep := range deps {
		type fileLister interface{ FilePaths() []string }
		if fl, ok := dep.Report.(fileLister); ok {
			paths = append(paths, fl.FilePaths()...)
		}
	}
	return paths
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolbus

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// gitHandler is the shared implementation behind the git_* tools: run
// a fixed git subcommand with explicit args, never a user-supplied
// shell string (§4.2, avoids command-injection by construction).
type gitHandler struct {
	name       string
	capability Capability
	repoRoot   string
	subcommand []string
	extraArgs  func(args map[string]any) ([]string, error)
}

func (h *gitHandler) Name() string          { return h.name }
func (h *gitHandler) Capability() Capability { return h.capability }

func (h *gitHandler) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	argv := append([]string{}, h.subcommand...)
	if h.extraArgs != nil {
		extra, err := h.extraArgs(args)
		if err != nil {
			return nil, err
		}
		argv = append(argv, extra...)
	}

	cmd := exec.CommandContext(ctx, "git", argv...)
	cmd.Dir = h.repoRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(argv, " "), err, stderr.String())
	}

	return map[string]any{"stdout": stdout.String()}, nil
}

// NewGitStatusHandler implements git_status.
func NewGitStatusHandler(repoRoot string) Handler {
	return &gitHandler{name: "git_status", capability: CapRead, repoRoot: repoRoot,
		subcommand: []string{"status", "--porcelain=v2", "--branch"}}
}

// NewGitDiffHandler implements git_diff.
func NewGitDiffHandler(repoRoot string) Handler {
	return &gitHandler{name: "git_diff", capability: CapRead, repoRoot: repoRoot,
		subcommand: []string{"diff", "--no-color"}}
}

// NewGitAddHandler implements git_add, restricted to explicit paths
// (never "git add -A", so an out-of-scope path can never be staged).
func NewGitAddHandler(repoRoot string) Handler {
	return &gitHandler{name: "git_add", capability: CapGitWrite, repoRoot: repoRoot,
		subcommand: []string{"add", "--"},
		extraArgs: func(args map[string]any) ([]string, error) {
			paths, ok := args["paths"].([]string)
			if !ok || len(paths) == 0 {
				return nil, fmt.Errorf("git_add: missing paths")
			}
			return paths, nil
		},
	}
}

// NewGitCommitHandler implements git_commit (§4.7 Commit step).
func NewGitCommitHandler(repoRoot string) Handler {
	return &gitHandler{name: "git_commit", capability: CapGitWrite, repoRoot: repoRoot,
		subcommand: []string{"commit"},
		extraArgs: func(args map[string]any) ([]string, error) {
			message, ok := args["message"].(string)
			if !ok || message == "" {
				return nil, fmt.Errorf("git_commit: missing message")
			}
			return []string{"-m", message}, nil
		},
	}
}

// NewGitPushHandler implements git_push. A force push is a distinct
// permission scope from an ordinary push and is denied even when
// ordinary git_push was promoted to "always allow" (§8,
// PermissionTable.Decide).
func NewGitPushHandler(repoRoot string) Handler {
	return &gitHandler{name: "git_push", capability: CapGitWrite, repoRoot: repoRoot,
		subcommand: []string{"push"},
		extraArgs: func(args map[string]any) ([]string, error) {
			var extra []string
			if force, _ := args["force"].(bool); force {
				extra = append(extra, "--force-with-lease")
			}
			if remote, ok := args["remote"].(string); ok && remote != "" {
				extra = append(extra, remote)
			}
			if branch, ok := args["branch"].(string); ok && branch != "" {
				extra = append(extra, branch)
			}
			return extra, nil
		},
	}
}

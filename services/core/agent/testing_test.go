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
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/locusagent/services/core/mode"
	"github.com/aleutian-labs/locusagent/services/core/sandbox"
	"github.com/aleutian-labs/locusagent/services/core/toolbus"
)

// newTestRepo builds a real git repository with a couple of Go files,
// since RepoAgent/PatchAgent/CommitAgent all exercise real
// ToolBus handlers rather than mocks (matching the toolbus package's
// own test style).
func newTestRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "agent@example.com")
	run("config", "user.name", "locusagent")

	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	run("add", "main.go")
	run("commit", "-m", "initial")
	return repo
}

func newTestTools(t *testing.T, repoRoot string) *toolbus.ToolBus {
	t.Helper()
	gate, err := sandbox.NewGate(repoRoot, t.TempDir())
	require.NoError(t, err)

	perms := toolbus.NewPermissionTable(func(toolbus.Capability, string) (bool, bool) { return true, true })
	tb := toolbus.New(gate, perms, nil)
	tb.Register(&toolbus.FileReadHandler{Gate: gate})
	tb.Register(&toolbus.FileWriteHandler{Gate: gate})
	tb.Register(&toolbus.GrepHandler{Gate: gate})
	tb.Register(&toolbus.GlobHandler{Gate: gate})
	tb.Register(&toolbus.RunCmdHandler{Gate: gate, RepoRoot: repoRoot})
	tb.Register(toolbus.NewGitAddHandler(repoRoot))
	tb.Register(toolbus.NewGitCommitHandler(repoRoot))
	return tb
}

func smartProfile() mode.Profile {
	return mode.Default()[mode.Smart]
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedEnviron_StripsSecretShapedVars(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-whatever")
	t.Setenv("GITHUB_TOKEN", "ghp_whatever")
	t.Setenv("DB_PASSWORD", "hunter2")
	t.Setenv("TOTALLY_ORDINARY_VAR", "fine")

	env := SanitizedEnviron()
	for _, kv := range env {
		name, _, _ := splitEnv(kv)
		assert.NotEqual(t, "OPENAI_API_KEY", name)
		assert.NotEqual(t, "GITHUB_TOKEN", name)
		assert.NotEqual(t, "DB_PASSWORD", name)
	}
	assert.True(t, containsName(env, "TOTALLY_ORDINARY_VAR"))
}

func TestSplitEnv(t *testing.T) {
	name, value, found := splitEnv("FOO=bar")
	assert.True(t, found)
	assert.Equal(t, "FOO", name)
	assert.Equal(t, "bar", value)

	_, _, found = splitEnv("NOEQUALS")
	assert.False(t, found)
}

func TestApplyLimits_WrapsCommandInShellWithUlimits(t *testing.T) {
	cmd := exec.Command("/usr/bin/go", "test", "./...")
	limits := DefaultResourceLimits()
	ApplyLimits(cmd, limits, "/tmp/sandbox-home")

	require.Equal(t, "/bin/sh", cmd.Path)
	require.GreaterOrEqual(t, len(cmd.Args), 4)
	assert.Equal(t, "sh", cmd.Args[0])
	assert.Equal(t, "-c", cmd.Args[1])
	assert.Contains(t, cmd.Args[2], "ulimit -t 120")
	assert.Contains(t, cmd.Args[2], "exec \"$@\"")
	assert.Equal(t, "--", cmd.Args[3])
	assert.Equal(t, []string{"/usr/bin/go", "test", "./..."}, cmd.Args[4:])

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)

	foundHome := false
	for _, kv := range cmd.Env {
		if strings.HasPrefix(kv, "HOME=") {
			foundHome = true
			assert.Equal(t, "HOME=/tmp/sandbox-home", kv)
		}
	}
	assert.True(t, foundHome)
}

func containsName(env []string, name string) bool {
	for _, kv := range env {
		n, _, _ := splitEnv(kv)
		if n == name {
			return true
		}
	}
	return false
}

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

	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

// TestAgent runs the project's test command through ToolBus's
// sandboxed run_cmd and reports pass/fail counts (§4.6 post-apply
// verification step).
type TestAgent struct {
	deps    Deps
	Command string
}

// NewTestAgent builds a TestAgent that runs command (e.g. "go test
// ./...").
func NewTestAgent(deps Deps, command string) *TestAgent {
	return &TestAgent{deps: deps, Command: command}
}

func (a *TestAgent) Kind() taskdag.AgentKind { return taskdag.KindTest }

// Summary is TestAgent's structured report detail.
type Summary struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Passed   bool
}

func (a *TestAgent) Run(ctx context.Context, in Input) (Report, error) {
	result, err := a.deps.Tools.Call(ctx, in.AgentID, "run_cmd", map[string]any{"command": a.Command})
	if err != nil {
		return Report{}, fmt.Errorf("test: run_cmd: %w", err)
	}

	exitCode, _ := result.Result["exit_code"].(int)
	stdout, _ := result.Result["stdout"].(string)
	stderr, _ := result.Result["stderr"].(string)

	summary := Summary{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Passed:   exitCode == 0,
	}

	label := "passed"
	if !summary.Passed {
		label = "failed"
	}
	return Report{Summary: fmt.Sprintf("test run %s (exit %d)", label, exitCode), Detail: summary}, nil
}

// failureExcerpt trims stderr/stdout to a bounded excerpt suitable for
// seeding DebugAgent's prompt without blowing the token budget.
func failureExcerpt(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}

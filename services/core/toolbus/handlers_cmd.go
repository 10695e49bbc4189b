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
	"time"

	"github.com/aleutian-labs/locusagent/services/core/sandbox"
)

// RunCmdHandler implements the run_cmd tool: a sandboxed subprocess
// with resource ceilings, a timeout, and output secret-redaction
// (§4.2). Grounded on the ulimit-wrapping pattern in
// sandbox.ApplyLimits.
type RunCmdHandler struct {
	Gate        *sandbox.Gate
	RepoRoot    string
	SandboxHome string
	Timeout     time.Duration
}

func (h *RunCmdHandler) Name() string          { return "run_cmd" }
func (h *RunCmdHandler) Capability() Capability { return CapExecute }

func (h *RunCmdHandler) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	command, ok := args["command"].(string)
	if !ok {
		return nil, fmt.Errorf("run_cmd: missing command")
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("run_cmd: empty command")
	}

	cmd := exec.CommandContext(runCtx, fields[0], fields[1:]...)
	cmd.Dir = h.RepoRoot
	sandbox.ApplyLimits(cmd, h.Gate.Limits, h.SandboxHome)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if runCtx.Err() != nil && cmd.Process != nil {
		_ = sandbox.KillGroup(cmd.Process.Pid)
		return nil, fmt.Errorf("%w: run_cmd exceeded %s", ErrTimeout, timeout)
	}

	exitCode := 0
	if exitErr, isExit := err.(*exec.ExitError); isExit {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return nil, err
	}

	out := h.Gate.Redact(stdout.String())
	errOut := h.Gate.Redact(stderr.String())

	return map[string]any{
		"stdout":    out,
		"stderr":    errOut,
		"exit_code": exitCode,
	}, nil
}

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
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"syscall"

	"golang.org/x/sys/unix"
)

// ResourceLimits are the subprocess ceilings from §4.2: reduced CPU,
// memory, file-size, open-file, and process-count budgets. Grounded on
// cmd/aleutian/resource_limits.go's ResourceChecker/syscall usage,
// generalized here from host-diagnostic checks to child-process
// enforcement.
type ResourceLimits struct {
	CPUSeconds   uint64 // default 120s
	MemoryBytes  uint64 // default ~512MB
	FileSizeBytes uint64 // default ~50MB
	OpenFiles    uint64 // default 256
	Processes    uint64 // default 32
}

// DefaultResourceLimits matches the numbers named in §4.2.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		CPUSeconds:    120,
		MemoryBytes:   512 * 1024 * 1024,
		FileSizeBytes: 50 * 1024 * 1024,
		OpenFiles:     256,
		Processes:     32,
	}
}

// secretEnvPattern matches environment variable names that look like
// they carry credentials, so they can be stripped before subprocess
// execution (§6 "All secret-shaped environment values are stripped
// before subprocess execution"). Open Question (b) is resolved here:
// this table is the explicit, documented allow/deny pattern.
var secretEnvPattern = regexp.MustCompile(`(?i)(KEY|TOKEN|SECRET|PASSWORD|CREDENTIAL|_PAT$|PRIVATE)`)

// SanitizedEnviron returns the current process environment with any
// secret-shaped variable removed.
func SanitizedEnviron() []string {
	var out []string
	for _, kv := range os.Environ() {
		name, _, found := splitEnv(kv)
		if found && secretEnvPattern.MatchString(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func splitEnv(kv string) (name, value string, found bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}

// ApplyLimits configures cmd so the spawned subprocess runs in a new
// process group (so the whole group can be killed on timeout, §7) with
// a sandboxed HOME, minimized PATH, and the secret-stripped
// environment. The CPU/memory/file-size/open-file/process ceilings are
// applied by wrapping the command in a shell invocation that sets them
// with the `ulimit` builtin before exec'ing the real command — the
// portable way to apply rlimits to a child without a cgo-only
// fork/exec hook, matching what a plain os/exec-based sandbox can do.
func ApplyLimits(cmd *exec.Cmd, limits ResourceLimits, sandboxHome string) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	env := SanitizedEnviron()
	env = append(env,
		fmt.Sprintf("HOME=%s", sandboxHome),
		"PATH=/usr/bin:/bin:/usr/local/bin",
	)
	cmd.Env = env

	wrapped := fmt.Sprintf(
		"ulimit -t %d; ulimit -v %d; ulimit -f %d; ulimit -n %d; ulimit -u %d; exec \"$@\"",
		limits.CPUSeconds,
		limits.MemoryBytes/1024, // ulimit -v is in KB
		limits.FileSizeBytes/512, // ulimit -f is in 512-byte blocks
		limits.OpenFiles,
		limits.Processes,
	)

	original := append([]string{cmd.Path}, cmd.Args[1:]...)
	cmd.Path = "/bin/sh"
	cmd.Args = append([]string{"sh", "-c", wrapped, "--"}, original...)
}

// KillGroup terminates the process group started by a command whose
// SysProcAttr.Setpgid was set via ApplyLimits, used when a run_cmd
// exceeds its timeout (§8 "subprocess terminated within one grace
// period").
func KillGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGKILL)
}

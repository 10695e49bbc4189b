// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// PreFlightConfig controls the repo guard run before an apply.
// Grounded on transaction/preflight.go's PreFlightConfig.
type PreFlightConfig struct {
	Force          bool
	AllowDetached  bool
}

// PreFlightResult reports what the guard found. Grounded on
// transaction/preflight.go's PreFlightResult/FirstError/FormatErrors.
type PreFlightResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

// FirstError returns the first blocking error, or "" if Passed.
func (r PreFlightResult) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0]
}

// FormatErrors joins every blocking error into one message.
func (r PreFlightResult) FormatErrors() string {
	return strings.Join(r.Errors, "; ")
}

// RunPreFlight checks that repoRoot's working tree is in a state safe
// to apply a diff set to: clean (unless cfg.Force) and on a named
// branch (unless cfg.AllowDetached). §4.4 supplemented feature: a
// patch pipeline that writes straight to disk without this guard can
// silently stack onto an already-dirty tree.
func RunPreFlight(repoRoot string, cfg PreFlightConfig) (PreFlightResult, error) {
	result := PreFlightResult{Passed: true}

	if !cfg.Force {
		dirty, err := isDirty(repoRoot)
		if err != nil {
			return result, err
		}
		if dirty {
			result.Passed = false
			result.Errors = append(result.Errors, "working tree has uncommitted changes")
		}
	}

	if !cfg.AllowDetached {
		detached, err := isDetached(repoRoot)
		if err != nil {
			return result, err
		}
		if detached {
			result.Passed = false
			result.Errors = append(result.Errors, "HEAD is detached")
		}
	}

	return result, nil
}

func isDirty(repoRoot string) (bool, error) {
	out, err := runGit(repoRoot, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func isDetached(repoRoot string) (bool, error) {
	out, err := runGit(repoRoot, "symbolic-ref", "-q", "HEAD")
	if err != nil {
		// symbolic-ref exits non-zero when HEAD is detached.
		return true, nil
	}
	return strings.TrimSpace(out) == "", nil
}

func runGit(repoRoot string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = repoRoot
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

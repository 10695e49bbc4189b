// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox implements the ToolBus sandbox policy (§4.2): path
// containment, command allow/deny, subprocess resource ceilings, and
// secret detection/redaction.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path argument resolves outside the
// session repo root or the permitted temp root.
var ErrPathEscape = errors.New("sandbox: path escapes the permitted root")

// PathPolicy enforces path containment with symlink-aware
// canonicalization. Grounded on diff/apply.go's isPathSafe
// (filepath.Rel-based containment) blended with agent/safety/gate.go's
// PathChecker (blocked-path-prefix list), since substring matching
// alone does not resolve symlinks.
type PathPolicy struct {
	repoRoot string
	tempRoot string
}

// NewPathPolicy builds a policy rooted at repoRoot. tempRoot is the
// process temp directory, explicitly allowed alongside the repo (§4.2).
func NewPathPolicy(repoRoot, tempRoot string) (*PathPolicy, error) {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve repo root: %w", err)
	}
	resolved, err := canonicalize(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox: canonicalize repo root: %w", err)
	}
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	resolvedTemp, err := canonicalize(tempRoot)
	if err != nil {
		resolvedTemp = tempRoot
	}
	return &PathPolicy{repoRoot: resolved, tempRoot: resolvedTemp}, nil
}

// Resolve canonicalizes path (interpreting relative paths against the
// repo root) and checks containment. It returns ErrPathEscape if the
// resolved path — following symlinks — lies outside both roots.
func (p *PathPolicy) Resolve(path string) (string, error) {
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(p.repoRoot, candidate)
	}

	resolved, err := canonicalize(candidate)
	if err != nil {
		// The target may not exist yet (e.g. a new file about to be
		// written); canonicalize its parent directory instead and
		// re-attach the base name.
		parent, base := filepath.Split(candidate)
		resolvedParent, perr := canonicalize(parent)
		if perr != nil {
			return "", fmt.Errorf("sandbox: resolve %s: %w", path, err)
		}
		resolved = filepath.Join(resolvedParent, base)
	}

	if isContained(resolved, p.repoRoot) || isContained(resolved, p.tempRoot) {
		return resolved, nil
	}
	return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
}

// canonicalize resolves symlinks via filepath.EvalSymlinks, falling
// back to a no-symlink-resolution absolute path if the target does not
// yet exist (EvalSymlinks requires existence).
func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return filepath.Clean(path), nil
		}
		return "", err
	}
	return filepath.Clean(resolved), nil
}

// isContained reports whether child is root or a descendant of root.
// A symlink whose target lies outside root fails this check even
// though its literal path string might appear to be inside it,
// because canonicalize already followed the link before this call.
func isContained(child, root string) bool {
	if child == root {
		return true
	}
	rel, err := filepath.Rel(root, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

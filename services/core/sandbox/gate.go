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

// Gate composes the path, command, and secret policies into the
// single pre-dispatch check ToolBus runs before every call (§4.2).
// Grounded on agent/safety/gate.go's Gate/Checker composition.
type Gate struct {
	Paths    *PathPolicy
	Commands *CommandPolicy
	Secrets  *Detector
	Limits   ResourceLimits
}

// NewGate builds the default sandbox gate rooted at repoRoot.
func NewGate(repoRoot, tempRoot string) (*Gate, error) {
	paths, err := NewPathPolicy(repoRoot, tempRoot)
	if err != nil {
		return nil, err
	}
	return &Gate{
		Paths:    paths,
		Commands: DefaultCommandPolicy(),
		Secrets:  NewDetector(),
		Limits:   DefaultResourceLimits(),
	}, nil
}

// CheckPath resolves and validates a path argument.
func (g *Gate) CheckPath(path string) (string, error) {
	return g.Paths.Resolve(path)
}

// CheckCommand validates a run_cmd argument.
func (g *Gate) CheckCommand(cmd string) (CommandDecision, error) {
	return g.Commands.Check(cmd)
}

// ScanForSecrets reports whether text contains a credential shape.
func (g *Gate) ScanForSecrets(text string) bool {
	return g.Secrets.Scan(text)
}

// Redact removes detected secrets from text.
func (g *Gate) Redact(text string) string {
	return g.Secrets.Redact(text)
}

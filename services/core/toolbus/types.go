// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolbus is the sole gateway through which agents interact
// with the host filesystem, process execution, and version control
// (§4.2). No side effect on the host system occurs except through a
// tool invocation routed through this package.
package toolbus

import (
	"context"
	"errors"
	"time"
)

// Capability is the permission class a tool declares (§3 Permission
// Rule, §4.2 Permission model).
type Capability string

const (
	CapRead     Capability = "read"
	CapWrite    Capability = "write"
	CapExecute  Capability = "execute"
	CapGitWrite Capability = "git-write"
)

// Errors named in §7's taxonomy that ToolBus itself can produce.
var (
	ErrUnknownTool      = errors.New("toolbus: unknown tool")
	ErrPermissionDenied = errors.New("toolbus: permission denied")
	ErrTimeout          = errors.New("toolbus: timeout")
	ErrBusyApplying     = errors.New("toolbus: busy applying a diff set")
)

// Envelope is the common result shape every tool call returns (§4.2,
// §6: "the envelope is stable and versioned").
type Envelope struct {
	Tool       string         `json:"tool"`
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// Handler implements one tool's call method. Handlers are
// instantiated once per session and must be concurrency-safe (§4.2).
type Handler interface {
	Name() string
	Capability() Capability
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Invocation is the Tool Invocation record from §3.
type Invocation struct {
	ID         string
	Tool       string
	Args       map[string]any
	AgentID    string
	Decision   string
	StartedAt  time.Time
	EndedAt    time.Time
	Envelope   Envelope
}

// WriteLeaseChecker reports whether the patch pipeline currently holds
// the exclusive write lease (§5 Shared resources). ToolBus depends
// only on this narrow interface so it never imports the patch package
// directly — the orchestrator wires a concrete *patch.WriteLease in at
// startup.
type WriteLeaseChecker interface {
	Held() bool
}

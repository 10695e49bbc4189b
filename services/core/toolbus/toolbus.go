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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aleutian-labs/locusagent/services/core/eventbus"
	"github.com/aleutian-labs/locusagent/services/core/sandbox"
)

// ToolBus is the sole gateway through which an agent's tool calls
// reach the host filesystem, process execution, or git (§4.2). Every
// Call passes through the sandbox gate, the permission table, and a
// write-lease check before a registered Handler ever runs.
type ToolBus struct {
	mu        sync.RWMutex
	gate      *sandbox.Gate
	registry  map[string]Handler
	perms     *PermissionTable
	bus       *eventbus.Bus
	lease     WriteLeaseChecker
	taskID    string
}

// Option configures a ToolBus at construction.
type Option func(*ToolBus)

// WithWriteLease wires the patch pipeline's exclusive write lease in,
// so ToolBus can reject a conflicting tool call with ErrBusyApplying
// while a diff set is being applied (§5).
func WithWriteLease(l WriteLeaseChecker) Option {
	return func(tb *ToolBus) { tb.lease = l }
}

// WithTaskID stamps every published event with a task id.
func WithTaskID(id string) Option {
	return func(tb *ToolBus) { tb.taskID = id }
}

// New builds a ToolBus rooted at gate, publishing paired
// ToolCalled/ToolResult events to bus.
func New(gate *sandbox.Gate, perms *PermissionTable, bus *eventbus.Bus, opts ...Option) *ToolBus {
	tb := &ToolBus{
		gate:     gate,
		registry: make(map[string]Handler),
		perms:    perms,
		bus:      bus,
	}
	for _, opt := range opts {
		opt(tb)
	}
	return tb
}

// Register adds a Handler to the dispatch table. Not concurrency-safe
// with Call; call Register only during startup before any agent runs.
func (tb *ToolBus) Register(h Handler) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.registry[h.Name()] = h
}

// scopeFor extracts the permission scope the Decide call should key
// on: the path argument for read/write tools, the command name for
// execute tools, or the tool name itself for git tools.
func scopeFor(capability Capability, tool string, args map[string]any) string {
	switch capability {
	case CapRead, CapWrite:
		if p, ok := args["path"].(string); ok {
			return p
		}
		return tool
	case CapExecute:
		if c, ok := args["command"].(string); ok {
			return c
		}
		return tool
	default:
		return tool
	}
}

func isForcePush(tool string, args map[string]any) bool {
	if tool != "git_push" {
		return false
	}
	if f, ok := args["force"].(bool); ok && f {
		return true
	}
	return false
}

// Call dispatches a tool invocation by name on behalf of agentID. It
// enforces, in order: a known handler, the write lease, the
// permission decision, and the sandbox gate — then runs the handler
// and publishes the paired ToolCalled/ToolResult events (§4.2, §6).
func (tb *ToolBus) Call(ctx context.Context, agentID, tool string, args map[string]any) (Envelope, error) {
	tb.mu.RLock()
	h, ok := tb.registry[tool]
	tb.mu.RUnlock()
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}

	invocationID := uuid.NewString()
	capability := h.Capability()
	scope := scopeFor(capability, tool, args)

	if tb.lease != nil && tb.lease.Held() && capability != CapRead {
		return Envelope{}, ErrBusyApplying
	}

	decision, err := tb.perms.Decide(capability, scope, isForcePush(tool, args))
	if err != nil {
		return Envelope{}, err
	}

	tb.publish(eventbus.ToolCalled, agentID, eventbus.ToolCalledData{
		InvocationID: invocationID,
		Tool:         tool,
		Args:         redactArgs(tb.gate, args),
		Decision:     decision.String(),
	})

	if decision != Allow {
		envelope := Envelope{Tool: tool, Success: false, Error: ErrPermissionDenied.Error()}
		tb.publish(eventbus.ToolResult, agentID, eventbus.ToolResultData{
			InvocationID: invocationID,
			Tool:         tool,
			Success:      false,
			Error:        envelope.Error,
		})
		return envelope, fmt.Errorf("%w: %s", ErrPermissionDenied, tool)
	}

	if err := tb.preflight(capability, tool, args); err != nil {
		envelope := Envelope{Tool: tool, Success: false, Error: err.Error()}
		tb.publish(eventbus.ToolResult, agentID, eventbus.ToolResultData{
			InvocationID: invocationID,
			Tool:         tool,
			Success:      false,
			Error:        envelope.Error,
		})
		return envelope, err
	}

	start := time.Now()
	result, callErr := h.Call(ctx, args)
	duration := time.Since(start)

	envelope := Envelope{
		Tool:       tool,
		Success:    callErr == nil,
		Result:     redactResult(tb.gate, result),
		DurationMS: duration.Milliseconds(),
	}
	if callErr != nil {
		envelope.Error = tb.gate.Redact(callErr.Error())
	}

	tb.publish(eventbus.ToolResult, agentID, eventbus.ToolResultData{
		InvocationID: invocationID,
		Tool:         tool,
		Success:      envelope.Success,
		Error:        envelope.Error,
		DurationMS:   envelope.DurationMS,
	})

	return envelope, callErr
}

// preflight runs the sandbox checks that apply before the handler
// itself is invoked: path containment for read/write tools, command
// policy for execute tools.
func (tb *ToolBus) preflight(capability Capability, tool string, args map[string]any) error {
	switch capability {
	case CapRead, CapWrite:
		if p, ok := args["path"].(string); ok {
			if _, err := tb.gate.CheckPath(p); err != nil {
				return err
			}
		}
	case CapExecute:
		if c, ok := args["command"].(string); ok {
			decision, err := tb.gate.CheckCommand(c)
			if err != nil {
				return err
			}
			if decision == sandbox.CommandDeny {
				return fmt.Errorf("%w: %s", sandbox.ErrCommandDenied, c)
			}
		}
	}
	_ = tool
	return nil
}

func (tb *ToolBus) publish(typ eventbus.Type, agentID string, data any) {
	if tb.bus == nil {
		return
	}
	tb.bus.Publish(eventbus.Event{
		Type:    typ,
		TaskID:  tb.taskID,
		AgentID: agentID,
		Data:    data,
	})
}

func redactArgs(gate *sandbox.Gate, args map[string]any) map[string]any {
	if gate == nil {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && gate.ScanForSecrets(s) {
			out[k] = gate.Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}

func redactResult(gate *sandbox.Gate, result map[string]any) map[string]any {
	if gate == nil || result == nil {
		return result
	}
	out := make(map[string]any, len(result))
	for k, v := range result {
		if s, ok := v.(string); ok && gate.ScanForSecrets(s) {
			out[k] = gate.Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}

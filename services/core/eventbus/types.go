// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eventbus carries the stable, versioned stream of runtime
// events from every producer (orchestrator, scheduler, agents,
// toolbus, patch pipeline, memory adapter) to every consumer (UI,
// memory extractor, telemetry) per spec §4.1.
package eventbus

import "time"

// SchemaVersion is the current major version of the event envelope.
// Consumers must refuse events of an unknown major version (§4.1).
const SchemaVersion = 1

// Type identifies the kind of runtime event.
type Type string

const (
	TaskStarted     Type = "task_started"
	TaskCompleted   Type = "task_completed"
	TaskFailed      Type = "task_failed"
	TaskCancelled   Type = "task_cancelled"
	AgentSpawned    Type = "agent_spawned"
	AgentCompleted  Type = "agent_completed"
	ToolCalled      Type = "tool_called"
	ToolResult      Type = "tool_result"
	DiffGenerated   Type = "diff_generated"
	DiffApproved    Type = "diff_approved"
	DiffRejected    Type = "diff_rejected"
	TestResult      Type = "test_result"
	DebugIteration  Type = "debug_iteration"
	CommitCreated   Type = "commit_created"
	MemoryRecalled  Type = "memory_recalled"
	MemoryStored    Type = "memory_stored"
	ModeChanged     Type = "mode_changed"
	Status          Type = "status"
	Error           Type = "error"
	BacklogDropped  Type = "backlog_dropped"
)

// Event is a versioned, immutable tagged variant. Events are never
// mutated once emitted.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	Type          Type      `json:"type"`
	Seq           uint64    `json:"seq"`
	TaskID        string    `json:"task_id,omitempty"`
	AgentID       string    `json:"agent_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Data          any       `json:"data,omitempty"`
}

// --- Per-type payloads ---

type TaskStartedData struct {
	Prompt string `json:"prompt"`
	Mode   string `json:"mode"`
}

type TaskCompletedData struct {
	Duration time.Duration `json:"duration"`
}

type TaskFailedData struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
}

type TaskCancelledData struct {
	Reason string `json:"reason"`
}

type AgentSpawnedData struct {
	AgentKind string `json:"agent_kind"`
	NodeID    string `json:"node_id"`
}

type AgentCompletedData struct {
	AgentKind  string        `json:"agent_kind"`
	NodeID     string        `json:"node_id"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"duration"`
	TokensUsed int           `json:"tokens_used,omitempty"`
}

type ToolCalledData struct {
	Tool         string         `json:"tool"`
	InvocationID string         `json:"invocation_id"`
	Args         map[string]any `json:"args,omitempty"`
	Decision     string         `json:"decision"`
}

type ToolResultData struct {
	Tool         string        `json:"tool"`
	InvocationID string        `json:"invocation_id"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	DurationMS   int64         `json:"duration_ms"`
	ResultBytes  int           `json:"result_bytes,omitempty"`
}

type DiffGeneratedData struct {
	DiffSetID string `json:"diff_set_id"`
	FileCount int    `json:"file_count"`
}

type DiffApprovedData struct {
	DiffSetID string `json:"diff_set_id"`
}

type DiffRejectedData struct {
	DiffSetID     string `json:"diff_set_id"`
	Reason        string `json:"reason"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

type TestResultData struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

type DebugIterationData struct {
	Iteration int    `json:"iteration"`
	Summary   string `json:"summary"`
}

type CommitCreatedData struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

type MemoryRecalledData struct {
	Count         int     `json:"count"`
	TopConfidence float64 `json:"top_confidence,omitempty"`
}

type MemoryStoredData struct {
	ContextID string `json:"context_id"`
}

type ModeChangedData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type StatusData struct {
	Message string `json:"message"`
}

type ErrorData struct {
	Text          string `json:"text"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type BacklogDroppedData struct {
	SubscriberID string `json:"subscriber_id"`
	DroppedCount int    `json:"dropped_count"`
}

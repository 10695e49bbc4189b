// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package taskdag implements the Task and DAG Node data model (§3) and
// the task lifecycle state machine (§4.4).
package taskdag

import (
	"time"

	"github.com/google/uuid"

	"github.com/aleutian-labs/locusagent/services/core/mode"
)

// NodeStatus is the DAG node lifecycle (§3). Pending and Ready are
// distinct: a node only becomes Ready once every hard dependency has
// Succeeded, but may sit Pending indefinitely while dependencies run.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeReady     NodeStatus = "ready"
	NodeRunning   NodeStatus = "running"
	NodeSucceeded NodeStatus = "succeeded"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
	NodeCancelled NodeStatus = "cancelled"
)

// EdgeKind distinguishes hard dependencies (failure cancels
// dependents) from soft ones (dependents run anyway with partial
// input) per §4.3.
type EdgeKind string

const (
	EdgeHard EdgeKind = "hard"
	EdgeSoft EdgeKind = "soft"
)

// Edge is one dependency: Dependent depends on DependsOn.
type Edge struct {
	DependsOn string
	Dependent string
	Kind      EdgeKind
}

// Priority affects ready-set selection only; it never preempts a
// running node (§4.3).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// AgentKind names which catalogue entry (§4.6) a node runs.
type AgentKind string

const (
	KindRepo          AgentKind = "repo"
	KindSearch        AgentKind = "search"
	KindMemoryRecall  AgentKind = "memory_recall"
	KindPatch         AgentKind = "patch"
	KindTest          AgentKind = "test"
	KindDebug         AgentKind = "debug"
	KindConstraint    AgentKind = "constraint"
	KindCommit        AgentKind = "commit"
)

// DefaultPriority returns the priority table from §4.3:
// MemoryRecall=High, Repo/Search/Patch=Normal, Constraint=Low.
func DefaultPriority(k AgentKind) Priority {
	switch k {
	case KindMemoryRecall:
		return PriorityHigh
	case KindConstraint:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// ResultEnvelope is the result carried by a node on completion; its
// Report field is populated from the owning agent's AgentReport once
// the scheduler records completion (kept as `any` here to avoid an
// import cycle between taskdag and agent).
type ResultEnvelope struct {
	Report       any
	FailureMsg   string
	PartialInput bool
}

// Node is one unit of scheduled work in a task's DAG (§3).
type Node struct {
	ID        string
	AgentKind AgentKind
	Input     any
	DependsOn []string
	Priority  Priority

	status    NodeStatus
	result    ResultEnvelope
	startedAt time.Time
	endedAt   time.Time
	insertIdx int
}

// NewNode constructs a Pending node with a fresh id.
func NewNode(kind AgentKind, input any, dependsOn ...string) *Node {
	return &Node{
		ID:        uuid.NewString(),
		AgentKind: kind,
		Input:     input,
		DependsOn: dependsOn,
		Priority:  DefaultPriority(kind),
		status:    NodePending,
	}
}

// Status returns the node's current status.
func (n *Node) Status() NodeStatus { return n.status }

// Result returns the node's result envelope.
func (n *Node) Result() ResultEnvelope { return n.result }

// Duration returns wall-clock execution time once the node has ended.
func (n *Node) Duration() time.Duration {
	if n.endedAt.IsZero() {
		return 0
	}
	return n.endedAt.Sub(n.startedAt)
}

// ModeBudget resolves the node's timeout from the task's mode
// snapshot; nodes never read the live mode controller (§9).
func ModeBudget(p mode.Profile) time.Duration { return p.NodeTimeout }

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory adapts the runtime to LocusGraph, the external
// event-graph store: inject(task) assembles a context bundle before an
// agent runs, extract(event) writes new memory events after one
// completes (§4.8). LocusGraph's own storage internals are out of
// scope — this package only implements the two functions of the
// contract and the local durability needed to survive a disconnected
// store.
package memory

import (
	"errors"
	"time"
)

// Errors named in §7's taxonomy this package can produce.
var (
	ErrNotFound  = errors.New("memory: event not found")
	ErrBudget    = errors.New("memory: bundle exceeds mode budget")
	ErrTransport = errors.New("memory: LocusGraph unreachable")
)

// RelationKind is one of the edge kinds a Memory Event can carry to
// another (§4.8).
type RelationKind string

const (
	RelatedTo   RelationKind = "related_to"
	Extends     RelationKind = "extends"
	Reinforces  RelationKind = "reinforces"
	Contradicts RelationKind = "contradicts"
)

// Relation is one edge from an Event to another, named by id.
type Relation struct {
	Kind   RelationKind
	TargetID string
}

// Event is the Memory Event record from §3/§6: append-only, never
// mutated once written.
type Event struct {
	GraphID   string
	EventKind string
	ContextID string
	Source    string
	Payload   string
	Relations []Relation
	Timestamp time.Time
	Confidence float64
}

// Bundle is what inject(task) returns: the context an agent should be
// seeded with before it runs, already trimmed to the active mode's
// item/token budget (§4.8).
type Bundle struct {
	ContextID string
	Events    []Event
	TokensUsed int
	Truncated  bool
}

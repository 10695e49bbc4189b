// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package taskdag

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DAG is a task's exclusively-owned plan: a set of Nodes plus the
// Edges between them (§3 "A task owns its DAG exclusively; tasks may
// not share nodes").
type DAG struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges []Edge
	order []string // insertion order, for ready-set tie-break
}

// NewDAG constructs an empty DAG.
func NewDAG() *DAG {
	return &DAG{nodes: make(map[string]*Node)}
}

// AddNode registers a node and records its insertion order.
func (d *DAG) AddNode(n *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n.insertIdx = len(d.order)
	d.nodes[n.ID] = n
	d.order = append(d.order, n.ID)
}

// AddEdge records a dependency edge. Both endpoints must already be
// registered nodes.
func (d *DAG) AddEdge(e Edge) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.nodes[e.DependsOn]; !ok {
		return fmt.Errorf("taskdag: edge depends on unknown node %s", e.DependsOn)
	}
	if _, ok := d.nodes[e.Dependent]; !ok {
		return fmt.Errorf("taskdag: edge from unknown node %s", e.Dependent)
	}
	d.edges = append(d.edges, e)
	return nil
}

// Node returns the node with the given id, or nil.
func (d *DAG) Node(id string) *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nodes[id]
}

// DependsOn returns the ids id depends on, read from the DAG's own
// edge list rather than Node.DependsOn — the field a caller may have
// seeded via NewNode's variadic dependsOn is only ever a convenience
// for building a linear chain; AddEdge is the one source of truth
// PromoteReady itself schedules against, so dependency lookups must
// agree with it.
func (d *DAG) DependsOn(id string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, e := range d.edges {
		if e.Dependent == id {
			out = append(out, e.DependsOn)
		}
	}
	return out
}

// dependenciesOf returns the edges where dependent == id.
func (d *DAG) dependenciesOf(id string) []Edge {
	var out []Edge
	for _, e := range d.edges {
		if e.Dependent == id {
			out = append(out, e)
		}
	}
	return out
}

// PromoteReady transitions every Pending node whose dependencies are
// all Succeeded to Ready, and cancels nodes with a failed hard
// dependency (§3 invariant, §4.3 step 1). It returns the ids newly
// made Ready or Cancelled, for eventing by the caller.
func (d *DAG) PromoteReady() (readied, cancelled, skipped []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range d.order {
		n := d.nodes[id]
		if n.status != NodePending {
			continue
		}

		deps := d.dependenciesOfLocked(id)
		allSucceeded := true
		anyHardFailed := false
		anyCancelledOrSkipped := false
		partial := false

		for _, e := range deps {
			dep := d.nodes[e.DependsOn]
			switch dep.status {
			case NodeSucceeded:
				// fine
			case NodeFailed:
				if e.Kind == EdgeHard {
					anyHardFailed = true
				} else {
					partial = true
					allSucceeded = false
				}
			case NodeCancelled, NodeSkipped:
				if e.Kind == EdgeHard {
					anyCancelledOrSkipped = true
				} else {
					partial = true
					allSucceeded = false
				}
			default:
				allSucceeded = false
			}
		}

		switch {
		case anyHardFailed || anyCancelledOrSkipped:
			n.status = NodeCancelled
			cancelled = append(cancelled, id)
		case allSucceeded:
			n.status = NodeReady
			if partial {
				n.result.PartialInput = true
			}
			readied = append(readied, id)
		case partial && allDepsTerminal(d, deps):
			// All soft deps reached a terminal state but not every one
			// succeeded: run anyway with partial input flagged (§4.3
			// soft-edge semantics).
			n.status = NodeReady
			n.result.PartialInput = true
			readied = append(readied, id)
		}
	}
	return readied, cancelled, skipped
}

func (d *DAG) dependenciesOfLocked(id string) []Edge {
	var out []Edge
	for _, e := range d.edges {
		if e.Dependent == id {
			out = append(out, e)
		}
	}
	return out
}

func allDepsTerminal(d *DAG, deps []Edge) bool {
	for _, e := range deps {
		dep := d.nodes[e.DependsOn]
		switch dep.status {
		case NodeSucceeded, NodeFailed, NodeSkipped, NodeCancelled:
		default:
			return false
		}
	}
	return true
}

// ReadySet returns Ready nodes sorted by priority (high first), then
// by insertion order (§4.3 "tie-break: earliest inserted").
func (d *DAG) ReadySet() []*Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ready []*Node
	for _, id := range d.order {
		n := d.nodes[id]
		if n.status == NodeReady {
			ready = append(ready, n)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].insertIdx < ready[j].insertIdx
	})
	return ready
}

// MarkRunning transitions a Ready node to Running.
func (d *DAG) MarkRunning(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return fmt.Errorf("taskdag: unknown node %s", id)
	}
	if n.status != NodeReady {
		return fmt.Errorf("taskdag: node %s is %s, not ready", id, n.status)
	}
	n.status = NodeRunning
	n.startedAt = time.Now()
	return nil
}

// Complete records a terminal outcome for a Running node.
func (d *DAG) Complete(id string, status NodeStatus, result ResultEnvelope) error {
	if status != NodeSucceeded && status != NodeFailed {
		return fmt.Errorf("taskdag: Complete called with non-terminal status %s", status)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return fmt.Errorf("taskdag: unknown node %s", id)
	}
	n.status = status
	n.result = result
	n.endedAt = time.Now()
	return nil
}

// Counts returns the number of nodes currently in each terminal-or-not
// bucket the scheduler loop checks against (§4.3 step 4 loop
// condition: "running and ready are both empty").
func (d *DAG) Counts() (pending, ready, running int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, n := range d.nodes {
		switch n.status {
		case NodePending:
			pending++
		case NodeReady:
			ready++
		case NodeRunning:
			running++
		}
	}
	return
}

// AllTerminal reports whether every node has reached a terminal
// status (no more scheduling work remains).
func (d *DAG) AllTerminal() bool {
	p, r, run := d.Counts()
	return p == 0 && r == 0 && run == 0
}

// Snapshot returns the current status of every node, for checkpoint
// emission or diagnostics.
func (d *DAG) Snapshot() map[string]NodeStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]NodeStatus, len(d.nodes))
	for id, n := range d.nodes {
		out[id] = n.status
	}
	return out
}

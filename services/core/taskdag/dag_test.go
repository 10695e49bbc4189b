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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDAG_PromoteReady_HardFailurePropagatesCancellation(t *testing.T) {
	dag := NewDAG()
	root := NewNode(KindRepo, "prompt")
	dependent := NewNode(KindPatch, "prompt")
	dag.AddNode(root)
	dag.AddNode(dependent)
	require.NoError(t, dag.AddEdge(Edge{DependsOn: root.ID, Dependent: dependent.ID, Kind: EdgeHard}))

	readied, _, _ := dag.PromoteReady()
	assert.ElementsMatch(t, []string{root.ID}, readied)

	require.NoError(t, dag.MarkRunning(root.ID))
	require.NoError(t, dag.Complete(root.ID, NodeFailed, ResultEnvelope{FailureMsg: "boom"}))

	_, cancelled, _ := dag.PromoteReady()
	assert.ElementsMatch(t, []string{dependent.ID}, cancelled)
	assert.Equal(t, NodeCancelled, dag.Node(dependent.ID).Status())
}

func TestDAG_PromoteReady_SoftFailureRunsWithPartialInput(t *testing.T) {
	dag := NewDAG()
	root := NewNode(KindSearch, "prompt")
	dependent := NewNode(KindPatch, "prompt")
	dag.AddNode(root)
	dag.AddNode(dependent)
	require.NoError(t, dag.AddEdge(Edge{DependsOn: root.ID, Dependent: dependent.ID, Kind: EdgeSoft}))

	dag.PromoteReady()
	require.NoError(t, dag.MarkRunning(root.ID))
	require.NoError(t, dag.Complete(root.ID, NodeFailed, ResultEnvelope{FailureMsg: "search unavailable"}))

	readied, _, _ := dag.PromoteReady()
	assert.ElementsMatch(t, []string{dependent.ID}, readied)
	assert.Equal(t, NodeReady, dag.Node(dependent.ID).Status())
	assert.True(t, dag.Node(dependent.ID).Result().PartialInput)
}

func TestDAG_ReadySet_OrdersByPriorityThenInsertion(t *testing.T) {
	dag := NewDAG()
	constraint := NewNode(KindConstraint, "p") // Low
	repo := NewNode(KindRepo, "p")              // Normal
	recall := NewNode(KindMemoryRecall, "p")    // High
	dag.AddNode(constraint)
	dag.AddNode(repo)
	dag.AddNode(recall)

	dag.PromoteReady()
	ready := dag.ReadySet()
	ids := make([]string, len(ready))
	for i, n := range ready {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{recall.ID, repo.ID, constraint.ID}, ids)
}

func TestDAG_DependsOn_ReadsEdgesNotNodeField(t *testing.T) {
	dag := NewDAG()
	a := NewNode(KindRepo, "p")
	b := NewNode(KindPatch, "p")
	dag.AddNode(a)
	dag.AddNode(b)
	require.NoError(t, dag.AddEdge(Edge{DependsOn: a.ID, Dependent: b.ID, Kind: EdgeSoft}))

	assert.Empty(t, b.DependsOn, "AddEdge must not need to mutate Node.DependsOn")
	assert.Equal(t, []string{a.ID}, dag.DependsOn(b.ID))
}

func TestDAG_AllTerminal(t *testing.T) {
	dag := NewDAG()
	n := NewNode(KindRepo, "p")
	dag.AddNode(n)
	assert.False(t, dag.AllTerminal())

	dag.PromoteReady()
	require.NoError(t, dag.MarkRunning(n.ID))
	assert.False(t, dag.AllTerminal())

	require.NoError(t, dag.Complete(n.ID, NodeSucceeded, ResultEnvelope{}))
	assert.True(t, dag.AllTerminal())
}

func TestDAG_AddEdge_UnknownNode(t *testing.T) {
	dag := NewDAG()
	n := NewNode(KindRepo, "p")
	dag.AddNode(n)
	err := dag.AddEdge(Edge{DependsOn: "missing", Dependent: n.ID})
	assert.Error(t, err)
}

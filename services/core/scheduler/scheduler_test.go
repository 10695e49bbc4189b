// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/locusagent/services/core/agent"
	"github.com/aleutian-labs/locusagent/services/core/eventbus"
	"github.com/aleutian-labs/locusagent/services/core/memory"
	"github.com/aleutian-labs/locusagent/services/core/mode"
	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

type fakeAgent struct {
	kind  taskdag.AgentKind
	run   func(ctx context.Context, in agent.Input) (agent.Report, error)
	calls int32
}

func (a *fakeAgent) Kind() taskdag.AgentKind { return a.kind }
func (a *fakeAgent) Run(ctx context.Context, in agent.Input) (agent.Report, error) {
	atomic.AddInt32(&a.calls, 1)
	return a.run(ctx, in)
}

func okAgent(kind taskdag.AgentKind) *fakeAgent {
	return &fakeAgent{kind: kind, run: func(context.Context, agent.Input) (agent.Report, error) {
		return agent.Report{Summary: string(kind) + " done"}, nil
	}}
}

func testProfile(concurrency int, nodeTimeout time.Duration) mode.Profile {
	p := mode.Default()[mode.Smart]
	p.Concurrency = concurrency
	p.NodeTimeout = nodeTimeout
	return p
}

func TestScheduler_Run_RunsIndependentNodesAndCompletesDAG(t *testing.T) {
	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo:   okAgent(taskdag.KindRepo),
		taskdag.KindSearch: okAgent(taskdag.KindSearch),
	}
	bus := eventbus.New()
	sched := New(catalogue, bus, nil)

	dag := taskdag.NewDAG()
	n1 := taskdag.NewNode(taskdag.KindRepo, nil)
	n2 := taskdag.NewNode(taskdag.KindSearch, nil)
	dag.AddNode(n1)
	dag.AddNode(n2)

	err := sched.Run(context.Background(), "task-1", dag, "do something", testProfile(2, time.Second), memory.Bundle{})
	require.NoError(t, err)

	assert.Equal(t, taskdag.NodeSucceeded, dag.Node(n1.ID).Status())
	assert.Equal(t, taskdag.NodeSucceeded, dag.Node(n2.ID).Status())
}

func TestScheduler_Run_RespectsDependencyOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) func(context.Context, agent.Input) (agent.Report, error) {
		return func(context.Context, agent.Input) (agent.Report, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return agent.Report{}, nil
		}
	}

	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo:  &fakeAgent{kind: taskdag.KindRepo, run: record("repo")},
		taskdag.KindPatch: &fakeAgent{kind: taskdag.KindPatch, run: record("patch")},
	}
	sched := New(catalogue, nil, nil)

	dag := taskdag.NewDAG()
	repoNode := taskdag.NewNode(taskdag.KindRepo, nil)
	patchNode := taskdag.NewNode(taskdag.KindPatch, nil)
	dag.AddNode(repoNode)
	dag.AddNode(patchNode)
	require.NoError(t, dag.AddEdge(taskdag.Edge{DependsOn: repoNode.ID, Dependent: patchNode.ID, Kind: taskdag.EdgeHard}))

	err := sched.Run(context.Background(), "task-1", dag, "do something", testProfile(4, time.Second), memory.Bundle{})
	require.NoError(t, err)

	require.Equal(t, []string{"repo", "patch"}, order)
}

func TestScheduler_Run_HardDependencyFailureCancelsDependent(t *testing.T) {
	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: &fakeAgent{kind: taskdag.KindRepo, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{}, fmt.Errorf("boom")
		}},
		taskdag.KindPatch: okAgent(taskdag.KindPatch),
	}
	sched := New(catalogue, nil, nil)

	dag := taskdag.NewDAG()
	repoNode := taskdag.NewNode(taskdag.KindRepo, nil)
	patchNode := taskdag.NewNode(taskdag.KindPatch, nil)
	dag.AddNode(repoNode)
	dag.AddNode(patchNode)
	require.NoError(t, dag.AddEdge(taskdag.Edge{DependsOn: repoNode.ID, Dependent: patchNode.ID, Kind: taskdag.EdgeHard}))

	err := sched.Run(context.Background(), "task-1", dag, "do something", testProfile(4, time.Second), memory.Bundle{})
	require.NoError(t, err)

	assert.Equal(t, taskdag.NodeFailed, dag.Node(repoNode.ID).Status())
	assert.Equal(t, taskdag.NodeCancelled, dag.Node(patchNode.ID).Status())
}

func TestScheduler_Run_ConcurrencyCapIsRespected(t *testing.T) {
	const capacity = 2
	var inFlight int32
	var maxObserved int32
	gate := make(chan struct{})
	var once sync.Once

	blockingRun := func(context.Context, agent.Input) (agent.Report, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxObserved)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxObserved, prev, cur) {
				break
			}
		}
		once.Do(func() { close(gate) })
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return agent.Report{}, nil
	}

	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: &fakeAgent{kind: taskdag.KindRepo, run: blockingRun},
	}
	sched := New(catalogue, nil, nil)

	dag := taskdag.NewDAG()
	for i := 0; i < 6; i++ {
		dag.AddNode(taskdag.NewNode(taskdag.KindRepo, nil))
	}

	err := sched.Run(context.Background(), "task-1", dag, "fan out", testProfile(capacity, time.Second), memory.Bundle{})
	require.NoError(t, err)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxObserved)), capacity)
}

func TestScheduler_Run_NodeTimeoutFailsTheNode(t *testing.T) {
	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: &fakeAgent{kind: taskdag.KindRepo, run: func(ctx context.Context, _ agent.Input) (agent.Report, error) {
			<-ctx.Done()
			return agent.Report{}, ctx.Err()
		}},
	}
	sched := New(catalogue, nil, nil)

	dag := taskdag.NewDAG()
	n := taskdag.NewNode(taskdag.KindRepo, nil)
	dag.AddNode(n)

	err := sched.Run(context.Background(), "task-1", dag, "slow node", testProfile(2, 20*time.Millisecond), memory.Bundle{})
	require.NoError(t, err)
	assert.Equal(t, taskdag.NodeFailed, dag.Node(n.ID).Status())
	assert.Contains(t, dag.Node(n.ID).Result().FailureMsg, "deadline")
}

func TestScheduler_Run_UnregisteredAgentKindFailsTheNode(t *testing.T) {
	sched := New(map[taskdag.AgentKind]agent.Agent{}, nil, nil)

	dag := taskdag.NewDAG()
	n := taskdag.NewNode(taskdag.KindRepo, nil)
	dag.AddNode(n)

	err := sched.Run(context.Background(), "task-1", dag, "nothing registered", testProfile(2, time.Second), memory.Bundle{})
	require.NoError(t, err)
	assert.Equal(t, taskdag.NodeFailed, dag.Node(n.ID).Status())
	assert.Contains(t, dag.Node(n.ID).Result().FailureMsg, "no agent registered")
}

func TestScheduler_Run_ContextCancelledStopsSchedulingNewWork(t *testing.T) {
	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: &fakeAgent{kind: taskdag.KindRepo, run: func(ctx context.Context, _ agent.Input) (agent.Report, error) {
			<-ctx.Done()
			return agent.Report{}, ctx.Err()
		}},
	}
	sched := New(catalogue, nil, nil)

	dag := taskdag.NewDAG()
	// Concurrency cap of 1 with two nodes: the second Acquire blocks
	// until ctx is cancelled, exercising Run's own ctx.Done() path.
	dag.AddNode(taskdag.NewNode(taskdag.KindRepo, nil))
	dag.AddNode(taskdag.NewNode(taskdag.KindRepo, nil))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := sched.Run(ctx, "task-1", dag, "cancel me", testProfile(1, 5*time.Second), memory.Bundle{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScheduler_Run_DependencyResultsPassedToDependent(t *testing.T) {
	var seenReport any
	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: &fakeAgent{kind: taskdag.KindRepo, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Detail: "repo-detail"}, nil
		}},
		taskdag.KindPatch: &fakeAgent{kind: taskdag.KindPatch, run: func(_ context.Context, in agent.Input) (agent.Report, error) {
			for _, dep := range in.Dependencies {
				seenReport = dep.Report
			}
			return agent.Report{}, nil
		}},
	}
	sched := New(catalogue, nil, nil)

	dag := taskdag.NewDAG()
	repoNode := taskdag.NewNode(taskdag.KindRepo, nil)
	patchNode := taskdag.NewNode(taskdag.KindPatch, nil)
	dag.AddNode(repoNode)
	dag.AddNode(patchNode)
	require.NoError(t, dag.AddEdge(taskdag.Edge{DependsOn: repoNode.ID, Dependent: patchNode.ID, Kind: taskdag.EdgeHard}))

	err := sched.Run(context.Background(), "task-1", dag, "pass deps", testProfile(4, time.Second), memory.Bundle{})
	require.NoError(t, err)
	assert.Equal(t, "repo-detail", seenReport)
}

func TestScheduler_Run_PublishesAgentSpawnedAndCompleted(t *testing.T) {
	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: okAgent(taskdag.KindRepo),
	}
	bus := eventbus.New()
	sub := bus.Subscribe()
	sched := New(catalogue, bus, nil)

	dag := taskdag.NewDAG()
	dag.AddNode(taskdag.NewNode(taskdag.KindRepo, nil))

	err := sched.Run(context.Background(), "task-1", dag, "emit events", testProfile(2, time.Second), memory.Bundle{})
	require.NoError(t, err)

	var sawSpawned, sawCompleted bool
	for {
		select {
		case evt := <-sub.C:
			if evt.Type == eventbus.AgentSpawned {
				sawSpawned = true
			}
			if evt.Type == eventbus.AgentCompleted {
				sawCompleted = true
			}
		case <-time.After(100 * time.Millisecond):
			assert.True(t, sawSpawned)
			assert.True(t, sawCompleted)
			return
		}
	}
}

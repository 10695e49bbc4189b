// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/locusagent/services/core/agent"
	"github.com/aleutian-labs/locusagent/services/core/eventbus"
	"github.com/aleutian-labs/locusagent/services/core/memory"
	"github.com/aleutian-labs/locusagent/services/core/mode"
	"github.com/aleutian-labs/locusagent/services/core/patch"
	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

type fakeAgent struct {
	kind taskdag.AgentKind
	run  func(ctx context.Context, in agent.Input) (agent.Report, error)
}

func (a *fakeAgent) Kind() taskdag.AgentKind { return a.kind }
func (a *fakeAgent) Run(ctx context.Context, in agent.Input) (agent.Report, error) {
	return a.run(ctx, in)
}

// newTestRepo builds a real, clean git repository on a named branch so
// patch.RunPreFlight passes, matching how PatchAgent/CommitAgent are
// exercised in the agent package's own tests.
func newTestRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "agent@example.com")
	run("config", "user.name", "locusagent")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	run("add", "main.go")
	run("commit", "-m", "initial")
	return repo
}

func memAdapterOnly(t *testing.T) *memory.Adapter {
	t.Helper()
	a, _ := newTestMemory(t)
	return a
}

func newTestMemory(t *testing.T) (*memory.Adapter, *memory.Queue) {
	t.Helper()
	q, err := memory.NewQueue(filepath.Join(t.TempDir(), "queue"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return memory.NewAdapter(nil, q, nil, "locusagent-test-fallback"), q
}

// singleFileProposal builds an agent.Proposal that rewrites main.go's
// one line to newLine against repo's current on-disk baseline.
func singleFileProposal(t *testing.T, repo, newLine string) agent.Proposal {
	t.Helper()
	old, err := os.ReadFile(filepath.Join(repo, "main.go"))
	require.NoError(t, err)
	newContent := []byte(newLine)
	return agent.Proposal{
		DiffSet: patch.DiffSet{
			ID: uuid.NewString(),
			Files: []patch.FileDiff{{
				Path:         "main.go",
				BaselineHash: patch.HashContent(old),
				Hunks:        []patch.Hunk{{Index: 0, Text: "replace body", State: patch.HunkPending}},
			}},
		},
		NewContents: map[string][]byte{"main.go": newContent},
	}
}

// approveNextDiff watches bus for a DiffGenerated event and publishes
// a matching DiffApproved, unblocking Orchestrator.Run's approval
// gate — standing in for a UI operator accepting the proposed diff.
func approveNextDiff(t *testing.T, bus *eventbus.Bus) {
	t.Helper()
	sub := bus.Subscribe()
	go func() {
		for evt := range sub.C {
			if evt.Type == eventbus.DiffGenerated {
				d := evt.Data.(eventbus.DiffGeneratedData)
				bus.Publish(eventbus.Event{Type: eventbus.DiffApproved, TaskID: evt.TaskID, Data: eventbus.DiffApprovedData{DiffSetID: d.DiffSetID}})
				return
			}
		}
	}()
}

// rejectNextDiff watches bus for a DiffGenerated event and publishes a
// matching DiffRejected with the given reason/revised prompt.
func rejectNextDiff(t *testing.T, bus *eventbus.Bus, reason, revisedPrompt string) {
	t.Helper()
	sub := bus.Subscribe()
	go func() {
		for evt := range sub.C {
			if evt.Type == eventbus.DiffGenerated {
				d := evt.Data.(eventbus.DiffGeneratedData)
				bus.Publish(eventbus.Event{Type: eventbus.DiffRejected, TaskID: evt.TaskID, Data: eventbus.DiffRejectedData{
					DiffSetID: d.DiffSetID, Reason: reason, RevisedPrompt: revisedPrompt,
				}})
				return
			}
		}
	}()
}

func rushProfile(t *testing.T) (*mode.Controller, mode.Profile) {
	t.Helper()
	table := mode.Default()
	ctl, err := mode.NewController(mode.Rush, table, nil)
	require.NoError(t, err)
	return ctl, table[mode.Rush]
}

func TestOrchestrator_Run_HappyPathCommitsOnFirstTestPass(t *testing.T) {
	repo := newTestRepo(t)
	bus := eventbus.New()
	ctl, _ := rushProfile(t)

	var patchCalls, testCalls, commitCalls int32
	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: &fakeAgent{kind: taskdag.KindRepo, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Summary: "repo context"}, nil
		}},
		taskdag.KindPatch: &fakeAgent{kind: taskdag.KindPatch, run: func(_ context.Context, in agent.Input) (agent.Report, error) {
			atomic.AddInt32(&patchCalls, 1)
			p := singleFileProposal(t, repo, "package main\n\nfunc main() { println(\"patched\") }\n")
			return agent.Report{Detail: p}, nil
		}},
		taskdag.KindTest: &fakeAgent{kind: taskdag.KindTest, run: func(context.Context, agent.Input) (agent.Report, error) {
			atomic.AddInt32(&testCalls, 1)
			return agent.Report{Detail: agent.Summary{Passed: true}}, nil
		}},
		taskdag.KindCommit: &fakeAgent{kind: taskdag.KindCommit, run: func(context.Context, agent.Input) (agent.Report, error) {
			atomic.AddInt32(&commitCalls, 1)
			return agent.Report{Summary: "committed"}, nil
		}},
	}

	o := New(Config{Catalogue: catalogue, Memory: memAdapterOnly(t), Lease: patch.NewWriteLease(), Bus: bus, ModeCtl: ctl, RepoRoot: repo})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Serve(ctx)

	approveNextDiff(t, bus)

	task, err := o.Run(ctx, "print a string")
	require.NoError(t, err)
	assert.Equal(t, taskdag.Completed, task.State())
	assert.EqualValues(t, 1, atomic.LoadInt32(&patchCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&testCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&commitCalls))

	content, err := os.ReadFile(filepath.Join(repo, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "patched")
}

func TestOrchestrator_Run_RejectionWithNoRevisionFailsTheTask(t *testing.T) {
	repo := newTestRepo(t)
	bus := eventbus.New()
	ctl, _ := rushProfile(t)

	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: &fakeAgent{kind: taskdag.KindRepo, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{}, nil
		}},
		taskdag.KindPatch: &fakeAgent{kind: taskdag.KindPatch, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Detail: singleFileProposal(t, repo, "package main\n\nfunc main() {}\n")}, nil
		}},
	}

	o := New(Config{Catalogue: catalogue, Memory: memAdapterOnly(t), Lease: patch.NewWriteLease(), Bus: bus, ModeCtl: ctl, RepoRoot: repo})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Serve(ctx)

	rejectNextDiff(t, bus, "not what I wanted", "")

	task, err := o.Run(ctx, "do something")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDiffRejected)
	assert.Equal(t, taskdag.Failed, task.State())
}

func TestOrchestrator_Run_RejectionWithRevisionRetriesPatch(t *testing.T) {
	repo := newTestRepo(t)
	bus := eventbus.New()
	ctl, _ := rushProfile(t)

	var patchCalls int32
	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: &fakeAgent{kind: taskdag.KindRepo, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{}, nil
		}},
		taskdag.KindPatch: &fakeAgent{kind: taskdag.KindPatch, run: func(context.Context, agent.Input) (agent.Report, error) {
			atomic.AddInt32(&patchCalls, 1)
			return agent.Report{Detail: singleFileProposal(t, repo, "package main\n\nfunc main() { println(\"v2\") }\n")}, nil
		}},
		taskdag.KindTest: &fakeAgent{kind: taskdag.KindTest, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Detail: agent.Summary{Passed: true}}, nil
		}},
		taskdag.KindCommit: &fakeAgent{kind: taskdag.KindCommit, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Summary: "committed"}, nil
		}},
	}

	o := New(Config{Catalogue: catalogue, Memory: memAdapterOnly(t), Lease: patch.NewWriteLease(), Bus: bus, ModeCtl: ctl, RepoRoot: repo})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Serve(ctx)

	// First proposal is rejected with a revision; second is approved.
	rejectNextDiff(t, bus, "try again", "be more specific")
	sub := bus.Subscribe()
	go func() {
		seen := 0
		for evt := range sub.C {
			if evt.Type == eventbus.DiffGenerated {
				seen++
				if seen == 2 {
					d := evt.Data.(eventbus.DiffGeneratedData)
					bus.Publish(eventbus.Event{Type: eventbus.DiffApproved, TaskID: evt.TaskID, Data: eventbus.DiffApprovedData{DiffSetID: d.DiffSetID}})
					return
				}
			}
		}
	}()

	task, err := o.Run(ctx, "do something")
	require.NoError(t, err)
	assert.Equal(t, taskdag.Completed, task.State())
	assert.EqualValues(t, 2, atomic.LoadInt32(&patchCalls))
}

func TestOrchestrator_Run_DebugLoopRecoversOnSecondTest(t *testing.T) {
	repo := newTestRepo(t)
	bus := eventbus.New()
	table := mode.Default()
	ctl, err := mode.NewController(mode.Smart, table, nil)
	require.NoError(t, err)

	var testCalls, debugCalls int32
	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: &fakeAgent{kind: taskdag.KindRepo, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{}, nil
		}},
		taskdag.KindPatch: &fakeAgent{kind: taskdag.KindPatch, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Detail: singleFileProposal(t, repo, "package main\n\nfunc main() { println(\"fixed\") }\n")}, nil
		}},
		taskdag.KindTest: &fakeAgent{kind: taskdag.KindTest, run: func(context.Context, agent.Input) (agent.Report, error) {
			n := atomic.AddInt32(&testCalls, 1)
			return agent.Report{Detail: agent.Summary{Passed: n > 1}}, nil
		}},
		taskdag.KindDebug: &fakeAgent{kind: taskdag.KindDebug, run: func(context.Context, agent.Input) (agent.Report, error) {
			atomic.AddInt32(&debugCalls, 1)
			return agent.Report{Detail: agent.Diagnosis{RootCause: "off by one", RevisedPrompt: "fix the off by one"}}, nil
		}},
		taskdag.KindCommit: &fakeAgent{kind: taskdag.KindCommit, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Summary: "committed"}, nil
		}},
		taskdag.KindSearch: &fakeAgent{kind: taskdag.KindSearch, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{}, nil
		}},
		taskdag.KindConstraint: &fakeAgent{kind: taskdag.KindConstraint, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{}, nil
		}},
		taskdag.KindMemoryRecall: &fakeAgent{kind: taskdag.KindMemoryRecall, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{}, nil
		}},
	}

	o := New(Config{Catalogue: catalogue, Memory: memAdapterOnly(t), Lease: patch.NewWriteLease(), Bus: bus, ModeCtl: ctl, RepoRoot: repo})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Serve(ctx)

	approverSub := bus.Subscribe()
	go func() {
		for evt := range approverSub.C {
			if evt.Type == eventbus.DiffGenerated {
				d := evt.Data.(eventbus.DiffGeneratedData)
				bus.Publish(eventbus.Event{Type: eventbus.DiffApproved, TaskID: evt.TaskID, Data: eventbus.DiffApprovedData{DiffSetID: d.DiffSetID}})
			}
		}
	}()

	task, err := o.Run(ctx, "fix the bug")
	require.NoError(t, err)
	assert.Equal(t, taskdag.Completed, task.State())
	assert.EqualValues(t, 1, atomic.LoadInt32(&debugCalls))
	assert.EqualValues(t, 2, atomic.LoadInt32(&testCalls))
}

// TestOrchestrator_Run_BlockingConstraintViolationFailsBeforeApproval
// exercises §4.6: ConstraintAgent runs as PatchAgent's dependent, and
// an error-severity violation must fail the task before it ever
// reaches AwaitingApproval — PatchAgent's diff is never approved, and
// TestAgent/CommitAgent, registered here but never exercised, would
// have failed the test had either run.
func TestOrchestrator_Run_BlockingConstraintViolationFailsBeforeApproval(t *testing.T) {
	repo := newTestRepo(t)
	bus := eventbus.New()
	table := mode.Default()
	ctl, err := mode.NewController(mode.Smart, table, nil)
	require.NoError(t, err)

	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: &fakeAgent{kind: taskdag.KindRepo, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{}, nil
		}},
		taskdag.KindSearch: &fakeAgent{kind: taskdag.KindSearch, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{}, nil
		}},
		taskdag.KindMemoryRecall: &fakeAgent{kind: taskdag.KindMemoryRecall, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{}, nil
		}},
		taskdag.KindPatch: &fakeAgent{kind: taskdag.KindPatch, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Detail: singleFileProposal(t, repo, "package main\n\nfunc main() { panic(\"no\") }\n")}, nil
		}},
		taskdag.KindConstraint: &fakeAgent{kind: taskdag.KindConstraint, run: func(ctx context.Context, in agent.Input) (agent.Report, error) {
			require.NotEmpty(t, in.Dependencies, "ConstraintAgent must receive the patch node's result as a dependency")
			return agent.Report{Detail: agent.Verdict{Violations: []agent.Violation{{Text: "uses panic", Severity: agent.SeverityError}}}}, nil
		}},
		taskdag.KindTest: &fakeAgent{kind: taskdag.KindTest, run: func(context.Context, agent.Input) (agent.Report, error) {
			t.Fatal("TestAgent must not run when a blocking constraint violation exists")
			return agent.Report{}, nil
		}},
		taskdag.KindCommit: &fakeAgent{kind: taskdag.KindCommit, run: func(context.Context, agent.Input) (agent.Report, error) {
			t.Fatal("CommitAgent must not run when a blocking constraint violation exists")
			return agent.Report{}, nil
		}},
	}

	o := New(Config{Catalogue: catalogue, Memory: memAdapterOnly(t), Lease: patch.NewWriteLease(), Bus: bus, ModeCtl: ctl, RepoRoot: repo})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Serve(ctx)

	task, err := o.Run(ctx, "add a feature")
	require.Error(t, err)
	assert.Equal(t, taskdag.Failed, task.State())
}

func TestOrchestrator_Run_DebugLoopCapExceededFailsTheTask(t *testing.T) {
	repo := newTestRepo(t)
	bus := eventbus.New()
	table := mode.Default()
	ctl, err := mode.NewController(mode.Rush, table, nil) // Rush: DebugLoopCap=0
	require.NoError(t, err)

	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: &fakeAgent{kind: taskdag.KindRepo, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{}, nil
		}},
		taskdag.KindPatch: &fakeAgent{kind: taskdag.KindPatch, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Detail: singleFileProposal(t, repo, "package main\n\nfunc main() { println(\"still broken\") }\n")}, nil
		}},
		taskdag.KindTest: &fakeAgent{kind: taskdag.KindTest, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Detail: agent.Summary{Passed: false}}, nil
		}},
	}

	o := New(Config{Catalogue: catalogue, Memory: memAdapterOnly(t), Lease: patch.NewWriteLease(), Bus: bus, ModeCtl: ctl, RepoRoot: repo})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Serve(ctx)
	approveNextDiff(t, bus)

	task, err := o.Run(ctx, "fix the bug")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDebugLoopExceeded)
	assert.Equal(t, taskdag.Failed, task.State())
}

func TestOrchestrator_Run_DirtyWorkingTreeFailsPreflight(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.go"), []byte("package main\n\nfunc main() { /* dirty */ }\n"), 0o644))

	bus := eventbus.New()
	ctl, _ := rushProfile(t)
	o := New(Config{Catalogue: map[taskdag.AgentKind]agent.Agent{}, Memory: memAdapterOnly(t), Lease: patch.NewWriteLease(), Bus: bus, ModeCtl: ctl, RepoRoot: repo})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Serve(ctx)

	task, err := o.Run(ctx, "do something")
	require.Error(t, err)
	assert.Equal(t, taskdag.Failed, task.State())
	assert.Contains(t, err.Error(), "uncommitted changes")
}

func TestOrchestrator_Run_ContextAgentFailureDoesNotBlockPatchOverSoftEdge(t *testing.T) {
	repo := newTestRepo(t)
	bus := eventbus.New()
	ctl, _ := rushProfile(t)

	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo: &fakeAgent{kind: taskdag.KindRepo, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{}, fmt.Errorf("repo agent exploded")
		}},
		taskdag.KindPatch: &fakeAgent{kind: taskdag.KindPatch, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Detail: singleFileProposal(t, repo, "package main\n\nfunc main() { println(\"ran anyway\") }\n")}, nil
		}},
		taskdag.KindTest: &fakeAgent{kind: taskdag.KindTest, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Detail: agent.Summary{Passed: true}}, nil
		}},
		taskdag.KindCommit: &fakeAgent{kind: taskdag.KindCommit, run: func(context.Context, agent.Input) (agent.Report, error) {
			return agent.Report{Summary: "committed"}, nil
		}},
	}

	o := New(Config{Catalogue: catalogue, Memory: memAdapterOnly(t), Lease: patch.NewWriteLease(), Bus: bus, ModeCtl: ctl, RepoRoot: repo})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Serve(ctx)
	approveNextDiff(t, bus)

	// RepoAgent fails, but it only feeds PatchAgent over a soft edge
	// (§4.4: a context agent's failure never blocks the patch attempt),
	// so the task still completes.
	task, err := o.Run(ctx, "do something")
	require.NoError(t, err)
	assert.Equal(t, taskdag.Completed, task.State())
}

func TestOrchestrator_Serve_ExtractsMemoryFromToolTestAndCommitEvents(t *testing.T) {
	repo := newTestRepo(t)
	bus := eventbus.New()
	ctl, _ := rushProfile(t)
	mem, queue := newTestMemory(t)

	o := New(Config{Catalogue: map[taskdag.AgentKind]agent.Agent{}, Memory: mem, Lease: patch.NewWriteLease(), Bus: bus, ModeCtl: ctl, RepoRoot: repo})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Serve(ctx)

	bus.Publish(eventbus.Event{Type: eventbus.ToolResult, TaskID: "t1", Data: eventbus.ToolResultData{Tool: "run_cmd", Success: true}})
	bus.Publish(eventbus.Event{Type: eventbus.CommitCreated, TaskID: "t1", Data: eventbus.CommitCreatedData{Message: "feat: thing"}})

	require.Eventually(t, func() bool {
		n, err := queue.PendingCount()
		return err == nil && n == 2
	}, time.Second, 10*time.Millisecond)
}

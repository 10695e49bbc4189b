// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator translates a prompt into a DAG, submits it to
// the scheduler, and drives the downstream patch/apply/test/debug/
// commit lifecycle (§4.4). Grounded on agent/loop.go's AgentLoop: a
// single driver that polls a state machine, executes the current
// phase, and transitions on the phase's outcome, generalized here from
// one interactive session's phases to one task's component pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aleutian-labs/locusagent/services/core/agent"
	"github.com/aleutian-labs/locusagent/services/core/eventbus"
	"github.com/aleutian-labs/locusagent/services/core/memory"
	"github.com/aleutian-labs/locusagent/services/core/mode"
	"github.com/aleutian-labs/locusagent/services/core/patch"
	"github.com/aleutian-labs/locusagent/services/core/scheduler"
	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

// ErrDebugLoopExceeded is returned when the Debug->Test cycle runs
// past the mode's DebugLoopCap without tests passing (§4.4).
var ErrDebugLoopExceeded = fmt.Errorf("orchestrator: debug loop cap exceeded")

// ErrDiffRejected is returned when the approval gate rejects a diff
// set with no revised prompt to retry with.
var ErrDiffRejected = fmt.Errorf("orchestrator: diff set rejected")

// Orchestrator is the task lifecycle driver (§4.4).
type Orchestrator struct {
	sched     *scheduler.Scheduler
	catalogue map[taskdag.AgentKind]agent.Agent
	memoryAd  *memory.Adapter
	lease     *patch.WriteLease
	bus       *eventbus.Bus
	modeCtl   *mode.Controller
	repoRoot  string
	logger    *slog.Logger

	approvals *approvalRegistry
}

// Config bundles Orchestrator's collaborators.
type Config struct {
	Catalogue map[taskdag.AgentKind]agent.Agent
	Memory    *memory.Adapter
	Lease     *patch.WriteLease
	Bus       *eventbus.Bus
	ModeCtl   *mode.Controller
	RepoRoot  string
	Logger    *slog.Logger
}

// New builds an Orchestrator and starts its background event
// consumption (approval-gate correlation and the memory hook).
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		sched:     scheduler.New(cfg.Catalogue, cfg.Bus, logger),
		catalogue: cfg.Catalogue,
		memoryAd:  cfg.Memory,
		lease:     cfg.Lease,
		bus:       cfg.Bus,
		modeCtl:   cfg.ModeCtl,
		repoRoot:  cfg.RepoRoot,
		logger:    logger,
		approvals: newApprovalRegistry(),
	}
	return o
}

// Serve subscribes to the event bus and routes DiffApproved/
// DiffRejected events to whichever Run call is waiting on that diff
// set's approval gate, and forwards every successful tool invocation,
// test result, and commit to the memory adapter's Extract (§4.4
// Memory hook). Callers run this in its own goroutine for the
// Orchestrator's lifetime; it returns when ctx is cancelled.
func (o *Orchestrator) Serve(ctx context.Context) {
	sub := o.bus.Subscribe()
	defer o.bus.Unsubscribe(sub.ID)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			o.handleEvent(evt)
		}
	}
}

func (o *Orchestrator) handleEvent(evt eventbus.Event) {
	switch evt.Type {
	case eventbus.DiffApproved:
		if d, ok := evt.Data.(eventbus.DiffApprovedData); ok {
			o.approvals.resolve(d.DiffSetID, approvalOutcome{approved: true})
		}
	case eventbus.DiffRejected:
		if d, ok := evt.Data.(eventbus.DiffRejectedData); ok {
			o.approvals.resolve(d.DiffSetID, approvalOutcome{reason: d.Reason, revisedPrompt: d.RevisedPrompt})
		}
	case eventbus.ToolResult:
		if d, ok := evt.Data.(eventbus.ToolResultData); ok && d.Success {
			o.extract(evt.TaskID, "tool_invocation", fmt.Sprintf("%s succeeded", d.Tool))
		}
	case eventbus.TestResult:
		if d, ok := evt.Data.(eventbus.TestResultData); ok {
			o.extract(evt.TaskID, "test_result", fmt.Sprintf("%d/%d passed", d.Passed, d.Total))
		}
	case eventbus.CommitCreated:
		if d, ok := evt.Data.(eventbus.CommitCreatedData); ok {
			o.extract(evt.TaskID, "commit", d.Message)
		}
	}
}

func (o *Orchestrator) extract(taskID, kind, payload string) {
	if o.memoryAd == nil {
		return
	}
	if err := o.memoryAd.Extract(taskID, memory.Event{
		ContextID: o.repoRoot,
		EventKind: kind,
		Source:    "orchestrator",
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Confidence: 0.5,
	}); err != nil {
		o.logger.Warn("orchestrator: memory extract failed", "kind", kind, "error", err)
	}
}

// Run drives one task end to end: context gathering, patch proposal,
// approval gate, apply, test, a bounded debug loop, and commit (§4.4).
func (o *Orchestrator) Run(ctx context.Context, prompt string) (*taskdag.Task, error) {
	m := o.modeCtl.Current()
	profile := o.modeCtl.Profile()
	task := taskdag.New(prompt, m, profile)

	o.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, TaskID: task.ID, Data: eventbus.TaskStartedData{Prompt: prompt, Mode: string(m)}})

	preflight, err := patch.RunPreFlight(o.repoRoot, patch.PreFlightConfig{})
	if err != nil {
		return o.fail(task, "preflight", err)
	}
	if !preflight.Passed {
		return o.fail(task, "preflight", fmt.Errorf("%s", preflight.FormatErrors()))
	}

	bundle, err := o.memoryAd.Inject(ctx, task.ID, o.repoRoot, prompt, profile)
	if err != nil {
		o.logger.Warn("orchestrator: memory inject failed, continuing with an empty bundle", "error", err)
	}

	if err := o.transition(task, taskdag.Running); err != nil {
		return o.fail(task, "transition", err)
	}

	currentPrompt := prompt
	for {
		proposal, verdict, err := o.runContextAndPatch(ctx, task, currentPrompt, bundle)
		if err != nil {
			return o.fail(task, "patch", err)
		}
		if verdict != nil {
			task.AppendReport(*verdict)
			if verdict.Blocking() {
				return o.fail(task, "constraint", fmt.Errorf("blocking constraint violation(s): %s", strings.Join(violationTexts(verdict.Violations), "; ")))
			}
			if !verdict.Clean {
				o.logger.Warn("orchestrator: constraint warnings on proposed diff", "violations", violationTexts(verdict.Violations))
			}
		}

		if err := o.transition(task, taskdag.AwaitingApproval); err != nil {
			return o.fail(task, "transition", err)
		}
		o.bus.Publish(eventbus.Event{Type: eventbus.DiffGenerated, TaskID: task.ID, Data: eventbus.DiffGeneratedData{
			DiffSetID: proposal.DiffSet.ID, FileCount: len(proposal.DiffSet.Files),
		}})

		outcome, err := o.approvals.wait(ctx, proposal.DiffSet.ID)
		if err != nil {
			return o.fail(task, "approval", err)
		}
		if !outcome.approved {
			if outcome.revisedPrompt == "" {
				return o.fail(task, "approval", fmt.Errorf("%w: %s", ErrDiffRejected, outcome.reason))
			}
			task.AppendPrompt(outcome.revisedPrompt)
			currentPrompt = task.OriginalText
			if err := o.transition(task, taskdag.Running); err != nil {
				return o.fail(task, "transition", err)
			}
			continue
		}
		proposal.DiffSet.ApproveAll()

		if err := o.transition(task, taskdag.Running); err != nil {
			return o.fail(task, "transition", err)
		}
		passed, revisedPrompt, err := o.applyAndTest(ctx, task, &proposal, bundle)
		if err != nil {
			if err == ErrDebugLoopExceeded {
				return o.fail(task, "debug", err)
			}
			return o.fail(task, "test", err)
		}
		if passed {
			break
		}
		// Test failed within the debug-loop cap: DebugAgent produced a
		// revised prompt. Re-enter AwaitingApproval by looping back
		// through context-gathering + patch with it (§4.4 Debug loop:
		// "the pipeline re-enters AwaitingApproval -> Testing").
		currentPrompt = revisedPrompt
		if err := o.transition(task, taskdag.Running); err != nil {
			return o.fail(task, "transition", err)
		}
	}

	if err := o.transition(task, taskdag.AwaitingApproval); err != nil {
		return o.fail(task, "transition", err)
	}
	if err := o.transition(task, taskdag.Committing); err != nil {
		return o.fail(task, "transition", err)
	}
	if err := o.commit(ctx, task, currentPrompt); err != nil {
		return o.fail(task, "commit", err)
	}

	if err := o.transition(task, taskdag.Completed); err != nil {
		return o.fail(task, "transition", err)
	}
	o.bus.Publish(eventbus.Event{Type: eventbus.TaskCompleted, TaskID: task.ID, Data: eventbus.TaskCompletedData{Duration: time.Since(task.StartedAt)}})
	return task, nil
}

func (o *Orchestrator) fail(task *taskdag.Task, step string, err error) (*taskdag.Task, error) {
	_ = o.transition(task, taskdag.Failed)
	o.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, TaskID: task.ID, Data: eventbus.TaskFailedData{Step: step, Reason: err.Error()}})
	return task, fmt.Errorf("orchestrator: %s: %w", step, err)
}

// transition moves task to to, tolerating a call that names the state
// task is already in (a no-op) so callers do not need to track
// exactly which edge in the table got them here before asking to
// arrive at a state they might already occupy.
func (o *Orchestrator) transition(task *taskdag.Task, to taskdag.State) error {
	if task.State() == to {
		return nil
	}
	return taskdag.DefaultStateMachine.Transition(task, to)
}

// runContextAndPatch submits the parallel context-gathering + patch
// DAG to the scheduler and returns the resulting Proposal, plus
// ConstraintAgent's Verdict on it when the profile runs that node
// (nil otherwise). ConstraintAgent hangs off patchNode as a hard-edge
// dependent, so by the time Run returns, both have reached a terminal
// state.
func (o *Orchestrator) runContextAndPatch(ctx context.Context, task *taskdag.Task, prompt string, bundle memory.Bundle) (agent.Proposal, *agent.Verdict, error) {
	dag, patchNodeID, constraintNodeID := buildContextDAG(prompt, task.Profile.IncludeSearchAgent, task.Profile.IncludeDeepRecall)
	if err := o.sched.Run(ctx, task.ID, dag, prompt, task.Profile, bundle); err != nil {
		return agent.Proposal{}, nil, err
	}
	patchNode := dag.Node(patchNodeID)
	result := patchNode.Result()
	if patchNode.Status() != taskdag.NodeSucceeded {
		return agent.Proposal{}, nil, fmt.Errorf("patch agent did not succeed: %s", result.FailureMsg)
	}
	proposal, ok := result.Report.(agent.Proposal)
	if !ok {
		return agent.Proposal{}, nil, fmt.Errorf("patch agent returned an unexpected report type")
	}
	task.AppendReport(proposal)

	var verdict *agent.Verdict
	if constraintNodeID != "" {
		constraintNode := dag.Node(constraintNodeID)
		switch constraintNode.Status() {
		case taskdag.NodeSucceeded:
			if v, ok := constraintNode.Result().Report.(agent.Verdict); ok {
				verdict = &v
			}
		case taskdag.NodeCancelled, taskdag.NodeSkipped:
			// Cancelled because patchNode itself never succeeded, which
			// already returned above — unreachable in practice.
		default:
			o.logger.Warn("orchestrator: constraint agent did not succeed", "failure", constraintNode.Result().FailureMsg)
		}
	}

	return proposal, verdict, nil
}

// violationTexts flattens a Verdict's violations to their text for
// logging and error messages.
func violationTexts(violations []agent.Violation) []string {
	out := make([]string, len(violations))
	for i, v := range violations {
		out[i] = fmt.Sprintf("[%s] %s", v.Severity, v.Text)
	}
	return out
}

// applyAndTest atomically applies one approved diff set and runs
// TestAgent. On failure within the mode's DebugLoopCap it runs
// DebugAgent and returns the revised prompt for the caller to loop
// back through context-gathering, patch, and approval with (§4.4
// Debug loop). task must already be in the Running state.
func (o *Orchestrator) applyAndTest(ctx context.Context, task *taskdag.Task, proposal *agent.Proposal, bundle memory.Bundle) (passed bool, revisedPrompt string, err error) {
	if !o.lease.Acquire() {
		return false, "", fmt.Errorf("%w", patch.ErrBusyApplying)
	}
	applyResult, applyErr := patch.Apply(o.repoRoot, proposal.DiffSet.ApprovedFiles(), proposal.NewContents)
	o.lease.Release()
	if applyErr != nil {
		o.bus.Publish(eventbus.Event{Type: eventbus.DiffRejected, TaskID: task.ID, Data: eventbus.DiffRejectedData{
			DiffSetID: proposal.DiffSet.ID, Reason: applyErr.Error(),
		}})
		return false, "", applyErr
	}
	proposal.DiffSet.Applied = true
	proposal.DiffSet.AppliedAt = time.Now()

	testReport, err := o.runSingle(ctx, task, taskdag.KindTest, task.OriginalText, bundle, nil)
	if err != nil {
		return false, "", err
	}
	summary, _ := testReport.Detail.(agent.Summary)
	o.bus.Publish(eventbus.Event{Type: eventbus.TestResult, TaskID: task.ID, Data: eventbus.TestResultData{
		Passed: boolToInt(summary.Passed), Failed: boolToInt(!summary.Passed), Total: 1,
	}})
	if summary.Passed {
		return true, "", nil
	}

	iteration, exceeded := task.IncrementDebugIteration()
	if exceeded {
		_ = patch.Rollback(applyResult)
		return false, "", ErrDebugLoopExceeded
	}

	// Running -> AwaitingApproval -> Debugging: the transition table
	// only admits Debugging from AwaitingApproval, so a failed test
	// (reached while Running) pivots through AwaitingApproval first.
	if err := o.transition(task, taskdag.AwaitingApproval); err != nil {
		return false, "", err
	}
	if err := o.transition(task, taskdag.Debugging); err != nil {
		return false, "", err
	}

	deps := map[string]taskdag.ResultEnvelope{"test": {Report: summary}}
	debugReport, err := o.runSingle(ctx, task, taskdag.KindDebug, task.OriginalText, bundle, deps)
	if err != nil {
		_ = patch.Rollback(applyResult)
		return false, "", err
	}
	diagnosis, _ := debugReport.Detail.(agent.Diagnosis)
	o.bus.Publish(eventbus.Event{Type: eventbus.DebugIteration, TaskID: task.ID, Data: eventbus.DebugIterationData{
		Iteration: iteration, Summary: diagnosis.RootCause,
	}})

	if err := o.transition(task, taskdag.AwaitingApproval); err != nil {
		return false, "", err
	}
	return false, task.OriginalText + "\n\n" + diagnosis.RevisedPrompt, nil
}

func (o *Orchestrator) commit(ctx context.Context, task *taskdag.Task, prompt string) error {
	proposal := lastProposal(task)
	deps := map[string]taskdag.ResultEnvelope{"patch": {Report: proposal}}
	report, err := o.runSingle(ctx, task, taskdag.KindCommit, prompt, memory.Bundle{}, deps)
	if err != nil {
		return err
	}
	task.AppendReport(report)
	return nil
}

func lastProposal(task *taskdag.Task) agent.Proposal {
	reports := task.Reports()
	for i := len(reports) - 1; i >= 0; i-- {
		if p, ok := reports[i].(agent.Proposal); ok {
			return p
		}
	}
	return agent.Proposal{}
}

// runSingle runs one catalogue agent directly (outside the scheduler's
// concurrent DAG loop), since everything after the patch proposal is
// an inherently sequential chain (§4.4 "a sequential chain"). It still
// enforces the node timeout and emits the same AgentSpawned/
// AgentCompleted pair the scheduler would.
func (o *Orchestrator) runSingle(ctx context.Context, task *taskdag.Task, kind taskdag.AgentKind, prompt string, bundle memory.Bundle, deps map[string]taskdag.ResultEnvelope) (agent.Report, error) {
	ag, ok := o.catalogue[kind]
	if !ok {
		return agent.Report{}, fmt.Errorf("orchestrator: no agent registered for kind %s", kind)
	}

	nodeCtx, cancel := context.WithTimeout(ctx, task.Profile.NodeTimeout)
	defer cancel()

	o.bus.Publish(eventbus.Event{Type: eventbus.AgentSpawned, TaskID: task.ID, Data: eventbus.AgentSpawnedData{AgentKind: string(kind)}})
	start := time.Now()
	report, err := ag.Run(nodeCtx, agent.Input{
		TaskID:       task.ID,
		NodeID:       string(kind),
		Prompt:       prompt,
		Profile:      task.Profile,
		Bundle:       bundle,
		AgentID:      fmt.Sprintf("%s:%s", task.ID, kind),
		Dependencies: deps,
	})
	status := taskdag.NodeSucceeded
	if err != nil {
		status = taskdag.NodeFailed
	}
	o.bus.Publish(eventbus.Event{Type: eventbus.AgentCompleted, TaskID: task.ID, Data: eventbus.AgentCompletedData{
		AgentKind: string(kind), Status: string(status), Duration: time.Since(start), TokensUsed: report.TokensUsed,
	}})
	if err != nil {
		return agent.Report{}, fmt.Errorf("%s: %w", kind, err)
	}
	task.AppendReport(report.Detail)
	return report, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// approvalOutcome is the resolved state of one diff set's approval
// gate correlation (§4.4 Approval gate).
type approvalOutcome struct {
	approved      bool
	revisedPrompt string
	reason        string
}

// approvalRegistry correlates incoming DiffApproved/DiffRejected
// events (keyed by diff-set id, which may arrive on any goroutine)
// with the Run call blocked waiting on that specific diff set.
type approvalRegistry struct {
	mu      sync.Mutex
	waiters map[string]chan approvalOutcome
}

func newApprovalRegistry() *approvalRegistry {
	return &approvalRegistry{waiters: make(map[string]chan approvalOutcome)}
}

func (r *approvalRegistry) wait(ctx context.Context, diffSetID string) (approvalOutcome, error) {
	ch := make(chan approvalOutcome, 1)
	r.mu.Lock()
	r.waiters[diffSetID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.waiters, diffSetID)
		r.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return approvalOutcome{}, ctx.Err()
	case outcome := <-ch:
		return outcome, nil
	}
}

func (r *approvalRegistry) resolve(diffSetID string, outcome approvalOutcome) {
	r.mu.Lock()
	ch, ok := r.waiters[diffSetID]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- outcome:
	default:
	}
}

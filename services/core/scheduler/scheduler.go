// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler drives a Task's DAG to completion: it promotes
// Ready nodes, runs them concurrently up to the mode's concurrency
// cap, and enforces per-node timeouts (§4.3). Grounded on
// agent/loop.go's runLoop poll-execute-transition cycle, generalized
// from a single session's state machine to a DAG of many concurrent
// nodes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/aleutian-labs/locusagent/services/core/agent"
	"github.com/aleutian-labs/locusagent/services/core/eventbus"
	"github.com/aleutian-labs/locusagent/services/core/memory"
	"github.com/aleutian-labs/locusagent/services/core/mode"
	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

var tracer = otel.Tracer("locusagent/scheduler")

// inFlightGauge is an OTel metric rather than a prometheus one: it
// tracks a point-in-time count (how many nodes are running right
// now), which is what Init's manual reader is for — a local
// operator inspecting live scheduler state rather than a Prometheus
// scrape target.
var inFlightGauge, _ = otel.Meter("locusagent/scheduler").Int64UpDownCounter(
	"locusagent_scheduler_nodes_in_flight",
	metric.WithDescription("DAG nodes currently executing."),
)

var (
	nodesRun = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "locusagent_scheduler_nodes_total",
		Help: "DAG nodes run by the scheduler, by agent kind and outcome.",
	}, []string{"agent_kind", "outcome"})
	nodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "locusagent_scheduler_node_duration_seconds",
		Help: "Wall-clock duration of a DAG node run.",
	}, []string{"agent_kind"})
)

func init() {
	prometheus.MustRegister(nodesRun, nodeDuration)
}

// Scheduler runs one Task's DAG at a time; a fresh Scheduler is built
// per task so its concurrency cap and catalogue can be re-derived from
// that task's mode profile (§4.3, §5: "A task owns its DAG
// exclusively").
type Scheduler struct {
	catalogue map[taskdag.AgentKind]agent.Agent
	bus       *eventbus.Bus
	logger    *slog.Logger
}

// New builds a Scheduler against a fixed agent catalogue.
func New(catalogue map[taskdag.AgentKind]agent.Agent, bus *eventbus.Bus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{catalogue: catalogue, bus: bus, logger: logger}
}

// nodeContext carries what a running node needs beyond the DAG
// itself: the task prompt, mode profile, recalled memory bundle, and
// a per-task agent id namespace for ToolBus permission scoping.
type nodeContext struct {
	taskID  string
	prompt  string
	profile mode.Profile
	bundle  memory.Bundle
}

// Run drives dag to completion: it loops promoting Ready nodes and
// running up to profile.Concurrency of them at a time, stopping when
// every node has reached a terminal state or ctx is cancelled
// (§4.3 step 4).
func (s *Scheduler) Run(ctx context.Context, taskID string, dag *taskdag.DAG, prompt string, profile mode.Profile, bundle memory.Bundle) error {
	sem := semaphore.NewWeighted(int64(profile.Concurrency))
	var wg sync.WaitGroup
	nctx := nodeContext{taskID: taskID, prompt: prompt, profile: profile, bundle: bundle}

	for {
		readied, cancelled, _ := dag.PromoteReady()
		for _, id := range readied {
			s.publish(eventbus.AgentSpawned, taskID, dag.Node(id), eventbus.AgentSpawnedData{
				AgentKind: string(dag.Node(id).AgentKind),
				NodeID:    id,
			})
		}
		for _, id := range cancelled {
			s.publish(eventbus.TaskCancelled, taskID, dag.Node(id), eventbus.TaskCancelledData{
				Reason: fmt.Sprintf("node %s cancelled: hard dependency failed", id),
			})
		}

		if dag.AllTerminal() {
			break
		}

		ready := dag.ReadySet()
		for _, n := range ready {
			if err := sem.Acquire(ctx, 1); err != nil {
				s.waitWithGrace(&wg)
				return err
			}
			node := n
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				s.runNode(ctx, dag, node, nctx)
			}()
		}

		if _, r, running := dag.Counts(); r == 0 && running == 0 {
			// Nothing ready and nothing running: either done, or
			// every remaining Pending node is blocked on something
			// that will never resolve. Wait for in-flight nodes and
			// re-check PromoteReady, which catches a late-arriving
			// soft-edge terminal state.
			wg.Wait()
			if dag.AllTerminal() {
				break
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.waitWithGrace(&wg)
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}

	wg.Wait()
	return nil
}

func (s *Scheduler) runNode(ctx context.Context, dag *taskdag.DAG, n *taskdag.Node, nctx nodeContext) {
	if err := dag.MarkRunning(n.ID); err != nil {
		s.logger.Warn("scheduler: mark running failed", "node_id", n.ID, "error", err)
		return
	}

	ag, ok := s.catalogue[n.AgentKind]
	if !ok {
		dag.Complete(n.ID, taskdag.NodeFailed, taskdag.ResultEnvelope{FailureMsg: fmt.Sprintf("no agent registered for kind %s", n.AgentKind)})
		return
	}

	timeout := taskdag.ModeBudget(nctx.profile)
	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	spanCtx, span := tracer.Start(nodeCtx, "scheduler.run_node", trace.WithAttributes(
		attribute.String("node_id", n.ID),
		attribute.String("agent_kind", string(n.AgentKind)),
	))
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("agent_kind", string(n.AgentKind)))
	inFlightGauge.Add(spanCtx, 1, attrs)
	defer inFlightGauge.Add(spanCtx, -1, attrs)

	deps := s.dependencyResults(dag, n)
	input := agent.Input{
		TaskID:       nctx.taskID,
		NodeID:       n.ID,
		Prompt:       nctx.prompt,
		Node:         n,
		Profile:      nctx.profile,
		Bundle:       nctx.bundle,
		AgentID:      fmt.Sprintf("%s:%s", nctx.taskID, n.ID),
		Dependencies: deps,
	}

	start := time.Now()
	report, err := ag.Run(spanCtx, input)
	duration := time.Since(start)
	nodeDuration.WithLabelValues(string(n.AgentKind)).Observe(duration.Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		nodesRun.WithLabelValues(string(n.AgentKind), "failed").Inc()
		dag.Complete(n.ID, taskdag.NodeFailed, taskdag.ResultEnvelope{FailureMsg: err.Error()})
		s.publish(eventbus.AgentCompleted, nctx.taskID, n, eventbus.AgentCompletedData{
			AgentKind: string(n.AgentKind), NodeID: n.ID, Status: string(taskdag.NodeFailed), Duration: duration,
		})
		return
	}

	nodesRun.WithLabelValues(string(n.AgentKind), "succeeded").Inc()
	dag.Complete(n.ID, taskdag.NodeSucceeded, taskdag.ResultEnvelope{Report: report.Detail})
	s.publish(eventbus.AgentCompleted, nctx.taskID, n, eventbus.AgentCompletedData{
		AgentKind: string(n.AgentKind), NodeID: n.ID, Status: string(taskdag.NodeSucceeded),
		Duration: duration, TokensUsed: report.TokensUsed,
	})
}

// cancellationGrace bounds how long Run waits for in-flight nodes to
// unwind after ctx is cancelled before abandoning them, mirroring a
// phased signal->wait-grace->force-abandon shutdown: every catalogue
// member checks ctx.Done() between oracle turns, but a node blocked in
// a single long tool call (e.g. a slow run_cmd) may outlive its
// node-level context by the time its underlying syscall returns.
const cancellationGrace = 5 * time.Second

// waitWithGrace waits for wg up to cancellationGrace, then returns
// without waiting further: the still-running goroutines are abandoned
// to finish (or not) on their own, since Run has already decided to
// report cancellation to its caller.
func (s *Scheduler) waitWithGrace(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cancellationGrace):
		s.logger.Warn("scheduler: cancellation grace period elapsed, abandoning in-flight nodes")
	}
}

func (s *Scheduler) dependencyResults(dag *taskdag.DAG, n *taskdag.Node) map[string]taskdag.ResultEnvelope {
	depIDs := dag.DependsOn(n.ID)
	out := make(map[string]taskdag.ResultEnvelope, len(depIDs))
	for _, depID := range depIDs {
		if dep := dag.Node(depID); dep != nil {
			out[depID] = dep.Result()
		}
	}
	return out
}

func (s *Scheduler) publish(typ eventbus.Type, taskID string, n *taskdag.Node, data any) {
	if s.bus == nil {
		return
	}
	nodeID := ""
	if n != nil {
		nodeID = n.ID
	}
	s.bus.Publish(eventbus.Event{Type: typ, TaskID: taskID, AgentID: nodeID, Data: data})
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent implements the eight-member agent catalogue from §4.6:
// each agent is a bounded tool-use loop against the LLM oracle,
// running against one DAG node's input and producing a typed report
// the Scheduler folds back into that node's ResultEnvelope. Grounded
// on agent/loop.go's step-bounded plan/execute/reflect loop,
// generalized from a single interactive session to one run per
// catalogue member per node.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/aleutian-labs/locusagent/services/core/llm"
	"github.com/aleutian-labs/locusagent/services/core/memory"
	"github.com/aleutian-labs/locusagent/services/core/mode"
	"github.com/aleutian-labs/locusagent/services/core/taskdag"
	"github.com/aleutian-labs/locusagent/services/core/toolbus"
)

// ErrStepLimitExceeded is returned when an agent's bounded loop runs
// out of steps without reaching a terminal state (§4.6, grounded on
// agent/errors.go's step-limit sentinel shape).
var ErrStepLimitExceeded = errors.New("agent: step limit exceeded without completion")

// Input is what the Scheduler hands an agent for one DAG node run.
type Input struct {
	TaskID       string
	NodeID       string
	Prompt       string
	Node         *taskdag.Node
	Profile      mode.Profile
	Bundle       memory.Bundle
	AgentID      string
	Dependencies map[string]taskdag.ResultEnvelope
}

// Report is the typed outcome an agent produces, stored as
// taskdag.ResultEnvelope.Report.
type Report struct {
	Summary    string
	Detail     any
	TokensUsed int
	Duration   time.Duration
}

// Agent is one member of the catalogue.
type Agent interface {
	Kind() taskdag.AgentKind
	Run(ctx context.Context, in Input) (Report, error)
}

// Deps bundles the collaborators every catalogue member needs: the
// LLM oracle and the ToolBus gateway. Concrete agent constructors take
// a Deps value so the scheduler can build the whole catalogue from one
// shared set of collaborators.
type Deps struct {
	Oracle  llm.Oracle
	Tools   *toolbus.ToolBus
}

// stepBudget returns the bounded number of oracle turns an agent may
// take before ErrStepLimitExceeded, scaled by mode: Rush agents get a
// tight budget, Deep agents get room to iterate.
func stepBudget(p mode.Profile) int {
	switch {
	case p.Concurrency <= 2:
		return 4
	case p.Concurrency <= 4:
		return 8
	default:
		return 12
	}
}

// runBoundedLoop drives a minimal plan→act loop: it calls step once
// per iteration up to the agent's step budget, stopping as soon as
// step reports done. This is the shared shape every catalogue member
// uses in place of duplicating the same bounded-loop logic eight
// times, mirroring agent/loop.go's single AgentLoop driving every
// session's state machine.
func runBoundedLoop(ctx context.Context, p mode.Profile, step func(ctx context.Context, iteration int) (done bool, err error)) error {
	budget := stepBudget(p)
	for i := 0; i < budget; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		done, err := step(ctx, i)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrStepLimitExceeded
}

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

import "fmt"

// State is the task lifecycle (§3, §4.4).
type State string

const (
	Planning        State = "planning"
	Running         State = "running"
	AwaitingApproval State = "awaiting_approval"
	Debugging       State = "debugging"
	Committing      State = "committing"
	Completed       State = "completed"
	Failed          State = "failed"
	Cancelled       State = "cancelled"
)

// StateMachine is the transition table for Task lifecycles, built in
// the same shape as agent/loop.go's state machine
// (map[State]map[State]bool + CanTransition + Transition), but with
// the exact state set and edges §4.4 draws:
//
//	Planning -> Running -> AwaitingApproval -> Testing(folded into Running/Debugging below)
//	AwaitingApproval -> Failed            (rejected with no edit)
//	AwaitingApproval -> Running            (rejected with revised prompt)
//	Running -> Debugging                   (test failure within debug-loop cap)
//	Debugging -> AwaitingApproval           (new diff set from DebugAgent)
//	Running -> Committing -> Completed
//	Any -> Cancelled | Failed
type StateMachine struct {
	transitions map[State]map[State]bool
}

// DefaultStateMachine is the package-level singleton every Task uses.
var DefaultStateMachine = newStateMachine()

func newStateMachine() *StateMachine {
	sm := &StateMachine{transitions: make(map[State]map[State]bool)}

	add := func(from State, to ...State) {
		if sm.transitions[from] == nil {
			sm.transitions[from] = make(map[State]bool)
		}
		for _, t := range to {
			sm.transitions[from][t] = true
		}
	}

	add(Planning, Running, Failed, Cancelled)
	add(Running, AwaitingApproval, Failed, Cancelled)
	add(AwaitingApproval, Running, Debugging, Committing, Failed, Cancelled)
	add(Debugging, AwaitingApproval, Failed, Cancelled)
	add(Committing, Completed, Failed, Cancelled)

	// Any state can transition to Cancelled on user cancel or to
	// Failed on unrecoverable error (§4.4).
	for _, s := range []State{Planning, Running, AwaitingApproval, Debugging, Committing} {
		add(s, Cancelled, Failed)
	}

	return sm
}

// CanTransition reports whether from->to is a legal edge.
func (sm *StateMachine) CanTransition(from, to State) bool {
	if from == to {
		return false
	}
	return sm.transitions[from][to]
}

// TransitionReason documents why a given edge exists, for logging —
// mirrors agent/state_machine.go's TransitionReason helper.
func (sm *StateMachine) TransitionReason(from, to State) string {
	switch {
	case from == AwaitingApproval && to == Running:
		return "diff rejected with revised prompt"
	case from == AwaitingApproval && to == Debugging:
		return "test failure within debug-loop cap"
	case from == Debugging && to == AwaitingApproval:
		return "debug agent produced a new diff set"
	case to == Cancelled:
		return "user cancel"
	case to == Failed:
		return "unrecoverable error or exhausted recovery"
	default:
		return fmt.Sprintf("%s -> %s", from, to)
	}
}

// Transition validates and applies from->to on t, returning an error
// for illegal edges rather than leaving t in an inconsistent state.
func (sm *StateMachine) Transition(t *Task, to State) error {
	from := t.State()
	if !sm.CanTransition(from, to) {
		return fmt.Errorf("taskdag: illegal transition %s -> %s for task %s", from, to, t.ID)
	}
	t.setState(to)
	return nil
}

// IsTerminal reports whether s has no outgoing transitions a task can
// still make (Completed, Failed, Cancelled).
func IsTerminal(s State) bool {
	switch s {
	case Completed, Failed, Cancelled:
		return true
	default:
		return false
	}
}

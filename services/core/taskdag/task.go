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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aleutian-labs/locusagent/services/core/mode"
)

// Task is one user prompt plus its derived plan (§3). A task owns its
// DAG exclusively.
type Task struct {
	ID           string
	OriginalText string
	ModeSnapshot mode.Mode
	Profile      mode.Profile
	DAG          *DAG
	StartedAt    time.Time

	mu             sync.RWMutex
	state          State
	reports        []any
	debugIteration int
	retryCount     int
}

// New constructs a Planning task with a frozen mode snapshot (§9
// "Mode snapshot per task": a task captures the mode at start and
// reads all budgets from that snapshot).
func New(prompt string, m mode.Mode, profile mode.Profile) *Task {
	return &Task{
		ID:           uuid.NewString(),
		OriginalText: prompt,
		ModeSnapshot: m,
		Profile:      profile,
		DAG:          NewDAG(),
		StartedAt:    time.Now(),
		state:        Planning,
	}
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// AppendReport records an agent report for later memory extraction.
// Reports are append-only (§3).
func (t *Task) AppendReport(r any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reports = append(t.reports, r)
}

// Reports returns a copy of the accumulated agent reports.
func (t *Task) Reports() []any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]any, len(t.reports))
	copy(out, t.reports)
	return out
}

// IncrementDebugIteration advances the debug loop counter and reports
// whether the mode's cap is now exceeded (§4.4).
func (t *Task) IncrementDebugIteration() (iteration int, exceeded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.debugIteration++
	return t.debugIteration, t.debugIteration > t.Profile.DebugLoopCap
}

// DebugIteration returns the current debug-loop iteration count.
func (t *Task) DebugIteration() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.debugIteration
}

// IncrementRetry advances the Transport-error retry counter and
// reports whether the mode's retry cap is now exceeded (§7).
func (t *Task) IncrementRetry() (count int, exceeded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryCount++
	return t.retryCount, t.retryCount > t.Profile.RetryCap
}

// AppendPrompt folds a revised prompt into the task text after an
// approval-gate rejection with edit text (§4.4 approval gate).
func (t *Task) AppendPrompt(revision string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.OriginalText = t.OriginalText + "\n\n" + revision
}

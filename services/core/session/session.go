// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session holds the process-wide Session singleton: the
// repository root, branch, mode, and prompt history for one
// interactive run of the agent runtime core.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aleutian-labs/locusagent/services/core/mode"
)

// Mode re-exports mode.Mode so callers rarely need to import the mode
// package directly just to read a session's active mode.
type Mode = mode.Mode

// LanguageInfo describes the detected primary language and test
// framework of the repository, used by TestAgent and RepoAgent.
type LanguageInfo struct {
	Language      string
	TestFramework string
	TestCommand   string
}

// PromptEntry is one user prompt recorded in session history.
type PromptEntry struct {
	Text      string
	TaskID    string
	Timestamp time.Time
}

// Session is the process-wide singleton for one interactive run.
// Created at startup, mutated by the orchestrator, destroyed on
// graceful shutdown. It is read-only to agents (§5 Shared resources).
type Session struct {
	mu sync.RWMutex

	id           string
	repoRoot     string
	branch       string
	workDir      string
	language     LanguageInfo
	activeMode   mode.Mode
	history      []PromptEntry
	createdAt    time.Time
}

// Options configures New.
type Options struct {
	RepoRoot string
	Branch   string
	WorkDir  string
	Language LanguageInfo
	Mode     mode.Mode
}

// New constructs a Session. RepoRoot must be an absolute path that was
// already verified (by the caller, i.e. the CLI boundary or
// orchestrator bootstrap) to contain a version-control marker;
// repo-root detection itself is outside this package's responsibility.
func New(opts Options) (*Session, error) {
	if opts.RepoRoot == "" {
		return nil, fmt.Errorf("session: repo root is required")
	}
	if opts.WorkDir == "" {
		opts.WorkDir = opts.RepoRoot
	}
	return &Session{
		id:         uuid.NewString(),
		repoRoot:   opts.RepoRoot,
		branch:     opts.Branch,
		workDir:    opts.WorkDir,
		language:   opts.Language,
		activeMode: opts.Mode,
		createdAt:  time.Now(),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// RepoRoot returns the repository root absolute path.
func (s *Session) RepoRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repoRoot
}

// Branch returns the current branch name.
func (s *Session) Branch() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.branch
}

// SetBranch updates the recorded branch, e.g. after CommitAgent moves
// HEAD. Only the orchestrator calls this.
func (s *Session) SetBranch(branch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branch = branch
}

// WorkDir returns the working directory tool invocations default to.
func (s *Session) WorkDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workDir
}

// Language returns the detected language/test-framework metadata.
func (s *Session) Language() LanguageInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

// SetLanguage records detected language metadata, typically populated
// once by RepoAgent on the first task of a session.
func (s *Session) SetLanguage(info LanguageInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = info
}

// ActiveMode returns the mode the controller currently holds. Tasks
// snapshot this at creation (see taskdag.Task.Mode) and must not read
// it again mid-task (§4.8, §9 "Mode snapshot per task").
func (s *Session) ActiveMode() mode.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeMode
}

// SetActiveMode is called only by the mode controller on ModeChanged.
func (s *Session) SetActiveMode(m mode.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeMode = m
}

// RecordPrompt appends a prompt to session history.
func (s *Session) RecordPrompt(text, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, PromptEntry{Text: text, TaskID: taskID, Timestamp: time.Now()})
}

// History returns a copy of the recorded prompt history.
func (s *Session) History() []PromptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PromptEntry, len(s.history))
	copy(out, s.history)
	return out
}

// CreatedAt returns session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

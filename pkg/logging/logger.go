// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for locusagent components.
//
// The default destination is stderr, so nothing written by the core
// pollutes standard output when a terminal UI is attached and reading
// stdout as a clean rendering surface. File logging is optional and
// additive.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Level mirrors slog.Level with locus-local constant names so call
// sites don't need to import log/slog directly.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum level emitted.
	Level Level

	// LogDir, if non-empty, enables file logging alongside stderr.
	// Supports "~" expansion.
	LogDir string

	// Service names the emitting component (e.g. "scheduler", "toolbus").
	Service string
}

// Logger wraps slog.Logger with an optional file sink that must be
// closed by the owner.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Default returns a stderr-only logger at info level.
func Default() *Logger {
	l, _ := New(Config{Level: LevelInfo, Service: "locusagent"})
	return l
}

// New builds a Logger per cfg. The returned Logger must be Close'd if
// cfg.LogDir is set.
func New(cfg Config) (*Logger, error) {
	if cfg.Service == "" {
		cfg.Service = "locusagent"
	}

	writers := []io.Writer{os.Stderr}

	var file *os.File
	if cfg.LogDir != "" {
		dir := expandHome(cfg.LogDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		path := filepath.Join(dir, cfg.Service+".log")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		file = f
		writers = append(writers, f)
	}

	w := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if file == nil && isatty.IsTerminal(os.Stderr.Fd()) {
		// An interactive stderr gets a human-readable handler; a file
		// sink or a redirected/piped stderr always gets JSON, since
		// both are read by a parser (tail -f | jq, a log shipper)
		// rather than a person watching the task run.
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With("service", cfg.Service)

	return &Logger{Logger: logger, file: file}, nil
}

// With returns a derived Logger carrying additional attributes,
// preserving the file handle ownership of the parent.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), file: l.file}
}

// WithTask returns a derived Logger tagged with a task id, the
// attribute threaded through orchestrator/scheduler/agent logs.
func (l *Logger) WithTask(taskID string) *Logger {
	return l.With("task_id", taskID)
}

// Close flushes and closes the file sink, if any. Safe to call on a
// stderr-only Logger (no-op).
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

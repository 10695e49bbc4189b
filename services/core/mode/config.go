// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mode

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Profile is one mode's complete resource budget.
type Profile struct {
	// Concurrency is the scheduler's worker-pool cap (§4.3).
	Concurrency int `yaml:"concurrency" validate:"required,min=1,max=64"`

	// NodeTimeout is the per-agent wall-clock ceiling (§4.3).
	NodeTimeout time.Duration `yaml:"node_timeout" validate:"required"`

	// RunCmdTimeout is the default run_cmd ceiling, overridable up to
	// this value per call (§4.2).
	RunCmdTimeout time.Duration `yaml:"run_cmd_timeout" validate:"required"`

	// DebugLoopCap is the maximum Debug->Test iterations (§4.4).
	DebugLoopCap int `yaml:"debug_loop_cap" validate:"min=0"`

	// RetryCap bounds Transport-error retries (§7).
	RetryCap int `yaml:"retry_cap" validate:"min=0"`

	// MemoryItemCap and MemoryTokenCap bound the injected bundle (§4.7).
	MemoryItemCap  int `yaml:"memory_item_cap" validate:"required,min=1"`
	MemoryTokenCap int `yaml:"memory_token_cap" validate:"required,min=1"`

	// IncludeSearchAgent and IncludeDeepRecall gate which context
	// agents the orchestrator fans out to (§4.4: "Rush omits Search
	// and deep-memory recall").
	IncludeSearchAgent bool `yaml:"include_search_agent"`
	IncludeDeepRecall  bool `yaml:"include_deep_recall"`

	// RequestsPerSecond rate-limits LLM oracle and run_cmd calls for
	// this mode (enrichment, golang.org/x/time/rate).
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"required,gt=0"`
}

// UnmarshalYAML lets locus.yaml spell durations the human-friendly way
// ("45s", "2m") instead of raw nanosecond integers.
func (p *Profile) UnmarshalYAML(unmarshal func(any) error) error {
	type alias struct {
		Concurrency        int     `yaml:"concurrency"`
		NodeTimeout        string  `yaml:"node_timeout"`
		RunCmdTimeout      string  `yaml:"run_cmd_timeout"`
		DebugLoopCap       int     `yaml:"debug_loop_cap"`
		RetryCap           int     `yaml:"retry_cap"`
		MemoryItemCap      int     `yaml:"memory_item_cap"`
		MemoryTokenCap     int     `yaml:"memory_token_cap"`
		IncludeSearchAgent bool    `yaml:"include_search_agent"`
		IncludeDeepRecall  bool    `yaml:"include_deep_recall"`
		RequestsPerSecond  float64 `yaml:"requests_per_second"`
	}
	var a alias
	if err := unmarshal(&a); err != nil {
		return err
	}

	p.Concurrency = a.Concurrency
	p.DebugLoopCap = a.DebugLoopCap
	p.RetryCap = a.RetryCap
	p.MemoryItemCap = a.MemoryItemCap
	p.MemoryTokenCap = a.MemoryTokenCap
	p.IncludeSearchAgent = a.IncludeSearchAgent
	p.IncludeDeepRecall = a.IncludeDeepRecall
	p.RequestsPerSecond = a.RequestsPerSecond

	if a.NodeTimeout != "" {
		d, err := time.ParseDuration(a.NodeTimeout)
		if err != nil {
			return fmt.Errorf("mode: node_timeout: %w", err)
		}
		p.NodeTimeout = d
	}
	if a.RunCmdTimeout != "" {
		d, err := time.ParseDuration(a.RunCmdTimeout)
		if err != nil {
			return fmt.Errorf("mode: run_cmd_timeout: %w", err)
		}
		p.RunCmdTimeout = d
	}
	return nil
}

// Table maps each Mode to its Profile.
type Table map[Mode]Profile

// Default returns the built-in mode table matching spec §4.3/§4.4/§4.7
// exactly: Rush=2 workers/30s/0 debug iterations, Smart=4/120s/3,
// Deep=6/300s/5.
func Default() Table {
	return Table{
		Rush: {
			Concurrency:        2,
			NodeTimeout:        30 * time.Second,
			RunCmdTimeout:      60 * time.Second,
			DebugLoopCap:       0,
			RetryCap:           1,
			MemoryItemCap:      5,
			MemoryTokenCap:     500,
			IncludeSearchAgent: false,
			IncludeDeepRecall:  false,
			RequestsPerSecond:  4,
		},
		Smart: {
			Concurrency:        4,
			NodeTimeout:        120 * time.Second,
			RunCmdTimeout:      60 * time.Second,
			DebugLoopCap:       3,
			RetryCap:           3,
			MemoryItemCap:      10,
			MemoryTokenCap:     2000,
			IncludeSearchAgent: true,
			IncludeDeepRecall:  true,
			RequestsPerSecond:  8,
		},
		Deep: {
			Concurrency:        6,
			NodeTimeout:        300 * time.Second,
			RunCmdTimeout:      60 * time.Second,
			DebugLoopCap:       5,
			RetryCap:           5,
			MemoryItemCap:      20,
			MemoryTokenCap:     5000,
			IncludeSearchAgent: true,
			IncludeDeepRecall:  true,
			RequestsPerSecond:  12,
		},
	}
}

// LoadOverride reads a locus.yaml from path (if it exists) and merges
// per-mode field overrides onto base, validating the result. A missing
// file is not an error — base is returned unmodified.
func LoadOverride(path string, base Table) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, fmt.Errorf("mode: read %s: %w", path, err)
	}

	var overrides map[Mode]Profile
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("mode: parse %s: %w", path, err)
	}

	merged := make(Table, len(base))
	for m, p := range base {
		merged[m] = p
	}
	for m, p := range overrides {
		if !m.Valid() {
			return nil, fmt.Errorf("mode: %s: unknown mode %q", path, m)
		}
		merged[m] = p
	}

	v := validator.New()
	for m, p := range merged {
		if err := v.Struct(p); err != nil {
			return nil, fmt.Errorf("mode: invalid profile for %s: %w", m, err)
		}
	}
	return merged, nil
}

// Get returns the Profile for m, or an error if m is not in the table
// (should not happen for a Valid mode built from Default/LoadOverride).
func (t Table) Get(m Mode) (Profile, error) {
	p, ok := t[m]
	if !ok {
		return Profile{}, fmt.Errorf("mode: no profile for %q", m)
	}
	return p, nil
}

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
	"sync"

	"github.com/aleutian-labs/locusagent/services/core/eventbus"
	"golang.org/x/time/rate"
)

// Controller holds the current mode and publishes ModeChanged on
// transitions (§4.8). Every component reads the mode at the start of
// each task via Current, never mid-task.
type Controller struct {
	mu      sync.RWMutex
	current Mode
	table   Table
	bus     *eventbus.Bus

	limiters map[Mode]*rate.Limiter
}

// NewController constructs a Controller starting in initial mode,
// publishing events on bus (may be nil for tests).
func NewController(initial Mode, table Table, bus *eventbus.Bus) (*Controller, error) {
	if !initial.Valid() {
		return nil, fmt.Errorf("mode: invalid initial mode %q", initial)
	}
	limiters := make(map[Mode]*rate.Limiter, len(table))
	for m, p := range table {
		limiters[m] = rate.NewLimiter(rate.Limit(p.RequestsPerSecond), 1)
	}
	return &Controller{current: initial, table: table, bus: bus, limiters: limiters}, nil
}

// Current returns the active mode.
func (c *Controller) Current() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Profile returns the Profile for the currently active mode.
func (c *Controller) Profile() Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table[c.current]
}

// ProfileFor returns the Profile for an explicit mode, independent of
// the controller's current mode — used by a task holding its own mode
// snapshot (§9 "Mode snapshot per task").
func (c *Controller) ProfileFor(m Mode) (Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table.Get(m)
}

// Limiter returns the rate limiter for m, reparameterized whenever the
// table changes mode.
func (c *Controller) Limiter(m Mode) *rate.Limiter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limiters[m]
}

// SetMode transitions the controller to next, publishing ModeChanged.
// Only the mode controller mutates mode (§3); callers are the CLI
// bootstrap or an explicit in-session mode command.
func (c *Controller) SetMode(next Mode) error {
	if !next.Valid() {
		return fmt.Errorf("mode: invalid mode %q", next)
	}
	c.mu.Lock()
	prev := c.current
	c.current = next
	c.mu.Unlock()

	if c.bus != nil && prev != next {
		c.bus.Publish(eventbus.Event{
			Type: eventbus.ModeChanged,
			Data: eventbus.ModeChangedData{From: string(prev), To: string(next)},
		})
	}
	return nil
}

// Resolve applies the fallback policy (§4.8) when m is unavailable
// (e.g. the model backend for m cannot be reached) and returns the
// mode a task should actually run with. ok is false when m has no
// fallback and the caller must surface an error instead of silently
// downgrading (Deep: no silent downgrade; Rush: no lower tier).
func (c *Controller) Resolve(m Mode, available func(Mode) bool) (resolved Mode, warning string, err error) {
	if available(m) {
		return m, "", nil
	}
	fallback, ok := m.Fallback()
	if !ok {
		return "", "", fmt.Errorf("mode: %s is unavailable and has no fallback", m)
	}
	if !available(fallback) {
		return "", "", fmt.Errorf("mode: %s is unavailable and fallback %s is also unavailable", m, fallback)
	}
	return fallback, fmt.Sprintf("mode %s unavailable, falling back to %s", m, fallback), nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import "sync/atomic"

// WriteLease is the exclusive lock named in §5 Shared resources: while
// held, ToolBus rejects every non-read tool call with
// ErrBusyApplying, so no agent can mutate the working tree out from
// under an in-flight atomic apply. Grounded on lock/errors.go's
// FileLockError/ErrFileLocked pair, generalized from a per-file lock
// to the single process-wide write lease the patch pipeline needs.
type WriteLease struct {
	held atomic.Bool
}

// NewWriteLease returns an unheld lease.
func NewWriteLease() *WriteLease {
	return &WriteLease{}
}

// Acquire takes the lease, returning false if it was already held.
func (l *WriteLease) Acquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release drops the lease.
func (l *WriteLease) Release() {
	l.held.Store(false)
}

// Held reports whether the lease is currently held, satisfying
// toolbus.WriteLeaseChecker.
func (l *WriteLease) Held() bool {
	return l.held.Load()
}

// WithLease acquires the lease, runs fn, and always releases it
// afterward. Returns an error if the lease was already held.
func (l *WriteLease) WithLease(fn func() error) error {
	if !l.Acquire() {
		return ErrBusyApplying
	}
	defer l.Release()
	return fn()
}

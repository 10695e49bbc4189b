// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mode implements the Mode Controller: the tagged enum
// {Rush, Smart, Deep} and the configuration table every other
// component reads once per task (§4.8).
package mode

import "fmt"

// Mode is a tagged budget profile.
type Mode string

const (
	Rush  Mode = "rush"
	Smart Mode = "smart"
	Deep  Mode = "deep"
)

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	switch m {
	case Rush, Smart, Deep:
		return true
	default:
		return false
	}
}

// Parse converts a CLI-style mode string into a Mode.
func Parse(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("mode: unknown mode %q (want rush|smart|deep)", s)
	}
	return m, nil
}

// Fallback returns the mode to use when m is unavailable (e.g. the
// model backend for Deep cannot be reached), per the fallback policy
// in §4.8: Deep does not silently downgrade (returns m, false — the
// caller must surface an error); Smart falls back to Rush with a
// warning; Rush has no lower tier (returns m, false).
func (m Mode) Fallback() (next Mode, ok bool) {
	switch m {
	case Smart:
		return Rush, true
	default:
		return m, false
	}
}

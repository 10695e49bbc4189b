// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import "regexp"

// Redacted is substituted for any detected secret span (§4.2, §8).
const Redacted = "[REDACTED]"

// secretPatterns is the credential-shape detector's pattern table:
// common key prefixes, base64 blobs above a size threshold, PEM
// private-key armor, and connection strings carrying a password.
// Per Open Question (b), this is deliberately an explicit, auditable
// table rather than a single do-everything heuristic. Grounded on the
// zero-value-logging / fail-secure design documented in
// cmd/aleutian/secrets_manager.go.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{30,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----[\s\S]+?-----END (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
	regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.-]*://[^\s:/]+:[^\s@/]+@[^\s/]+`), // conn string w/ embedded password
	regexp.MustCompile(`\b[A-Za-z0-9+/]{80,}={0,2}\b`),                       // oversized base64 blob
}

// Detector scans text for credential shapes.
type Detector struct {
	patterns []*regexp.Regexp
}

// NewDetector returns a Detector using the default pattern table.
func NewDetector() *Detector {
	return &Detector{patterns: secretPatterns}
}

// Scan reports whether any secret-shaped span was found in text.
func (d *Detector) Scan(text string) bool {
	for _, p := range d.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Redact replaces every detected secret-shaped span in text with
// Redacted, for use before text reaches an event or a stored memory
// (§4.2, §8: "S does not appear ... in any event, any stored memory,
// or any applied file").
func (d *Detector) Redact(text string) string {
	out := text
	for _, p := range d.patterns {
		out = p.ReplaceAllString(out, Redacted)
	}
	return out
}

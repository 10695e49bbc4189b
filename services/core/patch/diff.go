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

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"
)

// contextLines is the unified diff context width named in §4.4.
const contextLines = 3

// HashContent returns the baseline hash recorded against a FileDiff,
// used later to detect staleness (§4.4).
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// GenerateFileDiff builds a FileDiff for one file transition, its
// hunks split out of the unified diff text difflib produces so each
// can carry its own review state. Pass oldContent as empty for a new
// file and newContent as empty for a deletion.
func GenerateFileDiff(path string, oldContent, newContent []byte) (FileDiff, error) {
	fd := FileDiff{
		Path:         path,
		BaselineHash: HashContent(oldContent),
		IsNew:        len(oldContent) == 0 && len(newContent) > 0,
		IsDeleted:    len(oldContent) > 0 && len(newContent) == 0,
	}

	unified := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldContent)),
		B:        difflib.SplitLines(string(newContent)),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  contextLines,
	}
	text, err := difflib.GetUnifiedDiffString(unified)
	if err != nil {
		return fd, fmt.Errorf("patch: generate diff for %s: %w", path, err)
	}
	if strings.TrimSpace(text) == "" {
		return fd, nil
	}

	fileDiff, err := godiff.ParseFileDiff([]byte(text))
	if err != nil {
		return fd, fmt.Errorf("patch: parse hunks for %s: %w", path, err)
	}

	for i, h := range fileDiff.Hunks {
		rendered, err := godiff.PrintHunks([]*godiff.Hunk{h})
		if err != nil {
			return fd, fmt.Errorf("patch: render hunk %d for %s: %w", i, path, err)
		}
		fd.Hunks = append(fd.Hunks, Hunk{
			Index: i,
			Text:  string(rendered),
			State: HunkPending,
		})
	}
	return fd, nil
}

// RenderUnified reassembles a FileDiff's hunks into a single unified
// diff document with the standard `--- a/path` / `+++ b/path` header,
// for display in the UI's diff review surface.
func RenderUnified(fd FileDiff) string {
	oldPath := fd.Path
	if fd.OldPath != "" {
		oldPath = fd.OldPath
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n", oldPath)
	fmt.Fprintf(&b, "+++ b/%s\n", fd.Path)
	for _, h := range fd.Hunks {
		b.WriteString(h.Text)
	}
	return b.String()
}

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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/aleutian-labs/locusagent/services/core/sandbox"
)

// MaxFileSize bounds a single applied file's new content (§4.5 "size
// limits are enforced"), matching sandbox's own per-process file-size
// ceiling (ResourceLimits.FileSizeBytes) so a patch cannot write
// something a sandboxed command would itself be blocked from
// producing.
const MaxFileSize = 50 * 1024 * 1024

// contentDetector re-scans proposed content for credential shapes
// before it is allowed to land on disk (§4.2 "secret-bearing patches
// are blocked", §8 "S does not appear ... in any applied file").
var contentDetector = sandbox.NewDetector()

// AppliedFile is produced for each file GenerateFileDiff's apply
// touched, carrying what it needs to reverse the change.
type AppliedFile struct {
	Path         string
	PriorContent []byte
	PriorExisted bool
	NewContent   []byte
}

// Result reports what Apply did.
type Result struct {
	Applied []AppliedFile
}

// Apply writes every file in files to repoRoot atomically: each file's
// new content is written to a temp sibling, fsynced, then every file
// is renamed into place in a fixed sorted order. If any step fails,
// every already-renamed file is reverted before the error is returned
// (§4.4: "either every file in the diff set lands, or none do").
//
// newContents must hold the full post-apply content for each
// FileDiff's path; the patch pipeline computes that by applying the
// approved hunks to the baseline read at diff-generation time.
func Apply(repoRoot string, files []FileDiff, newContents map[string][]byte) (Result, error) {
	if len(files) == 0 {
		return Result{}, ErrEmptyDiffSet
	}

	paths := make([]string, 0, len(files))
	byPath := make(map[string]FileDiff, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
		byPath[f.Path] = f
	}
	sort.Strings(paths)

	if err := verifyBaselines(repoRoot, byPath); err != nil {
		return Result{}, err
	}
	if err := validateContents(byPath, newContents); err != nil {
		return Result{}, err
	}

	type staged struct {
		finalPath string
		tempPath  string
	}
	var stagedFiles []staged
	var applied []AppliedFile

	rollback := func() {
		for _, a := range applied {
			if a.PriorExisted {
				_ = os.WriteFile(a.Path, a.PriorContent, 0o644)
			} else {
				_ = os.Remove(a.Path)
			}
		}
		for _, s := range stagedFiles {
			_ = os.Remove(s.tempPath)
		}
	}

	for _, p := range paths {
		fd := byPath[p]
		finalPath := filepath.Join(repoRoot, p)
		newContent := newContents[p]

		var prior []byte
		existed := false
		if data, err := os.ReadFile(finalPath); err == nil {
			prior = data
			existed = true
		} else if !os.IsNotExist(err) {
			rollback()
			return Result{}, fmt.Errorf("patch: read %s: %w", p, err)
		}

		if fd.IsDeleted {
			stagedFiles = append(stagedFiles, staged{finalPath: finalPath})
			continue
		}

		if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
			rollback()
			return Result{}, fmt.Errorf("patch: mkdir for %s: %w", p, err)
		}

		tempPath := finalPath + ".locusagent-tmp"
		f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			rollback()
			return Result{}, fmt.Errorf("%w: open temp for %s: %v", ErrApplyFailed, p, err)
		}
		if _, err := f.Write(newContent); err != nil {
			f.Close()
			os.Remove(tempPath)
			rollback()
			return Result{}, fmt.Errorf("%w: write temp for %s: %v", ErrApplyFailed, p, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tempPath)
			rollback()
			return Result{}, fmt.Errorf("%w: fsync temp for %s: %v", ErrApplyFailed, p, err)
		}
		f.Close()

		stagedFiles = append(stagedFiles, staged{finalPath: finalPath, tempPath: tempPath})
		applied = append(applied, AppliedFile{Path: finalPath, PriorContent: prior, PriorExisted: existed, NewContent: newContent})
	}

	for _, s := range stagedFiles {
		if s.tempPath == "" {
			// deletion
			if err := os.Remove(s.finalPath); err != nil && !os.IsNotExist(err) {
				rollback()
				return Result{}, fmt.Errorf("%w: remove %s: %v", ErrApplyFailed, s.finalPath, err)
			}
			continue
		}
		if err := os.Rename(s.tempPath, s.finalPath); err != nil {
			rollback()
			return Result{}, fmt.Errorf("%w: rename into place for %s: %v", ErrApplyFailed, s.finalPath, err)
		}
	}

	return Result{Applied: applied}, nil
}

// Rollback reverses a prior successful Apply, used for explicit
// rollback (distinct from the automatic mid-apply rollback Apply
// itself performs on failure).
func Rollback(result Result) error {
	for _, a := range result.Applied {
		if a.PriorExisted {
			if err := os.WriteFile(a.Path, a.PriorContent, 0o644); err != nil {
				return fmt.Errorf("patch: rollback write %s: %w", a.Path, err)
			}
		} else {
			if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("patch: rollback remove %s: %w", a.Path, err)
			}
		}
	}
	return nil
}

// validateContents runs §4.5's three remaining pre-apply checks against
// every non-deleted file's proposed new content: UTF-8 validity, a
// secret-detector re-scan, and the per-file size limit. Binary files
// have no route through this pipeline yet (§4.5 notes they need a
// separate raw-bytes path), so invalid UTF-8 is always rejected here
// rather than routed around.
func validateContents(byPath map[string]FileDiff, newContents map[string][]byte) error {
	for p, fd := range byPath {
		if fd.IsDeleted {
			continue
		}
		content := newContents[p]
		if !utf8.Valid(content) {
			return fmt.Errorf("%w: %s", ErrInvalidUTF8, p)
		}
		if len(content) > MaxFileSize {
			return fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, p, len(content))
		}
		if contentDetector.Scan(string(content)) {
			return fmt.Errorf("%w: %s", ErrSecretDetected, p)
		}
	}
	return nil
}

// verifyBaselines re-hashes every file's on-disk content against the
// hash recorded at diff-generation time (§4.4 staleness detection).
func verifyBaselines(repoRoot string, byPath map[string]FileDiff) error {
	for p, fd := range byPath {
		finalPath := filepath.Join(repoRoot, p)
		data, err := os.ReadFile(finalPath)
		if err != nil {
			if os.IsNotExist(err) && fd.IsNew {
				continue
			}
			return fmt.Errorf("patch: read baseline for %s: %w", p, err)
		}
		if HashContent(data) != fd.BaselineHash {
			return fmt.Errorf("%w: %s", ErrStaleBaseline, p)
		}
	}
	return nil
}

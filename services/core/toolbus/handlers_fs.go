// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolbus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aleutian-labs/locusagent/services/core/sandbox"
)

// FileReadHandler implements the file_read tool (§4.2 tool
// catalogue).
type FileReadHandler struct {
	Gate *sandbox.Gate
}

func (h *FileReadHandler) Name() string             { return "file_read" }
func (h *FileReadHandler) Capability() Capability    { return CapRead }

func (h *FileReadHandler) Call(_ context.Context, args map[string]any) (map[string]any, error) {
	path, ok := args["path"].(string)
	if !ok {
		return nil, fmt.Errorf("file_read: missing path")
	}
	resolved, err := h.Gate.CheckPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}
	content := string(data)
	if h.Gate.ScanForSecrets(content) {
		content = h.Gate.Redact(content)
	}
	return map[string]any{"content": content, "bytes": len(data)}, nil
}

// FileWriteHandler implements the file_write tool. PatchAgent does
// not call this directly (§4.6: "produces no direct writes") — it is
// used by agents that create scratch/test artifacts outside the diff
// pipeline, e.g. TestAgent writing a fixture.
type FileWriteHandler struct {
	Gate *sandbox.Gate
}

func (h *FileWriteHandler) Name() string          { return "file_write" }
func (h *FileWriteHandler) Capability() Capability { return CapWrite }

func (h *FileWriteHandler) Call(_ context.Context, args map[string]any) (map[string]any, error) {
	path, ok := args["path"].(string)
	if !ok {
		return nil, fmt.Errorf("file_write: missing path")
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, fmt.Errorf("file_write: missing content")
	}
	resolved, err := h.Gate.CheckPath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return map[string]any{"bytes_written": len(content)}, nil
}

// GrepHandler implements the grep tool: a bounded regex search across
// the files under a path root.
type GrepHandler struct {
	Gate *sandbox.Gate
}

func (h *GrepHandler) Name() string          { return "grep" }
func (h *GrepHandler) Capability() Capability { return CapRead }

func (h *GrepHandler) Call(_ context.Context, args map[string]any) (map[string]any, error) {
	pattern, ok := args["pattern"].(string)
	if !ok {
		return nil, fmt.Errorf("grep: missing pattern")
	}
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	resolved, err := h.Gate.CheckPath(path)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("grep: invalid pattern: %w", err)
	}

	const maxMatches = 500
	var matches []string
	err = filepath.WalkDir(resolved, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxMatches {
			return filepath.SkipAll
		}
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", p, i+1, line))
				if len(matches) >= maxMatches {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"matches": matches, "truncated": len(matches) >= maxMatches}, nil
}

// GlobHandler implements the glob tool: filename pattern matching
// rooted at a sandboxed path.
type GlobHandler struct {
	Gate *sandbox.Gate
}

func (h *GlobHandler) Name() string          { return "glob" }
func (h *GlobHandler) Capability() Capability { return CapRead }

func (h *GlobHandler) Call(_ context.Context, args map[string]any) (map[string]any, error) {
	pattern, ok := args["pattern"].(string)
	if !ok {
		return nil, fmt.Errorf("glob: missing pattern")
	}
	root, _ := args["path"].(string)
	if root == "" {
		root = "."
	}
	resolved, err := h.Gate.CheckPath(root)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(resolved, pattern))
	if err != nil {
		return nil, err
	}
	return map[string]any{"paths": matches}, nil
}

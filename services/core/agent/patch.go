// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aleutian-labs/locusagent/services/core/llm"
	"github.com/aleutian-labs/locusagent/services/core/patch"
	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

// PatchAgent proposes file content changes for the task. It reads the
// current content of every file it touches through ToolBus but
// produces no direct writes of its own (§4.6) — its output is a
// patch.DiffSet the orchestrator routes through review and Apply.
type PatchAgent struct {
	deps Deps
}

// NewPatchAgent builds a PatchAgent.
func NewPatchAgent(deps Deps) *PatchAgent { return &PatchAgent{deps: deps} }

func (a *PatchAgent) Kind() taskdag.AgentKind { return taskdag.KindPatch }

// EditProposal is one file the oracle decided to change.
type EditProposal struct {
	Path       string
	NewContent string
}

// Proposal is PatchAgent's report detail: the reviewable DiffSet plus
// the full post-apply content per path, since a DiffSet only carries
// unified-diff hunk text and the orchestrator's Apply call needs whole
// file contents to write.
type Proposal struct {
	DiffSet     patch.DiffSet
	NewContents map[string][]byte
}

// FilePaths satisfies the fileLister interface CommitAgent uses to
// find what to stage.
func (p Proposal) FilePaths() []string { return p.DiffSet.FilePaths() }

func (a *PatchAgent) Run(ctx context.Context, in Input) (Report, error) {
	var proposals []EditProposal

	err := runBoundedLoop(ctx, in.Profile, func(ctx context.Context, iteration int) (bool, error) {
		resp, err := a.deps.Oracle.Complete(ctx, []llm.Message{
			{Role: "system", Content: "You propose file edits for a coding task. For each file to change, respond with a block:\n### path/to/file\n<full new file content>\nEmit one block per file, nothing else."},
			{Role: "user", Content: in.Prompt},
		}, llm.GenerationParams{})
		if err != nil {
			return false, fmt.Errorf("patch: oracle: %w", err)
		}
		proposals = parseEditBlocks(resp.Content)
		return true, nil
	})
	if err != nil {
		return Report{}, err
	}

	diffSet := patch.DiffSet{ID: uuid.NewString(), TaskID: in.TaskID}
	newContents := make(map[string][]byte, len(proposals))
	for _, p := range proposals {
		readRes, err := a.deps.Tools.Call(ctx, in.AgentID, "file_read", map[string]any{"path": p.Path})
		var oldContent []byte
		if err == nil {
			if content, ok := readRes.Result["content"].(string); ok {
				oldContent = []byte(content)
			}
		}
		fd, err := patch.GenerateFileDiff(p.Path, oldContent, []byte(p.NewContent))
		if err != nil {
			return Report{}, fmt.Errorf("patch: generate diff for %s: %w", p.Path, err)
		}
		diffSet.Files = append(diffSet.Files, fd)
		newContents[p.Path] = []byte(p.NewContent)
	}

	if len(diffSet.Files) == 0 {
		return Report{}, patch.ErrEmptyDiffSet
	}

	return Report{
		Summary: fmt.Sprintf("proposed changes to %d file(s)", len(diffSet.Files)),
		Detail:  Proposal{DiffSet: diffSet, NewContents: newContents},
	}, nil
}

// parseEditBlocks splits the oracle's "### path\ncontent" convention
// into EditProposals.
func parseEditBlocks(text string) []EditProposal {
	var proposals []EditProposal
	lines := strings.Split(text, "\n")
	var path string
	var content []string

	flush := func() {
		if path != "" {
			proposals = append(proposals, EditProposal{Path: path, NewContent: strings.Join(content, "\n")})
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "### ") {
			flush()
			path = strings.TrimSpace(strings.TrimPrefix(line, "### "))
			content = nil
			continue
		}
		if path != "" {
			content = append(content, line)
		}
	}
	flush()
	return proposals
}

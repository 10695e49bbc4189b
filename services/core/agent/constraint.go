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

	"github.com/aleutian-labs/locusagent/services/core/llm"
	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

// ConstraintAgent checks a proposed diff against recalled
// constraints/conventions before it reaches review (Priority Low —
// it runs once PatchAgent has produced something to check, §4.6). It
// is PatchAgent's dependent, not its sibling: its input is the diff
// set PatchAgent proposed, reached through in.Dependencies, plus the
// constraint memories already carried in the bundle.
type ConstraintAgent struct {
	deps Deps
}

// NewConstraintAgent builds a ConstraintAgent.
func NewConstraintAgent(deps Deps) *ConstraintAgent { return &ConstraintAgent{deps: deps} }

func (a *ConstraintAgent) Kind() taskdag.AgentKind { return taskdag.KindConstraint }

// Severity distinguishes a violation that must block approval from
// one that merely annotates it (§4.6: "Violations of error severity
// block AwaitingApproval; warning severity annotates but does not
// block").
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Violation is one constraint breach the oracle reported.
type Violation struct {
	Text     string
	Severity Severity
}

// Verdict is ConstraintAgent's structured report detail.
type Verdict struct {
	Violations []Violation
	Clean      bool
}

// Blocking reports whether verdict carries any error-severity
// violation, the condition the orchestrator gates AwaitingApproval on.
func (v Verdict) Blocking() bool {
	for _, viol := range v.Violations {
		if viol.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (a *ConstraintAgent) Run(ctx context.Context, in Input) (Report, error) {
	var constraintText string
	for _, e := range in.Bundle.Events {
		if e.EventKind == "constraint" {
			constraintText += e.Payload + "\n"
		}
	}

	if constraintText == "" {
		return Report{Summary: "no recalled constraints to check", Detail: Verdict{Clean: true}}, nil
	}

	diff, ok := proposalDiffText(in.Dependencies)
	if !ok {
		return Report{}, fmt.Errorf("constraint: no proposed diff among dependencies")
	}

	var verdict Verdict
	err := runBoundedLoop(ctx, in.Profile, func(ctx context.Context, iteration int) (bool, error) {
		resp, err := a.deps.Oracle.Complete(ctx, []llm.Message{
			{Role: "system", Content: "You check whether a proposed diff violates any of the listed project constraints. For each violation respond with one line prefixed ERROR: for a violation that must block the change, or WARNING: for one that should only be noted. Respond CLEAN if none."},
			{Role: "user", Content: fmt.Sprintf("Constraints:\n%s\nProposed diff:\n%s", constraintText, diff)},
		}, llm.GenerationParams{})
		if err != nil {
			return false, fmt.Errorf("constraint: oracle: %w", err)
		}
		verdict = parseVerdict(resp.Content)
		return true, nil
	})
	if err != nil {
		return Report{}, err
	}

	summary := "no constraint violations found"
	if !verdict.Clean {
		summary = fmt.Sprintf("%d constraint violation(s) found", len(verdict.Violations))
	}
	return Report{Summary: summary, Detail: verdict}, nil
}

// proposalDiffText looks through a node's dependency reports for a
// PatchAgent Proposal and flattens its hunks into one diff blob.
func proposalDiffText(deps map[string]taskdag.ResultEnvelope) (string, bool) {
	for _, dep := range deps {
		p, ok := dep.Report.(Proposal)
		if !ok {
			continue
		}
		var sb strings.Builder
		for _, fd := range p.DiffSet.Files {
			for _, h := range fd.Hunks {
				sb.WriteString(h.Text)
				sb.WriteString("\n")
			}
		}
		return sb.String(), true
	}
	return "", false
}

func parseVerdict(text string) Verdict {
	if strings.TrimSpace(text) == "CLEAN" {
		return Verdict{Clean: true}
	}
	var violations []Violation
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		sev := SeverityWarning
		switch {
		case strings.HasPrefix(trimmed, "ERROR:"):
			sev = SeverityError
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "ERROR:"))
		case strings.HasPrefix(trimmed, "WARNING:"):
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "WARNING:"))
		}
		violations = append(violations, Violation{Text: trimmed, Severity: sev})
	}
	if len(violations) == 0 {
		return Verdict{Clean: true}
	}
	return Verdict{Violations: violations}
}

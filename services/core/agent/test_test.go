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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

func TestTestAgent_Run_ReportsPassOnZeroExit(t *testing.T) {
	repo := newTestRepo(t)
	tools := newTestTools(t, repo)

	a := NewTestAgent(Deps{Tools: tools}, "echo all good")
	assert.Equal(t, taskdag.KindTest, a.Kind())

	report, err := a.Run(context.Background(), Input{AgentID: "agent-1", Profile: smartProfile()})
	require.NoError(t, err)

	summary := report.Detail.(Summary)
	assert.True(t, summary.Passed)
	assert.Equal(t, 0, summary.ExitCode)
	assert.Contains(t, summary.Stdout, "all good")
	assert.Contains(t, report.Summary, "passed")
}

func TestTestAgent_Run_ReportsFailureOnNonZeroExit(t *testing.T) {
	repo := newTestRepo(t)
	tools := newTestTools(t, repo)

	a := NewTestAgent(Deps{Tools: tools}, "false")
	report, err := a.Run(context.Background(), Input{AgentID: "agent-1", Profile: smartProfile()})
	require.NoError(t, err, "a failing test run is a reported result, not a Go error")

	summary := report.Detail.(Summary)
	assert.False(t, summary.Passed)
	assert.NotEqual(t, 0, summary.ExitCode)
	assert.Contains(t, report.Summary, "failed")
}

func TestFailureExcerpt_TrimsToLastNLines(t *testing.T) {
	text := "l1\nl2\nl3\nl4\nl5"
	assert.Equal(t, "l4\nl5", failureExcerpt(text, 2))
	assert.Equal(t, text, failureExcerpt(text, 10))
}

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

	"github.com/aleutian-labs/locusagent/services/core/llm"
	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

func TestRepoAgent_Run_SummarizesAndListsFiles(t *testing.T) {
	repo := newTestRepo(t)
	tools := newTestTools(t, repo)
	oracle := &llm.FakeOracle{Responses: []llm.Response{{Content: "this repo has a main package"}}}

	a := NewRepoAgent(Deps{Oracle: oracle, Tools: tools})
	assert.Equal(t, taskdag.KindRepo, a.Kind())

	report, err := a.Run(context.Background(), Input{Prompt: "describe the repo", AgentID: "agent-1", Profile: smartProfile()})
	require.NoError(t, err)
	assert.Equal(t, "this repo has a main package", report.Summary)

	paths, ok := report.Detail.([]string)
	require.True(t, ok)
	assert.NotEmpty(t, paths)

	require.Len(t, oracle.Requests, 1)
}

func TestRepoAgent_Run_OracleErrorPropagates(t *testing.T) {
	repo := newTestRepo(t)
	tools := newTestTools(t, repo)
	oracle := &llm.FakeOracle{Err: assert.AnError}

	a := NewRepoAgent(Deps{Oracle: oracle, Tools: tools})
	_, err := a.Run(context.Background(), Input{Prompt: "describe the repo", AgentID: "agent-1", Profile: smartProfile()})
	assert.Error(t, err)
}

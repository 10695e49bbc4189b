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

	"github.com/aleutian-labs/locusagent/services/core/memory"
	"github.com/aleutian-labs/locusagent/services/core/taskdag"
)

func TestMemoryRecallAgent_Run_FoldsBundleIntoReport(t *testing.T) {
	a := NewMemoryRecallAgent(Deps{})
	assert.Equal(t, taskdag.KindMemoryRecall, a.Kind())

	bundle := memory.Bundle{
		ContextID:  "ctx",
		Events:     []memory.Event{{Payload: "one"}, {Payload: "two"}},
		TokensUsed: 42,
	}

	report, err := a.Run(context.Background(), Input{Bundle: bundle})
	require.NoError(t, err)
	assert.Contains(t, report.Summary, "2 memory event")
	assert.Contains(t, report.Summary, "42 token")
	assert.Equal(t, bundle, report.Detail)
}

func TestMemoryRecallAgent_Run_MakesNoOracleCall(t *testing.T) {
	a := NewMemoryRecallAgent(Deps{})
	report, err := a.Run(context.Background(), Input{})
	require.NoError(t, err)
	assert.Contains(t, report.Summary, "0 memory event")
}

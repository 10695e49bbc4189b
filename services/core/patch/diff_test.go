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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashContent_IsStableAndSensitive(t *testing.T) {
	a := HashContent([]byte("hello"))
	b := HashContent([]byte("hello"))
	c := HashContent([]byte("hello!"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestGenerateFileDiff_ModifiedFileProducesHunks(t *testing.T) {
	old := []byte("line one\nline two\nline three\n")
	updated := []byte("line one\nline TWO\nline three\n")

	fd, err := GenerateFileDiff("pkg/file.go", old, updated)
	require.NoError(t, err)
	assert.Equal(t, "pkg/file.go", fd.Path)
	assert.Equal(t, HashContent(old), fd.BaselineHash)
	assert.False(t, fd.IsNew)
	assert.False(t, fd.IsDeleted)
	require.NotEmpty(t, fd.Hunks)
	assert.Equal(t, HunkPending, fd.Hunks[0].State)
}

func TestGenerateFileDiff_NewFile(t *testing.T) {
	fd, err := GenerateFileDiff("new.go", nil, []byte("package main\n"))
	require.NoError(t, err)
	assert.True(t, fd.IsNew)
	assert.False(t, fd.IsDeleted)
	assert.NotEmpty(t, fd.Hunks)
}

func TestGenerateFileDiff_DeletedFile(t *testing.T) {
	fd, err := GenerateFileDiff("old.go", []byte("package main\n"), nil)
	require.NoError(t, err)
	assert.False(t, fd.IsNew)
	assert.True(t, fd.IsDeleted)
}

func TestGenerateFileDiff_IdenticalContentHasNoHunks(t *testing.T) {
	content := []byte("unchanged\n")
	fd, err := GenerateFileDiff("same.go", content, content)
	require.NoError(t, err)
	assert.Empty(t, fd.Hunks)
}

func TestRenderUnified_IncludesHeadersAndHunkText(t *testing.T) {
	fd, err := GenerateFileDiff("a.go", []byte("one\ntwo\n"), []byte("one\nTWO\n"))
	require.NoError(t, err)

	rendered := RenderUnified(fd)
	assert.Contains(t, rendered, "--- a/a.go")
	assert.Contains(t, rendered, "+++ b/a.go")
	for _, h := range fd.Hunks {
		assert.Contains(t, rendered, h.Text)
	}
}

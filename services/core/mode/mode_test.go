// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	m, err := Parse("smart")
	require.NoError(t, err)
	assert.Equal(t, Smart, m)

	_, err = Parse("turbo")
	assert.Error(t, err)
}

func TestMode_Fallback(t *testing.T) {
	next, ok := Smart.Fallback()
	assert.True(t, ok)
	assert.Equal(t, Rush, next)

	_, ok = Deep.Fallback()
	assert.False(t, ok, "Deep must not silently downgrade")

	_, ok = Rush.Fallback()
	assert.False(t, ok, "Rush has no lower tier")
}

func TestMode_Valid(t *testing.T) {
	assert.True(t, Rush.Valid())
	assert.True(t, Smart.Valid())
	assert.True(t, Deep.Valid())
	assert.False(t, Mode("turbo").Valid())
}

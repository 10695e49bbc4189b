// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/locusagent/services/core/eventbus"
	"github.com/aleutian-labs/locusagent/services/core/mode"
)

type stubRemote struct {
	events      []Event
	queryFn     func(ctx context.Context, contextID string, limit int) ([]Event, error)
	queryTextFn func(ctx context.Context, text string, limit int) ([]Event, error)
}

func (s *stubRemote) Write(_ context.Context, event Event) (string, error) {
	s.events = append(s.events, event)
	return "graph-id", nil
}

func (s *stubRemote) Query(ctx context.Context, contextID string, limit int) ([]Event, error) {
	if s.queryFn != nil {
		return s.queryFn(ctx, contextID, limit)
	}
	return s.events, nil
}

func (s *stubRemote) QueryText(ctx context.Context, text string, limit int) ([]Event, error) {
	if s.queryTextFn != nil {
		return s.queryTextFn(ctx, text, limit)
	}
	return nil, nil
}

func profileWithCaps(itemCap, tokenCap int) mode.Profile {
	p := mode.Default()[mode.Smart]
	p.MemoryItemCap = itemCap
	p.MemoryTokenCap = tokenCap
	return p
}

func TestAdapter_Inject_TrimsToItemCap(t *testing.T) {
	now := time.Now().UTC()
	remote := &stubRemote{events: []Event{
		{ContextID: "ctx", Payload: "one", Confidence: 0.9, Timestamp: now},
		{ContextID: "ctx", Payload: "two", Confidence: 0.8, Timestamp: now},
		{ContextID: "ctx", Payload: "three", Confidence: 0.7, Timestamp: now},
	}}
	q := newTestQueue(t, remote)
	adapter := NewAdapter(remote, q, nil, "locusagent-test-fallback")

	bundle, err := adapter.Inject(context.Background(), "task-1", "ctx", "", profileWithCaps(2, 10000))
	require.NoError(t, err)
	assert.Len(t, bundle.Events, 2)
	assert.True(t, bundle.Truncated)
}

func TestAdapter_Inject_TrimsToTokenCap(t *testing.T) {
	now := time.Now().UTC()
	remote := &stubRemote{events: []Event{
		{ContextID: "ctx", Payload: "word word word word word", Confidence: 0.9, Timestamp: now},
		{ContextID: "ctx", Payload: "word word word word word", Confidence: 0.5, Timestamp: now},
	}}
	q := newTestQueue(t, remote)
	adapter := NewAdapter(remote, q, nil, "locusagent-test-fallback")

	bundle, err := adapter.Inject(context.Background(), "task-1", "ctx", "", profileWithCaps(10, 5))
	require.NoError(t, err)
	assert.Len(t, bundle.Events, 1)
	assert.True(t, bundle.Truncated)
	assert.LessOrEqual(t, bundle.TokensUsed, 5)
}

func TestAdapter_Inject_OldHighConfidenceDoesNotStarveRecent(t *testing.T) {
	old := &stubRemote{}
	q := newTestQueue(t, old)
	adapter := NewAdapter(old, q, nil, "locusagent-test-fallback")

	oldHighConfidence := Event{ContextID: "ctx", Payload: "ancient", Confidence: 0.9, Timestamp: time.Now().Add(-30 * 24 * time.Hour)}
	recentLowConfidence := Event{ContextID: "ctx", Payload: "fresh", Confidence: 0.81, Timestamp: time.Now()}
	old.events = []Event{oldHighConfidence, recentLowConfidence}

	bundle, err := adapter.Inject(context.Background(), "task-1", "ctx", "", profileWithCaps(1, 10000))
	require.NoError(t, err)
	require.Len(t, bundle.Events, 1)
	assert.Equal(t, "fresh", bundle.Events[0].Payload, "recency boost must let a close-scoring recent event win the top slot")
}

func TestAdapter_Inject_PublishesMemoryRecalled(t *testing.T) {
	remote := &stubRemote{events: []Event{{ContextID: "ctx", Payload: "x", Confidence: 0.5, Timestamp: time.Now()}}}
	q := newTestQueue(t, remote)
	bus := eventbus.New()
	sub := bus.Subscribe()
	adapter := NewAdapter(remote, q, bus, "locusagent-test-fallback")

	_, err := adapter.Inject(context.Background(), "task-1", "ctx", "", profileWithCaps(10, 10000))
	require.NoError(t, err)

	select {
	case evt := <-sub.C:
		require.Equal(t, eventbus.MemoryRecalled, evt.Type)
		data, ok := evt.Data.(eventbus.MemoryRecalledData)
		require.True(t, ok)
		assert.Equal(t, 1, data.Count)
	case <-time.After(time.Second):
		t.Fatal("MemoryRecalled not published")
	}
}

func TestAdapter_Inject_QueryErrorPropagates(t *testing.T) {
	boom := errors.New("remote unreachable")
	remote := &stubRemote{queryFn: func(context.Context, string, int) ([]Event, error) { return nil, boom }}
	q := newTestQueue(t, remote)
	adapter := NewAdapter(remote, q, nil, "locusagent-test-fallback")

	_, err := adapter.Inject(context.Background(), "task-1", "ctx", "", profileWithCaps(10, 10000))
	assert.ErrorIs(t, err, boom)
}

func TestAdapter_Inject_NilRemoteReturnsEmptyBundle(t *testing.T) {
	q := newTestQueue(t, nil)
	adapter := NewAdapter(nil, q, nil, "locusagent-test-fallback")

	bundle, err := adapter.Inject(context.Background(), "task-1", "ctx", "", profileWithCaps(10, 10000))
	require.NoError(t, err)
	assert.Equal(t, "ctx", bundle.ContextID)
	assert.Empty(t, bundle.Events)
	assert.False(t, bundle.Truncated)
}

func TestAdapter_Extract_QueuesEventAndPublishesMemoryStored(t *testing.T) {
	remote := &stubRemote{}
	q := newTestQueue(t, remote)
	bus := eventbus.New()
	sub := bus.Subscribe()
	adapter := NewAdapter(remote, q, bus, "locusagent-test-fallback")

	err := adapter.Extract("task-1", Event{ContextID: "ctx", EventKind: "tool_invocation", Payload: "ran tests"})
	require.NoError(t, err)

	count, err := q.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	select {
	case evt := <-sub.C:
		require.Equal(t, eventbus.MemoryStored, evt.Type)
		data, ok := evt.Data.(eventbus.MemoryStoredData)
		require.True(t, ok)
		assert.Equal(t, "ctx", data.ContextID)
	case <-time.After(time.Second):
		t.Fatal("MemoryStored not published")
	}
}

func TestAdapter_Extract_StampsTimestampWhenZero(t *testing.T) {
	remote := &stubRemote{}
	q := newTestQueue(t, remote)
	adapter := NewAdapter(remote, q, nil, "locusagent-test-fallback")

	require.NoError(t, adapter.Extract("task-1", Event{ContextID: "ctx", EventKind: "k", Payload: "p"}))

	_, _, err := q.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, remote.events, 1)
	assert.False(t, remote.events[0].Timestamp.IsZero())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultBacklog is the per-subscriber channel capacity before the bus
// starts dropping the oldest queued event for that subscriber.
const DefaultBacklog = 256

// Bus is the sole channel between runtime and UI (§4.1). publish is
// non-blocking and never fails observably; subscribe returns an
// ordered, lazy sequence of events starting from the subscription
// point. Ordering is preserved per producer.
type Bus struct {
	seq atomic.Uint64

	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	id      string
	ch      chan Event
	dropped atomic.Uint64
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscription is a live handle returned by Subscribe.
type Subscription struct {
	ID string
	C  <-chan Event
}

// Subscribe registers a new subscriber and returns its channel. The
// memory extractor and each attached UI each get their own
// subscription and their own backlog — a slow UI never starves memory
// extraction and vice versa (Open Question (a), resolved in DESIGN.md).
func (b *Bus) Subscribe() Subscription {
	s := &subscriber{id: uuid.NewString(), ch: make(chan Event, DefaultBacklog)}
	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	return Subscription{ID: s.id, C: s.ch}
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(s.ch)
	}
}

// Publish emits an event to every live subscriber. It stamps
// SchemaVersion, Seq, and Timestamp, and never blocks: a subscriber
// whose backlog is full has its oldest queued event dropped to make
// room, and a BacklogDropped event is delivered to it in turn.
func (b *Bus) Publish(evt Event) {
	evt.SchemaVersion = SchemaVersion
	evt.Seq = b.seq.Add(1)
	evt.Timestamp = time.Now()

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, evt)
	}
}

func (b *Bus) deliver(s *subscriber, evt Event) {
	select {
	case s.ch <- evt:
		return
	default:
	}

	// Backlog full: drop the oldest queued event to make room, then
	// deliver this one. This is the drop-oldest backpressure policy
	// from §4.1/§5.
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}

	select {
	case s.ch <- evt:
	default:
		// Lost the race against another publisher; count it and move on.
		s.dropped.Add(1)
		return
	}

	dropped := s.dropped.Load()
	if dropped == 0 {
		return
	}
	marker := Event{
		SchemaVersion: SchemaVersion,
		Type:          BacklogDropped,
		Seq:           b.seq.Add(1),
		Timestamp:     time.Now(),
		Data:          BacklogDroppedData{SubscriberID: s.id, DroppedCount: int(dropped)},
	}
	if b.tryDeliverMarker(s, marker) {
		s.dropped.Store(0)
	}
	// Otherwise the counter is left intact: the next successful delivery
	// on this subscriber will report the accumulated total instead of
	// losing track of it.
}

// tryDeliverMarker enqueues marker, dropping one more queued event to
// make room if the backlog is still full. Without this a subscriber
// under sustained backlog pressure would never receive a marker at
// all, since deliver's own evt just refilled the slot it freed.
func (b *Bus) tryDeliverMarker(s *subscriber, marker Event) bool {
	select {
	case s.ch <- marker:
		return true
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- marker:
		return true
	default:
		return false
	}
}

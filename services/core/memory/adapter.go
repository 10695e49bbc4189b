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
	"sort"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/aleutian-labs/locusagent/services/core/eventbus"
	"github.com/aleutian-labs/locusagent/services/core/mode"
)

// Adapter implements the inject/extract contract from §4.8, trimming
// every bundle to the active mode's item and token budget.
type Adapter struct {
	remote  LocusGraphClient
	queue   *Queue
	bus     *eventbus.Bus
	encoder *tiktoken.Tiktoken
}

// NewAdapter builds an Adapter. encoding is the tiktoken encoding name
// (e.g. "cl100k_base") used to count tokens against the mode budget;
// if it cannot be loaded, token accounting falls back to a
// whitespace-based estimate.
func NewAdapter(remote LocusGraphClient, queue *Queue, bus *eventbus.Bus, encoding string) *Adapter {
	enc, _ := tiktoken.GetEncoding(encoding)
	return &Adapter{remote: remote, queue: queue, bus: bus, encoder: enc}
}

func (a *Adapter) countTokens(text string) int {
	if a.encoder != nil {
		return len(a.encoder.Encode(text, nil, nil))
	}
	words := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}
	return words
}

// Inject assembles the context bundle seeded to an agent before it
// runs, composing three retrievals per §4.7: a general project-context
// query against contextID, a constraints-scoped query against the
// `constraint:*` namespace, and a semantic query against taskText. The
// combined, deduplicated result is trimmed to profile's
// MemoryItemCap/MemoryTokenCap, most recent and highest-confidence
// first (§4.8, Open Question: recency vs. confidence ordering resolved
// in DESIGN.md in favor of a blended sort so a single
// stale-but-high-confidence event cannot starve out everything newer).
//
// Only the general query's failure is fatal: it is the one Inject
// historically depended on, and the caller (orchestrator.Run) already
// treats a wholesale Inject failure as tolerable, continuing with an
// empty bundle. The constraint and semantic queries are best-effort
// enrichment — their failure degrades context, it does not lose data,
// so it is swallowed here rather than failing the whole task.
func (a *Adapter) Inject(ctx context.Context, taskID, contextID, taskText string, profile mode.Profile) (Bundle, error) {
	if a.remote == nil {
		// Lightweight mode: no LocusGraph configured, so there is
		// nothing to recall. Queued Extract writes still accumulate
		// locally for whenever a remote is wired up.
		return Bundle{ContextID: contextID}, nil
	}

	perQueryLimit := profile.MemoryItemCap * 4

	events, err := a.remote.Query(ctx, contextID, perQueryLimit)
	if err != nil {
		return Bundle{}, err
	}

	if constraintEvents, err := a.remote.Query(ctx, "constraint:"+contextID, perQueryLimit); err == nil {
		events = append(events, constraintEvents...)
	}

	if taskText != "" {
		if semanticEvents, err := a.remote.QueryText(ctx, taskText, perQueryLimit); err == nil {
			events = append(events, semanticEvents...)
		}
	}

	events = dedupeEvents(events)

	sort.SliceStable(events, func(i, j int) bool {
		si := events[i].Confidence + recencyBoost(events[i].Timestamp)
		sj := events[j].Confidence + recencyBoost(events[j].Timestamp)
		return si > sj
	})

	bundle := Bundle{ContextID: contextID}
	for _, e := range events {
		if len(bundle.Events) >= profile.MemoryItemCap {
			bundle.Truncated = true
			break
		}
		tokens := a.countTokens(e.Payload)
		if bundle.TokensUsed+tokens > profile.MemoryTokenCap {
			bundle.Truncated = true
			continue
		}
		bundle.Events = append(bundle.Events, e)
		bundle.TokensUsed += tokens
	}

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{
			Type:   eventbus.MemoryRecalled,
			TaskID: taskID,
			Data:   eventbus.MemoryRecalledData{Count: len(bundle.Events), TopConfidence: topConfidence(bundle.Events)},
		})
	}

	return bundle, nil
}

// recencyBoost gives events from the last 24h a small preference so a
// long-lived high-confidence memory does not permanently crowd out
// everything learned since.
func recencyBoost(t time.Time) float64 {
	if time.Since(t) < 24*time.Hour {
		return 0.1
	}
	return 0
}

// dedupeEvents collapses events returned by more than one of Inject's
// three queries to a single copy, keyed on GraphID when the remote set
// one, falling back to a context+payload+timestamp composite for
// stores that don't assign ids until Write.
func dedupeEvents(events []Event) []Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]Event, 0, len(events))
	for _, e := range events {
		key := e.GraphID
		if key == "" {
			key = e.ContextID + "|" + e.Payload + "|" + e.Timestamp.String()
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

func topConfidence(events []Event) float64 {
	top := 0.0
	for _, e := range events {
		if e.Confidence > top {
			top = e.Confidence
		}
	}
	return top
}

// Extract writes a new Memory Event derived from a completed agent
// step, queuing it for durable delivery to LocusGraph rather than
// writing inline, so a transient LocusGraph outage never blocks the
// orchestrator (§7 Transport, §4.8).
func (a *Adapter) Extract(taskID string, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := a.queue.Enqueue(event); err != nil {
		return err
	}
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{
			Type:   eventbus.MemoryStored,
			TaskID: taskID,
			Data:   eventbus.MemoryStoredData{ContextID: event.ContextID},
		})
	}
	return nil
}

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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// Queue is the local write-ahead durability layer in front of
// LocusGraph: every extract() write lands here first, deduplicated by
// content hash, and is retried against the remote client with backoff
// until it is acknowledged. Grounded on history/store.go's hot-tier
// ring buffer + periodic persistence, adapted here from an in-process
// ring buffer to an on-disk badger store so queued writes survive a
// process restart while LocusGraph is unreachable (§7 Transport).
type Queue struct {
	db     *badger.DB
	remote LocusGraphClient
	logger *slog.Logger
}

// NewQueue opens (or creates) a badger store at dir.
func NewQueue(dir string, remote LocusGraphClient, logger *slog.Logger) (*Queue, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("memory: open queue: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, remote: remote, logger: logger}, nil
}

// Close releases the badger store.
func (q *Queue) Close() error {
	return q.db.Close()
}

// DB exposes the underlying badger store so other components that want
// process-restart durability (e.g. toolbus's permission rule table) can
// share this same on-disk database instead of opening a second one.
func (q *Queue) DB() *badger.DB {
	return q.db
}

func contentKey(event Event) []byte {
	sum := sha256.Sum256([]byte(event.ContextID + "|" + event.EventKind + "|" + event.Payload))
	return []byte("pending:" + hex.EncodeToString(sum[:]))
}

// Enqueue durably records event, skipping it if an identical one
// (same context/kind/payload) is already queued or was already
// written (content-hash dedup, §4.8).
func (q *Queue) Enqueue(event Event) error {
	key := contentKey(event)
	return q.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil // duplicate, already pending
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

// Flush attempts to write every queued event to the remote client,
// removing each on success and leaving the rest queued for the next
// Flush call (exponential backoff is the caller's responsibility,
// e.g. a ticker with jitter in the orchestrator's background loop).
func (q *Queue) Flush(ctx context.Context) (flushed, remaining int, err error) {
	if q.remote == nil {
		// Lightweight mode: nothing configured to flush to. Leave the
		// backlog intact for whenever a remote is wired up.
		count, cerr := q.PendingCount()
		return 0, count, cerr
	}

	var toDelete [][]byte
	var pending []Event

	err = q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("pending:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var event Event
			if getErr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			}); getErr != nil {
				continue
			}
			pending = append(pending, event)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	for _, event := range pending {
		if _, writeErr := q.remote.Write(ctx, event); writeErr != nil {
			q.logger.Warn("memory: deferred event write failed, will retry", "context_id", event.ContextID, "error", writeErr)
			remaining++
			continue
		}
		toDelete = append(toDelete, contentKey(event))
		flushed++
	}

	if len(toDelete) > 0 {
		err = q.db.Update(func(txn *badger.Txn) error {
			for _, key := range toDelete {
				if delErr := txn.Delete(key); delErr != nil {
					return delErr
				}
			}
			return nil
		})
	}
	return flushed, remaining, err
}

// PendingCount reports how many events are waiting to be flushed.
func (q *Queue) PendingCount() (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("pending:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

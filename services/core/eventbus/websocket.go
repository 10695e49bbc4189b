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
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSink streams a Bus subscription to one attached external UI
// over a websocket connection. The bus itself is transport-agnostic;
// this is the wire adapter the external TUI collaborator (§1) attaches
// through.
type WebSocketSink struct {
	bus    *Bus
	logger *slog.Logger

	upgrader websocket.Upgrader
}

// NewWebSocketSink builds a sink over bus. logger may be nil.
func NewWebSocketSink(bus *Bus, logger *slog.Logger) *WebSocketSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketSink{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The UI is a local, user-spawned process attaching to its
			// own runtime instance, not a third-party RPC client (§1
			// explicitly excludes exposing an RPC surface to third
			// parties); the origin check is a no-op by design.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and streams events until the
// client disconnects or the request context is cancelled. Each event
// is written as one JSON text frame.
func (s *WebSocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("eventbus: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub.ID)

	ctx := r.Context()
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("eventbus: marshal event failed", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

// Close is a no-op placeholder for symmetry with other long-lived
// components; per-connection cleanup happens in ServeHTTP.
func (s *WebSocketSink) Close(ctx context.Context) error { return ctx.Err() }

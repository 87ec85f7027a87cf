// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feed broadcasts committed cell updates to connected views.
//
// # Description
//
// The optimistic cache reconciler can only fix the caches of the view that
// issued an edit. Other concurrently open views learn about committed cells
// through this websocket feed and invalidate or refetch the affected
// queries. The feed is best-effort: a slow subscriber is dropped rather
// than allowed to stall the commit path.
package feed

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
)

// subscriberBuffer is how many events a subscriber may lag before it is
// dropped.
const subscriberBuffer = 64

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// CommitEvent is one committed cell update as seen by subscribers.
type CommitEvent struct {
	Collection string     `json:"collection"`
	EntityID   string     `json:"entity_id"`
	FieldID    string     `json:"field_id"`
	Value      cell.Value `json:"value"`
	Forced     bool       `json:"forced,omitempty"`
	RequestID  string     `json:"request_id,omitempty"`
	At         time.Time  `json:"at"`
}

// Hub fans committed cell updates out to websocket subscribers.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan CommitEvent
	closed      bool
}

// NewHub creates an empty feed hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan CommitEvent)}
}

// Publish broadcasts one committed update to all subscribers.
//
// # Description
//
// Never blocks the caller: subscribers whose buffers are full are
// disconnected and must re-subscribe (and refetch) to catch up.
//
// # Inputs
//
//   - key: The committed cell.
//   - value: The authoritative value now stored.
//   - forced: Whether the commit bypassed the compare check.
//   - requestID: Correlation ID of the originating update.
func (h *Hub) Publish(key cell.Key, value cell.Value, forced bool, requestID string) {
	ev := CommitEvent{
		Collection: key.Collection,
		EntityID:   key.EntityID,
		FieldID:    key.FieldID,
		Value:      value,
		Forced:     forced,
		RequestID:  requestID,
		At:         time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; cut it loose.
			close(ch)
			delete(h.subscribers, id)
			slog.Warn("Dropped slow feed subscriber", "subscriber_id", id)
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}

// subscribe registers a new subscriber channel.
func (h *Hub) subscribe() (string, chan CommitEvent) {
	id := uuid.NewString()
	ch := make(chan CommitEvent, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// unsubscribe removes a subscriber if still registered.
func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Handler returns the gin handler for GET /v1/cells/ws.
//
// # Description
//
// Upgrades the connection and streams CommitEvents as JSON until the client
// disconnects or the hub closes. Incoming messages are read and discarded
// only to detect disconnection.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		id, events := h.subscribe()
		defer h.unsubscribe(id)
		slog.Info("Feed subscriber connected", "subscriber_id", id)

		// Reader goroutine: only there to notice the peer going away.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := ws.WriteJSON(ev); err != nil {
					slog.Warn("Failed to write feed event", "error", err)
					return
				}
			case <-done:
				slog.Info("Feed subscriber disconnected", "subscriber_id", id)
				return
			}
		}
	}
}

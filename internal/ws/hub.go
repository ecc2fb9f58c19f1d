// Package ws fans log events out to live subscribers. The hub owns the
// process-wide set of subscriptions; connection handling lives in Client.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/splax/schemalog/internal/domain"
)

const (
	// DefaultSubscriberBuffer bounds each subscription's event queue.
	DefaultSubscriberBuffer = 64

	// broadcastBuffer decouples publishers from the hub loop. The loop
	// never blocks, so this only absorbs short bursts.
	broadcastBuffer = 256
)

// Subscription is one live consumer of log events. Events arrive on the
// channel returned by Events; a closed channel means the subscription has
// ended and no further events will be delivered.
type Subscription struct {
	// schemaID narrows delivery to one schema; uuid.Nil receives everything.
	schemaID uuid.UUID
	events   chan []byte
}

// Events returns the delivery channel. Each element is one serialized event.
func (s *Subscription) Events() <-chan []byte {
	return s.events
}

type envelope struct {
	schemaID uuid.UUID
	payload  []byte
}

// Hub is the process-wide broadcaster. A single goroutine owns the
// subscription set, so registration, removal and fan-out never race.
//
// Loss policy: each subscription has a bounded queue; when it is full the
// event is skipped for that subscriber and delivery resumes with the next
// one. There is no replay. Publishing never blocks on a slow consumer.
type Hub struct {
	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan envelope
	done       chan struct{}
	closeOnce  sync.Once

	subs   map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

// NewHub creates a running Hub. buffer is the per-subscriber queue size;
// values below one fall back to DefaultSubscriberBuffer.
func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer < 1 {
		buffer = DefaultSubscriberBuffer
	}
	h := &Hub{
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan envelope, broadcastBuffer),
		done:       make(chan struct{}),
		subs:       make(map[*Subscription]struct{}),
		buffer:     buffer,
		logger:     logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			h.subs[sub] = struct{}{}
		case sub := <-h.unregister:
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.events)
			}
		case msg := <-h.broadcast:
			for sub := range h.subs {
				if sub.schemaID != uuid.Nil && sub.schemaID != msg.schemaID {
					continue
				}
				select {
				case sub.events <- msg.payload:
				default:
					// Queue full: skip this event for this subscriber.
					h.logger.Debug("subscriber lagging, event skipped", "schema_filter", sub.schemaID)
				}
			}
		case <-h.done:
			for sub := range h.subs {
				delete(h.subs, sub)
				close(sub.events)
			}
			return
		}
	}
}

// Subscribe registers a new subscription. schemaID == uuid.Nil subscribes to
// events for all schemas.
func (h *Hub) Subscribe(schemaID uuid.UUID) *Subscription {
	sub := &Subscription{
		schemaID: schemaID,
		events:   make(chan []byte, h.buffer),
	}
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.events)
	}
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// from multiple goroutines and more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Publish fans an event out to every matching subscription. It returns as
// soon as the event is handed to the hub loop; delivery is best effort and
// a publish with no subscribers is a no-op.
func (h *Hub) Publish(event domain.LogEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to marshal log event", "error", err)
		return
	}
	select {
	case h.broadcast <- envelope{schemaID: event.SchemaID, payload: payload}:
	case <-h.done:
	}
}

// Close stops the hub and ends every active subscription. Idempotent.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

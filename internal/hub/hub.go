// Package hub holds the last known liveness status and fans changes out
// to any number of push-stream subscribers.
package hub

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lullaby/internal/liveness"
)

// subscriberBufferSize bounds how far a subscriber may fall behind before
// its oldest undelivered value is discarded in favour of the newest.
const subscriberBufferSize = 16

// Hub is the single writer of the current status. It satisfies
// liveness.Sink.
type Hub struct {
	mu          sync.Mutex
	current     liveness.Status
	known       bool
	subscribers map[uuid.UUID]*subscriber
	closed      bool
	log         zerolog.Logger
}

// subscriber is a registry entry. A cancelled ctx means released, even
// before the context.AfterFunc cleanup has run.
type subscriber struct {
	ch  chan liveness.Status
	ctx context.Context
}

// New returns a Hub with no status and no subscribers.
func New(log zerolog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]*subscriber),
		log:         log.With().Str("component", "hub").Logger(),
	}
}

// Current returns the last value set, and false if none has been.
func (h *Hub) Current() (liveness.Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current, h.known
}

// SetStatus stores next and, if it differs from the stored value,
// delivers it to every registered subscriber.
func (h *Hub) SetStatus(next liveness.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	changed := !h.known || h.current != next
	h.current = next
	h.known = true
	if !changed {
		return
	}

	h.sweepLocked()
	for id, sub := range h.subscribers {
		deliver(sub.ch, next)
		h.log.Debug().Str("sub_id", id.String()).Str("status", string(next)).Msg("Status delivered")
	}
}

// sweepLocked releases every subscriber whose context has ended.
func (h *Hub) sweepLocked() {
	for id, sub := range h.subscribers {
		if sub.ctx.Err() != nil {
			delete(h.subscribers, id)
			close(sub.ch)
		}
	}
}

// deliver never blocks. A full buffer loses its oldest value; the newest
// one always gets through. Callers hold h.mu, so there is one sender.
func deliver(ch chan liveness.Status, s liveness.Status) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// Subscription is a registered push stream. C is closed once the
// subscription is released.
type Subscription struct {
	ID uuid.UUID
	C  <-chan liveness.Status

	stop func() bool
	hub  *Hub
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.stop()
	s.hub.remove(s.ID)
}

// Subscribe registers a subscriber. If a status is known it is queued
// first, before any later change. The registration ends the moment ctx
// is cancelled: no later SetStatus reaches it and Len no longer counts it.
func (h *Hub) Subscribe(ctx context.Context) *Subscription {
	id := uuid.New()
	ch := make(chan liveness.Status, subscriberBufferSize)

	h.mu.Lock()
	if h.closed || ctx.Err() != nil {
		close(ch)
	} else {
		h.subscribers[id] = &subscriber{ch: ch, ctx: ctx}
		if h.known {
			ch <- h.current
		}
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.log.Debug().Str("sub_id", id.String()).Int("subscribers", count).Msg("Subscriber added")

	return &Subscription{
		ID:   id,
		C:    ch,
		stop: context.AfterFunc(ctx, func() { h.remove(id) }),
		hub:  h,
	}
}

func (h *Hub) remove(id uuid.UUID) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
		close(sub.ch)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if ok {
		h.log.Debug().Str("sub_id", id.String()).Int("subscribers", count).Msg("Subscriber removed")
	}
}

// Len returns the number of registered subscribers whose context is
// still live.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sweepLocked()
	return len(h.subscribers)
}

// Close releases every subscriber. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, id)
	}
}

// Package feed provides a publish/subscribe hub used for the snapshot,
// alert and transition streams. Publishing never blocks: a subscriber that
// falls behind loses values rather than stalling the engine.
package feed

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber channel capacity used by NewHub when
// a non-positive buffer is requested.
const DefaultBuffer = 64

// Hub fans values out to any number of subscribers.
type Hub[T any] struct {
	mu      sync.Mutex
	subs    map[string]chan T
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// NewHub creates a hub whose subscriber channels hold buffer values.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub[T]{subs: make(map[string]chan T), buffer: buffer}
}

// Subscribe registers a new subscriber. The channel is closed by
// Unsubscribe or Close.
func (h *Hub[T]) Subscribe() (string, <-chan T) {
	id := uuid.NewString()
	ch := make(chan T, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub[T]) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Publish delivers v to every subscriber with room for it and returns the
// number of subscribers that missed it.
func (h *Hub[T]) Publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	missed := 0
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
			// full subscriber, skip rather than block the publisher
			missed++
		}
	}
	if missed > 0 {
		h.dropped.Add(uint64(missed))
	}
	return missed
}

// Subscribers returns the current subscriber count.
func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns the total number of values lost to slow subscribers.
func (h *Hub[T]) Dropped() uint64 { return h.dropped.Load() }

// Close closes every subscriber channel. Later subscriptions receive an
// already closed channel and later publishes are no-ops.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

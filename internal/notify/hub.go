// Package notify fans queue change events out to subscribers. Events are
// wake-up signals: a consumer that receives one re-reads the queue rather
// than trusting the payload, so dropping an event on a slow subscriber is
// safe as long as a later one arrives.
package notify

import (
	"expvar"
	"sync"

	"github.com/Empredndedor/turnord-oficial/internal/store"
)

const subscriberBuffer = 16

var droppedEvents = expvar.NewInt("notify_dropped_events")

type subscriber struct {
	id uint64
	ch chan store.OutboxEvent
}

// Hub is an in-process broadcast switch keyed by business.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]subscriber)}
}

// Subscribe registers a listener for one business. The returned channel is
// buffered; when the buffer is full further events are dropped, not
// queued. The cancel func must be called exactly once and closes the
// channel.
func (h *Hub) Subscribe(businessID string) (<-chan store.OutboxEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := subscriber{id: h.nextID, ch: make(chan store.OutboxEvent, subscriberBuffer)}
	if h.subs[businessID] == nil {
		h.subs[businessID] = make(map[uint64]subscriber)
	}
	h.subs[businessID][sub.id] = sub

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[businessID][sub.id]; !ok {
			return
		}
		delete(h.subs[businessID], sub.id)
		if len(h.subs[businessID]) == 0 {
			delete(h.subs, businessID)
		}
		close(sub.ch)
	}
	return sub.ch, cancel
}

// Broadcast delivers the event to every subscriber of its business
// without blocking. Slow subscribers lose events, counted in
// notify_dropped_events.
func (h *Hub) Broadcast(event store.OutboxEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[event.BusinessID] {
		select {
		case sub.ch <- event:
		default:
			droppedEvents.Add(1)
		}
	}
}

// Subscribers reports the current listener count for a business.
func (h *Hub) Subscribers(businessID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[businessID])
}

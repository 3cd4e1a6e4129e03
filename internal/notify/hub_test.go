package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Empredndedor/turnord-oficial/internal/store"
)

func event(businessID, typ string) store.OutboxEvent {
	return store.OutboxEvent{BusinessID: businessID, Type: typ, CreatedAt: time.Now()}
}

func TestBroadcastReachesSubscribers(t *testing.T) {
	hub := NewHub()
	ch1, cancel1 := hub.Subscribe("barberia0001")
	defer cancel1()
	ch2, cancel2 := hub.Subscribe("barberia0001")
	defer cancel2()

	hub.Broadcast(event("barberia0001", "ticket_created"))

	for i, ch := range []<-chan store.OutboxEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != "ticket_created" {
				t.Fatalf("subscriber %d: got %q", i, ev.Type)
			}
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestBroadcastScopedToBusiness(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("barberia0001")
	defer cancel()

	hub.Broadcast(event("otra-tienda", "ticket_created"))

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for other business: %+v", ev)
	default:
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("barberia0001")
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Broadcast(event("barberia0001", "ticket_created"))
	}

	// The buffer holds exactly subscriberBuffer events; the rest were
	// dropped without blocking Broadcast.
	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received != subscriberBuffer {
		t.Fatalf("received %d, want %d", received, subscriberBuffer)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("barberia0001")
	cancel()

	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}
	if n := hub.Subscribers("barberia0001"); n != 0 {
		t.Fatalf("subscriber count %d after cancel", n)
	}

	// A second cancel is harmless.
	cancel()

	// Broadcasting after the last unsubscribe must not panic.
	hub.Broadcast(event("barberia0001", "ticket_created"))
}

// pollStore serves a fixed event log sorted by (CreatedAt, EventID),
// paging the same way the real store does.
type pollStore struct {
	store.TicketStore
	events []store.OutboxEvent
	listed []string
}

func (p *pollStore) ListOutboxEvents(_ context.Context, businessID string, after time.Time, afterID string, limit int) ([]store.OutboxEvent, error) {
	var out []store.OutboxEvent
	for _, ev := range p.events {
		if ev.BusinessID != businessID {
			continue
		}
		if ev.CreatedAt.Before(after) || (ev.CreatedAt.Equal(after) && ev.EventID <= afterID) {
			continue
		}
		out = append(out, ev)
		p.listed = append(p.listed, ev.EventID)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestPollerReachesTiedTimestampsAcrossBatches(t *testing.T) {
	// Two events written in the same instant straddle the batch boundary:
	// the tail of the first batch and the head of the second share a
	// created_at, so a time-only cursor would never return the second.
	base := time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC)
	events := make([]store.OutboxEvent, 0, pollBatchSize+1)
	for i := 0; i < pollBatchSize+1; i++ {
		at := base.Add(time.Duration(i) * time.Millisecond)
		if i == pollBatchSize {
			at = base.Add(time.Duration(pollBatchSize-1) * time.Millisecond)
		}
		events = append(events, store.OutboxEvent{
			EventID:    fmt.Sprintf("ev-%03d", i),
			BusinessID: "barberia0001",
			Type:       "ticket_created",
			CreatedAt:  at,
		})
	}
	st := &pollStore{events: events}

	p := NewPoller(st, NewHub(), "barberia0001", time.Minute)
	p.after, p.afterID = base.Add(-time.Second), ""

	if err := p.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	seen := make(map[string]bool, len(st.listed))
	for _, id := range st.listed {
		seen[id] = true
	}
	for _, ev := range events {
		if !seen[ev.EventID] {
			t.Fatalf("event %s never listed; cursor %v %q", ev.EventID, p.after, p.afterID)
		}
	}
	if p.afterID != events[len(events)-1].EventID {
		t.Fatalf("cursor id %q, want %q", p.afterID, events[len(events)-1].EventID)
	}

	// Nothing left behind the cursor.
	st.listed = nil
	if err := p.poll(context.Background()); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(st.listed) != 0 {
		t.Fatalf("second poll listed %v", st.listed)
	}
}

func TestPollerAdvancesWatermark(t *testing.T) {
	base := time.Now()
	st := &pollStore{events: []store.OutboxEvent{
		{EventID: "e1", BusinessID: "barberia0001", Type: "ticket_created", CreatedAt: base.Add(time.Second)},
		{EventID: "e2", BusinessID: "barberia0001", Type: "ticket_claimed", CreatedAt: base.Add(2 * time.Second)},
	}}
	hub := NewHub()
	ch, cancel := hub.Subscribe("barberia0001")
	defer cancel()

	p := NewPoller(st, hub, "barberia0001", time.Minute)
	p.after = base

	if err := p.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(ch) != 2 {
		t.Fatalf("delivered %d events, want 2", len(ch))
	}

	// A second poll delivers nothing new.
	if err := p.poll(context.Background()); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(ch) != 2 {
		t.Fatalf("watermark did not advance, buffered %d", len(ch))
	}
}

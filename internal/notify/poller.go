package notify

import (
	"context"
	"log"
	"time"

	"github.com/Empredndedor/turnord-oficial/internal/store"
)

const pollBatchSize = 100

// Poller tails the outbox table and feeds the hub. The outbox row is
// written in the same transaction as the queue mutation, so every change
// eventually reaches subscribers even if the process restarts between the
// write and the poll.
type Poller struct {
	store      store.TicketStore
	hub        *Hub
	businessID string
	interval   time.Duration

	// cursor of the last delivered event. Pages are keyed on
	// (created_at, event_id) so events written in the same instant stay
	// reachable across a batch boundary; re-delivery is harmless.
	after   time.Time
	afterID string
}

func NewPoller(st store.TicketStore, hub *Hub, businessID string, interval time.Duration) *Poller {
	return &Poller{
		store:      st,
		hub:        hub,
		businessID: businessID,
		interval:   interval,
		after:      time.Now(),
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				log.Printf("outbox poll failed business_id=%s err=%v", p.businessID, err)
			}
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	for {
		events, err := p.store.ListOutboxEvents(ctx, p.businessID, p.after, p.afterID, pollBatchSize)
		if err != nil {
			return err
		}
		for _, event := range events {
			p.hub.Broadcast(event)
		}
		if len(events) > 0 {
			last := events[len(events)-1]
			p.after, p.afterID = last.CreatedAt, last.EventID
		}
		if len(events) < pollBatchSize {
			return nil
		}
	}
}

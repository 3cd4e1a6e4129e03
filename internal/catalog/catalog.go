// Package catalog keeps an in-memory snapshot of a business's
// configuration and service durations. Reads are lock-cheap and never
// touch the database; a refresh failure keeps the last known good
// snapshot so the queue stays serviceable through a database blip.
package catalog

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Empredndedor/turnord-oficial/internal/estimator"
	"github.com/Empredndedor/turnord-oficial/internal/models"
	"github.com/Empredndedor/turnord-oficial/internal/store"
)

// Snapshot is one consistent view of the business setup.
type Snapshot struct {
	Config    models.BusinessConfig
	Durations estimator.Durations
}

type Catalog struct {
	store      store.TicketStore
	businessID string

	mu   sync.RWMutex
	snap Snapshot
}

func New(st store.TicketStore, businessID string) *Catalog {
	return &Catalog{
		store:      st,
		businessID: businessID,
		snap: Snapshot{
			Config: models.BusinessConfig{BusinessID: businessID},
		},
	}
}

// Snapshot returns the current view. The returned maps must be treated as
// read-only; Refresh swaps whole snapshots and never mutates one in place.
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Refresh reloads configuration and services from the store. On error the
// previous snapshot stays in effect and the error is returned for the
// caller to log or count.
func (c *Catalog) Refresh(ctx context.Context) error {
	cfg, err := c.store.GetBusinessConfig(ctx, c.businessID)
	if err != nil {
		return err
	}
	services, err := c.store.ListServices(ctx, c.businessID)
	if err != nil {
		return err
	}

	durations := make(estimator.Durations, len(services))
	for _, svc := range services {
		if !svc.Active {
			continue
		}
		durations[svc.Name] = svc.DurationMinutes
	}

	c.mu.Lock()
	c.snap = Snapshot{Config: cfg, Durations: durations}
	c.mu.Unlock()
	return nil
}

// Run refreshes on a fixed interval until the context is cancelled.
// Configuration changes also trigger an immediate refresh through the
// engine, so the interval only bounds staleness after missed events.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				log.Printf("catalog refresh failed business_id=%s err=%v", c.businessID, err)
			}
		}
	}
}

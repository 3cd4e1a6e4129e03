// Package breaks stores the temporary "on a break" state in Redis. The
// key carries a native TTL so an operator who forgets to end a break is
// covered, and reads fail open: if Redis is unreachable the business is
// treated as not on break rather than locking customers out.
package breaks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Empredndedor/turnord-oficial/internal/models"
)

const keyPrefix = "break:"

type record struct {
	Message string    `json:"message"`
	EndsAt  time.Time `json:"ends_at"`
}

type Manager struct {
	rdb redis.Cmdable
}

func New(rdb redis.Cmdable) *Manager {
	return &Manager{rdb: rdb}
}

func key(businessID string) string {
	return keyPrefix + businessID
}

// Start puts the business on break until endsAt. The TTL matches the end
// time, so the key expires on its own and Get never reports a stale break.
func (m *Manager) Start(ctx context.Context, businessID, message string, endsAt, now time.Time) error {
	ttl := endsAt.Sub(now)
	if ttl <= 0 {
		return fmt.Errorf("break end %s is not in the future", endsAt.Format(time.RFC3339))
	}

	payload, err := json.Marshal(record{Message: message, EndsAt: endsAt})
	if err != nil {
		return fmt.Errorf("marshal break record: %w", err)
	}
	if err := m.rdb.Set(ctx, key(businessID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store break state: %w", err)
	}
	return nil
}

// End clears the break early. Ending a break that is not active is a no-op.
func (m *Manager) End(ctx context.Context, businessID string) error {
	if err := m.rdb.Del(ctx, key(businessID)).Err(); err != nil {
		return fmt.Errorf("clear break state: %w", err)
	}
	return nil
}

// Get reports the current break state. Missing key, expired key, or any
// Redis error all come back as "not on break"; errors are logged, never
// surfaced to the admission path.
func (m *Manager) Get(ctx context.Context, businessID string) models.BreakState {
	raw, err := m.rdb.Get(ctx, key(businessID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("break state read failed business_id=%s err=%v", businessID, err)
		}
		return models.BreakState{}
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.Printf("break state corrupt business_id=%s err=%v", businessID, err)
		return models.BreakState{}
	}
	return models.BreakState{Active: true, EndsAt: rec.EndsAt, Message: rec.Message}
}

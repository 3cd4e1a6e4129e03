package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Empredndedor/turnord-oficial/internal/models"
)

type CreateTicketInput struct {
	RequestID     string
	BusinessID    string
	CustomerName  string
	CustomerPhone string
	ServiceName   string
	CreatedAt     time.Time
}

type CompleteTicketInput struct {
	BusinessID string
	TicketID   string
	Amount     decimal.Decimal
	OccurredAt time.Time
}

// DayStats is the served-tickets read model for one business day.
type DayStats struct {
	BusinessDay  string          `json:"business_day"`
	ServedCount  int             `json:"served_count"`
	TotalCharged decimal.Decimal `json:"total_charged"`
	Waiting      int             `json:"waiting"`
	Cancelled    int             `json:"cancelled"`
	NoShows      int             `json:"no_shows"`
}

// OutboxEvent is one queue mutation, recorded in the same transaction as
// the mutation itself. Consumers treat it as a wake-up signal and re-read
// state; the payload is informational, not authoritative.
type OutboxEvent struct {
	EventID    string          `json:"event_id"`
	BusinessID string          `json:"business_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TicketStore is the single source of truth for the queue. Every mutation
// is a conditional write: the update succeeds only if the ticket is still
// in the expected source status, so concurrent staff actions resolve to
// exactly one winner.
type TicketStore interface {
	// CreateTicket allocates the next code for the day and inserts the
	// ticket in one transaction. The bool reports whether a new ticket was
	// created; a replayed RequestID returns the existing ticket and false.
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, bool, error)
	GetTicket(ctx context.Context, businessID, ticketID string) (models.Ticket, error)

	// ClaimNext moves the head waiting ticket to in_service. Fails with
	// ErrNoTicket on an empty queue and ErrActiveTicket when another
	// ticket is already being served.
	ClaimNext(ctx context.Context, businessID string, now time.Time) (models.Ticket, error)
	CompleteTicket(ctx context.Context, input CompleteTicketInput) (models.Ticket, error)
	// ReturnTicket sends the ticket to the back of the waiting line:
	// queue_order becomes the day's maximum plus one, started_at clears,
	// code and created_at are untouched.
	ReturnTicket(ctx context.Context, businessID, ticketID string) (models.Ticket, error)
	// CancelTicket requires the requester's phone to match. Cancelling a
	// ticket that already reached a terminal status is a no-op returning
	// the ticket as stored.
	CancelTicket(ctx context.Context, businessID, ticketID, phone string) (models.Ticket, error)
	NoShowTicket(ctx context.Context, businessID, ticketID string) (models.Ticket, error)

	// QueueSnapshot returns the in-service ticket (nil if none) and the
	// waiting list ordered by (queue_order, created_at). The waiting
	// list is scoped to businessDay; the in-service lookup is
	// business-wide, the same scope ClaimNext guards on, so a ticket
	// left open from an earlier day stays visible until it is closed.
	QueueSnapshot(ctx context.Context, businessID, businessDay string) (*models.Ticket, []models.Ticket, error)
	CountTicketsForDay(ctx context.Context, businessID, businessDay string) (int, error)
	ActiveTicketForPhone(ctx context.Context, businessID, phone string) (models.Ticket, bool, error)

	ListServices(ctx context.Context, businessID string) ([]models.Service, error)
	GetBusinessConfig(ctx context.Context, businessID string) (models.BusinessConfig, error)
	UpdateBusinessConfig(ctx context.Context, cfg models.BusinessConfig) error

	DayStats(ctx context.Context, businessID, businessDay string) (DayStats, error)
	// ListOutboxEvents pages the outbox oldest first, keyed on
	// (created_at, event_id). The composite cursor keeps events written
	// in the same instant reachable across page boundaries; an empty
	// afterID starts at the given time.
	ListOutboxEvents(ctx context.Context, businessID string, after time.Time, afterID string, limit int) ([]OutboxEvent, error)
}

// Package engine ties the queue pieces together: validation, the
// admission gate, the store, wait estimation and change notification.
// HTTP handlers call the engine and translate its errors; the engine
// itself knows nothing about transports.
package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Empredndedor/turnord-oficial/internal/admission"
	"github.com/Empredndedor/turnord-oficial/internal/catalog"
	"github.com/Empredndedor/turnord-oficial/internal/estimator"
	"github.com/Empredndedor/turnord-oficial/internal/models"
	"github.com/Empredndedor/turnord-oficial/internal/monitoring"
	"github.com/Empredndedor/turnord-oficial/internal/notify"
	"github.com/Empredndedor/turnord-oficial/internal/store"
)

// conflictRetries bounds the replays of an operation that lost a
// concurrent-update race in the store.
const conflictRetries = 3

var (
	nameRe  = regexp.MustCompile(`^[A-Za-zÁÉÍÓÚáéíóúÑñ ]{2,40}$`)
	phoneRe = regexp.MustCompile(`^\d{8,15}$`)
	clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

// ValidationError reports a malformed field in a request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// BreakStore is the transient pause state, typically Redis-backed.
type BreakStore interface {
	Start(ctx context.Context, businessID, message string, endsAt, now time.Time) error
	End(ctx context.Context, businessID string) error
	Get(ctx context.Context, businessID string) models.BreakState
}

type Engine struct {
	store      store.TicketStore
	catalog    *catalog.Catalog
	breaks     BreakStore
	hub        *notify.Hub
	businessID string
	now        func() time.Time
}

// New builds an engine clocked to the business location: opening hours,
// business_day scoping and the daily code reset all follow that wall
// clock. A nil location means UTC.
func New(st store.TicketStore, cat *catalog.Catalog, brk BreakStore, hub *notify.Hub, businessID string, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		store:      st,
		catalog:    cat,
		breaks:     brk,
		hub:        hub,
		businessID: businessID,
		now:        func() time.Time { return time.Now().In(loc) },
	}
}

type RequestTicketInput struct {
	RequestID     string `json:"request_id"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	ServiceName   string `json:"service_name"`
}

// RequestTicket validates the request, runs the admission gate and
// creates the ticket. The bool reports whether a new ticket was created;
// a replayed request id returns the existing ticket and false.
func (e *Engine) RequestTicket(ctx context.Context, input RequestTicketInput) (models.Ticket, bool, error) {
	if input.RequestID == "" {
		return models.Ticket{}, false, &ValidationError{Field: "request_id", Message: "required"}
	}
	if !nameRe.MatchString(input.CustomerName) {
		return models.Ticket{}, false, &ValidationError{Field: "customer_name", Message: "2 to 40 letters and spaces"}
	}
	if !phoneRe.MatchString(input.CustomerPhone) {
		return models.Ticket{}, false, &ValidationError{Field: "customer_phone", Message: "8 to 15 digits"}
	}

	now := e.now()
	snap := e.catalog.Snapshot()

	count, err := e.store.CountTicketsForDay(ctx, e.businessID, models.BusinessDayOf(now))
	if err != nil {
		return models.Ticket{}, false, err
	}
	_, hasActive, err := e.store.ActiveTicketForPhone(ctx, e.businessID, input.CustomerPhone)
	if err != nil {
		return models.Ticket{}, false, err
	}

	brk := e.breaks.Get(ctx, e.businessID)
	if rej := admission.Check(snap.Config, brk, admission.Facts{
		Now:             now,
		TicketsToday:    count,
		HasActiveTicket: hasActive,
	}); rej != nil {
		monitoring.RecordRejection(string(rej.Reason))
		return models.Ticket{}, false, rej
	}

	var ticket models.Ticket
	var createdNew bool
	err = e.withRetry(func() error {
		var retryErr error
		ticket, createdNew, retryErr = e.store.CreateTicket(ctx, store.CreateTicketInput{
			RequestID:     input.RequestID,
			BusinessID:    e.businessID,
			CustomerName:  input.CustomerName,
			CustomerPhone: input.CustomerPhone,
			ServiceName:   input.ServiceName,
			CreatedAt:     now,
		})
		return retryErr
	})
	if err != nil {
		// The gate passed but the store rejected inside the transaction:
		// another request took the last slot or the phone's active ticket.
		switch {
		case errors.Is(err, store.ErrDailyLimitReached):
			monitoring.RecordRejection(string(admission.DailyLimitReached))
		case errors.Is(err, store.ErrDuplicateActiveTicket):
			monitoring.RecordRejection(string(admission.DuplicateActiveTicket))
		}
		monitoring.RecordOperation("create", "error")
		return models.Ticket{}, false, err
	}
	monitoring.RecordOperation("create", "ok")
	return ticket, createdNew, nil
}

// ClaimNext moves the head of the line into service.
func (e *Engine) ClaimNext(ctx context.Context) (models.Ticket, error) {
	return e.mutate("claim", func() (models.Ticket, error) {
		return e.store.ClaimNext(ctx, e.businessID, e.now())
	})
}

// Complete marks the in-service ticket served and records the charge.
func (e *Engine) Complete(ctx context.Context, ticketID string, amount decimal.Decimal) (models.Ticket, error) {
	if amount.IsNegative() {
		return models.Ticket{}, &ValidationError{Field: "amount", Message: "must not be negative"}
	}
	return e.mutate("complete", func() (models.Ticket, error) {
		return e.store.CompleteTicket(ctx, store.CompleteTicketInput{
			BusinessID: e.businessID,
			TicketID:   ticketID,
			Amount:     amount,
			OccurredAt: e.now(),
		})
	})
}

// Return sends a ticket to the back of the waiting line, keeping its code.
func (e *Engine) Return(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.mutate("return", func() (models.Ticket, error) {
		return e.store.ReturnTicket(ctx, e.businessID, ticketID)
	})
}

// Cancel withdraws a waiting ticket on the customer's behalf. The phone
// must match the ticket; cancelling an already-terminal ticket is a no-op.
func (e *Engine) Cancel(ctx context.Context, ticketID, phone string) (models.Ticket, error) {
	if !phoneRe.MatchString(phone) {
		return models.Ticket{}, &ValidationError{Field: "customer_phone", Message: "8 to 15 digits"}
	}
	return e.mutate("cancel", func() (models.Ticket, error) {
		return e.store.CancelTicket(ctx, e.businessID, ticketID, phone)
	})
}

// NoShow marks a customer who did not come forward when called.
func (e *Engine) NoShow(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.mutate("no_show", func() (models.Ticket, error) {
		return e.store.NoShowTicket(ctx, e.businessID, ticketID)
	})
}

// Ticket returns one ticket by id.
func (e *Engine) Ticket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.store.GetTicket(ctx, e.businessID, ticketID)
}

// Estimate is a wait-time answer for one ticket or a would-be arrival.
type Estimate struct {
	TicketID         string `json:"ticket_id,omitempty"`
	Position         int    `json:"position"`
	AheadCount       int    `json:"ahead_count"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}

// EstimateWait computes the expected wait for ticketID, or for a new
// arrival when ticketID is empty. Position 0 means in service now.
func (e *Engine) EstimateWait(ctx context.Context, ticketID string) (Estimate, error) {
	now := e.now()
	inService, waiting, err := e.store.QueueSnapshot(ctx, e.businessID, models.BusinessDayOf(now))
	if err != nil {
		return Estimate{}, err
	}

	est := Estimate{TicketID: ticketID}
	if ticketID != "" {
		if inService != nil && inService.ID == ticketID {
			return est, nil
		}
		found := false
		for i, ticket := range waiting {
			if ticket.ID == ticketID {
				est.Position = i + 1
				est.AheadCount = i
				found = true
				break
			}
		}
		if !found {
			ticket, err := e.store.GetTicket(ctx, e.businessID, ticketID)
			if err != nil {
				return Estimate{}, err
			}
			if models.Terminal(ticket.Status) {
				return Estimate{}, store.ErrInvalidState
			}
			return Estimate{}, store.ErrTicketNotFound
		}
	} else {
		est.Position = len(waiting) + 1
		est.AheadCount = len(waiting)
	}

	durations := e.catalog.Snapshot().Durations
	est.EstimatedMinutes = estimator.Estimate(inService, waiting, durations, ticketID, now)
	if ticketID == "" {
		monitoring.RecordWaitEstimate(e.businessID, est.EstimatedMinutes)
	}
	return est, nil
}

// QueueView is the public state of the line right now.
type QueueView struct {
	BusinessDay    string             `json:"business_day"`
	InService      *models.Ticket     `json:"in_service,omitempty"`
	Waiting        []models.Ticket    `json:"waiting"`
	NewArrivalWait int                `json:"new_arrival_wait_minutes"`
	Break          *models.BreakState `json:"break,omitempty"`
}

// Snapshot returns the live queue plus the new-arrival estimate.
func (e *Engine) Snapshot(ctx context.Context) (QueueView, error) {
	now := e.now()
	day := models.BusinessDayOf(now)
	inService, waiting, err := e.store.QueueSnapshot(ctx, e.businessID, day)
	if err != nil {
		return QueueView{}, err
	}

	view := QueueView{
		BusinessDay:    day,
		InService:      inService,
		Waiting:        waiting,
		NewArrivalWait: estimator.Estimate(inService, waiting, e.catalog.Snapshot().Durations, "", now),
	}
	if brk := e.breaks.Get(ctx, e.businessID); brk.Active && brk.RemainingMinutes(now) > 0 {
		view.Break = &brk
	}
	return view, nil
}

// Stats returns the served/cancelled counters for one business day.
// An empty day means today.
func (e *Engine) Stats(ctx context.Context, day string) (store.DayStats, error) {
	if day == "" {
		day = models.BusinessDayOf(e.now())
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		return store.DayStats{}, &ValidationError{Field: "day", Message: "must be YYYY-MM-DD"}
	}
	return e.store.DayStats(ctx, e.businessID, day)
}

// Services lists the bookable services.
func (e *Engine) Services(ctx context.Context) ([]models.Service, error) {
	return e.store.ListServices(ctx, e.businessID)
}

// Subscribe registers for change notifications. Events are wake-up
// signals; subscribers re-read the snapshot on receipt.
func (e *Engine) Subscribe() (<-chan store.OutboxEvent, func()) {
	return e.hub.Subscribe(e.businessID)
}

// Events lists recorded queue events after a point in time, oldest first.
func (e *Engine) Events(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.store.ListOutboxEvents(ctx, e.businessID, after, "", limit)
}

// StartBreak pauses admission for the given number of minutes.
func (e *Engine) StartBreak(ctx context.Context, message string, minutes int) (models.BreakState, error) {
	if minutes <= 0 || minutes > 8*60 {
		return models.BreakState{}, &ValidationError{Field: "minutes", Message: "must be between 1 and 480"}
	}
	now := e.now()
	endsAt := now.Add(time.Duration(minutes) * time.Minute)
	if err := e.breaks.Start(ctx, e.businessID, message, endsAt, now); err != nil {
		return models.BreakState{}, err
	}
	e.broadcast("break_started")
	return models.BreakState{Active: true, EndsAt: endsAt, Message: message}, nil
}

// EndBreak resumes admission immediately.
func (e *Engine) EndBreak(ctx context.Context) error {
	if err := e.breaks.End(ctx, e.businessID); err != nil {
		return err
	}
	e.broadcast("break_ended")
	return nil
}

// Config returns the current admission configuration.
func (e *Engine) Config(ctx context.Context) (models.BusinessConfig, error) {
	return e.store.GetBusinessConfig(ctx, e.businessID)
}

// UpdateConfig validates and stores a new configuration, then refreshes
// the catalog so the gate sees it immediately.
func (e *Engine) UpdateConfig(ctx context.Context, cfg models.BusinessConfig) error {
	if !clockRe.MatchString(cfg.OpeningTime) {
		return &ValidationError{Field: "opening_time", Message: "must be HH:MM"}
	}
	if !clockRe.MatchString(cfg.ClosingTime) {
		return &ValidationError{Field: "closing_time", Message: "must be HH:MM"}
	}
	if cfg.OpeningTime >= cfg.ClosingTime {
		return &ValidationError{Field: "opening_time", Message: "must be before closing_time"}
	}
	if cfg.DailyTicketLimit < 0 {
		return &ValidationError{Field: "daily_ticket_limit", Message: "must not be negative"}
	}
	for _, day := range cfg.OperatingDays {
		if !validWeekday(day) {
			return &ValidationError{Field: "operating_days", Message: fmt.Sprintf("unknown weekday %q", day)}
		}
	}

	cfg.BusinessID = e.businessID
	if err := e.store.UpdateBusinessConfig(ctx, cfg); err != nil {
		return err
	}
	return e.catalog.Refresh(ctx)
}

func (e *Engine) mutate(action string, fn func() (models.Ticket, error)) (models.Ticket, error) {
	var ticket models.Ticket
	err := e.withRetry(func() error {
		var retryErr error
		ticket, retryErr = fn()
		return retryErr
	})
	if err != nil {
		monitoring.RecordOperation(action, "error")
		return models.Ticket{}, err
	}
	monitoring.RecordOperation(action, "ok")
	return ticket, nil
}

// withRetry replays fn on ErrConflict a bounded number of times. Every
// store mutation re-reads state inside its transaction, so a replay
// observes the winner's committed write.
func (e *Engine) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if err = fn(); !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return err
}

func (e *Engine) broadcast(eventType string) {
	e.hub.Broadcast(store.OutboxEvent{
		EventID:    uuid.NewString(),
		BusinessID: e.businessID,
		Type:       eventType,
		CreatedAt:  e.now(),
	})
}

func validWeekday(name string) bool {
	switch name {
	case "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday":
		return true
	}
	return false
}

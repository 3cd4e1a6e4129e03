// Package admission decides whether a new ticket request may proceed.
// The gate is a pure guard over a configuration snapshot and a handful of
// queue facts; it allocates nothing and never touches storage. The store
// re-enforces the cap and duplicate checks inside the insert transaction,
// so passing the gate and inserting leave no race window.
package admission

import (
	"fmt"
	"time"

	"github.com/Empredndedor/turnord-oficial/internal/models"
)

type Reason string

const (
	NotOperatingDay       Reason = "not_operating_day"
	OnBreak               Reason = "on_break"
	OutsideHours          Reason = "outside_hours"
	DailyLimitReached     Reason = "daily_limit_reached"
	DuplicateActiveTicket Reason = "duplicate_active_ticket"
)

// Rejection is a business-rule refusal, not a failure: the request was
// understood and turned down for a stated reason.
type Rejection struct {
	Reason           Reason
	Message          string
	RemainingMinutes int
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("admission rejected: %s", r.Reason)
}

// Facts are the queue observations the gate needs, read before the check.
type Facts struct {
	Now             time.Time
	TicketsToday    int
	HasActiveTicket bool
}

// Check runs the admission checks in order and reports the first failure,
// or nil when the request may proceed.
func Check(cfg models.BusinessConfig, brk models.BreakState, facts Facts) *Rejection {
	if !cfg.OperatesOn(facts.Now.Weekday()) {
		return &Rejection{
			Reason:  NotOperatingDay,
			Message: "the business does not operate today",
		}
	}

	if remaining := brk.RemainingMinutes(facts.Now); remaining > 0 {
		message := brk.Message
		if message == "" {
			message = "on a short break, back soon"
		}
		return &Rejection{
			Reason:           OnBreak,
			Message:          message,
			RemainingMinutes: remaining,
		}
	}

	clock := facts.Now.Format("15:04")
	if clock < cfg.OpeningTime || clock > cfg.ClosingTime {
		return &Rejection{
			Reason:  OutsideHours,
			Message: fmt.Sprintf("tickets are issued between %s and %s", cfg.OpeningTime, cfg.ClosingTime),
		}
	}

	if cfg.DailyTicketLimit > 0 && facts.TicketsToday >= cfg.DailyTicketLimit {
		return &Rejection{
			Reason:  DailyLimitReached,
			Message: fmt.Sprintf("the daily limit of %d tickets was reached", cfg.DailyTicketLimit),
		}
	}

	if facts.HasActiveTicket {
		return &Rejection{
			Reason:  DuplicateActiveTicket,
			Message: "this phone number already has an active ticket",
		}
	}

	return nil
}

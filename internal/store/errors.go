package store

import "errors"

var (
	ErrTicketNotFound        = errors.New("ticket not found")
	ErrServiceNotFound       = errors.New("service not found")
	ErrBusinessNotFound      = errors.New("business not found")
	ErrNoTicket              = errors.New("no ticket available")
	ErrInvalidState          = errors.New("invalid ticket state")
	ErrActiveTicket          = errors.New("another ticket is in service")
	ErrDailyLimitReached     = errors.New("daily ticket limit reached")
	ErrDuplicateActiveTicket = errors.New("phone already has an active ticket")

	// ErrConflict marks a concurrent-update collision that callers may
	// retry with freshly read state, as opposed to a final rejection.
	ErrConflict = errors.New("concurrent update conflict")
)

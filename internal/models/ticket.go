package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket is one customer's place in the walk-in queue. The code is the
// display identifier handed to the customer (A07); the id is internal.
type Ticket struct {
	ID            string           `json:"ticket_id"`
	BusinessID    string           `json:"business_id"`
	Code          string           `json:"code"`
	CustomerName  string           `json:"customer_name"`
	CustomerPhone string           `json:"customer_phone"`
	ServiceName   string           `json:"service_name,omitempty"`
	Status        string           `json:"status"`
	QueueOrder    int              `json:"queue_order"`
	BusinessDay   string           `json:"business_day"`
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	ChargedAmount *decimal.Decimal `json:"charged_amount,omitempty"`
	RequestID     string           `json:"request_id,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusInService = "in_service"
	StatusServed    = "served"
	StatusReturned  = "returned"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

// Active reports whether the ticket still occupies the queue.
func Active(status string) bool {
	return status == StatusWaiting || status == StatusInService
}

// Terminal reports whether the ticket can no longer transition.
func Terminal(status string) bool {
	switch status {
	case StatusServed, StatusReturned, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// BusinessDayOf formats the calendar day used to scope codes and caps.
func BusinessDayOf(t time.Time) string {
	return t.Format("2006-01-02")
}

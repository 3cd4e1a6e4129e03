package models

import "time"

// BusinessConfig is the read-mostly admission configuration. Times are
// local wall-clock in "HH:MM"; OperatingDays holds English weekday names.
type BusinessConfig struct {
	BusinessID       string   `json:"business_id"`
	OpeningTime      string   `json:"opening_time"`
	ClosingTime      string   `json:"closing_time"`
	DailyTicketLimit int      `json:"daily_ticket_limit"`
	OperatingDays    []string `json:"operating_days"`
}

// OperatesOn reports whether the weekday is an operating day.
func (c BusinessConfig) OperatesOn(day time.Weekday) bool {
	name := day.String()
	for _, d := range c.OperatingDays {
		if d == name {
			return true
		}
	}
	return false
}

// BreakState is the transient "back soon" pause. It expires on its own:
// once now passes EndsAt the state reads as inactive.
type BreakState struct {
	Active  bool      `json:"active"`
	EndsAt  time.Time `json:"ends_at,omitempty"`
	Message string    `json:"message,omitempty"`
}

// RemainingMinutes is the break time left, rounded up, never negative.
func (b BreakState) RemainingMinutes(now time.Time) int {
	if !b.Active || !b.EndsAt.After(now) {
		return 0
	}
	remaining := b.EndsAt.Sub(now)
	minutes := int(remaining / time.Minute)
	if remaining%time.Minute != 0 {
		minutes++
	}
	return minutes
}

// Service is one catalog entry: a bookable service and how long it takes.
type Service struct {
	BusinessID      string `json:"business_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Active          bool   `json:"active"`
}

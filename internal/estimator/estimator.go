// Package estimator computes wait-time estimates. Estimate is a pure
// function of the queue snapshot, the service catalog and the clock, so
// re-estimating without a state change always yields the same answer.
package estimator

import (
	"time"

	"github.com/Empredndedor/turnord-oficial/internal/models"
)

// FallbackDurationMinutes is used when a service is unknown or the ticket
// carries no service at all.
const FallbackDurationMinutes = 25

// Durations maps service name to duration in minutes.
type Durations map[string]int

// ServiceDuration resolves a service's duration with the fallback applied.
func ServiceDuration(durations Durations, service string) int {
	if minutes, ok := durations[service]; ok && minutes > 0 {
		return minutes
	}
	return FallbackDurationMinutes
}

// Estimate returns the minutes until targetID reaches the front: the
// remaining time of the in-service ticket plus the durations of every
// waiting ticket strictly ahead of the target. An empty targetID (or a
// target not present in the waiting list) estimates for a new arrival
// joining the back of the line.
func Estimate(inService *models.Ticket, waiting []models.Ticket, durations Durations, targetID string, now time.Time) int {
	total := remaining(inService, durations, now)

	ahead := waiting
	if targetID != "" {
		for i, ticket := range waiting {
			if ticket.ID == targetID {
				ahead = waiting[:i]
				break
			}
		}
	}
	for _, ticket := range ahead {
		total += ServiceDuration(durations, ticket.ServiceName)
	}
	return total
}

func remaining(inService *models.Ticket, durations Durations, now time.Time) int {
	if inService == nil {
		return 0
	}
	duration := ServiceDuration(durations, inService.ServiceName)
	if inService.StartedAt == nil {
		return duration
	}
	elapsed := int(now.Sub(*inService.StartedAt) / time.Minute)
	if elapsed >= duration {
		return 0
	}
	return duration - elapsed
}

// Package monitoring exposes Prometheus metrics for the queue engine.
package monitoring

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Empredndedor/turnord-oficial/internal/models"
	"github.com/Empredndedor/turnord-oficial/internal/store"
)

var (
	waitingDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_waiting_depth",
			Help: "Current number of waiting tickets per business",
		},
		[]string{"business_id"},
	)

	ticketOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_operations_total",
			Help: "Total ticket operations by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	admissionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_rejections_total",
			Help: "Ticket requests turned down by the admission gate",
		},
		[]string{"reason"},
	)

	waitEstimate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_wait_estimate_minutes",
			Help: "Last estimated wait for a new arrival per business",
		},
		[]string{"business_id"},
	)
)

// RecordOperation counts one ticket action with its outcome.
func RecordOperation(action, outcome string) {
	ticketOperations.WithLabelValues(action, outcome).Inc()
}

// RecordRejection counts one admission refusal.
func RecordRejection(reason string) {
	admissionRejections.WithLabelValues(reason).Inc()
}

// RecordWaitEstimate publishes the latest new-arrival estimate.
func RecordWaitEstimate(businessID string, minutes int) {
	waitEstimate.WithLabelValues(businessID).Set(float64(minutes))
}

// Monitor samples queue depth from the store on an interval. The
// location decides which business day the sample reads.
type Monitor struct {
	store      store.TicketStore
	businessID string
	loc        *time.Location
}

func NewMonitor(st store.TicketStore, businessID string, loc *time.Location) *Monitor {
	if loc == nil {
		loc = time.UTC
	}
	return &Monitor{store: st, businessID: businessID, loc: loc}
}

// Run updates the depth gauge until the context is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_, waiting, err := m.store.QueueSnapshot(ctx, m.businessID, models.BusinessDayOf(now.In(m.loc)))
			if err != nil {
				log.Printf("queue depth sample failed business_id=%s err=%v", m.businessID, err)
				continue
			}
			waitingDepth.WithLabelValues(m.businessID).Set(float64(len(waiting)))
		}
	}
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/igm/sockjs-go/sockjs"

	"github.com/Empredndedor/turnord-oficial/internal/engine"
)

type realtimeEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RealtimeHandler bridges the notification hub to SockJS clients. Each
// connection gets its own subscription; messages are queue change
// signals and the client re-fetches /api/queue when one arrives.
func RealtimeHandler(e *engine.Engine) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		events, cancel := e.Subscribe()
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, err := session.Recv(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				msg, err := json.Marshal(realtimeEnvelope{
					Type:      ev.Type,
					Payload:   ev.Payload,
					CreatedAt: ev.CreatedAt,
				})
				if err != nil {
					continue
				}
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}
	})
}

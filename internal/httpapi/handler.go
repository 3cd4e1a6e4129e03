// Package httpapi exposes the queue engine over JSON HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Empredndedor/turnord-oficial/internal/admission"
	"github.com/Empredndedor/turnord-oficial/internal/engine"
	"github.com/Empredndedor/turnord-oficial/internal/models"
	"github.com/Empredndedor/turnord-oficial/internal/store"
)

type Handler struct {
	engine *engine.Engine
}

func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleCreateTicket)
	mux.HandleFunc("/api/tickets/actions/claim-next", h.handleClaimNext)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/estimate", h.handleQueueEstimate)
	mux.HandleFunc("/api/stats", h.handleStats)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/config", h.handleConfig)
	mux.HandleFunc("/api/break", h.handleBreak)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	RemainingMinutes int    `json:"remaining_minutes,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req engine.RequestTicketInput
	if !decodeRequest(w, r, &req) {
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	req.ServiceName = strings.TrimSpace(req.ServiceName)

	ticket, createdNew, err := h.engine.RequestTicket(r.Context(), req)
	if err != nil {
		writeEngineError(w, req.RequestID, err)
		return
	}
	status := http.StatusOK
	if createdNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, ticket)
}

func (h *Handler) handleClaimNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ticket, err := h.engine.ClaimNext(r.Context())
	if err != nil {
		writeEngineError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// handleTicket serves GET /api/tickets/{id}, GET /api/tickets/{id}/estimate
// and POST /api/tickets/{id}/actions/{action}.
func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetTicket(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "estimate" && r.Method == http.MethodGet:
		h.handleTicketEstimate(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && r.Method == http.MethodPost:
		h.handleTicketAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, err := h.engine.Ticket(r.Context(), ticketID)
	if err != nil {
		writeEngineError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketEstimate(w http.ResponseWriter, r *http.Request, ticketID string) {
	est, err := h.engine.EstimateWait(r.Context(), ticketID)
	if err != nil {
		writeEngineError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

type completeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type cancelRequest struct {
	CustomerPhone string `json:"customer_phone"`
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	var err error
	var ticket interface{}

	switch action {
	case "complete":
		var req completeRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		ticket, err = h.engine.Complete(r.Context(), ticketID, req.Amount)
	case "return":
		ticket, err = h.engine.Return(r.Context(), ticketID)
	case "cancel":
		var req cancelRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		ticket, err = h.engine.Cancel(r.Context(), ticketID, strings.TrimSpace(req.CustomerPhone))
	case "no-show":
		ticket, err = h.engine.NoShow(r.Context(), ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err != nil {
		writeEngineError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	view, err := h.engine.Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleQueueEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	est, err := h.engine.EstimateWait(r.Context(), "")
	if err != nil {
		writeEngineError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.engine.Stats(r.Context(), strings.TrimSpace(r.URL.Query().Get("day")))
	if err != nil {
		writeEngineError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	services, err := h.engine.Services(r.Context())
	if err != nil {
		writeEngineError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := h.engine.Config(r.Context())
		if err != nil {
			writeEngineError(w, "", err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		var cfg struct {
			OpeningTime      string   `json:"opening_time"`
			ClosingTime      string   `json:"closing_time"`
			DailyTicketLimit int      `json:"daily_ticket_limit"`
			OperatingDays    []string `json:"operating_days"`
		}
		if !decodeRequest(w, r, &cfg) {
			return
		}
		err := h.engine.UpdateConfig(r.Context(), models.BusinessConfig{
			OpeningTime:      cfg.OpeningTime,
			ClosingTime:      cfg.ClosingTime,
			DailyTicketLimit: cfg.DailyTicketLimit,
			OperatingDays:    cfg.OperatingDays,
		})
		if err != nil {
			writeEngineError(w, "", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type breakRequest struct {
	Message string `json:"message"`
	Minutes int    `json:"minutes"`
}

func (h *Handler) handleBreak(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req breakRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		state, err := h.engine.StartBreak(r.Context(), strings.TrimSpace(req.Message), req.Minutes)
		if err != nil {
			writeEngineError(w, "", err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	case http.MethodDelete:
		if err := h.engine.EndBreak(r.Context()); err != nil {
			writeEngineError(w, "", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	after := time.Now().Add(-time.Hour).UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be RFC3339")
			return
		}
		after = parsed
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}
		limit = parsed
	}

	events, err := h.engine.Events(r.Context(), after, limit)
	if err != nil {
		writeEngineError(w, "", err)
		return
	}
	if events == nil {
		events = []store.OutboxEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

// writeEngineError translates engine and store errors into the JSON
// envelope. Admission refusals are 422: the request was understood and
// turned down by a business rule, not malformed and not a conflict.
func writeEngineError(w http.ResponseWriter, requestID string, err error) {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", verr.Error())
		return
	}

	var rej *admission.Rejection
	if errors.As(err, &rej) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			RequestID: requestID,
			Error: responseError{
				Code:             string(rej.Reason),
				Message:          rej.Message,
				RemainingMinutes: rej.RemainingMinutes,
			},
		})
		return
	}

	status, code, msg := mapError(err)
	writeError(w, requestID, status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrBusinessNotFound):
		return http.StatusNotFound, "business_not_found", "business not found"
	case errors.Is(err, store.ErrNoTicket):
		return http.StatusConflict, "queue_empty", "no tickets waiting"
	case errors.Is(err, store.ErrActiveTicket):
		return http.StatusConflict, "already_serving", "another ticket is in service"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "concurrent update, retry the request"
	case errors.Is(err, store.ErrDailyLimitReached):
		return http.StatusUnprocessableEntity, "daily_limit_reached", "the daily ticket limit was reached"
	case errors.Is(err, store.ErrDuplicateActiveTicket):
		return http.StatusUnprocessableEntity, "duplicate_active_ticket", "this phone already has an active ticket"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

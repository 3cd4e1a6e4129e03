package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Empredndedor/turnord-oficial/internal/admission"
	"github.com/Empredndedor/turnord-oficial/internal/catalog"
	"github.com/Empredndedor/turnord-oficial/internal/models"
	"github.com/Empredndedor/turnord-oficial/internal/notify"
	"github.com/Empredndedor/turnord-oficial/internal/store"
)

const testBusiness = "barberia0001"

type fakeStore struct {
	store.TicketStore

	createTicket   func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error)
	claimNext      func(ctx context.Context, businessID string, now time.Time) (models.Ticket, error)
	cancelTicket   func(ctx context.Context, businessID, ticketID, phone string) (models.Ticket, error)
	queueSnapshot  func(ctx context.Context, businessID, businessDay string) (*models.Ticket, []models.Ticket, error)
	getTicket      func(ctx context.Context, businessID, ticketID string) (models.Ticket, error)
	countForDay    func(ctx context.Context, businessID, businessDay string) (int, error)
	activeForPhone func(ctx context.Context, businessID, phone string) (models.Ticket, bool, error)
}

func (f *fakeStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	return f.createTicket(ctx, input)
}

func (f *fakeStore) ClaimNext(ctx context.Context, businessID string, now time.Time) (models.Ticket, error) {
	return f.claimNext(ctx, businessID, now)
}

func (f *fakeStore) CancelTicket(ctx context.Context, businessID, ticketID, phone string) (models.Ticket, error) {
	return f.cancelTicket(ctx, businessID, ticketID, phone)
}

func (f *fakeStore) QueueSnapshot(ctx context.Context, businessID, businessDay string) (*models.Ticket, []models.Ticket, error) {
	return f.queueSnapshot(ctx, businessID, businessDay)
}

func (f *fakeStore) GetTicket(ctx context.Context, businessID, ticketID string) (models.Ticket, error) {
	return f.getTicket(ctx, businessID, ticketID)
}

func (f *fakeStore) CountTicketsForDay(ctx context.Context, businessID, businessDay string) (int, error) {
	if f.countForDay != nil {
		return f.countForDay(ctx, businessID, businessDay)
	}
	return 0, nil
}

func (f *fakeStore) ActiveTicketForPhone(ctx context.Context, businessID, phone string) (models.Ticket, bool, error) {
	if f.activeForPhone != nil {
		return f.activeForPhone(ctx, businessID, phone)
	}
	return models.Ticket{}, false, nil
}

func (f *fakeStore) GetBusinessConfig(ctx context.Context, businessID string) (models.BusinessConfig, error) {
	return models.BusinessConfig{
		BusinessID:       businessID,
		OpeningTime:      "08:00",
		ClosingTime:      "20:00",
		DailyTicketLimit: 50,
		OperatingDays:    []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"},
	}, nil
}

func (f *fakeStore) ListServices(ctx context.Context, businessID string) ([]models.Service, error) {
	return []models.Service{
		{BusinessID: businessID, Name: "corte", DurationMinutes: 30, Active: true},
		{BusinessID: businessID, Name: "barba", DurationMinutes: 15, Active: true},
	}, nil
}

type fakeBreaks struct {
	state    models.BreakState
	startErr error
}

func (f *fakeBreaks) Start(_ context.Context, _, message string, endsAt, _ time.Time) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.state = models.BreakState{Active: true, EndsAt: endsAt, Message: message}
	return nil
}

func (f *fakeBreaks) End(context.Context, string) error {
	f.state = models.BreakState{}
	return nil
}

func (f *fakeBreaks) Get(context.Context, string) models.BreakState {
	return f.state
}

func newTestEngine(t *testing.T, st *fakeStore) (*Engine, *fakeBreaks, *notify.Hub) {
	t.Helper()
	cat := catalog.New(st, testBusiness)
	if err := cat.Refresh(context.Background()); err != nil {
		t.Fatalf("catalog refresh: %v", err)
	}
	brk := &fakeBreaks{}
	hub := notify.NewHub()
	e := New(st, cat, brk, hub, testBusiness, time.UTC)
	e.now = func() time.Time {
		return time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC)
	}
	return e, brk, hub
}

func validRequest() RequestTicketInput {
	return RequestTicketInput{
		RequestID:     "req-1",
		CustomerName:  "María Pérez",
		CustomerPhone: "8095551234",
		ServiceName:   "corte",
	}
}

func TestRequestTicketValidation(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeStore{})

	cases := []struct {
		name  string
		mod   func(*RequestTicketInput)
		field string
	}{
		{"missing request id", func(in *RequestTicketInput) { in.RequestID = "" }, "request_id"},
		{"short name", func(in *RequestTicketInput) { in.CustomerName = "A" }, "customer_name"},
		{"name with digits", func(in *RequestTicketInput) { in.CustomerName = "Ana123" }, "customer_name"},
		{"short phone", func(in *RequestTicketInput) { in.CustomerPhone = "123" }, "customer_phone"},
		{"phone with letters", func(in *RequestTicketInput) { in.CustomerPhone = "80955512ab" }, "customer_phone"},
	}
	for _, tt := range cases {
		input := validRequest()
		tt.mod(&input)
		_, _, err := e.RequestTicket(context.Background(), input)
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != tt.field {
			t.Fatalf("%s: expected validation error on %s, got %v", tt.name, tt.field, err)
		}
	}
}

func TestRequestTicketCreates(t *testing.T) {
	var got store.CreateTicketInput
	st := &fakeStore{
		createTicket: func(_ context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
			got = input
			return models.Ticket{ID: "t1", Code: "A01", Status: models.StatusWaiting}, true, nil
		},
	}
	e, _, _ := newTestEngine(t, st)

	ticket, createdNew, err := e.RequestTicket(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("request ticket: %v", err)
	}
	if !createdNew || ticket.Code != "A01" {
		t.Fatalf("unexpected result: %+v createdNew=%v", ticket, createdNew)
	}
	if got.BusinessID != testBusiness || got.RequestID != "req-1" {
		t.Fatalf("store input not propagated: %+v", got)
	}
}

func TestRequestTicketUsesBusinessLocalClock(t *testing.T) {
	var got store.CreateTicketInput
	st := &fakeStore{
		createTicket: func(_ context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
			got = input
			return models.Ticket{ID: "t1", Code: "A01", Status: models.StatusWaiting}, true, nil
		},
	}
	e, _, _ := newTestEngine(t, st)

	// 23:30 UTC is 19:30 at the business, still inside the 08:00-20:00
	// window, and still the same business day.
	local := time.FixedZone("AST", -4*60*60)
	e.now = func() time.Time {
		return time.Date(2025, time.June, 2, 23, 30, 0, 0, time.UTC).In(local)
	}

	if _, _, err := e.RequestTicket(context.Background(), validRequest()); err != nil {
		t.Fatalf("request inside local hours rejected: %v", err)
	}
	if day := models.BusinessDayOf(got.CreatedAt); day != "2025-06-02" {
		t.Fatalf("business day %q, want 2025-06-02", day)
	}
}

func TestNewDefaultsClockToLocation(t *testing.T) {
	st := &fakeStore{}
	cat := catalog.New(st, testBusiness)
	if err := cat.Refresh(context.Background()); err != nil {
		t.Fatalf("catalog refresh: %v", err)
	}
	local := time.FixedZone("AST", -4*60*60)
	e := New(st, cat, &fakeBreaks{}, notify.NewHub(), testBusiness, local)
	if got := e.now().Location(); got != local {
		t.Fatalf("engine clock location %v, want %v", got, local)
	}
}

func TestRequestTicketRejectedOnBreak(t *testing.T) {
	e, brk, _ := newTestEngine(t, &fakeStore{
		createTicket: func(context.Context, store.CreateTicketInput) (models.Ticket, bool, error) {
			t.Fatal("store should not be reached when the gate rejects")
			return models.Ticket{}, false, nil
		},
	})
	brk.state = models.BreakState{Active: true, EndsAt: time.Date(2025, time.June, 2, 10, 20, 0, 0, time.UTC), Message: "almuerzo"}

	_, _, err := e.RequestTicket(context.Background(), validRequest())
	var rej *admission.Rejection
	if !errors.As(err, &rej) || rej.Reason != admission.OnBreak {
		t.Fatalf("expected OnBreak rejection, got %v", err)
	}
	if rej.RemainingMinutes != 20 {
		t.Fatalf("remaining minutes %d, want 20", rej.RemainingMinutes)
	}
}

func TestRequestTicketRejectedDailyLimit(t *testing.T) {
	st := &fakeStore{
		countForDay: func(context.Context, string, string) (int, error) { return 50, nil },
	}
	e, _, _ := newTestEngine(t, st)

	_, _, err := e.RequestTicket(context.Background(), validRequest())
	var rej *admission.Rejection
	if !errors.As(err, &rej) || rej.Reason != admission.DailyLimitReached {
		t.Fatalf("expected DailyLimitReached, got %v", err)
	}
}

func TestRequestTicketRetriesOnConflict(t *testing.T) {
	attempts := 0
	st := &fakeStore{
		createTicket: func(context.Context, store.CreateTicketInput) (models.Ticket, bool, error) {
			attempts++
			if attempts < 3 {
				return models.Ticket{}, false, store.ErrConflict
			}
			return models.Ticket{ID: "t1", Code: "A01"}, true, nil
		},
	}
	e, _, _ := newTestEngine(t, st)

	_, _, err := e.RequestTicket(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts %d, want 3", attempts)
	}
}

func TestRequestTicketGivesUpAfterRetries(t *testing.T) {
	attempts := 0
	st := &fakeStore{
		createTicket: func(context.Context, store.CreateTicketInput) (models.Ticket, bool, error) {
			attempts++
			return models.Ticket{}, false, store.ErrConflict
		},
	}
	e, _, _ := newTestEngine(t, st)

	_, _, err := e.RequestTicket(context.Background(), validRequest())
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict after retries, got %v", err)
	}
	if attempts != conflictRetries {
		t.Fatalf("attempts %d, want %d", attempts, conflictRetries)
	}
}

func TestClaimNextMapsStoreErrors(t *testing.T) {
	st := &fakeStore{
		claimNext: func(context.Context, string, time.Time) (models.Ticket, error) {
			return models.Ticket{}, store.ErrNoTicket
		},
	}
	e, _, _ := newTestEngine(t, st)

	if _, err := e.ClaimNext(context.Background()); !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("expected ErrNoTicket, got %v", err)
	}
}

func TestCompleteRejectsNegativeAmount(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeStore{})
	_, err := e.Complete(context.Background(), "t1", decimal.NewFromInt(-5))
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "amount" {
		t.Fatalf("expected amount validation error, got %v", err)
	}
}

func TestCancelValidatesPhone(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeStore{})
	_, err := e.Cancel(context.Background(), "t1", "nope")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "customer_phone" {
		t.Fatalf("expected phone validation error, got %v", err)
	}
}

func TestEstimateWait(t *testing.T) {
	started := time.Date(2025, time.June, 2, 9, 50, 0, 0, time.UTC)
	inService := &models.Ticket{ID: "t0", ServiceName: "corte", Status: models.StatusInService, StartedAt: &started}
	waiting := []models.Ticket{
		{ID: "t1", ServiceName: "barba", Status: models.StatusWaiting},
		{ID: "t2", ServiceName: "corte", Status: models.StatusWaiting},
	}
	st := &fakeStore{
		queueSnapshot: func(context.Context, string, string) (*models.Ticket, []models.Ticket, error) {
			return inService, waiting, nil
		},
	}
	e, _, _ := newTestEngine(t, st)

	// The in-service ticket has no wait left.
	est, err := e.EstimateWait(context.Background(), "t0")
	if err != nil {
		t.Fatalf("estimate t0: %v", err)
	}
	if est.Position != 0 || est.EstimatedMinutes != 0 {
		t.Fatalf("in-service estimate: %+v", est)
	}

	// Second in line: 20 left of the corte plus the barba ahead.
	est, err = e.EstimateWait(context.Background(), "t2")
	if err != nil {
		t.Fatalf("estimate t2: %v", err)
	}
	if est.Position != 2 || est.AheadCount != 1 || est.EstimatedMinutes != 35 {
		t.Fatalf("t2 estimate: %+v", est)
	}

	// A new arrival waits for the whole line.
	est, err = e.EstimateWait(context.Background(), "")
	if err != nil {
		t.Fatalf("estimate new arrival: %v", err)
	}
	if est.Position != 3 || est.EstimatedMinutes != 65 {
		t.Fatalf("new arrival estimate: %+v", est)
	}
}

func TestEstimateWaitTerminalTicket(t *testing.T) {
	st := &fakeStore{
		queueSnapshot: func(context.Context, string, string) (*models.Ticket, []models.Ticket, error) {
			return nil, nil, nil
		},
		getTicket: func(context.Context, string, string) (models.Ticket, error) {
			return models.Ticket{ID: "t9", Status: models.StatusServed}, nil
		},
	}
	e, _, _ := newTestEngine(t, st)

	if _, err := e.EstimateWait(context.Background(), "t9"); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for served ticket, got %v", err)
	}
}

func TestSnapshotIncludesBreak(t *testing.T) {
	st := &fakeStore{
		queueSnapshot: func(context.Context, string, string) (*models.Ticket, []models.Ticket, error) {
			return nil, []models.Ticket{{ID: "t1", ServiceName: "corte", Status: models.StatusWaiting}}, nil
		},
	}
	e, brk, _ := newTestEngine(t, st)
	brk.state = models.BreakState{Active: true, EndsAt: time.Date(2025, time.June, 2, 10, 30, 0, 0, time.UTC), Message: "almuerzo"}

	view, err := e.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if view.Break == nil || view.Break.Message != "almuerzo" {
		t.Fatalf("break missing from view: %+v", view)
	}
	if view.NewArrivalWait != 30 {
		t.Fatalf("new arrival wait %d, want 30", view.NewArrivalWait)
	}
	if len(view.Waiting) != 1 {
		t.Fatalf("waiting list: %+v", view.Waiting)
	}
}

func TestStartBreakBroadcasts(t *testing.T) {
	e, _, hub := newTestEngine(t, &fakeStore{})
	ch, cancel := hub.Subscribe(testBusiness)
	defer cancel()

	state, err := e.StartBreak(context.Background(), "almuerzo", 30)
	if err != nil {
		t.Fatalf("start break: %v", err)
	}
	if !state.Active || state.Message != "almuerzo" {
		t.Fatalf("break state: %+v", state)
	}

	select {
	case ev := <-ch:
		if ev.Type != "break_started" {
			t.Fatalf("event type %q", ev.Type)
		}
	default:
		t.Fatal("no break_started event broadcast")
	}

	if err := e.EndBreak(context.Background()); err != nil {
		t.Fatalf("end break: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Type != "break_ended" {
			t.Fatalf("event type %q", ev.Type)
		}
	default:
		t.Fatal("no break_ended event broadcast")
	}
}

func TestStartBreakValidatesMinutes(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeStore{})
	for _, minutes := range []int{0, -10, 500} {
		if _, err := e.StartBreak(context.Background(), "x", minutes); err == nil {
			t.Fatalf("expected validation error for %d minutes", minutes)
		}
	}
}

func TestUpdateConfigValidation(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeStore{})

	cases := []struct {
		name string
		cfg  models.BusinessConfig
	}{
		{"bad opening", models.BusinessConfig{OpeningTime: "8am", ClosingTime: "18:00"}},
		{"bad closing", models.BusinessConfig{OpeningTime: "08:00", ClosingTime: "25:00"}},
		{"inverted hours", models.BusinessConfig{OpeningTime: "18:00", ClosingTime: "08:00"}},
		{"negative limit", models.BusinessConfig{OpeningTime: "08:00", ClosingTime: "18:00", DailyTicketLimit: -1}},
		{"bad weekday", models.BusinessConfig{OpeningTime: "08:00", ClosingTime: "18:00", OperatingDays: []string{"Lunes"}}},
	}
	for _, tt := range cases {
		var verr *ValidationError
		if err := e.UpdateConfig(context.Background(), tt.cfg); !errors.As(err, &verr) {
			t.Fatalf("%s: expected validation error, got %v", tt.name, err)
		}
	}
}

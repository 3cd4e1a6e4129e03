// Package postgres implements the ticket store on PostgreSQL. Every
// mutation runs in one transaction and every state change is a
// conditional UPDATE guarded by the source status, so two staff members
// racing on the same ticket resolve to one winner and one ErrInvalidState.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Empredndedor/turnord-oficial/internal/models"
	"github.com/Empredndedor/turnord-oficial/internal/sequence"
	"github.com/Empredndedor/turnord-oficial/internal/store"
)

const ticketColumns = `ticket_id, business_id, code, customer_name, customer_phone,
	service_name, status, queue_order, business_day, created_at, started_at,
	charged_amount, request_id`

type Store struct {
	pool    *pgxpool.Pool
	letters sequence.Letterer
}

type Options struct {
	Letters sequence.Letterer
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	return &Store{pool: pool, letters: options.Letters}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findTicketByRequestID(ctx, tx, input.BusinessID, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return existing, false, nil
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	businessDay := models.BusinessDayOf(createdAt)

	// All allocations for one business day happen under the same advisory
	// lock: the sequence upsert, the queue_order max and the cap recheck
	// cannot interleave with a concurrent create or return.
	if err = lockBusinessDay(ctx, tx, input.BusinessID, businessDay); err != nil {
		return models.Ticket{}, false, err
	}

	limit, err := dailyLimit(ctx, tx, input.BusinessID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if limit > 0 {
		var count int
		if err = tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM tickets WHERE business_id = $1 AND business_day = $2
		`, input.BusinessID, businessDay).Scan(&count); err != nil {
			return models.Ticket{}, false, err
		}
		if count >= limit {
			err = store.ErrDailyLimitReached
			return models.Ticket{}, false, err
		}
	}

	var hasActive bool
	if err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets
			WHERE business_id = $1 AND customer_phone = $2 AND status IN ('waiting', 'in_service')
		)
	`, input.BusinessID, input.CustomerPhone).Scan(&hasActive); err != nil {
		return models.Ticket{}, false, err
	}
	if hasActive {
		err = store.ErrDuplicateActiveTicket
		return models.Ticket{}, false, err
	}

	seq, err := nextTicketNumber(ctx, tx, input.BusinessID, businessDay)
	if err != nil {
		return models.Ticket{}, false, err
	}
	code := sequence.Format(s.letters.LetterFor(createdAt), int(seq))

	queueOrder, err := nextQueueOrder(ctx, tx, input.BusinessID, businessDay)
	if err != nil {
		return models.Ticket{}, false, err
	}

	ticketID := uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, business_id, code, customer_name, customer_phone,
			service_name, status, queue_order, business_day, created_at, request_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+ticketColumns+`
	`, ticketID, input.BusinessID, code, input.CustomerName, input.CustomerPhone,
		input.ServiceName, models.StatusWaiting, queueOrder, businessDay, createdAt, input.RequestID)

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The request id landed concurrently; hand back the winner.
			existing, found, err = findTicketByRequestID(ctx, tx, input.BusinessID, input.RequestID)
			if err != nil {
				return models.Ticket{}, false, err
			}
			if !found {
				err = store.ErrConflict
				return models.Ticket{}, false, err
			}
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, false, err
			}
			return existing, false, nil
		}
		err = mapPgError(err)
		return models.Ticket{}, false, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket_created", ticket); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		err = mapPgError(err)
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) GetTicket(ctx context.Context, businessID, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE business_id = $1 AND ticket_id = $2
	`, businessID, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ClaimNext(ctx context.Context, businessID string, now time.Time) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if now.IsZero() {
		now = time.Now().UTC()
	}
	businessDay := models.BusinessDayOf(now)

	var busy bool
	if err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tickets WHERE business_id = $1 AND status = 'in_service')
	`, businessID).Scan(&busy); err != nil {
		return models.Ticket{}, err
	}
	if busy {
		err = store.ErrActiveTicket
		return models.Ticket{}, err
	}

	row := tx.QueryRow(ctx, `
		WITH next AS (
			SELECT ticket_id FROM tickets
			WHERE business_id = $1 AND business_day = $2 AND status = 'waiting'
			ORDER BY queue_order, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE tickets t
		SET status = 'in_service', started_at = $3
		FROM next
		WHERE t.ticket_id = next.ticket_id
		RETURNING `+ticketColumns,
		businessID, businessDay, now)

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoTicket
			return models.Ticket{}, err
		}
		// The partial unique index on in_service backs the pre-check
		// against a concurrent claim that slipped past it.
		err = mapPgError(err)
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket_claimed", ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		err = mapPgError(err)
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CompleteTicket(ctx context.Context, input store.CompleteTicketInput) (models.Ticket, error) {
	return s.updateTicketStatus(ctx, transition{
		businessID: input.BusinessID,
		ticketID:   input.TicketID,
		action:     "complete",
		from:       []string{models.StatusInService},
		eventType:  "ticket_served",
		set:        "status = 'served', charged_amount = $3",
		args:       []any{input.Amount},
	})
}

func (s *Store) ReturnTicket(ctx context.Context, businessID, ticketID string) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	current, err := getTicketByID(ctx, tx, businessID, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}

	// queue_order allocation shares the advisory lock with CreateTicket so
	// a returned ticket lands strictly behind every existing order.
	if err = lockBusinessDay(ctx, tx, businessID, current.BusinessDay); err != nil {
		return models.Ticket{}, err
	}
	queueOrder, err := nextQueueOrder(ctx, tx, businessID, current.BusinessDay)
	if err != nil {
		return models.Ticket{}, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = 'waiting', queue_order = $3, started_at = NULL
		WHERE business_id = $1 AND ticket_id = $2 AND status IN ('waiting', 'in_service')
		RETURNING `+ticketColumns,
		businessID, ticketID, queueOrder)

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrInvalidState
			return models.Ticket{}, err
		}
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket_returned", ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CancelTicket(ctx context.Context, businessID, ticketID, phone string) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	current, err := getTicketByID(ctx, tx, businessID, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	// A wrong phone reads the same as a missing ticket on purpose.
	if current.CustomerPhone != phone {
		err = store.ErrTicketNotFound
		return models.Ticket{}, err
	}
	if models.Terminal(current.Status) {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, err
		}
		return current, nil
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = 'cancelled'
		WHERE business_id = $1 AND ticket_id = $2 AND status = 'waiting'
		RETURNING `+ticketColumns,
		businessID, ticketID)

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrInvalidState
			return models.Ticket{}, err
		}
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket_cancelled", ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) NoShowTicket(ctx context.Context, businessID, ticketID string) (models.Ticket, error) {
	return s.updateTicketStatus(ctx, transition{
		businessID: businessID,
		ticketID:   ticketID,
		action:     "no_show",
		from:       []string{models.StatusWaiting, models.StatusInService},
		eventType:  "ticket_no_show",
		set:        "status = 'no_show', started_at = NULL",
	})
}

func (s *Store) QueueSnapshot(ctx context.Context, businessID, businessDay string) (*models.Ticket, []models.Ticket, error) {
	// The in-service lookup is business-wide, matching the claim guard
	// and the uq_tickets_in_service index: a ticket still open from an
	// earlier day blocks claims, so it must show up here too.
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE business_id = $1
		  AND (status = 'in_service' OR (status = 'waiting' AND business_day = $2))
		ORDER BY queue_order, created_at
	`, businessID, businessDay)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var inService *models.Ticket
	var waiting []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, nil, err
		}
		if ticket.Status == models.StatusInService {
			t := ticket
			inService = &t
			continue
		}
		waiting = append(waiting, ticket)
	}
	return inService, waiting, rows.Err()
}

func (s *Store) CountTicketsForDay(ctx context.Context, businessID, businessDay string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets WHERE business_id = $1 AND business_day = $2
	`, businessID, businessDay).Scan(&count)
	return count, err
}

func (s *Store) ActiveTicketForPhone(ctx context.Context, businessID, phone string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE business_id = $1 AND customer_phone = $2 AND status IN ('waiting', 'in_service')
		LIMIT 1
	`, businessID, phone)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) ListServices(ctx context.Context, businessID string) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT business_id, name, duration_minutes, active
		FROM services WHERE business_id = $1
		ORDER BY name
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.BusinessID, &svc.Name, &svc.DurationMinutes, &svc.Active); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func (s *Store) GetBusinessConfig(ctx context.Context, businessID string) (models.BusinessConfig, error) {
	var cfg models.BusinessConfig
	err := s.pool.QueryRow(ctx, `
		SELECT business_id, opening_time, closing_time, daily_ticket_limit, operating_days
		FROM business_config WHERE business_id = $1
	`, businessID).Scan(&cfg.BusinessID, &cfg.OpeningTime, &cfg.ClosingTime, &cfg.DailyTicketLimit, &cfg.OperatingDays)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BusinessConfig{}, store.ErrBusinessNotFound
		}
		return models.BusinessConfig{}, err
	}
	return cfg, nil
}

func (s *Store) UpdateBusinessConfig(ctx context.Context, cfg models.BusinessConfig) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO business_config (business_id, opening_time, closing_time, daily_ticket_limit, operating_days)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (business_id) DO UPDATE SET
			opening_time = EXCLUDED.opening_time,
			closing_time = EXCLUDED.closing_time,
			daily_ticket_limit = EXCLUDED.daily_ticket_limit,
			operating_days = EXCLUDED.operating_days
	`, cfg.BusinessID, cfg.OpeningTime, cfg.ClosingTime, cfg.DailyTicketLimit, cfg.OperatingDays); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{"business_id": cfg.BusinessID})
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, business_id, event_type, payload, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, uuid.NewString(), cfg.BusinessID, "config_updated", payload, time.Now().UTC()); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) DayStats(ctx context.Context, businessID, businessDay string) (store.DayStats, error) {
	stats := store.DayStats{BusinessDay: businessDay}
	var total decimal.NullDecimal
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'served'),
			COALESCE(SUM(charged_amount) FILTER (WHERE status = 'served'), 0),
			COUNT(*) FILTER (WHERE status = 'waiting'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE status = 'no_show')
		FROM tickets
		WHERE business_id = $1 AND business_day = $2
	`, businessID, businessDay).Scan(&stats.ServedCount, &total, &stats.Waiting, &stats.Cancelled, &stats.NoShows)
	if err != nil {
		return store.DayStats{}, err
	}
	if total.Valid {
		stats.TotalCharged = total.Decimal
	}
	return stats, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, businessID string, after time.Time, afterID string, limit int) ([]store.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, business_id, event_type, payload, created_at
		FROM outbox_events
		WHERE business_id = $1 AND (created_at, event_id) > ($2, $3)
		ORDER BY created_at, event_id
		LIMIT $4
	`, businessID, after, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var ev store.OutboxEvent
		if err := rows.Scan(&ev.EventID, &ev.BusinessID, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// transition describes one conditional status update: the source statuses
// that may take it and the SET clause, whose extra args start at $3.
type transition struct {
	businessID string
	ticketID   string
	action     string
	from       []string
	eventType  string
	set        string
	args       []any
}

func (s *Store) updateTicketStatus(ctx context.Context, tr transition) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	args := append([]any{tr.businessID, tr.ticketID}, tr.args...)
	statusArg := len(args) + 1
	args = append(args, tr.from)

	row := tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE tickets
		SET %s
		WHERE business_id = $1 AND ticket_id = $2 AND status = ANY($%d)
		RETURNING %s`, tr.set, statusArg, ticketColumns), args...)

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Tell a missing ticket apart from one in the wrong state. If
			// the transition table says the current status should have
			// matched, a concurrent writer moved it between our read and
			// now, which is retryable.
			var current models.Ticket
			if current, err = getTicketByID(ctx, tx, tr.businessID, tr.ticketID); err != nil {
				return models.Ticket{}, err
			}
			if store.ValidTransition(tr.action, current.Status) {
				err = store.ErrConflict
			} else {
				err = store.ErrInvalidState
			}
			return models.Ticket{}, err
		}
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, tr.eventType, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func lockBusinessDay(ctx context.Context, tx pgx.Tx, businessID, businessDay string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, businessID+":"+businessDay)
	return err
}

func dailyLimit(ctx context.Context, tx pgx.Tx, businessID string) (int, error) {
	var limit int
	err := tx.QueryRow(ctx, `
		SELECT daily_ticket_limit FROM business_config WHERE business_id = $1
	`, businessID).Scan(&limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return limit, err
}

func nextTicketNumber(ctx context.Context, tx pgx.Tx, businessID, businessDay string) (int64, error) {
	var seq int64
	err := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (business_id, business_day, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (business_id, business_day)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, businessID, businessDay).Scan(&seq)
	return seq, err
}

func nextQueueOrder(ctx context.Context, tx pgx.Tx, businessID, businessDay string) (int, error) {
	var order int
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_order), 0) + 1 FROM tickets
		WHERE business_id = $1 AND business_day = $2
	`, businessID, businessDay).Scan(&order)
	return order, err
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, businessID, requestID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE business_id = $1 AND request_id = $2
	`, businessID, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func getTicketByID(ctx context.Context, tx pgx.Tx, businessID, ticketID string) (models.Ticket, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE business_id = $1 AND ticket_id = $2
	`, businessID, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket) error {
	payload, err := json.Marshal(map[string]string{
		"ticket_id": ticket.ID,
		"code":      ticket.Code,
		"status":    ticket.Status,
	})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, business_id, event_type, payload, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, uuid.NewString(), ticket.BusinessID, eventType, payload, time.Now().UTC())
	return err
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var startedAt sql.NullTime
	var charged decimal.NullDecimal
	err := row.Scan(
		&ticket.ID, &ticket.BusinessID, &ticket.Code, &ticket.CustomerName, &ticket.CustomerPhone,
		&ticket.ServiceName, &ticket.Status, &ticket.QueueOrder, &ticket.BusinessDay, &ticket.CreatedAt,
		&startedAt, &charged, &ticket.RequestID,
	)
	if err != nil {
		return models.Ticket{}, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		ticket.StartedAt = &t
	}
	if charged.Valid {
		d := charged.Decimal
		ticket.ChargedAmount = &d
	}
	return ticket, nil
}

// mapPgError turns unique-index violations into the sentinel the caller
// can act on. The partial indexes back the in-transaction pre-checks, so
// a violation here always means a concurrent writer won the race.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "uq_tickets_active_phone":
		return store.ErrDuplicateActiveTicket
	case "uq_tickets_in_service":
		return store.ErrActiveTicket
	default:
		return store.ErrConflict
	}
}

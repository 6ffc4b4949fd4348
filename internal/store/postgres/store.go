package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/registrar-queue/internal/models"
	"qms/registrar-queue/internal/queue"
	"qms/registrar-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `ticket_id::text, batch_number, service_id::text, service_type, booking_date::text, time_window,
	queue_position, status, COALESCE(request_id::text, ''), created_at, called_at, completed_at, cancelled_at,
	visitor_name, visitor_external_id, visitor_email`

type Store struct {
	pool *pgxpool.Pool
}

// Advisory lock namespaces, the first key of the two-key lock form.
const (
	lockSlot int32 = iota + 1
	lockEventChain
	lockOutbox
)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_id::text, name, service_key, service_type
		FROM services
		ORDER BY service_type ASC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, service)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return services, nil
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT service_id::text, name, service_key, service_type
		FROM services
		WHERE service_id = $1
	`, serviceID)
	service, err := scanService(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	return service, nil
}

func (s *Store) SlotCounts(ctx context.Context, bookingDate string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT time_window, COUNT(*)
		FROM tickets
		WHERE booking_date = $1::date AND time_window IS NOT NULL AND status <> 'cancelled'
		GROUP BY time_window
	`, bookingDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var window string
		var count int
		if err := rows.Scan(&window, &count); err != nil {
			return nil, err
		}
		counts[window] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if input.RequestID != "" {
		existing, found, err := findTicketByRequestID(ctx, tx, input.RequestID)
		if err != nil {
			return models.Ticket{}, false, err
		}
		if found {
			return existing, false, nil
		}
	}

	service, err := lookupService(ctx, tx, input.ServiceID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	policy, err := queue.PolicyFor(service.ServiceType)
	if err != nil {
		return models.Ticket{}, false, err
	}

	if service.ServiceType == models.ServiceStandard {
		count, countErr := countSlot(ctx, tx, input.BookingDate, input.TimeWindow)
		admitted, err := input.Admission.Admit(count, countErr)
		if err != nil {
			return models.Ticket{}, false, fmt.Errorf("%w: %v", store.ErrAdmissionUnavailable, err)
		}
		if !admitted {
			return models.Ticket{}, false, store.ErrSlotFull
		}
	}

	seq, err := nextBatchSequence(ctx, tx, policy.Prefix(), input.BatchDate.Format(queue.DateLayout))
	if err != nil {
		return models.Ticket{}, false, err
	}
	position, err := nextQueuePosition(ctx, tx, service.ServiceType, policy.PositionScope(input.BookingDate))
	if err != nil {
		return models.Ticket{}, false, err
	}

	createdAt := dbTime(input.CreatedAt)
	if createdAt.IsZero() {
		createdAt = dbTime(time.Now())
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, request_id, batch_number, service_id, service_type, booking_date, time_window,
			queue_position, status, visitor_name, visitor_external_id, visitor_email, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+ticketColumns,
		uuid.NewString(), nullIfEmpty(input.RequestID), queue.FormatBatchNumber(policy.Prefix(), input.BatchDate, seq),
		service.ServiceID, string(service.ServiceType), nullIfEmpty(input.BookingDate), nullIfEmpty(input.TimeWindow),
		position, string(policy.InitialStatus()), input.VisitorName, input.VisitorID, input.VisitorEmail, createdAt)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent request with the same id won; drop the numbers
			// drawn here and return its ticket.
			_ = tx.Rollback(ctx)
			existing, err := s.ticketByRequestID(ctx, input.RequestID)
			if err != nil {
				return models.Ticket{}, false, err
			}
			return existing, false, nil
		}
		return models.Ticket{}, false, err
	}

	if err = recordTicketEvent(ctx, tx, ticket, store.EventTicketCreated, createdAt); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListQueue(ctx context.Context, queueType models.ServiceType, filter store.QueueFilter) ([]models.Ticket, error) {
	policy, err := queue.PolicyFor(queueType)
	if err != nil {
		return nil, err
	}
	statuses := effectiveStatuses(policy.ListedStatuses(), filter.Statuses)
	if len(statuses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE service_type = $1 AND status = ANY($2)`
	args := []interface{}{string(queueType), statuses}
	if filter.BookingDate != "" {
		query += " AND booking_date = $3::date"
		args = append(args, filter.BookingDate)
	}
	query += " ORDER BY " + orderClause(policy.OrderKeys())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

// CallNext serialises on the queue's summary row, so two operators calling
// the same queue never pick the same ticket.
func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, bool, error) {
	policy, err := queue.PolicyFor(input.QueueType)
	if err != nil {
		return models.Ticket{}, false, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err = lockQueueStatus(ctx, tx, input.QueueType); err != nil {
		return models.Ticket{}, false, err
	}

	nextID, status, err := selectNextTicket(ctx, tx, policy, input.Today)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	if !store.CanTransition(status, models.StatusNowServing) {
		return models.Ticket{}, false, store.ErrInvalidState
	}

	calledAt := dbTime(input.CalledAt)
	if calledAt.IsZero() {
		calledAt = dbTime(time.Now())
	}

	served, err := completeServing(ctx, tx, input.QueueType, calledAt)
	if err != nil {
		return models.Ticket{}, false, err
	}
	for _, ticket := range served {
		if err = recordTicketEvent(ctx, tx, ticket, store.EventTicketCompleted, calledAt); err != nil {
			return models.Ticket{}, false, err
		}
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = 'now_serving',
			called_at = $2
		WHERE ticket_id = $1
		RETURNING `+ticketColumns, nextID, calledAt)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if err = recordTicketEvent(ctx, tx, ticket, store.EventTicketCalled, calledAt); err != nil {
		return models.Ticket{}, false, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE queue_status
		SET current_batch_number = $2,
			current_time_window = $3,
			last_updated = $4
		WHERE queue_type = $1
	`, string(input.QueueType), ticket.BatchNumber, ticket.Window(), calledAt)
	if err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.finishTicket(ctx, input, models.StatusCompleted)
}

func (s *Store) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.finishTicket(ctx, input, models.StatusCancelled)
}

func (s *Store) GetQueueStatus(ctx context.Context) ([]models.QueueStatus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT queue_type, current_batch_number, current_time_window, last_updated
		FROM queue_status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byType := make(map[models.ServiceType]models.QueueStatus)
	for rows.Next() {
		var status models.QueueStatus
		var queueType string
		if err := rows.Scan(&queueType, &status.CurrentBatchNumber, &status.CurrentTimeWindow, &status.LastUpdated); err != nil {
			return nil, err
		}
		status.QueueType = models.ServiceType(queueType)
		byType[status.QueueType] = status
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var statuses []models.QueueStatus
	for _, policy := range queue.Policies() {
		status, ok := byType[policy.Type()]
		if !ok {
			status = models.QueueStatus{QueueType: policy.Type()}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id::text, ticket_seq, type, payload::text, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TicketEvent
	for rows.Next() {
		var event store.TicketEvent
		var payload string
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = json.RawMessage(payload)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Every ticket has at least its creation event.
	if len(events) == 0 {
		return nil, store.ErrTicketNotFound
	}
	return events, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id::text, type, payload_json::text, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		var payload string
		if err := rows.Scan(&event.Seq, &event.EventID, &event.Type, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Payload = json.RawMessage(payload)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetRelayOffset(ctx context.Context, consumer string) (int64, error) {
	var value int64
	row := s.pool.QueryRow(ctx, `
		SELECT last_seq
		FROM outbox_offsets
		WHERE consumer = $1
	`, consumer)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return value, nil
}

func (s *Store) UpdateRelayOffset(ctx context.Context, consumer string, seq int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outbox_offsets (consumer, last_seq)
		VALUES ($1, $2)
		ON CONFLICT (consumer) DO UPDATE SET last_seq = EXCLUDED.last_seq
	`, consumer, seq)
	return err
}

// finishTicket moves a ticket into a terminal state under a row lock.
// Repeating the same terminal state reports changed=false.
func (s *Store) finishTicket(ctx context.Context, input store.TicketActionInput, to models.Status) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1 FOR UPDATE`, input.TicketID)
	current, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, store.ErrTicketNotFound
		}
		return models.Ticket{}, false, err
	}
	if current.Status == to {
		return current, false, nil
	}
	if !store.CanTransition(current.Status, to) {
		return models.Ticket{}, false, store.ErrInvalidState
	}

	occurredAt := dbTime(input.OccurredAt)
	if occurredAt.IsZero() {
		occurredAt = dbTime(time.Now())
	}

	column, eventType := "completed_at", store.EventTicketCompleted
	if to == models.StatusCancelled {
		column, eventType = "cancelled_at", store.EventTicketCancelled
	}
	row = tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE tickets
		SET status = $2,
			%s = $3
		WHERE ticket_id = $1
		RETURNING `+ticketColumns, column), input.TicketID, string(to), occurredAt)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, false, err
	}

	if err = recordTicketEvent(ctx, tx, ticket, eventType, occurredAt); err != nil {
		return models.Ticket{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) ticketByRequestID(ctx context.Context, requestID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE request_id = $1`, requestID)
	return scanTicket(row)
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE request_id = $1`, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func lookupService(ctx context.Context, tx pgx.Tx, serviceID string) (models.Service, error) {
	row := tx.QueryRow(ctx, `
		SELECT service_id::text, name, service_key, service_type
		FROM services
		WHERE service_id = $1
	`, serviceID)
	service, err := scanService(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	return service, nil
}

// countSlot takes the slot's advisory lock and counts its live bookings
// inside a savepoint. A failure rolls back only the savepoint, so the caller
// can still admit under a fail-open policy.
func countSlot(ctx context.Context, tx pgx.Tx, bookingDate, timeWindow string) (int, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := sp.Exec(ctx, `SELECT pg_advisory_xact_lock($1::int4, hashtext($2))`, lockSlot, slotLockKey(bookingDate, timeWindow)); err != nil {
		_ = sp.Rollback(ctx)
		return 0, err
	}
	var count int
	row := sp.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE booking_date = $1::date AND time_window = $2 AND status <> 'cancelled'
	`, bookingDate, timeWindow)
	if err := row.Scan(&count); err != nil {
		_ = sp.Rollback(ctx)
		return 0, err
	}
	if err := sp.Commit(ctx); err != nil {
		return 0, err
	}
	return count, nil
}

func slotLockKey(bookingDate, timeWindow string) string {
	return "slot:" + bookingDate + "|" + timeWindow
}

func nextBatchSequence(ctx context.Context, tx pgx.Tx, prefix, batchDate string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO batch_sequences (prefix, batch_date, last_value)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (prefix, batch_date)
		DO UPDATE SET last_value = batch_sequences.last_value + 1
		RETURNING last_value
	`, prefix, batchDate)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func nextQueuePosition(ctx context.Context, tx pgx.Tx, serviceType models.ServiceType, scope string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO position_sequences (service_type, scope, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (service_type, scope)
		DO UPDATE SET last_value = position_sequences.last_value + 1
		RETURNING last_value
	`, string(serviceType), scope)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func lockQueueStatus(ctx context.Context, tx pgx.Tx, queueType models.ServiceType) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO queue_status (queue_type)
		VALUES ($1)
		ON CONFLICT (queue_type) DO NOTHING
	`, string(queueType))
	if err != nil {
		return err
	}
	var locked string
	row := tx.QueryRow(ctx, `
		SELECT queue_type
		FROM queue_status
		WHERE queue_type = $1
		FOR UPDATE
	`, string(queueType))
	return row.Scan(&locked)
}

func selectNextTicket(ctx context.Context, tx pgx.Tx, policy queue.Policy, today string) (string, models.Status, error) {
	query, args := nextTicketQuery(policy, today)
	var ticketID, status string
	if err := tx.QueryRow(ctx, query, args...).Scan(&ticketID, &status); err != nil {
		return "", "", err
	}
	return ticketID, models.Status(status), nil
}

func nextTicketQuery(policy queue.Policy, today string) (string, []interface{}) {
	query := `
		SELECT ticket_id::text, status
		FROM tickets
		WHERE service_type = $1 AND status = ANY($2)`
	args := []interface{}{string(policy.Type()), statusStrings(policy.CallableStatuses())}
	if policy.DateBound() {
		query += " AND booking_date >= $3::date"
		args = append(args, today)
	}
	query += `
		ORDER BY ` + orderClause(policy.OrderKeys()) + `
		LIMIT 1
		FOR UPDATE SKIP LOCKED`
	return query, args
}

func completeServing(ctx context.Context, tx pgx.Tx, queueType models.ServiceType, at time.Time) ([]models.Ticket, error) {
	rows, err := tx.Query(ctx, `
		UPDATE tickets
		SET status = 'completed',
			completed_at = $2
		WHERE service_type = $1 AND status = 'now_serving'
		RETURNING `+ticketColumns, string(queueType), at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

// recordTicketEvent appends to the ticket's hash chain and queues the same
// payload for the outbox relay. The outbox lock is held until commit, so
// outbox seq values become visible in the order they were drawn and the relay
// offset never passes an uncommitted row. It must be the last lock a writer
// takes apart from the chain lock.
func recordTicketEvent(ctx context.Context, tx pgx.Tx, ticket models.Ticket, eventType string, at time.Time) error {
	payload, err := store.EventPayload(ticket)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1::int4, 0)`, lockOutbox); err != nil {
		return err
	}
	createdAt := dbTime(at)
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3::json, $4)
	`, uuid.NewString(), eventType, string(payload), createdAt)
	if err != nil {
		return err
	}
	return insertTicketEvent(ctx, tx, ticket.TicketID, eventType, payload, createdAt)
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, ticketID, eventType string, payload []byte, createdAt time.Time) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1::int4, hashtext($2))`, lockEventChain, ticketID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
		FOR UPDATE
	`, ticketID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	hash := store.ComputeTicketEventHash(prev, ticketID, eventType, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4::json, $5, $6, $7)
	`, ticketID, nextSeq, eventType, string(payload), createdAt, prev, hash)
	return err
}

func orderClause(keys []queue.OrderKey) string {
	columns := make([]string, 0, len(keys))
	for _, key := range keys {
		switch key {
		case queue.OrderBookingDate:
			columns = append(columns, "booking_date ASC")
		case queue.OrderTimeWindow:
			columns = append(columns, "time_window ASC")
		case queue.OrderQueuePosition:
			columns = append(columns, "queue_position ASC")
		case queue.OrderCreatedAt:
			columns = append(columns, "created_at ASC")
		}
	}
	if len(columns) == 0 {
		return "created_at ASC"
	}
	return strings.Join(columns, ", ")
}

// effectiveStatuses narrows the policy's listed statuses to the requested
// ones, keeping the policy's order.
func effectiveStatuses(listed, requested []models.Status) []string {
	if len(requested) == 0 {
		return statusStrings(listed)
	}
	var statuses []string
	for _, status := range listed {
		for _, want := range requested {
			if status == want {
				statuses = append(statuses, string(status))
				break
			}
		}
	}
	return statuses
}

func statusStrings(values []models.Status) []string {
	out := make([]string, len(values))
	for i, value := range values {
		out[i] = string(value)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanService(row rowScanner) (models.Service, error) {
	var service models.Service
	var serviceType string
	if err := row.Scan(&service.ServiceID, &service.Name, &service.ServiceKey, &serviceType); err != nil {
		return models.Service{}, err
	}
	service.ServiceType = models.ServiceType(serviceType)
	return service, nil
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var serviceType, status string
	var bookingDate, timeWindow sql.NullString
	var calledAt, completedAt, cancelledAt sql.NullTime
	if err := row.Scan(
		&ticket.TicketID, &ticket.BatchNumber, &ticket.ServiceID, &serviceType, &bookingDate, &timeWindow,
		&ticket.QueuePosition, &status, &ticket.RequestID, &ticket.CreatedAt, &calledAt, &completedAt, &cancelledAt,
		&ticket.VisitorName, &ticket.VisitorID, &ticket.VisitorEmail,
	); err != nil {
		return models.Ticket{}, err
	}
	ticket.ServiceType = models.ServiceType(serviceType)
	ticket.Status = models.Status(status)
	ticket.BookingDate = nullStringPtr(bookingDate)
	ticket.TimeWindow = nullStringPtr(timeWindow)
	ticket.CalledAt = nullTimePtr(calledAt)
	ticket.CompletedAt = nullTimePtr(completedAt)
	ticket.CancelledAt = nullTimePtr(cancelledAt)
	return ticket, nil
}

// dbTime reduces t to the microsecond precision TIMESTAMPTZ keeps, so event
// hashes computed before insert still match the rows read back.
func dbTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

// Package memory is an in-process TicketStore. A single mutex makes every
// operation atomic, so it upholds the same invariants as the Postgres store
// within one process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"qms/registrar-queue/internal/models"
	"qms/registrar-queue/internal/queue"
	"qms/registrar-queue/internal/store"

	"github.com/google/uuid"
)

type batchKey struct {
	prefix string
	day    string
}

type positionKey struct {
	queueType models.ServiceType
	scope     string
}

type Store struct {
	mu           sync.Mutex
	services     map[string]models.Service
	serviceOrder []string
	tickets      map[string]*models.Ticket
	requests     map[string]string
	batchSeq     map[batchKey]int64
	positionSeq  map[positionKey]int
	status       map[models.ServiceType]models.QueueStatus
	events       map[string][]store.TicketEvent
	outbox       []store.OutboxEvent
	offsets      map[string]int64

	// countErr simulates a failing slot count.
	countErr error
}

// DefaultServices is the service catalog seeded by the initial migration.
func DefaultServices() []models.Service {
	return []models.Service{
		{ServiceID: "5d2c8a8e-0b53-4d8e-9a8f-2f6c1b7a0001", Name: "Add/Drop Subjects", ServiceKey: "add-drop", ServiceType: models.ServiceStandard},
		{ServiceID: "5d2c8a8e-0b53-4d8e-9a8f-2f6c1b7a0002", Name: "INC Clearance / Grade Correction", ServiceKey: "inc-clearance", ServiceType: models.ServiceStandard},
		{ServiceID: "5d2c8a8e-0b53-4d8e-9a8f-2f6c1b7a0003", Name: "Submit a Form", ServiceKey: "submit-form", ServiceType: models.ServiceExpress},
		{ServiceID: "5d2c8a8e-0b53-4d8e-9a8f-2f6c1b7a0004", Name: "Pick up a Document", ServiceKey: "pickup-doc", ServiceType: models.ServiceExpress},
		{ServiceID: "5d2c8a8e-0b53-4d8e-9a8f-2f6c1b7a0005", Name: "Ask a Quick Question", ServiceKey: "quick-question", ServiceType: models.ServiceExpress},
	}
}

func NewStore(services []models.Service) *Store {
	s := &Store{
		services:    make(map[string]models.Service),
		tickets:     make(map[string]*models.Ticket),
		requests:    make(map[string]string),
		batchSeq:    make(map[batchKey]int64),
		positionSeq: make(map[positionKey]int),
		status:      make(map[models.ServiceType]models.QueueStatus),
		events:      make(map[string][]store.TicketEvent),
		offsets:     make(map[string]int64),
	}
	for _, service := range services {
		s.services[service.ServiceID] = service
		s.serviceOrder = append(s.serviceOrder, service.ServiceID)
	}
	return s
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	services := make([]models.Service, 0, len(s.serviceOrder))
	for _, id := range s.serviceOrder {
		services = append(services, s.services[id])
	}
	sort.SliceStable(services, func(i, j int) bool {
		if services[i].ServiceType != services[j].ServiceType {
			return services[i].ServiceType < services[j].ServiceType
		}
		return services[i].Name < services[j].Name
	})
	return services, nil
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	service, ok := s.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return service, nil
}

func (s *Store) SlotCounts(ctx context.Context, bookingDate string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return nil, s.countErr
	}
	counts := make(map[string]int)
	for _, ticket := range s.tickets {
		if ticket.Status == models.StatusCancelled || ticket.Date() != bookingDate || ticket.TimeWindow == nil {
			continue
		}
		counts[*ticket.TimeWindow]++
	}
	return counts, nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if input.RequestID != "" {
		if ticketID, ok := s.requests[input.RequestID]; ok {
			return *s.tickets[ticketID], false, nil
		}
	}

	service, ok := s.services[input.ServiceID]
	if !ok {
		return models.Ticket{}, false, store.ErrServiceNotFound
	}
	policy, err := queue.PolicyFor(service.ServiceType)
	if err != nil {
		return models.Ticket{}, false, err
	}

	if service.ServiceType == models.ServiceStandard {
		count, countErr := s.slotCount(input.BookingDate, input.TimeWindow)
		admitted, err := input.Admission.Admit(count, countErr)
		if err != nil {
			return models.Ticket{}, false, fmt.Errorf("%w: %v", store.ErrAdmissionUnavailable, err)
		}
		if !admitted {
			return models.Ticket{}, false, store.ErrSlotFull
		}
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	bKey := batchKey{prefix: policy.Prefix(), day: input.BatchDate.Format(queue.DateLayout)}
	s.batchSeq[bKey]++
	pKey := positionKey{queueType: service.ServiceType, scope: policy.PositionScope(input.BookingDate)}
	s.positionSeq[pKey]++

	ticket := &models.Ticket{
		TicketID:      uuid.NewString(),
		BatchNumber:   queue.FormatBatchNumber(policy.Prefix(), input.BatchDate, s.batchSeq[bKey]),
		ServiceID:     service.ServiceID,
		ServiceType:   service.ServiceType,
		BookingDate:   optional(input.BookingDate),
		TimeWindow:    optional(input.TimeWindow),
		QueuePosition: s.positionSeq[pKey],
		Status:        policy.InitialStatus(),
		RequestID:     input.RequestID,
		CreatedAt:     createdAt,
		VisitorName:   input.VisitorName,
		VisitorID:     input.VisitorID,
		VisitorEmail:  input.VisitorEmail,
	}
	s.tickets[ticket.TicketID] = ticket
	if input.RequestID != "" {
		s.requests[input.RequestID] = ticket.TicketID
	}
	if err := s.appendEvent(*ticket, store.EventTicketCreated, createdAt); err != nil {
		return models.Ticket{}, false, err
	}
	return *ticket, true, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return *ticket, nil
}

func (s *Store) ListQueue(ctx context.Context, queueType models.ServiceType, filter store.QueueFilter) ([]models.Ticket, error) {
	policy, err := queue.PolicyFor(queueType)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var tickets []models.Ticket
	for _, ticket := range s.tickets {
		if !queue.Listed(policy, *ticket) {
			continue
		}
		if filter.BookingDate != "" && ticket.Date() != filter.BookingDate {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, ticket.Status) {
			continue
		}
		tickets = append(tickets, *ticket)
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		return policy.Less(tickets[i], tickets[j])
	})
	return tickets, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, bool, error) {
	policy, err := queue.PolicyFor(input.QueueType)
	if err != nil {
		return models.Ticket{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var next *models.Ticket
	for _, ticket := range s.tickets {
		if !queue.Callable(policy, *ticket, input.Today) {
			continue
		}
		if next == nil || policy.Less(*ticket, *next) {
			next = ticket
		}
	}
	if next == nil {
		return models.Ticket{}, false, nil
	}
	if !store.CanTransition(next.Status, models.StatusNowServing) {
		return models.Ticket{}, false, store.ErrInvalidState
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	for _, ticket := range s.tickets {
		if ticket.ServiceType != input.QueueType || ticket.Status != models.StatusNowServing {
			continue
		}
		if err := s.transition(ticket, models.StatusCompleted, calledAt); err != nil {
			return models.Ticket{}, false, err
		}
	}
	if err := s.transition(next, models.StatusNowServing, calledAt); err != nil {
		return models.Ticket{}, false, err
	}

	s.status[input.QueueType] = models.QueueStatus{
		QueueType:          input.QueueType,
		CurrentBatchNumber: next.BatchNumber,
		CurrentTimeWindow:  next.Window(),
		LastUpdated:        calledAt,
	}
	return *next, true, nil
}

func (s *Store) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.finish(input, models.StatusCompleted)
}

func (s *Store) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.finish(input, models.StatusCancelled)
}

func (s *Store) GetQueueStatus(ctx context.Context) ([]models.QueueStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var statuses []models.QueueStatus
	for _, policy := range queue.Policies() {
		status, ok := s.status[policy.Type()]
		if !ok {
			status = models.QueueStatus{QueueType: policy.Type()}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[ticketID]; !ok {
		return nil, store.ErrTicketNotFound
	}
	events := make([]store.TicketEvent, len(s.events[ticketID]))
	copy(events, s.events[ticketID])
	return events, nil
}

// FailSlotCounts makes every later slot count fail with err, or succeed
// again when err is nil.
func (s *Store) FailSlotCounts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countErr = err
}

func (s *Store) ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []store.OutboxEvent
	for _, event := range s.outbox {
		if event.Seq <= afterSeq {
			continue
		}
		events = append(events, event)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *Store) GetRelayOffset(ctx context.Context, consumer string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[consumer], nil
}

func (s *Store) UpdateRelayOffset(ctx context.Context, consumer string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[consumer] = seq
	return nil
}

// finish moves a ticket into a terminal state. Repeating the same terminal
// state is a no-op that reports changed=false.
func (s *Store) finish(input store.TicketActionInput, to models.Status) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[input.TicketID]
	if !ok {
		return models.Ticket{}, false, store.ErrTicketNotFound
	}
	if ticket.Status == to {
		return *ticket, false, nil
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	if err := s.transition(ticket, to, occurredAt); err != nil {
		return models.Ticket{}, false, err
	}
	return *ticket, true, nil
}

func (s *Store) transition(ticket *models.Ticket, to models.Status, at time.Time) error {
	if !store.CanTransition(ticket.Status, to) {
		return store.ErrInvalidState
	}
	stamp := at
	eventType := ""
	switch to {
	case models.StatusNowServing:
		ticket.CalledAt = &stamp
		eventType = store.EventTicketCalled
	case models.StatusCompleted:
		ticket.CompletedAt = &stamp
		eventType = store.EventTicketCompleted
	case models.StatusCancelled:
		ticket.CancelledAt = &stamp
		eventType = store.EventTicketCancelled
	}
	ticket.Status = to
	return s.appendEvent(*ticket, eventType, at)
}

func (s *Store) appendEvent(ticket models.Ticket, eventType string, at time.Time) error {
	payload, err := store.EventPayload(ticket)
	if err != nil {
		return err
	}
	events := s.events[ticket.TicketID]
	prev := ""
	if len(events) > 0 {
		prev = events[len(events)-1].Hash
	}
	seq := len(events) + 1
	createdAt := at.UTC()
	s.events[ticket.TicketID] = append(events, store.TicketEvent{
		TicketID:  ticket.TicketID,
		TicketSeq: seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prev,
		Hash:      store.ComputeTicketEventHash(prev, ticket.TicketID, eventType, payload, createdAt, seq),
	})
	s.outbox = append(s.outbox, store.OutboxEvent{
		Seq:       int64(len(s.outbox) + 1),
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
	})
	return nil
}

func (s *Store) slotCount(bookingDate, timeWindow string) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	count := 0
	for _, ticket := range s.tickets {
		if ticket.Status == models.StatusCancelled {
			continue
		}
		if ticket.Date() == bookingDate && ticket.Window() == timeWindow {
			count++
		}
	}
	return count, nil
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func hasStatus(values []models.Status, value models.Status) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}

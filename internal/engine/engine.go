// Package engine allocates tickets, advances the two registrar queues and
// answers queue queries. It validates requests, applies the service clock
// and time zone, and delegates every mutation to a TicketStore that commits
// it atomically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"qms/registrar-queue/internal/models"
	"qms/registrar-queue/internal/queue"
	"qms/registrar-queue/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxVisitorField = 255

// Projector serves the queue status summary to readers and is told when a
// call-next changed it.
type Projector interface {
	Status(ctx context.Context) ([]models.QueueStatus, error)
	Publish(ctx context.Context, queueType models.ServiceType) error
}

type Options struct {
	Admission queue.Admission
	Catalog   queue.Catalog
	// Location is the service time zone used for "today" and batch dates.
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

type Engine struct {
	store     store.TicketStore
	projector Projector
	admission queue.Admission
	catalog   queue.Catalog
	location  *time.Location
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

type CreateTicketRequest struct {
	RequestID string
	ServiceID string
	// ServiceType is optional; when set it must match the service.
	ServiceType  models.ServiceType
	BookingDate  string
	TimeWindow   string
	VisitorName  string
	VisitorID    string
	VisitorEmail string
}

// Booking is the result of CreateTicket. Created is false when the request
// id matched an earlier ticket.
type Booking struct {
	Ticket  models.Ticket  `json:"ticket"`
	Service models.Service `json:"service"`
	Created bool           `json:"created"`
}

type TicketHistory struct {
	Ticket models.Ticket       `json:"ticket"`
	Events []store.TicketEvent `json:"events"`
}

// New builds an Engine. projector may be nil, in which case status reads go
// straight to the store.
func New(ticketStore store.TicketStore, projector Projector, options Options) *Engine {
	catalog := options.Catalog
	if len(catalog.TimeWindows) == 0 {
		catalog = queue.DefaultCatalog()
	}
	location := options.Location
	if location == nil {
		location = time.UTC
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     ticketStore,
		projector: projector,
		admission: options.Admission,
		catalog:   catalog,
		location:  location,
		now:       now,
		logger:    logger,
		tracer:    otel.Tracer("qms/registrar-queue/engine"),
	}
}

func (e *Engine) CreateTicket(ctx context.Context, req CreateTicketRequest) (Booking, error) {
	var booking Booking
	err := e.instrument(ctx, "create_ticket", func(ctx context.Context, span trace.Span) (string, error) {
		var err error
		booking, err = e.createTicket(ctx, req)
		if err != nil {
			return "", err
		}
		span.SetAttributes(
			attribute.String("ticket.batch_number", booking.Ticket.BatchNumber),
			attribute.String("queue.type", string(booking.Ticket.ServiceType)),
		)
		if !booking.Created {
			return outcomeReplay, nil
		}
		return outcomeOK, nil
	})
	return booking, err
}

func (e *Engine) createTicket(ctx context.Context, req CreateTicketRequest) (Booking, error) {
	if req.RequestID != "" {
		if _, err := uuid.Parse(req.RequestID); err != nil {
			return Booking{}, invalid("request_id", "must be a UUID")
		}
	}
	if req.ServiceID == "" {
		return Booking{}, invalid("service_id", "is required")
	}
	if _, err := uuid.Parse(req.ServiceID); err != nil {
		return Booking{}, invalid("service_id", "must be a UUID")
	}
	if req.ServiceType != "" && !req.ServiceType.Valid() {
		return Booking{}, invalid("service_type", "must be standard or express")
	}
	if err := validateVisitor(req); err != nil {
		return Booking{}, err
	}

	service, err := e.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return Booking{}, err
	}
	if req.ServiceType != "" && req.ServiceType != service.ServiceType {
		return Booking{}, invalid("service_type", "does not match the service")
	}

	now := e.now()
	today := queue.Day(now, e.location)
	input := store.CreateTicketInput{
		RequestID:    req.RequestID,
		ServiceID:    service.ServiceID,
		BatchDate:    today,
		Admission:    e.admission,
		VisitorName:  req.VisitorName,
		VisitorID:    req.VisitorID,
		VisitorEmail: req.VisitorEmail,
		CreatedAt:    now.UTC(),
	}

	switch service.ServiceType {
	case models.ServiceStandard:
		if req.BookingDate == "" {
			return Booking{}, invalid("booking_date", "is required for standard services")
		}
		day, err := queue.ParseDate(req.BookingDate, e.location)
		if err != nil {
			return Booking{}, invalid("booking_date", "must be a date in YYYY-MM-DD form")
		}
		if day.Before(today) {
			return Booking{}, invalid("booking_date", "must not be in the past")
		}
		if req.TimeWindow == "" {
			return Booking{}, invalid("time_window", "is required for standard services")
		}
		if !e.catalog.HasWindow(req.TimeWindow) {
			return Booking{}, invalid("time_window", "is not a bookable time window")
		}
		input.BookingDate = day.Format(queue.DateLayout)
		input.TimeWindow = req.TimeWindow
	case models.ServiceExpress:
		if req.BookingDate != "" {
			return Booking{}, invalid("booking_date", "is not accepted for express services")
		}
		if req.TimeWindow != "" {
			return Booking{}, invalid("time_window", "is not accepted for express services")
		}
	}

	ticket, created, err := e.store.CreateTicket(ctx, input)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSlotFull):
			admissionDecisions.WithLabelValues("rejected").Inc()
		case errors.Is(err, store.ErrAdmissionUnavailable):
			admissionDecisions.WithLabelValues("unavailable").Inc()
		}
		return Booking{}, err
	}
	if created {
		ticketsIssued.WithLabelValues(string(ticket.ServiceType)).Inc()
		if ticket.ServiceType == models.ServiceStandard {
			admissionDecisions.WithLabelValues("admitted").Inc()
		}
		e.logger.Info("ticket issued",
			"ticket_id", ticket.TicketID,
			"batch_number", ticket.BatchNumber,
			"queue_type", ticket.ServiceType,
			"queue_position", ticket.QueuePosition,
		)
	}

	checklist := e.catalog.ChecklistFor(service.ServiceKey)
	service.Checklist = &checklist
	return Booking{Ticket: ticket, Service: service, Created: created}, nil
}

// CallNext serves the next eligible ticket of a queue. found is false when
// nobody is waiting; that is not an error and leaves the summary untouched.
func (e *Engine) CallNext(ctx context.Context, queueType models.ServiceType) (models.Ticket, bool, error) {
	var ticket models.Ticket
	var found bool
	err := e.instrument(ctx, "call_next", func(ctx context.Context, span trace.Span) (string, error) {
		span.SetAttributes(attribute.String("queue.type", string(queueType)))
		if !queueType.Valid() {
			return "", invalid("queue_type", "must be standard or express")
		}
		now := e.now()
		var err error
		ticket, found, err = e.store.CallNext(ctx, store.CallNextInput{
			QueueType: queueType,
			Today:     queue.Day(now, e.location).Format(queue.DateLayout),
			CalledAt:  now.UTC(),
		})
		if err != nil {
			return "", err
		}
		if !found {
			return outcomeEmpty, nil
		}
		span.SetAttributes(attribute.String("ticket.batch_number", ticket.BatchNumber))
		ticketsCalled.WithLabelValues(string(queueType)).Inc()
		e.logger.Info("ticket called",
			"ticket_id", ticket.TicketID,
			"batch_number", ticket.BatchNumber,
			"queue_type", queueType,
		)
		if e.projector != nil {
			if err := e.projector.Publish(ctx, queueType); err != nil {
				e.logger.Warn("queue status publish failed", "queue_type", queueType, "error", err)
			}
		}
		return outcomeOK, nil
	})
	return ticket, found, err
}

// Complete marks a ticket completed. Completing a completed ticket succeeds
// with changed=false and keeps the original completion time.
func (e *Engine) Complete(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
	return e.finish(ctx, "complete", ticketID, e.store.CompleteTicket)
}

func (e *Engine) Cancel(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
	return e.finish(ctx, "cancel", ticketID, e.store.CancelTicket)
}

func (e *Engine) finish(ctx context.Context, operation, ticketID string, apply func(context.Context, store.TicketActionInput) (models.Ticket, bool, error)) (models.Ticket, bool, error) {
	var ticket models.Ticket
	var changed bool
	err := e.instrument(ctx, operation, func(ctx context.Context, span trace.Span) (string, error) {
		span.SetAttributes(attribute.String("ticket.id", ticketID))
		if err := validateTicketID(ticketID); err != nil {
			return "", err
		}
		var err error
		ticket, changed, err = apply(ctx, store.TicketActionInput{TicketID: ticketID, OccurredAt: e.now().UTC()})
		if err != nil {
			return "", err
		}
		if !changed {
			return outcomeReplay, nil
		}
		return outcomeOK, nil
	})
	return ticket, changed, err
}

func (e *Engine) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if err := validateTicketID(ticketID); err != nil {
		return models.Ticket{}, err
	}
	return e.store.GetTicket(ctx, ticketID)
}

// GetQueue lists a queue in call order.
func (e *Engine) GetQueue(ctx context.Context, queueType models.ServiceType, filter store.QueueFilter) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := e.instrument(ctx, "get_queue", func(ctx context.Context, span trace.Span) (string, error) {
		if !queueType.Valid() {
			return "", invalid("queue_type", "must be standard or express")
		}
		if filter.BookingDate != "" {
			if _, err := queue.ParseDate(filter.BookingDate, e.location); err != nil {
				return "", invalid("date", "must be a date in YYYY-MM-DD form")
			}
		}
		for _, status := range filter.Statuses {
			if !status.Valid() {
				return "", invalid("status", fmt.Sprintf("unknown status %q", status))
			}
		}
		var err error
		tickets, err = e.store.ListQueue(ctx, queueType, filter)
		return outcomeOK, err
	})
	return tickets, err
}

func (e *Engine) GetStatus(ctx context.Context) ([]models.QueueStatus, error) {
	if e.projector != nil {
		return e.projector.Status(ctx)
	}
	return e.store.GetQueueStatus(ctx)
}

// ListServices returns the service catalog with each service's checklist.
func (e *Engine) ListServices(ctx context.Context) ([]models.Service, error) {
	services, err := e.store.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range services {
		checklist := e.catalog.ChecklistFor(services[i].ServiceKey)
		services[i].Checklist = &checklist
	}
	return services, nil
}

// SlotAvailability lists every bookable window of a date. When the counts
// cannot be read, fail-open admission shows every window as open.
func (e *Engine) SlotAvailability(ctx context.Context, bookingDate string) ([]models.SlotAvailability, error) {
	if _, err := queue.ParseDate(bookingDate, e.location); err != nil {
		return nil, invalid("date", "must be a date in YYYY-MM-DD form")
	}
	counts, err := e.store.SlotCounts(ctx, bookingDate)
	if err != nil {
		if _, admitErr := e.admission.Admit(0, err); admitErr != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrAdmissionUnavailable, err)
		}
		e.logger.Warn("slot counts unavailable, listing all windows open", "date", bookingDate, "error", err)
		counts = map[string]int{}
	}
	slots := make([]models.SlotAvailability, 0, len(e.catalog.TimeWindows))
	for _, window := range e.catalog.TimeWindows {
		slots = append(slots, e.admission.Availability(window, counts[window]))
	}
	return slots, nil
}

// CheckSlotAvailable applies the admission rule to one slot without booking.
func (e *Engine) CheckSlotAvailable(ctx context.Context, bookingDate, timeWindow string) (bool, error) {
	if _, err := queue.ParseDate(bookingDate, e.location); err != nil {
		return false, invalid("date", "must be a date in YYYY-MM-DD form")
	}
	if !e.catalog.HasWindow(timeWindow) {
		return false, invalid("time_window", "is not a bookable time window")
	}
	counts, countErr := e.store.SlotCounts(ctx, bookingDate)
	admitted, err := e.admission.Admit(counts[timeWindow], countErr)
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrAdmissionUnavailable, err)
	}
	return admitted, nil
}

// TicketHistory returns a ticket's event log after checking its hash chain.
func (e *Engine) TicketHistory(ctx context.Context, ticketID string) (TicketHistory, error) {
	if err := validateTicketID(ticketID); err != nil {
		return TicketHistory{}, err
	}
	events, err := e.store.ListTicketEvents(ctx, ticketID)
	if err != nil {
		return TicketHistory{}, err
	}
	if err := store.VerifyTicketEvents(events); err != nil {
		e.logger.Error("ticket event chain broken", "ticket_id", ticketID, "error", err)
		return TicketHistory{}, err
	}
	ticket, err := store.RehydrateTicket(events)
	if err != nil {
		return TicketHistory{}, err
	}
	return TicketHistory{Ticket: ticket, Events: events}, nil
}

func (e *Engine) instrument(ctx context.Context, operation string, fn func(context.Context, trace.Span) (string, error)) error {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine."+operation)
	defer span.End()

	outcome, err := fn(ctx, span)
	if err != nil {
		outcome = outcomeOf(err)
		if outcome == outcomeError {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Error("engine operation failed", "operation", operation, "error", err)
		}
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	observe(operation, started, outcome)
	return err
}

func validateTicketID(ticketID string) error {
	if ticketID == "" {
		return invalid("ticket_id", "is required")
	}
	if _, err := uuid.Parse(ticketID); err != nil {
		return invalid("ticket_id", "must be a UUID")
	}
	return nil
}

func validateVisitor(req CreateTicketRequest) error {
	if len(req.VisitorName) > maxVisitorField {
		return invalid("visitor_name", "is too long")
	}
	if len(req.VisitorID) > maxVisitorField {
		return invalid("visitor_external_id", "is too long")
	}
	if req.VisitorEmail != "" {
		if len(req.VisitorEmail) > maxVisitorField {
			return invalid("visitor_email", "is too long")
		}
		if _, err := mail.ParseAddress(req.VisitorEmail); err != nil {
			return invalid("visitor_email", "is not a valid address")
		}
	}
	return nil
}

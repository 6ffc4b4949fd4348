package store

import (
	"context"
	"encoding/json"
	"time"

	"qms/registrar-queue/internal/models"
	"qms/registrar-queue/internal/queue"
)

type CreateTicketInput struct {
	RequestID    string
	ServiceID    string
	BookingDate  string
	TimeWindow   string
	BatchDate    time.Time
	Admission    queue.Admission
	VisitorName  string
	VisitorID    string
	VisitorEmail string
	CreatedAt    time.Time
}

type CallNextInput struct {
	QueueType models.ServiceType
	// Today is the service-local date in queue.DateLayout.
	Today    string
	CalledAt time.Time
}

type TicketActionInput struct {
	TicketID   string
	OccurredAt time.Time
}

// QueueFilter narrows a queue listing. Zero values mean no narrowing beyond
// the queue policy.
type QueueFilter struct {
	BookingDate string
	Statuses    []models.Status
}

// TicketStore is the durable record of tickets and queue summaries. Every
// mutating method commits or fails as a single unit.
type TicketStore interface {
	ListServices(ctx context.Context) ([]models.Service, error)
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	SlotCounts(ctx context.Context, bookingDate string) (map[string]int, error)
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, bool, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListQueue(ctx context.Context, queueType models.ServiceType, filter QueueFilter) ([]models.Ticket, error)
	CallNext(ctx context.Context, input CallNextInput) (models.Ticket, bool, error)
	CompleteTicket(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	CancelTicket(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	GetQueueStatus(ctx context.Context) ([]models.QueueStatus, error)
	ListTicketEvents(ctx context.Context, ticketID string) ([]TicketEvent, error)
}

// OutboxEvent is a ticket event written in the same transaction as the
// change it describes. Seq orders events for relaying.
type OutboxEvent struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

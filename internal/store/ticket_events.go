package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/registrar-queue/internal/models"
)

const (
	EventTicketCreated   = "ticket.created"
	EventTicketCalled    = "ticket.called"
	EventTicketCompleted = "ticket.completed"
	EventTicketCancelled = "ticket.cancelled"
)

type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TicketID      string             `json:"ticket_id"`
	BatchNumber   string             `json:"batch_number"`
	Status        models.Status      `json:"status"`
	ServiceID     string             `json:"service_id"`
	ServiceType   models.ServiceType `json:"service_type"`
	BookingDate   *string            `json:"booking_date"`
	TimeWindow    *string            `json:"time_window"`
	QueuePosition int                `json:"queue_position"`
	CreatedAt     *time.Time         `json:"created_at"`
	CalledAt      *time.Time         `json:"called_at"`
	CompletedAt   *time.Time         `json:"completed_at"`
	CancelledAt   *time.Time         `json:"cancelled_at"`
}

// EventPayload is the JSON snapshot of a ticket recorded with each event.
// Visitor details are left out.
func EventPayload(ticket models.Ticket) ([]byte, error) {
	createdAt := ticket.CreatedAt
	return json.Marshal(eventPayload{
		TicketID:      ticket.TicketID,
		BatchNumber:   ticket.BatchNumber,
		Status:        ticket.Status,
		ServiceID:     ticket.ServiceID,
		ServiceType:   ticket.ServiceType,
		BookingDate:   ticket.BookingDate,
		TimeWindow:    ticket.TimeWindow,
		QueuePosition: ticket.QueuePosition,
		CreatedAt:     &createdAt,
		CalledAt:      ticket.CalledAt,
		CompletedAt:   ticket.CompletedAt,
		CancelledAt:   ticket.CancelledAt,
	})
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTicketEvents checks sequence numbers and hash links of one ticket's
// events, ordered by sequence.
func VerifyTicketEvents(events []TicketEvent) error {
	prev := ""
	for i, event := range events {
		if event.TicketSeq != i+1 {
			return fmt.Errorf("%w: ticket %s seq %d at position %d", ErrEventChainBroken, event.TicketID, event.TicketSeq, i+1)
		}
		if event.PrevHash != prev {
			return fmt.Errorf("%w: ticket %s seq %d prev hash mismatch", ErrEventChainBroken, event.TicketID, event.TicketSeq)
		}
		want := ComputeTicketEventHash(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if event.Hash != want {
			return fmt.Errorf("%w: ticket %s seq %d hash mismatch", ErrEventChainBroken, event.TicketID, event.TicketSeq)
		}
		prev = event.Hash
	}
	return nil
}

func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != "" {
			ticket.TicketID = payload.TicketID
		}
		if payload.BatchNumber != "" {
			ticket.BatchNumber = payload.BatchNumber
		}
		if payload.ServiceID != "" {
			ticket.ServiceID = payload.ServiceID
		}
		if payload.ServiceType != "" {
			ticket.ServiceType = payload.ServiceType
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		if payload.BookingDate != nil {
			ticket.BookingDate = payload.BookingDate
		}
		if payload.TimeWindow != nil {
			ticket.TimeWindow = payload.TimeWindow
		}
		if payload.QueuePosition != 0 {
			ticket.QueuePosition = payload.QueuePosition
		}
		if payload.CreatedAt != nil {
			ticket.CreatedAt = *payload.CreatedAt
		}
		if payload.CalledAt != nil {
			ticket.CalledAt = payload.CalledAt
		}
		if payload.CompletedAt != nil {
			ticket.CompletedAt = payload.CompletedAt
		}
		if payload.CancelledAt != nil {
			ticket.CancelledAt = payload.CancelledAt
		}
	}
	return ticket, nil
}

package models

import "time"

type ServiceType string

const (
	ServiceStandard ServiceType = "standard"
	ServiceExpress  ServiceType = "express"
)

func (t ServiceType) Valid() bool {
	return t == ServiceStandard || t == ServiceExpress
}

// Status is the lifecycle state of a ticket. Pending and waiting are both
// "not yet called"; which one a ticket starts in depends on its queue.
type Status string

const (
	StatusPending    Status = "pending"
	StatusWaiting    Status = "waiting"
	StatusNowServing Status = "now_serving"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusWaiting, StatusNowServing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Enqueued() bool {
	return s == StatusPending || s == StatusWaiting
}

type Ticket struct {
	TicketID      string      `json:"ticket_id"`
	BatchNumber   string      `json:"batch_number"`
	ServiceID     string      `json:"service_id"`
	ServiceType   ServiceType `json:"service_type"`
	BookingDate   *string     `json:"booking_date,omitempty"`
	TimeWindow    *string     `json:"time_window,omitempty"`
	QueuePosition int         `json:"queue_position"`
	Status        Status      `json:"status"`
	RequestID     string      `json:"request_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	CalledAt      *time.Time  `json:"called_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	CancelledAt   *time.Time  `json:"cancelled_at,omitempty"`
	VisitorName   string      `json:"visitor_name,omitempty"`
	VisitorID     string      `json:"visitor_external_id,omitempty"`
	VisitorEmail  string      `json:"visitor_email,omitempty"`
}

func (t Ticket) Date() string {
	if t.BookingDate == nil {
		return ""
	}
	return *t.BookingDate
}

func (t Ticket) Window() string {
	if t.TimeWindow == nil {
		return ""
	}
	return *t.TimeWindow
}

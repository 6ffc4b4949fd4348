// Package queue holds the ordering, numbering and admission rules shared by
// every ticket store implementation.
package queue

import (
	"fmt"

	"qms/registrar-queue/internal/models"
)

// OrderKey names a ticket attribute a policy sorts by. Stores translate keys
// into their own column names.
type OrderKey int

const (
	OrderBookingDate OrderKey = iota
	OrderTimeWindow
	OrderQueuePosition
	OrderCreatedAt
)

// Policy describes how one queue type admits, numbers and orders tickets.
type Policy interface {
	Type() models.ServiceType
	// Prefix is the leading letter of batch numbers issued for this queue.
	Prefix() string
	InitialStatus() models.Status
	// PositionScope returns the counter scope queue positions are drawn from.
	PositionScope(bookingDate string) string
	// CallableStatuses are the states call-next may pick from.
	CallableStatuses() []models.Status
	// DateBound reports whether call-next skips tickets booked before today.
	DateBound() bool
	ListedStatuses() []models.Status
	OrderKeys() []OrderKey
	Less(a, b models.Ticket) bool
}

const expressScope = "*"

var (
	standardPolicy = SlotBatched{}
	expressPolicy  = ArrivalOnly{}
)

// PolicyFor returns the policy for a queue type.
func PolicyFor(t models.ServiceType) (Policy, error) {
	switch t {
	case models.ServiceStandard:
		return standardPolicy, nil
	case models.ServiceExpress:
		return expressPolicy, nil
	default:
		return nil, fmt.Errorf("unknown queue type %q", t)
	}
}

// Policies lists every queue type in display order.
func Policies() []Policy {
	return []Policy{standardPolicy, expressPolicy}
}

// SlotBatched orders pre-booked visitors by their slot and then by arrival.
type SlotBatched struct{}

func (SlotBatched) Type() models.ServiceType     { return models.ServiceStandard }
func (SlotBatched) Prefix() string               { return "S" }
func (SlotBatched) InitialStatus() models.Status { return models.StatusPending }

func (SlotBatched) PositionScope(bookingDate string) string { return bookingDate }

func (SlotBatched) CallableStatuses() []models.Status {
	return []models.Status{models.StatusPending}
}

func (SlotBatched) DateBound() bool { return true }

func (SlotBatched) ListedStatuses() []models.Status {
	return []models.Status{models.StatusPending, models.StatusWaiting, models.StatusNowServing, models.StatusCompleted}
}

func (SlotBatched) OrderKeys() []OrderKey {
	return []OrderKey{OrderBookingDate, OrderTimeWindow, OrderQueuePosition}
}

func (SlotBatched) Less(a, b models.Ticket) bool {
	if a.Date() != b.Date() {
		return a.Date() < b.Date()
	}
	if a.Window() != b.Window() {
		return a.Window() < b.Window()
	}
	return a.QueuePosition < b.QueuePosition
}

// ArrivalOnly serves walk-ins strictly in the order they were issued.
type ArrivalOnly struct{}

func (ArrivalOnly) Type() models.ServiceType     { return models.ServiceExpress }
func (ArrivalOnly) Prefix() string               { return "Q" }
func (ArrivalOnly) InitialStatus() models.Status { return models.StatusWaiting }

func (ArrivalOnly) PositionScope(string) string { return expressScope }

func (ArrivalOnly) CallableStatuses() []models.Status {
	return []models.Status{models.StatusWaiting, models.StatusPending}
}

func (ArrivalOnly) DateBound() bool { return false }

func (ArrivalOnly) ListedStatuses() []models.Status {
	return []models.Status{models.StatusWaiting, models.StatusPending, models.StatusNowServing}
}

func (ArrivalOnly) OrderKeys() []OrderKey {
	return []OrderKey{OrderQueuePosition, OrderCreatedAt}
}

func (ArrivalOnly) Less(a, b models.Ticket) bool {
	if a.QueuePosition != b.QueuePosition {
		return a.QueuePosition < b.QueuePosition
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Callable reports whether call-next may select t on the given day
// (formatted with DateLayout).
func Callable(p Policy, t models.Ticket, today string) bool {
	if t.ServiceType != p.Type() || !containsStatus(p.CallableStatuses(), t.Status) {
		return false
	}
	if p.DateBound() && t.Date() < today {
		return false
	}
	return true
}

// Listed reports whether t shows up in the queue listing for p.
func Listed(p Policy, t models.Ticket) bool {
	return t.ServiceType == p.Type() && containsStatus(p.ListedStatuses(), t.Status)
}

func containsStatus(values []models.Status, value models.Status) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}

package queue

import (
	"fmt"

	"qms/registrar-queue/internal/models"
)

// DefaultSlotCapacity is the number of live bookings one time window accepts.
const DefaultSlotCapacity = 10

// AdmissionPolicy decides what happens when the slot count cannot be read.
type AdmissionPolicy string

const (
	AdmitOnError  AdmissionPolicy = "allow"
	RejectOnError AdmissionPolicy = "deny"
)

func ParseAdmissionPolicy(value string) (AdmissionPolicy, error) {
	switch AdmissionPolicy(value) {
	case "", AdmitOnError:
		return AdmitOnError, nil
	case RejectOnError:
		return RejectOnError, nil
	default:
		return "", fmt.Errorf("unknown admission policy %q", value)
	}
}

type Admission struct {
	Capacity int
	OnError  AdmissionPolicy
}

func (a Admission) capacity() int {
	if a.Capacity <= 0 {
		return DefaultSlotCapacity
	}
	return a.Capacity
}

// Admit decides whether a slot holding count live bookings takes one more.
// When countErr is set the count is unknown: allow admits, deny returns
// countErr so the caller can surface it.
func (a Admission) Admit(count int, countErr error) (bool, error) {
	if countErr != nil {
		if a.OnError == RejectOnError {
			return false, countErr
		}
		return true, nil
	}
	return count < a.capacity(), nil
}

// Availability describes a slot for display using the same rule as Admit.
func (a Admission) Availability(window string, count int) models.SlotAvailability {
	return models.SlotAvailability{
		TimeWindow: window,
		Booked:     count,
		Capacity:   a.capacity(),
		Available:  count < a.capacity(),
	}
}

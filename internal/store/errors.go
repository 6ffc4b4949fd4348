package store

import "errors"

var (
	ErrServiceNotFound      = errors.New("service not found")
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrInvalidState         = errors.New("invalid ticket state")
	ErrSlotFull             = errors.New("time slot is full")
	ErrAdmissionUnavailable = errors.New("slot admission unavailable")
	ErrEventChainBroken     = errors.New("ticket event chain broken")
)

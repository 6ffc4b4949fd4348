package engine

import (
	"errors"
	"time"

	"qms/registrar-queue/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_engine_operations_total",
			Help: "Engine operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registrar_engine_operation_duration_seconds",
			Help:    "Engine operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ticketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_tickets_issued_total",
			Help: "Tickets issued per queue type",
		},
		[]string{"queue_type"},
	)

	ticketsCalled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_tickets_called_total",
			Help: "Tickets moved to now_serving per queue type",
		},
		[]string{"queue_type"},
	)

	admissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_admission_decisions_total",
			Help: "Slot admission decisions for standard bookings",
		},
		[]string{"decision"},
	)
)

const (
	outcomeOK         = "ok"
	outcomeEmpty      = "empty"
	outcomeReplay     = "replay"
	outcomeValidation = "validation"
	outcomeNotFound   = "not_found"
	outcomeRejected   = "rejected"
	outcomeConflict   = "conflict"
	outcomeError      = "error"
)

func outcomeOf(err error) string {
	var validation *ValidationError
	switch {
	case err == nil:
		return outcomeOK
	case errors.As(err, &validation):
		return outcomeValidation
	case errors.Is(err, store.ErrTicketNotFound), errors.Is(err, store.ErrServiceNotFound):
		return outcomeNotFound
	case errors.Is(err, store.ErrSlotFull), errors.Is(err, store.ErrAdmissionUnavailable):
		return outcomeRejected
	case errors.Is(err, store.ErrInvalidState):
		return outcomeConflict
	default:
		return outcomeError
	}
}

func observe(operation string, started time.Time, outcome string) {
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

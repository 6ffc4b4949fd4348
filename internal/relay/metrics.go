package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_outbox_events_relayed_total",
			Help: "Outbox events delivered to the broker",
		},
		[]string{"type"},
	)

	relayFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registrar_outbox_relay_failures_total",
			Help: "Relay passes that ended in an error",
		},
	)
)

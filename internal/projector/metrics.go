package projector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheReads = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "registrar_status_cache_reads_total",
		Help: "Queue status cache reads by result",
	},
	[]string{"result"},
)

package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	reasonDecodeError = "decode_error"
	reasonShutdown    = "shutdown"
)

var (
	metricRecordsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "siscom",
		Subsystem: "consumer",
		Name:      "records_consumed_total",
		Help:      "Records decoded and delivered to the pipeline.",
	})

	metricRecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siscom",
		Subsystem: "consumer",
		Name:      "records_dropped_total",
		Help:      "Records dropped before reaching the pipeline.",
	}, []string{"reason"})

	metricFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "siscom",
		Subsystem: "consumer",
		Name:      "fetch_errors_total",
		Help:      "Broker read errors. Each one pauses polling briefly.",
	})
)

package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeFailed  = "failed"

	reasonWriteFailed         = "write_failed"
	reasonUnknownManufacturer = "unknown_manufacturer"
)

var (
	metricFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siscom",
		Subsystem: "processor",
		Name:      "flushes_total",
		Help:      "Batch flushes by outcome.",
	}, []string{"outcome"})

	metricRecordsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "siscom",
		Subsystem: "processor",
		Name:      "records_inserted_total",
		Help:      "History rows committed to the database.",
	})

	metricRecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siscom",
		Subsystem: "processor",
		Name:      "records_dropped_total",
		Help:      "Records lost after reaching the processor.",
	}, []string{"reason"})

	metricBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "siscom",
		Subsystem: "processor",
		Name:      "batch_size",
		Help:      "Number of records in a batch at flush time.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
)

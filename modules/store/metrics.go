package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siscom",
		Subsystem: "store",
		Name:      "transactions_total",
		Help:      "Store transactions by outcome.",
	}, []string{"status"})

	metricRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siscom",
		Subsystem: "store",
		Name:      "rows_written_total",
		Help:      "Rows written per table. Counted per executed statement, so rows of a later rolled back transaction are included.",
	}, []string{"table"})
)

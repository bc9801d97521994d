package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// opsTotal counts account operations by type.
	opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safetransfer",
			Name:      "ledger_operations_total",
			Help:      "Total ledger operations by type.",
		},
		[]string{"type"},
	)

	// txDuration observes transaction latency by mode.
	txDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "safetransfer",
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger transaction duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(opsTotal, txDuration)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(opType string) func() {
	opsTotal.WithLabelValues(opType).Inc()
	start := time.Now()
	return func() {
		txDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}

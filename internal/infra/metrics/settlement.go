package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		settlementAttemptsTotal,
		settlementDuration,
	)
}

var (
	settlementAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_attempts_total",
			Help: "Settlement gateway calls by rail and outcome.",
		},
		[]string{"method", "outcome"},
	)

	settlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_duration_seconds",
			Help:    "Latency of settlement gateway calls by rail.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"method"},
	)
)

func ObserveSettlement(method string, outcome string, elapsed time.Duration) {
	settlementAttemptsTotal.WithLabelValues(norm(method), norm(outcome)).Inc()
	settlementDuration.WithLabelValues(norm(method)).Observe(elapsed.Seconds())
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		cancellationsTotal,
		cancellationRefunds,
	)
}

var (
	cancellationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cancellations_total",
			Help: "Event cancellations by lifecycle step (created/confirmed/completed/withdrawn).",
		},
		[]string{"step"},
	)

	cancellationRefunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cancellation_refunds_total",
			Help: "Per-ticket refund outcomes inside cancellation batches.",
		},
		[]string{"outcome"},
	)
)

func IncCancellation(step string) {
	cancellationsTotal.WithLabelValues(norm(step)).Inc()
}

func IncCancellationRefund(outcome string) {
	cancellationRefunds.WithLabelValues(norm(outcome)).Inc()
}

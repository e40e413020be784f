package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		refundsTotal,
		refundAmountTotal,
		refundTransitionsTotal,
	)
}

var (
	refundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Refund requests by terminal outcome (completed/rejected/cancelled/failed).",
		},
		[]string{"status"},
	)

	refundAmountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refund_amount_total",
			Help: "Total net amount refunded, labeled by payment method and currency.",
		},
		[]string{"method", "currency"},
	)

	refundTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refund_transitions_total",
			Help: "State machine transitions by edge.",
		},
		[]string{"from", "to"},
	)
)

func IncRefund(status string) {
	refundsTotal.WithLabelValues(norm(status)).Inc()
}

func AddRefundAmount(method, currency string, amount int64) {
	refundAmountTotal.WithLabelValues(norm(method), norm(currency)).Add(float64(amount))
}

func IncTransition(from, to string) {
	refundTransitionsTotal.WithLabelValues(norm(from), norm(to)).Inc()
}

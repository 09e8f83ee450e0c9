package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookEventsTotal,
		compensationsTotal,
		anomaliesTotal,
	)
}

var (
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Webhook events by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	compensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_compensations_total",
			Help: "Cancel+refund compensations by anomaly and result (ok/escalated).",
		},
		[]string{"anomaly", "result"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_anomalies_total",
			Help: "Paid events that could not be honored with a number.",
		},
		[]string{"anomaly"},
	)
)

func IncWebhookEvent(kind, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(kind), norm(outcome)).Inc()
}

func IncCompensation(anomaly, result string) {
	compensationsTotal.WithLabelValues(norm(anomaly), norm(result)).Inc()
}

func IncAnomaly(anomaly string) {
	anomaliesTotal.WithLabelValues(norm(anomaly)).Inc()
}

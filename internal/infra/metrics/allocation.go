package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		claimsTotal,
		checkoutSessionsTotal,
		membersHolding,
	)
}

var (
	claimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_number_claims_total",
			Help: "Claim attempts by result (reserved/already_taken/already_has_number/invalid/rate_limited/error).",
		},
		[]string{"result"},
	)

	checkoutSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_sessions_total",
			Help: "Payment sessions opened for reservations, by result.",
		},
		[]string{"result"},
	)

	membersHolding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "members_holding",
			Help: "Ledger entries currently holding a number (active or grace).",
		},
	)
)

func IncClaim(result string) {
	claimsTotal.WithLabelValues(norm(result)).Inc()
}

func IncCheckoutSession(result string) {
	checkoutSessionsTotal.WithLabelValues(norm(result)).Inc()
}

func SetMembersHolding(n int) {
	membersHolding.Set(float64(n))
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		sweepRunsTotal,
		membersExpiredTotal,
		reservationsReclaimedTotal,
	)
}

var (
	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expiry_sweep_runs_total",
			Help: "Expiry sweep runs by result (ok/error).",
		},
		[]string{"result"},
	)

	membersExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "members_expired_total",
			Help: "Ledger entries marked expired by the sweep.",
		},
	)

	reservationsReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reservations_reclaimed_total",
			Help: "Abandoned reservations deleted by the sweep.",
		},
	)
)

func IncSweepRun(result string) {
	sweepRunsTotal.WithLabelValues(norm(result)).Inc()
}

func AddMembersExpired(n int) {
	membersExpiredTotal.Add(float64(n))
}

func AddReservationsReclaimed(n int) {
	reservationsReclaimedTotal.Add(float64(n))
}

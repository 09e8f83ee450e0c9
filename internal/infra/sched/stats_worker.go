package sched

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"github.com/operio-dev/1nproject/internal/infra/metrics"
)

// HoldingCounter reports how many ledger entries currently hold a number.
type HoldingCounter func(ctx context.Context) (int, error)

// StatsWorker refreshes the gauges that are sampled rather than counted.
type StatsWorker struct {
	interval time.Duration
	pool     *pgxpool.Pool
	holding  HoldingCounter
	log      *zerolog.Logger
}

func NewStatsWorker(interval time.Duration, pool *pgxpool.Pool, holding HoldingCounter, logger *zerolog.Logger) *StatsWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	l := logger.With().Str("component", "StatsWorker").Logger()
	return &StatsWorker{interval: interval, pool: pool, holding: holding, log: &l}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sample(ctx)
		}
	}
}

func (w *StatsWorker) sample(ctx context.Context) {
	if w.pool != nil {
		st := w.pool.Stat()
		metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
	}
	if w.holding != nil {
		n, err := w.holding(ctx)
		if err != nil {
			w.log.Warn().Err(err).Msg("count members")
			return
		}
		metrics.SetMembersHolding(n)
	}
}

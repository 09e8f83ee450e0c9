package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/operio-dev/1nproject/internal/domain/ports/usecase"
	"github.com/operio-dev/1nproject/internal/infra/metrics"
	"github.com/operio-dev/1nproject/internal/infra/redis"
)

const sweepLockKey = "lock:expiry_sweep"

// ExpiryWorker periodically runs the expiry sweep. With a locker set only one
// instance sweeps per tick.
type ExpiryWorker struct {
	interval time.Duration
	sweeper  usecase.Sweeper
	locker   redis.Locker
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, sweeper usecase.Sweeper, locker redis.Locker, logger *zerolog.Logger) *ExpiryWorker {
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		sweeper:  sweeper,
		locker:   locker,
		log:      &exprLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ExpiryWorker) tick(ctx context.Context) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, sweepLockKey, w.interval)
		if errors.Is(err, redis.ErrLockHeld) {
			w.log.Debug().Msg("sweep running elsewhere")
			return
		}
		if err != nil {
			// redis down: sweeping twice is safe, skipping is not
			w.log.Warn().Err(err).Msg("sweep lock unavailable")
		} else {
			defer func() {
				if err := w.locker.Unlock(context.Background(), sweepLockKey, token); err != nil {
					w.log.Warn().Err(err).Msg("release sweep lock")
				}
			}()
		}
	}
	RunSweep(ctx, w.sweeper, w.log)
}

// RunSweep runs one sweep and records its outcome.
func RunSweep(ctx context.Context, sweeper usecase.Sweeper, log *zerolog.Logger) {
	res, err := sweeper.Sweep(ctx)
	if err != nil {
		metrics.IncSweepRun("error")
		log.Error().Err(err).Msg("expiry worker error")
		return
	}
	metrics.IncSweepRun("ok")
	metrics.AddMembersExpired(res.ExpiredCount)
	metrics.AddReservationsReclaimed(res.DeletedReservations)
	if res.ExpiredCount > 0 || res.DeletedReservations > 0 {
		log.Info().
			Int("expired", res.ExpiredCount).
			Ints("freed_numbers", res.FreedNumbers).
			Int("reservations_deleted", res.DeletedReservations).
			Msg("expiry sweep reclaimed numbers")
	}
}

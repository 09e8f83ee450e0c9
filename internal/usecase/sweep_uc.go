package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/domain/ports/repository"
	ucport "github.com/operio-dev/1nproject/internal/domain/ports/usecase"
)

var (
	_ SweepUseCase   = (*sweepUC)(nil)
	_ ucport.Sweeper = (*sweepUC)(nil)
)

// DefaultReservationMargin is how long past its deadline a reservation is kept.
const DefaultReservationMargin = time.Hour

type SweepUseCase interface {
	Sweep(ctx context.Context) (*model.SweepResult, error)
	// SweepAt runs the sweep as if the current time were now.
	SweepAt(ctx context.Context, now time.Time) (*model.SweepResult, error)
}

type sweepUC struct {
	ledger       repository.LedgerRepository
	reservations repository.ReservationRepository
	tm           repository.TransactionManager
	margin       time.Duration
	log          *zerolog.Logger
}

func NewSweepUseCase(ledger repository.LedgerRepository, reservations repository.ReservationRepository, tm repository.TransactionManager, margin time.Duration, logger *zerolog.Logger) *sweepUC {
	if margin <= 0 {
		margin = DefaultReservationMargin
	}
	l := logger.With().Str("component", "sweep").Logger()
	return &sweepUC{ledger: ledger, reservations: reservations, tm: tm, margin: margin, log: &l}
}

func (u *sweepUC) Sweep(ctx context.Context) (*model.SweepResult, error) {
	return u.SweepAt(ctx, time.Now().UTC())
}

func (u *sweepUC) SweepAt(ctx context.Context, now time.Time) (*model.SweepResult, error) {
	res := &model.SweepResult{RanAt: now}
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		freed, err := u.ledger.ExpireLapsed(ctx, tx, now)
		if err != nil {
			return fmt.Errorf("expire members: %w", err)
		}
		dropped, err := u.reservations.DeleteExpiredBefore(ctx, tx, now.Add(-u.margin))
		if err != nil {
			return fmt.Errorf("delete reservations: %w", err)
		}
		res.FreedNumbers = freed
		res.ExpiredCount = len(freed)
		res.DeletedReservations = len(dropped)
		return nil
	})
	if err != nil {
		u.log.Error().Err(err).Msg("sweep failed")
		return nil, err
	}
	if res.FreedNumbers == nil {
		res.FreedNumbers = []int{}
	}
	if res.ExpiredCount > 0 || res.DeletedReservations > 0 {
		u.log.Info().Int("expired", res.ExpiredCount).Ints("freed_numbers", res.FreedNumbers).
			Int("deleted_reservations", res.DeletedReservations).Msg("sweep done")
	} else {
		u.log.Debug().Msg("sweep: nothing due")
	}
	return res, nil
}

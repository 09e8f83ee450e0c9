// File: internal/usecase/allocation_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/operio-dev/1nproject/internal/domain"
	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/domain/ports/repository"
)

// Compile-time check
var _ AllocationUseCase = (*allocationUC)(nil)

type AllocationUseCase interface {
	// Claim reserves number for the claimant for the reservation TTL.
	// Claiming the same number again refreshes the deadline.
	Claim(ctx context.Context, claimantID, contact string, number int) (*model.Reservation, error)
}

type allocationUC struct {
	ledger       repository.LedgerRepository
	reservations repository.ReservationRepository
	tm           repository.TransactionManager
	locker       repository.NumberLocker
	pool         model.NumberPool
	ttl          time.Duration
	log          *zerolog.Logger
}

func NewAllocationUseCase(
	ledger repository.LedgerRepository,
	reservations repository.ReservationRepository,
	tm repository.TransactionManager,
	locker repository.NumberLocker,
	pool model.NumberPool,
	ttl time.Duration,
	logger *zerolog.Logger,
) *allocationUC {
	if ttl <= 0 {
		ttl = model.DefaultReservationTTL
	}
	l := logger.With().Str("component", "allocation").Logger()
	return &allocationUC{
		ledger:       ledger,
		reservations: reservations,
		tm:           tm,
		locker:       locker,
		pool:         pool,
		ttl:          ttl,
		log:          &l,
	}
}

func (u *allocationUC) Claim(ctx context.Context, claimantID, contact string, number int) (*model.Reservation, error) {
	if claimantID == "" {
		return nil, &domain.AuthError{Reason: "missing claimant"}
	}
	if err := u.pool.Validate(number); err != nil {
		return nil, err
	}

	var out *model.Reservation
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.locker.LockNumber(ctx, tx, number); err != nil {
			return err
		}

		held, err := u.ledger.FindHoldingByClaimant(ctx, tx, claimantID)
		switch {
		case err == nil:
			return domain.NewConflictError(domain.ConflictAlreadyHasNumber, held.Number)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		now := time.Now().UTC()
		existing, err := u.reservations.FindByNumberAndClaimant(ctx, tx, number, claimantID)
		switch {
		case err == nil:
			expiresAt := now.Add(u.ttl)
			if _, err := u.reservations.Extend(ctx, tx, existing.Ref, expiresAt); err != nil {
				return err
			}
			existing.ExpiresAt = expiresAt
			out = existing
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		// a new claim supersedes the claimant's unconfirmed one
		if _, err := u.reservations.DeleteByClaimant(ctx, tx, claimantID); err != nil {
			return err
		}
		if _, err := u.reservations.DeleteExpiredForNumber(ctx, tx, number, now); err != nil {
			return err
		}

		if _, err := u.ledger.FindHoldingByNumber(ctx, tx, number); err == nil {
			return domain.NewConflictError(domain.ConflictAlreadyTaken, number)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		res, err := model.NewReservation(number, claimantID, contact, u.ttl)
		if err != nil {
			return err
		}
		if err := u.reservations.Insert(ctx, tx, res); err != nil {
			return conflictFromStorage(err, number)
		}
		out = res
		return nil
	})
	if err != nil {
		var conflict *domain.ConflictError
		var vErr *domain.ValidationError
		if !errors.As(err, &conflict) && !errors.As(err, &vErr) {
			u.log.Error().Err(err).Int("number", number).Str("claimant_id", claimantID).Msg("claim failed")
			return nil, fmt.Errorf("claim number %d: %w", number, err)
		}
		return nil, err
	}

	u.log.Info().Int("number", number).Str("claimant_id", claimantID).Time("expires_at", out.ExpiresAt).Msg("number reserved")
	return out, nil
}

// conflictFromStorage turns a unique-constraint sentinel into the typed conflict.
func conflictFromStorage(err error, number int) error {
	switch {
	case errors.Is(err, domain.ErrNumberTaken):
		return domain.NewConflictError(domain.ConflictAlreadyTaken, number)
	case errors.Is(err, domain.ErrClaimantHasNumber):
		return domain.NewConflictError(domain.ConflictAlreadyHasNumber, number)
	default:
		return err
	}
}

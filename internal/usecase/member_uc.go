package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/operio-dev/1nproject/internal/domain"
	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/domain/ports/adapter"
	"github.com/operio-dev/1nproject/internal/domain/ports/repository"
)

var _ MemberUseCase = (*memberUC)(nil)

// MemberView is what a claimant sees about their own number.
type MemberView struct {
	Number            int
	Status            model.MemberStatus
	JoinedAt          time.Time
	PeriodEndAt       time.Time
	CancelAtPeriodEnd bool
	GraceUntil        *time.Time
	Level             model.TenureLevel
	// Pending is set instead of the fields above while the claimant only holds a reservation.
	Pending *model.Reservation
}

type NumberAvailability struct {
	Number    int
	Available bool
	Reason    string // "taken" or "reserved" when not available
}

type PoolStats struct {
	Members  int
	Capacity int
}

type MemberUseCase interface {
	Status(ctx context.Context, claimantID string) (*MemberView, error)
	Availability(ctx context.Context, number int) (NumberAvailability, error)
	Stats(ctx context.Context) (PoolStats, error)
	PortalSession(ctx context.Context, claimantID, returnURL string) (string, error)
}

type memberUC struct {
	ledger       repository.LedgerRepository
	reservations repository.ReservationRepository
	gateway      adapter.PaymentGateway
	pool         model.NumberPool
	log          *zerolog.Logger
}

func NewMemberUseCase(ledger repository.LedgerRepository, reservations repository.ReservationRepository, gateway adapter.PaymentGateway, pool model.NumberPool, logger *zerolog.Logger) *memberUC {
	l := logger.With().Str("component", "member").Logger()
	return &memberUC{ledger: ledger, reservations: reservations, gateway: gateway, pool: pool, log: &l}
}

func (u *memberUC) Status(ctx context.Context, claimantID string) (*MemberView, error) {
	if claimantID == "" {
		return nil, &domain.AuthError{Reason: "missing claimant"}
	}
	now := time.Now().UTC()

	e, err := u.ledger.FindHoldingByClaimant(ctx, repository.NoTX, claimantID)
	if err == nil {
		return &MemberView{
			Number:            e.Number,
			Status:            e.Status,
			JoinedAt:          e.CreatedAt,
			PeriodEndAt:       e.PeriodEndAt,
			CancelAtPeriodEnd: e.CancelAtPeriodEnd,
			GraceUntil:        e.GraceUntil,
			Level:             model.LevelFor(e.CreatedAt, now),
		}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	res, err := u.reservations.FindByClaimant(ctx, repository.NoTX, claimantID)
	if err != nil {
		return nil, err
	}
	if res.Expired(now) {
		return nil, domain.ErrNotFound
	}
	return &MemberView{Number: res.Number, Pending: res}, nil
}

func (u *memberUC) Availability(ctx context.Context, number int) (NumberAvailability, error) {
	out := NumberAvailability{Number: number}
	if err := u.pool.Validate(number); err != nil {
		return out, err
	}

	if _, err := u.ledger.FindHoldingByNumber(ctx, repository.NoTX, number); err == nil {
		out.Reason = "taken"
		return out, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return out, err
	}

	res, err := u.reservations.FindByNumber(ctx, repository.NoTX, number)
	switch {
	case err == nil && !res.Expired(time.Now().UTC()):
		out.Reason = "reserved"
		return out, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return out, err
	}
	out.Available = true
	return out, nil
}

func (u *memberUC) Stats(ctx context.Context) (PoolStats, error) {
	n, err := u.ledger.CountHolding(ctx, repository.NoTX)
	if err != nil {
		return PoolStats{}, err
	}
	return PoolStats{Members: n, Capacity: u.pool.Capacity()}, nil
}

func (u *memberUC) PortalSession(ctx context.Context, claimantID, returnURL string) (string, error) {
	if claimantID == "" {
		return "", &domain.AuthError{Reason: "missing claimant"}
	}
	e, err := u.ledger.FindHoldingByClaimant(ctx, repository.NoTX, claimantID)
	if err != nil {
		return "", err
	}
	if e.CustomerRef == "" {
		return "", fmt.Errorf("no billing customer for member %d: %w", e.Number, domain.ErrNotFound)
	}
	url, err := u.gateway.CreatePortalSession(ctx, e.CustomerRef, returnURL)
	if err != nil {
		u.log.Error().Err(err).Int("number", e.Number).Msg("create portal session")
		if errors.Is(err, domain.ErrPaymentProvider) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", domain.ErrPaymentProvider, err)
	}
	return url, nil
}

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

var _ CheckoutUseCase = (*checkoutUC)(nil)

type CheckoutUseCase interface {
	// OpenSession starts a recurring-charge checkout for the claimant's reservation.
	OpenSession(ctx context.Context, claimantID string) (model.PaymentSession, error)
}

type checkoutUC struct {
	reservations repository.ReservationRepository
	gateway      adapter.PaymentGateway
	log          *zerolog.Logger
}

func NewCheckoutUseCase(reservations repository.ReservationRepository, gateway adapter.PaymentGateway, logger *zerolog.Logger) *checkoutUC {
	l := logger.With().Str("component", "checkout").Logger()
	return &checkoutUC{reservations: reservations, gateway: gateway, log: &l}
}

func (u *checkoutUC) OpenSession(ctx context.Context, claimantID string) (model.PaymentSession, error) {
	if claimantID == "" {
		return model.PaymentSession{}, &domain.AuthError{Reason: "missing claimant"}
	}
	res, err := u.reservations.FindByClaimant(ctx, repository.NoTX, claimantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return model.PaymentSession{}, fmt.Errorf("no reservation for claimant: %w", domain.ErrNotFound)
		}
		return model.PaymentSession{}, err
	}
	if res.Expired(time.Now()) {
		return model.PaymentSession{}, fmt.Errorf("reservation on %d expired: %w", res.Number, domain.ErrNotFound)
	}

	// never inside a transaction: the processor call can be slow
	session, err := u.gateway.CreateRecurringCharge(ctx, claimantID, model.CorrelationMetadata{
		ClaimantID: claimantID,
		Number:     res.Number,
		Contact:    res.Contact,
	})
	if err != nil {
		u.log.Error().Err(err).Int("number", res.Number).Str("provider", u.gateway.Name()).Msg("create checkout session")
		if errors.Is(err, domain.ErrPaymentProvider) {
			return model.PaymentSession{}, err
		}
		return model.PaymentSession{}, fmt.Errorf("%w: %v", domain.ErrPaymentProvider, err)
	}

	ok, err := u.reservations.AttachSession(ctx, repository.NoTX, res.Ref, session.SessionRef)
	if err != nil {
		// the session is open either way; confirmation matches on metadata
		u.log.Warn().Err(err).Str("session_ref", session.SessionRef).Msg("attach session to reservation")
	} else if !ok {
		u.log.Warn().Str("session_ref", session.SessionRef).Int("number", res.Number).Msg("reservation vanished before session was attached")
	}

	u.log.Info().Int("number", res.Number).Str("session_ref", session.SessionRef).Msg("checkout session opened")
	return session, nil
}

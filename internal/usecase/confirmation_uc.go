// File: internal/usecase/confirmation_uc.go
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
	"github.com/operio-dev/1nproject/internal/domain/ports/adapter"
	"github.com/operio-dev/1nproject/internal/domain/ports/repository"
)

// Compile-time check
var _ ConfirmationUseCase = (*confirmationUC)(nil)

// errReservationGone rolls back a confirmation whose reservation vanished under the lock.
var errReservationGone = errors.New("reservation gone")

// DefaultGraceWindow is how long a member with a failed payment keeps the number.
const DefaultGraceWindow = 7 * 24 * time.Hour

type ConfirmationUseCase interface {
	// HandleWebhook verifies the signature, then handles the event.
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*model.EventResult, error)
	// HandleEvent applies an already verified event. Errors returned are
	// transient: the processor should redeliver.
	HandleEvent(ctx context.Context, ev *model.PaymentEvent) (*model.EventResult, error)
}

type confirmationUC struct {
	ledger       repository.LedgerRepository
	reservations repository.ReservationRepository
	tm           repository.TransactionManager
	locker       repository.NumberLocker
	gateway      adapter.PaymentGateway
	verifier     adapter.EventVerifier
	alerter      adapter.OperatorAlerter
	processed    repository.ProcessedEventStore // optional
	graceWindow  time.Duration
	log          *zerolog.Logger
}

func NewConfirmationUseCase(
	ledger repository.LedgerRepository,
	reservations repository.ReservationRepository,
	tm repository.TransactionManager,
	locker repository.NumberLocker,
	gateway adapter.PaymentGateway,
	verifier adapter.EventVerifier,
	alerter adapter.OperatorAlerter,
	processed repository.ProcessedEventStore,
	graceWindow time.Duration,
	logger *zerolog.Logger,
) *confirmationUC {
	if graceWindow <= 0 {
		graceWindow = DefaultGraceWindow
	}
	l := logger.With().Str("component", "confirmation").Logger()
	return &confirmationUC{
		ledger:       ledger,
		reservations: reservations,
		tm:           tm,
		locker:       locker,
		gateway:      gateway,
		verifier:     verifier,
		alerter:      alerter,
		processed:    processed,
		graceWindow:  graceWindow,
		log:          &l,
	}
}

func (u *confirmationUC) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*model.EventResult, error) {
	ev, err := u.verifier.ParseEvent(payload, signatureHeader)
	if err != nil {
		u.log.Warn().Err(err).Msg("webhook rejected")
		return nil, err
	}

	if u.processed != nil && ev.ID != "" {
		seen, err := u.processed.Seen(ctx, ev.ID)
		if err != nil {
			u.log.Warn().Err(err).Str("event_id", ev.ID).Msg("processed-event lookup failed; handling anyway")
		} else if seen {
			return &model.EventResult{EventID: ev.ID, Kind: ev.Kind, Outcome: model.OutcomeAlreadyProcessed}, nil
		}
	}

	res, err := u.HandleEvent(ctx, ev)
	if err != nil {
		return nil, err
	}

	if u.processed != nil && ev.ID != "" {
		if err := u.processed.MarkProcessed(ctx, ev.ID); err != nil {
			u.log.Warn().Err(err).Str("event_id", ev.ID).Msg("mark event processed")
		}
	}
	return res, nil
}

func (u *confirmationUC) HandleEvent(ctx context.Context, ev *model.PaymentEvent) (*model.EventResult, error) {
	if ev == nil {
		return nil, domain.NewValidationError("event", "missing")
	}
	log := u.log.With().Str("event_id", ev.ID).Str("event_type", ev.ProviderType).Logger()

	var (
		res *model.EventResult
		err error
	)
	switch ev.Kind {
	case model.EventPaymentCompleted:
		res, err = u.paymentCompleted(ctx, ev, &log)
	case model.EventSubscriptionUpdated:
		res, err = u.subscriptionUpdated(ctx, ev, &log)
	case model.EventSubscriptionDeleted:
		res, err = u.subscriptionDeleted(ctx, ev, &log)
	case model.EventPaymentFailed:
		res, err = u.paymentFailed(ctx, ev, &log)
	default:
		log.Debug().Msg("event ignored")
		res = u.result(ev, model.OutcomeIgnored)
	}
	if err != nil {
		log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("event handling failed")
		return nil, err
	}
	return res, nil
}

func (u *confirmationUC) result(ev *model.PaymentEvent, outcome model.EventOutcome) *model.EventResult {
	return &model.EventResult{EventID: ev.ID, Kind: ev.Kind, Outcome: outcome}
}

// ---- payment_completed ----

func (u *confirmationUC) paymentCompleted(ctx context.Context, ev *model.PaymentEvent, log *zerolog.Logger) (*model.EventResult, error) {
	if ev.SubscriptionRef == "" {
		log.Error().Str("session_ref", ev.SessionRef).Msg("completed payment without a subscription ref")
		return u.result(ev, model.OutcomeIgnored), nil
	}
	meta := ev.Metadata

	// Idempotency against the ledger, the source of truth.
	if e, err := u.ledger.FindBySubscriptionRef(ctx, repository.NoTX, ev.SubscriptionRef); err == nil {
		u.dropReservation(ctx, e.Number, e.ClaimantID, log)
		return u.result(ev, model.OutcomeAlreadyProcessed), nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if meta.ClaimantID != "" {
		if e, err := u.ledger.FindHoldingByClaimant(ctx, repository.NoTX, meta.ClaimantID); err == nil {
			log.Warn().Int("number", e.Number).Str("claimant_id", meta.ClaimantID).
				Str("subscription_ref", ev.SubscriptionRef).Msg("claimant already holds a number")
			u.dropReservation(ctx, meta.Number, meta.ClaimantID, log)
			return u.result(ev, model.OutcomeAlreadyProcessed), nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	// Reconcile against the reservation. An expired one that the sweep has
	// not removed yet still counts.
	var res *model.Reservation
	if meta.ClaimantID != "" && meta.Number > 0 {
		r, err := u.reservations.FindByNumberAndClaimant(ctx, repository.NoTX, meta.Number, meta.ClaimantID)
		switch {
		case err == nil:
			res = r
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}
	if res == nil {
		return u.compensate(ctx, ev, domain.AnomalyNoReservation, log), nil
	}

	sub, err := u.gateway.GetSubscription(ctx, ev.SubscriptionRef)
	if err != nil {
		if !errors.Is(err, domain.ErrPaymentProvider) {
			err = fmt.Errorf("%w: %v", domain.ErrPaymentProvider, err)
		}
		return nil, fmt.Errorf("fetch subscription %s: %w", ev.SubscriptionRef, err)
	}

	entry, err := model.NewLedgerEntry(res, ev.SubscriptionRef, ev.CustomerRef, sub)
	if err != nil {
		return nil, err
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.locker.LockNumber(ctx, tx, entry.Number); err != nil {
			return err
		}
		// A lapsed reservation may have been taken over while the
		// subscription was fetched.
		if _, err := u.reservations.FindByNumberAndClaimant(ctx, tx, entry.Number, entry.ClaimantID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return errReservationGone
			}
			return err
		}
		if err := u.ledger.Insert(ctx, tx, entry); err != nil {
			return err
		}
		n, err := u.reservations.DeleteByNumberAndClaimant(ctx, tx, entry.Number, entry.ClaimantID)
		if err != nil {
			return err
		}
		if n != 1 {
			return errReservationGone
		}
		return nil
	})

	switch {
	case err == nil:
		log.Info().Int("number", entry.Number).Str("claimant_id", entry.ClaimantID).
			Str("subscription_ref", entry.SubscriptionRef).Time("period_end_at", entry.PeriodEndAt).Msg("member confirmed")
		return u.result(ev, model.OutcomeProcessed), nil

	case errors.Is(err, errReservationGone):
		// a concurrent delivery for the same subscription consumes it too
		if _, ferr := u.ledger.FindBySubscriptionRef(ctx, repository.NoTX, ev.SubscriptionRef); ferr == nil {
			return u.result(ev, model.OutcomeAlreadyProcessed), nil
		} else if !errors.Is(ferr, domain.ErrNotFound) {
			return nil, ferr
		}
		log.Warn().Int("number", entry.Number).Str("claimant_id", entry.ClaimantID).Msg("reservation lost before confirmation")
		return u.compensate(ctx, ev, domain.AnomalyNoReservation, log), nil

	case errors.Is(err, domain.ErrNumberTaken):
		holder, herr := u.ledger.FindHoldingByNumber(ctx, repository.NoTX, entry.Number)
		if herr == nil && holder.SubscriptionRef == ev.SubscriptionRef {
			return u.result(ev, model.OutcomeAlreadyProcessed), nil
		}
		if herr != nil && !errors.Is(herr, domain.ErrNotFound) {
			return nil, herr
		}
		u.dropReservation(ctx, entry.Number, entry.ClaimantID, log)
		return u.compensate(ctx, ev, domain.AnomalyDuplicateWinner, log), nil

	case errors.Is(err, domain.ErrClaimantHasNumber), errors.Is(err, domain.ErrAlreadyExists):
		u.dropReservation(ctx, entry.Number, entry.ClaimantID, log)
		return u.result(ev, model.OutcomeAlreadyProcessed), nil

	default:
		return nil, fmt.Errorf("confirm number %d: %w", entry.Number, err)
	}
}

// dropReservation is best effort: the sweep removes leftovers.
func (u *confirmationUC) dropReservation(ctx context.Context, number int, claimantID string, log *zerolog.Logger) {
	if number <= 0 || claimantID == "" {
		return
	}
	if _, err := u.reservations.DeleteByNumberAndClaimant(ctx, repository.NoTX, number, claimantID); err != nil {
		log.Warn().Err(err).Int("number", number).Msg("delete reservation")
	}
}

// compensate cancels the subscription and refunds the charge. A failure on
// either call is escalated to an operator and never retried automatically.
func (u *confirmationUC) compensate(ctx context.Context, ev *model.PaymentEvent, kind domain.AnomalyKind, log *zerolog.Logger) *model.EventResult {
	anomaly := &domain.ReconciliationAnomaly{
		Kind:            kind,
		Number:          ev.Metadata.Number,
		ClaimantID:      ev.Metadata.ClaimantID,
		SubscriptionRef: ev.SubscriptionRef,
		PaymentRef:      ev.PaymentRef,
	}
	log.Error().Str("anomaly", string(kind)).Int("number", anomaly.Number).Str("claimant_id", anomaly.ClaimantID).
		Str("subscription_ref", anomaly.SubscriptionRef).Msg("paid event cannot be honored; compensating")

	reason := adapter.RefundReasonCustomerRequest
	outcome := model.OutcomeRefundedNoReservation
	switch kind {
	case domain.AnomalyDuplicateWinner:
		reason = adapter.RefundReasonDuplicate
		outcome = model.OutcomeRefundedDuplicate
	case domain.AnomalyNumberLost:
		outcome = model.OutcomeRefundedNumberLost
	}

	var errs []error
	if err := u.gateway.CancelSubscription(ctx, ev.SubscriptionRef); err != nil {
		errs = append(errs, fmt.Errorf("cancel subscription: %w", err))
	}
	if ev.PaymentRef == "" {
		errs = append(errs, errors.New("refund: no payment reference on event"))
	} else if _, err := u.gateway.Refund(ctx, ev.PaymentRef, reason); err != nil {
		errs = append(errs, fmt.Errorf("refund: %w", err))
	}

	res := u.result(ev, outcome)
	res.Anomaly = anomaly
	if len(errs) == 0 {
		anomaly.Compensated = true
		log.Info().Str("anomaly", string(kind)).Str("payment_ref", ev.PaymentRef).Msg("payment refunded")
		return res
	}

	anomaly.Cause = errors.Join(errs...)
	res.Outcome = model.OutcomeCompensationEscalated
	log.Error().Err(anomaly.Cause).Str("anomaly", string(kind)).Msg("compensation failed; escalating to operator")

	alert := model.CompensationAlert{
		EventID:         ev.ID,
		Anomaly:         string(kind),
		Number:          anomaly.Number,
		ClaimantID:      anomaly.ClaimantID,
		Contact:         ev.Metadata.Contact,
		SubscriptionRef: ev.SubscriptionRef,
		PaymentRef:      ev.PaymentRef,
		Err:             anomaly.Cause.Error(),
	}
	if err := u.alerter.Escalate(ctx, alert); err != nil {
		log.Error().Err(err).Interface("alert", alert).Msg("operator escalation failed")
	}
	return res
}

// ---- subscription lifecycle ----

func (u *confirmationUC) subscriptionUpdated(ctx context.Context, ev *model.PaymentEvent, log *zerolog.Logger) (*model.EventResult, error) {
	if ev.SubscriptionRef == "" {
		return u.result(ev, model.OutcomeIgnored), nil
	}
	now := time.Now().UTC()
	status := model.MapExternalStatus(ev.ExternalStatus)
	upd := model.SubscriptionUpdate{
		SubscriptionRef:   ev.SubscriptionRef,
		Status:            status,
		PeriodEndAt:       ev.PeriodEndAt,
		CancelAtPeriodEnd: ev.CancelAtPeriodEnd,
		GraceUntil:        now.Add(u.graceWindow),
		At:                now,
	}

	// A renewal can arrive after the sweep expired the member.
	if status.Holding() && ev.PeriodEndAt.After(now) {
		e, err := u.ledger.FindBySubscriptionRef(ctx, repository.NoTX, ev.SubscriptionRef)
		switch {
		case err == nil && e.Status == model.MemberStatusExpired:
			return u.restore(ctx, ev, e, upd, log)
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("find member: %w", err)
		}
	}

	ok, err := u.ledger.ApplySubscriptionUpdate(ctx, repository.NoTX, upd)
	if err != nil {
		return nil, fmt.Errorf("apply subscription update: %w", err)
	}
	if !ok {
		log.Debug().Str("subscription_ref", ev.SubscriptionRef).Msg("update for unknown subscription")
		return u.result(ev, model.OutcomeIgnored), nil
	}
	log.Info().Str("subscription_ref", ev.SubscriptionRef).Str("external_status", ev.ExternalStatus).
		Str("status", string(status)).Bool("cancel_at_period_end", ev.CancelAtPeriodEnd).Msg("subscription updated")
	return u.result(ev, model.OutcomeProcessed), nil
}

// restore gives an expired member their number back, or reverses the renewal
// when the number is no longer theirs to keep.
func (u *confirmationUC) restore(ctx context.Context, ev *model.PaymentEvent, e *model.LedgerEntry, upd model.SubscriptionUpdate, log *zerolog.Logger) (*model.EventResult, error) {
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.locker.LockNumber(ctx, tx, e.Number); err != nil {
			return err
		}
		r, err := u.reservations.FindByNumber(ctx, tx, e.Number)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return err
		case r.ClaimantID != e.ClaimantID && !r.Expired(upd.At):
			return domain.ErrNumberTaken
		default:
			if _, err := u.reservations.DeleteByNumberAndClaimant(ctx, tx, r.Number, r.ClaimantID); err != nil {
				return err
			}
		}
		ok, err := u.ledger.Restore(ctx, tx, upd)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
		return nil
	})

	switch {
	case err == nil:
		log.Info().Int("number", e.Number).Str("claimant_id", e.ClaimantID).Str("subscription_ref", e.SubscriptionRef).
			Str("status", string(upd.Status)).Msg("expired member restored by renewal")
		return u.result(ev, model.OutcomeProcessed), nil

	case errors.Is(err, domain.ErrNumberTaken), errors.Is(err, domain.ErrClaimantHasNumber):
		lost := *ev
		lost.Metadata = model.CorrelationMetadata{ClaimantID: e.ClaimantID, Number: e.Number, Contact: e.Contact}
		return u.compensate(ctx, &lost, domain.AnomalyNumberLost, log), nil

	case errors.Is(err, domain.ErrNotFound):
		// changed under us; record the period like any other update
		if _, err := u.ledger.ApplySubscriptionUpdate(ctx, repository.NoTX, upd); err != nil {
			return nil, fmt.Errorf("apply subscription update: %w", err)
		}
		return u.result(ev, model.OutcomeProcessed), nil

	default:
		return nil, fmt.Errorf("restore member %d: %w", e.Number, err)
	}
}

func (u *confirmationUC) subscriptionDeleted(ctx context.Context, ev *model.PaymentEvent, log *zerolog.Logger) (*model.EventResult, error) {
	if ev.SubscriptionRef == "" {
		return u.result(ev, model.OutcomeIgnored), nil
	}
	e, err := u.ledger.MarkCancelled(ctx, repository.NoTX, ev.SubscriptionRef, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return u.result(ev, model.OutcomeIgnored), nil
		}
		return nil, fmt.Errorf("cancel member: %w", err)
	}
	log.Info().Int("number", e.Number).Str("subscription_ref", ev.SubscriptionRef).Msg("member cancelled; number released")
	return u.result(ev, model.OutcomeProcessed), nil
}

func (u *confirmationUC) paymentFailed(ctx context.Context, ev *model.PaymentEvent, log *zerolog.Logger) (*model.EventResult, error) {
	if ev.SubscriptionRef == "" {
		return u.result(ev, model.OutcomeIgnored), nil
	}
	now := time.Now().UTC()
	ok, err := u.ledger.MarkGrace(ctx, repository.NoTX, ev.SubscriptionRef, now.Add(u.graceWindow), now)
	if err != nil {
		return nil, fmt.Errorf("mark grace: %w", err)
	}
	if !ok {
		return u.result(ev, model.OutcomeIgnored), nil
	}
	log.Warn().Str("subscription_ref", ev.SubscriptionRef).Time("grace_until", now.Add(u.graceWindow)).Msg("payment failed; member in grace")
	return u.result(ev, model.OutcomeProcessed), nil
}

package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"

	"github.com/operio-dev/1nproject/internal/domain"
)

// Unique constraints that decide allocation races. Names match the migrations.
const (
	constraintMemberNumber       = "members_active_number_key"
	constraintMemberClaimant     = "members_active_claimant_key"
	constraintMemberSubscription = "members_subscription_ref_key"
	constraintReservationNumber  = "number_reservations_number_key"
	constraintReservationClaim   = "number_reservations_claimant_key"
)

// mapError translates driver errors into domain sentinels.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrNotFound
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case constraintMemberNumber, constraintReservationNumber:
			return fmt.Errorf("%s: %w", op, domain.ErrNumberTaken)
		case constraintMemberClaimant, constraintReservationClaim:
			return fmt.Errorf("%s: %w", op, domain.ErrClaimantHasNumber)
		case constraintMemberSubscription:
			return fmt.Errorf("%s: subscription already recorded: %w", op, domain.ErrAlreadyExists)
		default:
			return fmt.Errorf("%s: %w", op, domain.ErrAlreadyExists)
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrOperationFailed, op, err)
}

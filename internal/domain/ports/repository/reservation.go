package repository

import (
	"context"
	"time"

	"github.com/operio-dev/1nproject/internal/domain/model"
)

// -----------------------------
// Reservations (pending claims)
// -----------------------------

type ReservationRepository interface {
	// Insert fails with domain.ErrNumberTaken when the number is reserved and
	// domain.ErrClaimantHasNumber when the claimant already has a reservation.
	Insert(ctx context.Context, tx Tx, r *model.Reservation) error

	FindByClaimant(ctx context.Context, tx Tx, claimantID string) (*model.Reservation, error)
	FindByNumber(ctx context.Context, tx Tx, number int) (*model.Reservation, error)
	FindByNumberAndClaimant(ctx context.Context, tx Tx, number int, claimantID string) (*model.Reservation, error)

	// Extend moves the deadline of a reservation. Returns false if it is gone.
	Extend(ctx context.Context, tx Tx, ref string, expiresAt time.Time) (bool, error)
	// AttachSession stores the payment session ref on a reservation.
	AttachSession(ctx context.Context, tx Tx, ref, sessionRef string) (bool, error)

	DeleteByClaimant(ctx context.Context, tx Tx, claimantID string) (int64, error)
	DeleteByNumberAndClaimant(ctx context.Context, tx Tx, number int, claimantID string) (int64, error)
	// DeleteExpiredForNumber drops a lapsed reservation so the number can be claimed again.
	DeleteExpiredForNumber(ctx context.Context, tx Tx, number int, now time.Time) (int64, error)
	// DeleteExpiredBefore removes reservations whose deadline is before cutoff.
	DeleteExpiredBefore(ctx context.Context, tx Tx, cutoff time.Time) ([]int, error)
}

// ProcessedEventStore remembers webhook event ids that were fully handled.
// Losing it is harmless: handlers stay idempotent against the database.
type ProcessedEventStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

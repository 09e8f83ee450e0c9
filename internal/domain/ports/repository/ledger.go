package repository

import (
	"context"
	"time"

	"github.com/operio-dev/1nproject/internal/domain/model"
)

// -----------------------------
// Ledger (confirmed member numbers)
// -----------------------------

type LedgerRepository interface {
	// Insert fails with domain.ErrNumberTaken when another active/grace entry
	// holds the number, domain.ErrClaimantHasNumber when the claimant already
	// holds one, and domain.ErrAlreadyExists on a known subscription ref.
	Insert(ctx context.Context, tx Tx, e *model.LedgerEntry) error

	FindHoldingByClaimant(ctx context.Context, tx Tx, claimantID string) (*model.LedgerEntry, error)
	FindHoldingByNumber(ctx context.Context, tx Tx, number int) (*model.LedgerEntry, error)
	FindBySubscriptionRef(ctx context.Context, tx Tx, subscriptionRef string) (*model.LedgerEntry, error)

	// ApplySubscriptionUpdate always writes the period fields; the status only
	// changes while the entry is active or grace. Returns false if no entry
	// carries the subscription ref.
	ApplySubscriptionUpdate(ctx context.Context, tx Tx, u model.SubscriptionUpdate) (bool, error)
	// Restore brings an expired entry back to the update's holding status.
	// Returns false when the entry is not expired. Fails with
	// domain.ErrNumberTaken or domain.ErrClaimantHasNumber when the number or
	// the claimant is held by another entry by now.
	Restore(ctx context.Context, tx Tx, u model.SubscriptionUpdate) (bool, error)
	// MarkGrace moves an active entry to grace. Returns false when nothing changed.
	MarkGrace(ctx context.Context, tx Tx, subscriptionRef string, graceUntil, at time.Time) (bool, error)
	// MarkCancelled releases the number of an active/grace entry immediately.
	MarkCancelled(ctx context.Context, tx Tx, subscriptionRef string, at time.Time) (*model.LedgerEntry, error)

	// ExpireLapsed marks active/grace entries past their period end, and grace
	// entries past their grace deadline, as expired and returns their numbers.
	ExpireLapsed(ctx context.Context, tx Tx, now time.Time) ([]int, error)

	CountHolding(ctx context.Context, tx Tx) (int, error)
}

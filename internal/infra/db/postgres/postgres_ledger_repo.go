package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/operio-dev/1nproject/internal/domain"
	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/domain/ports/repository"
)

// Ensure ledgerRepo implements repository.LedgerRepository
var _ repository.LedgerRepository = (*ledgerRepo)(nil)

const memberColumns = `id, number, claimant_id, contact, subscription_ref, customer_ref, status, period_end_at, cancel_at_period_end, grace_until, created_at, updated_at`

type ledgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *ledgerRepo {
	return &ledgerRepo{pool: pool}
}

func (r *ledgerRepo) Insert(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) error {
	const q = `
INSERT INTO members (` + memberColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`

	_, err := execSQL(ctx, r.pool, tx, q,
		e.ID, e.Number, e.ClaimantID, e.Contact, e.SubscriptionRef, e.CustomerRef,
		string(e.Status), e.PeriodEndAt, e.CancelAtPeriodEnd, e.GraceUntil, e.CreatedAt, e.UpdatedAt)
	return mapError("insert member", err)
}

func (r *ledgerRepo) FindHoldingByClaimant(ctx context.Context, tx repository.Tx, claimantID string) (*model.LedgerEntry, error) {
	q := `SELECT ` + memberColumns + ` FROM members WHERE claimant_id=$1 AND status IN ('active','grace')`
	return r.queryOne(ctx, tx, forUpdate(q, tx), claimantID)
}

func (r *ledgerRepo) FindHoldingByNumber(ctx context.Context, tx repository.Tx, number int) (*model.LedgerEntry, error) {
	q := `SELECT ` + memberColumns + ` FROM members WHERE number=$1 AND status IN ('active','grace')`
	return r.queryOne(ctx, tx, forUpdate(q, tx), number)
}

func (r *ledgerRepo) FindBySubscriptionRef(ctx context.Context, tx repository.Tx, subscriptionRef string) (*model.LedgerEntry, error) {
	q := `SELECT ` + memberColumns + ` FROM members WHERE subscription_ref=$1`
	return r.queryOne(ctx, tx, forUpdate(q, tx), subscriptionRef)
}

func (r *ledgerRepo) ApplySubscriptionUpdate(ctx context.Context, tx repository.Tx, u model.SubscriptionUpdate) (bool, error) {
	// SET expressions see the old row, so status and grace_until are decided
	// from the pre-update status.
	const q = `
UPDATE members SET
  period_end_at        = COALESCE($2, period_end_at),
  cancel_at_period_end = $3,
  status = CASE WHEN status IN ('active','grace') THEN $4::text ELSE status END,
  grace_until = CASE
    WHEN status NOT IN ('active','grace') THEN grace_until
    WHEN $4::text = 'grace' THEN COALESCE(grace_until, $5)
    ELSE NULL
  END,
  updated_at = $6
WHERE subscription_ref = $1;`

	var periodEnd *time.Time
	if !u.PeriodEndAt.IsZero() {
		pe := u.PeriodEndAt.UTC()
		periodEnd = &pe
	}
	cmd, err := execSQL(ctx, r.pool, tx, q, u.SubscriptionRef, periodEnd, u.CancelAtPeriodEnd, string(u.Status), u.GraceUntil.UTC(), u.At.UTC())
	if err != nil {
		return false, mapError("apply subscription update", err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *ledgerRepo) Restore(ctx context.Context, tx repository.Tx, u model.SubscriptionUpdate) (bool, error) {
	// the partial unique indexes reject the row if the number was reassigned
	const q = `
UPDATE members SET
  status               = $2::text,
  period_end_at        = COALESCE($3, period_end_at),
  cancel_at_period_end = $4,
  grace_until          = CASE WHEN $2::text = 'grace' THEN $5 ELSE NULL END,
  updated_at           = $6
WHERE subscription_ref = $1 AND status = 'expired';`

	if !u.Status.Holding() {
		return false, domain.ErrInvalidArgument
	}
	var periodEnd *time.Time
	if !u.PeriodEndAt.IsZero() {
		pe := u.PeriodEndAt.UTC()
		periodEnd = &pe
	}
	cmd, err := execSQL(ctx, r.pool, tx, q, u.SubscriptionRef, string(u.Status), periodEnd, u.CancelAtPeriodEnd, u.GraceUntil.UTC(), u.At.UTC())
	if err != nil {
		return false, mapError("restore member", err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *ledgerRepo) MarkGrace(ctx context.Context, tx repository.Tx, subscriptionRef string, graceUntil, at time.Time) (bool, error) {
	const q = `
UPDATE members
   SET status='grace', grace_until=COALESCE(grace_until, $2), updated_at=$3
 WHERE subscription_ref=$1 AND status='active';`
	cmd, err := execSQL(ctx, r.pool, tx, q, subscriptionRef, graceUntil.UTC(), at.UTC())
	if err != nil {
		return false, mapError("mark grace", err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *ledgerRepo) MarkCancelled(ctx context.Context, tx repository.Tx, subscriptionRef string, at time.Time) (*model.LedgerEntry, error) {
	const q = `
UPDATE members
   SET status='cancelled', grace_until=NULL, updated_at=$2
 WHERE subscription_ref=$1 AND status IN ('active','grace')
RETURNING ` + memberColumns + `;`
	return r.queryOne(ctx, tx, q, subscriptionRef, at.UTC())
}

func (r *ledgerRepo) ExpireLapsed(ctx context.Context, tx repository.Tx, now time.Time) ([]int, error) {
	const q = `
UPDATE members
   SET status='expired', updated_at=$1
 WHERE status IN ('active','grace')
   AND (period_end_at < $1 OR (status='grace' AND grace_until IS NOT NULL AND grace_until < $1))
RETURNING number;`
	rows, err := queryRows(ctx, r.pool, tx, q, now.UTC())
	if err != nil {
		return nil, mapError("expire lapsed members", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("expire lapsed members", err)
	}
	return out, nil
}

func (r *ledgerRepo) CountHolding(ctx context.Context, tx repository.Tx) (int, error) {
	const q = `SELECT COUNT(*) FROM members WHERE status IN ('active','grace');`
	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, mapError("count members", err)
	}
	return n, nil
}

// ---- helpers ----

func (r *ledgerRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.LedgerEntry, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	e, err := scanMember(row)
	if err != nil {
		return nil, mapError("read member", err)
	}
	return e, nil
}

func scanMember(row pgx.Row) (*model.LedgerEntry, error) {
	var (
		e      model.LedgerEntry
		status string
	)
	if err := row.Scan(
		&e.ID, &e.Number, &e.ClaimantID, &e.Contact, &e.SubscriptionRef, &e.CustomerRef,
		&status, &e.PeriodEndAt, &e.CancelAtPeriodEnd, &e.GraceUntil, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.Status = model.MemberStatus(status)
	return &e, nil
}

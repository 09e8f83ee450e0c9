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

var _ repository.ReservationRepository = (*reservationRepo)(nil)

const reservationColumns = `ref, number, claimant_id, contact, COALESCE(session_ref, ''), expires_at, created_at`

type reservationRepo struct {
	pool *pgxpool.Pool
}

func NewReservationRepo(pool *pgxpool.Pool) *reservationRepo {
	return &reservationRepo{pool: pool}
}

func (r *reservationRepo) Insert(ctx context.Context, tx repository.Tx, res *model.Reservation) error {
	const q = `
INSERT INTO number_reservations (ref, number, claimant_id, contact, session_ref, expires_at, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7);`
	_, err := execSQL(ctx, r.pool, tx, q,
		res.Ref, res.Number, res.ClaimantID, res.Contact, res.SessionRef, res.ExpiresAt.UTC(), res.CreatedAt.UTC())
	return mapError("insert reservation", err)
}

func (r *reservationRepo) FindByClaimant(ctx context.Context, tx repository.Tx, claimantID string) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM number_reservations WHERE claimant_id=$1`
	return r.queryOne(ctx, tx, forUpdate(q, tx), claimantID)
}

func (r *reservationRepo) FindByNumber(ctx context.Context, tx repository.Tx, number int) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM number_reservations WHERE number=$1`
	return r.queryOne(ctx, tx, forUpdate(q, tx), number)
}

func (r *reservationRepo) FindByNumberAndClaimant(ctx context.Context, tx repository.Tx, number int, claimantID string) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM number_reservations WHERE number=$1 AND claimant_id=$2`
	return r.queryOne(ctx, tx, forUpdate(q, tx), number, claimantID)
}

func (r *reservationRepo) Extend(ctx context.Context, tx repository.Tx, ref string, expiresAt time.Time) (bool, error) {
	cmd, err := execSQL(ctx, r.pool, tx,
		`UPDATE number_reservations SET expires_at=$2 WHERE ref=$1;`, ref, expiresAt.UTC())
	if err != nil {
		return false, mapError("extend reservation", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *reservationRepo) AttachSession(ctx context.Context, tx repository.Tx, ref, sessionRef string) (bool, error) {
	cmd, err := execSQL(ctx, r.pool, tx,
		`UPDATE number_reservations SET session_ref=$2 WHERE ref=$1;`, ref, sessionRef)
	if err != nil {
		return false, mapError("attach session", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *reservationRepo) DeleteByClaimant(ctx context.Context, tx repository.Tx, claimantID string) (int64, error) {
	cmd, err := execSQL(ctx, r.pool, tx,
		`DELETE FROM number_reservations WHERE claimant_id=$1;`, claimantID)
	if err != nil {
		return 0, mapError("delete reservation by claimant", err)
	}
	return cmd.RowsAffected(), nil
}

func (r *reservationRepo) DeleteByNumberAndClaimant(ctx context.Context, tx repository.Tx, number int, claimantID string) (int64, error) {
	cmd, err := execSQL(ctx, r.pool, tx,
		`DELETE FROM number_reservations WHERE number=$1 AND claimant_id=$2;`, number, claimantID)
	if err != nil {
		return 0, mapError("delete reservation", err)
	}
	return cmd.RowsAffected(), nil
}

func (r *reservationRepo) DeleteExpiredForNumber(ctx context.Context, tx repository.Tx, number int, now time.Time) (int64, error) {
	cmd, err := execSQL(ctx, r.pool, tx,
		`DELETE FROM number_reservations WHERE number=$1 AND expires_at <= $2;`, number, now.UTC())
	if err != nil {
		return 0, mapError("delete expired reservation", err)
	}
	return cmd.RowsAffected(), nil
}

func (r *reservationRepo) DeleteExpiredBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]int, error) {
	const q = `DELETE FROM number_reservations WHERE expires_at < $1 RETURNING number;`
	rows, err := queryRows(ctx, r.pool, tx, q, cutoff.UTC())
	if err != nil {
		return nil, mapError("delete stale reservations", err)
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
		return nil, mapError("delete stale reservations", err)
	}
	return out, nil
}

func (r *reservationRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Reservation, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	res, err := scanReservation(row)
	if err != nil {
		return nil, mapError("read reservation", err)
	}
	return res, nil
}

func scanReservation(row pgx.Row) (*model.Reservation, error) {
	var res model.Reservation
	if err := row.Scan(&res.Ref, &res.Number, &res.ClaimantID, &res.Contact, &res.SessionRef, &res.ExpiresAt, &res.CreatedAt); err != nil {
		return nil, err
	}
	return &res, nil
}

package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. Postgres passes a pgx.Tx.
type Tx interface{}

// NoTX runs a repository call outside any transaction.
var NoTX interface{}

// TransactionManager runs fn inside one database transaction and hands the
// handle to fn as tx. Repository methods accept that tx, or NoTX, and must
// use it for every statement so that row locks and unique checks happen in
// the same transaction.
//
// Returning an error from fn rolls back. Never call an external service from
// inside fn: a transaction must not stay open while waiting on the payment
// processor.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

// NumberLocker serializes work on one member number across processes for the
// lifetime of tx. It complements the unique indexes, it does not replace them.
type NumberLocker interface {
	LockNumber(ctx context.Context, tx Tx, number int) error
}

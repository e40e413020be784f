package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle passed through use cases into
// repositories. The concrete type is infra-defined (pgx.Tx for Postgres);
// repositories must gracefully accept nil for the non-transactional path.
type Tx interface{}

// NoTX marks the non-transactional path explicitly at call sites.
var NoTX Tx

// TransactionManager executes a function inside a database transaction,
// handing the tx to the callback so repositories can take row locks
// (SELECT ... FOR UPDATE) and share the same transaction.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

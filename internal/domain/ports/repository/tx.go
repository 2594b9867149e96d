package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle passed through repository methods.
// The concrete type is infra-defined (pgx.Tx for Postgres). Repositories
// MUST accept nil for the non-transactional path.
type Tx interface{}

// NoTX marks the non-transactional call path.
var NoTX Tx = nil

// TransactionManager executes fn inside one database transaction, handing
// the tx handle through so repository calls inside fn share it. Keeping the
// handle opaque keeps use-case signatures free of storage types while still
// allowing SELECT ... FOR UPDATE row serialization where it matters
// (activation's read-modify-write must be atomic per license row).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

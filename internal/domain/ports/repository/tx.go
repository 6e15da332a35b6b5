package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// NoTX marks the non-transactional path; repositories must accept it.
var NoTX Tx

// TransactionManager executes fn inside a database transaction, passing the
// backend-specific handle through tx. Keeps use-case signatures free of
// driver types while still allowing SELECT ... FOR UPDATE inside fn.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

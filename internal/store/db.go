package store

import (
	"context"
	"database/sql"
)

// The stores accept these capabilities instead of *sqlx.DB so the same method
// works against the root handle or a transaction a service already holds.

// Execer runs statements whose rows are not read back.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Getter scans exactly one row into dest.
type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

// Selecter scans a result set into a slice.
type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// DB is the root handle, used by reads that do not need a transaction.
type DB interface {
	Execer
	Getter
	Selecter
}

package db

import "context"

// Database defines the relational access surface the judge stores use.
// This abstraction allows switching driver implementations without
// changing business logic.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction, committing on nil and
	// rolling back on error.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close closes the connection pool.
	Close() error
}

// Transaction mirrors the Querier surface inside a transaction.
type Transaction interface {
	Querier

	Commit() error
	Rollback() error
}

// Rows is an iterable result set.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is a single-row result.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result reports the outcome of a write statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

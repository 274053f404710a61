package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrAlreadyProcessed is returned by AppendTx when the idempotency key has
// already produced ledger entries. Callers treat it as success-no-op.
var ErrAlreadyProcessed = errors.New("idempotency key already processed")

// ErrConflict is returned when a concurrent writer is mutating the same
// account set. Safe to retry with backoff.
var ErrConflict = errors.New("concurrent ledger write conflict")

// ErrConditionFailed is returned by conditional balance updates whose WHERE
// guard matched no row (insufficient available or escrow balance).
var ErrConditionFailed = errors.New("balance condition not met")

// mapPgError translates low-level Postgres failures into the store's error
// taxonomy. Unique violations on ledger constraints mean another writer
// already recorded this logical event; serialization failures and deadlocks
// are retryable conflicts.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return ErrAlreadyProcessed
	case "40001", "40P01":
		return ErrConflict
	}
	return err
}

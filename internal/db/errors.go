package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTxConflict is returned once a transaction kept losing serialization
// conflicts or deadlocks after every retry. The whole operation may be
// retried by the caller.
var ErrTxConflict = errors.New("transaction conflict, retry the request")

// ConflictError wraps the last retryable error after attempts tries so it
// matches both ErrTxConflict and the underlying *pgconn.PgError.
func ConflictError(attempts int, err error) error {
	return fmt.Errorf("db: transaction failed after %d attempts: %w: %w", attempts, ErrTxConflict, err)
}

// IsUniqueViolation reports whether err is a unique_violation, optionally
// restricted to a single constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsCheckViolation reports whether err is a check_violation on constraint.
func IsCheckViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.CheckViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsRetryable reports whether the transaction that produced err can be
// replayed from the start.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

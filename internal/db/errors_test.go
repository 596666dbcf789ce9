package db_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/db"
)

func TestPgErrorClassification(t *testing.T) {
	unique := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "orders_order_number_key"}
	check := &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "products_stock_check"}
	serialization := &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	deadlock := &pgconn.PgError{Code: pgerrcode.DeadlockDetected}

	wrapped := fmt.Errorf("repository: failed to insert order: %w", unique)

	assert.True(t, db.IsUniqueViolation(wrapped, ""))
	assert.True(t, db.IsUniqueViolation(wrapped, "orders_order_number_key"))
	assert.False(t, db.IsUniqueViolation(wrapped, "payments_order_id_key"))
	assert.False(t, db.IsUniqueViolation(errors.New("plain"), ""))

	assert.True(t, db.IsCheckViolation(check, "products_stock_check"))
	assert.False(t, db.IsCheckViolation(unique, ""))

	assert.True(t, db.IsRetryable(fmt.Errorf("wrap: %w", serialization)))
	assert.True(t, db.IsRetryable(deadlock))
	assert.False(t, db.IsRetryable(unique))
	assert.False(t, db.IsRetryable(nil))
}

func TestConflictError(t *testing.T) {
	serialization := &pgconn.PgError{Code: pgerrcode.SerializationFailure}

	err := db.ConflictError(4, serialization)

	assert.ErrorIs(t, err, db.ErrTxConflict)
	assert.True(t, db.IsRetryable(err))
	var pgErr *pgconn.PgError
	assert.ErrorAs(t, err, &pgErr)
	assert.Equal(t, pgerrcode.SerializationFailure, pgErr.Code)
	assert.Contains(t, err.Error(), "after 4 attempts")
}

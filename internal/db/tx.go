package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager runs fn inside a single transaction. Every repository call made
// with the ctx handed to fn joins that transaction.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// Conn returns the transaction bound to ctx, or pool when there is none.
func Conn(ctx context.Context, pool *pgxpool.Pool) DBTX {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok
}

type PgTxManager struct {
	pool       *pgxpool.Pool
	timeout    time.Duration
	maxRetries int
}

func NewTxManager(pool *pgxpool.Pool, timeout time.Duration, maxRetries int) *PgTxManager {
	return &PgTxManager{pool: pool, timeout: timeout, maxRetries: maxRetries}
}

// WithinTx runs fn in a serializable transaction bounded by the configured
// timeout. Serialization failures and deadlocks are retried up to maxRetries
// times, after which ErrTxConflict is returned; any other error rolls back
// and is returned unchanged.
func (m *PgTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		err = m.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("db: transaction conflict, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return ConflictError(m.maxRetries+1, err)
}

func (m *PgTxManager) runOnce(parent context.Context, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(parent, m.timeout)
	defer cancel()

	tx, beginErr := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if beginErr != nil {
		return fmt.Errorf("db: failed to begin transaction: %w", beginErr)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("db: panic recovered inside transaction, rolling back")
			if rbErr := tx.Rollback(context.Background()); rbErr != nil {
				log.Error().Err(rbErr).Msg("db: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			// ctx may already be past its deadline; rollback must still reach the server.
			if rbErr := tx.Rollback(context.Background()); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("db: failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("db: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, tx))
}

package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/db"
)

var (
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrPaymentExists     = errors.New("payment already exists for order")
	ErrTransactionNeeded = errors.New("operation requires a transaction")
)

type Repository interface {
	// Create returns ErrPaymentExists when the order already has a payment.
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*Payment, error)
	GetByProviderOrderID(ctx context.Context, provider Provider, providerOrderID string) (*Payment, error)
	LockByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	LockByProviderOrderID(ctx context.Context, provider Provider, providerOrderID string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
}

const selectPayment = `
	SELECT id, order_id, user_id, amount, currency, status, provider, provider_order_id,
		provider_payment_id, payment_method, client_secret, idempotency_key,
		failure_reason, refund_reason, created_at, updated_at
	FROM order_service.payments
`

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Create(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO order_service.payments (
			id, order_id, user_id, amount, currency, status, provider, provider_order_id,
			provider_payment_id, payment_method, client_secret, idempotency_key,
			failure_reason, refund_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := db.Conn(ctx, r.pool).Exec(ctx, query,
		p.ID,
		p.OrderID,
		p.UserID,
		p.Amount,
		p.Currency,
		string(p.Status),
		string(p.Provider),
		p.ProviderOrderID,
		p.ProviderPaymentID,
		p.PaymentMethod,
		p.ClientSecret,
		p.IdempotencyKey,
		p.FailureReason,
		p.RefundReason,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err, "payments_order_id_key") {
			return ErrPaymentExists
		}
		return fmt.Errorf("repository: failed to insert payment for order %s: %w", p.OrderID, err)
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.selectOne(ctx, selectPayment+" WHERE id = $1", id)
}

func (r *postgresRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*Payment, error) {
	return r.selectOne(ctx, selectPayment+" WHERE order_id = $1", orderID)
}

func (r *postgresRepository) GetByProviderOrderID(ctx context.Context, provider Provider, providerOrderID string) (*Payment, error) {
	return r.selectOne(ctx, selectPayment+" WHERE provider = $1 AND provider_order_id = $2", string(provider), providerOrderID)
}

func (r *postgresRepository) LockByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	if !db.InTx(ctx) {
		return nil, ErrTransactionNeeded
	}
	return r.selectOne(ctx, selectPayment+" WHERE id = $1 FOR UPDATE", id)
}

func (r *postgresRepository) LockByProviderOrderID(ctx context.Context, provider Provider, providerOrderID string) (*Payment, error) {
	if !db.InTx(ctx) {
		return nil, ErrTransactionNeeded
	}
	return r.selectOne(ctx, selectPayment+" WHERE provider = $1 AND provider_order_id = $2 FOR UPDATE", string(provider), providerOrderID)
}

func (r *postgresRepository) selectOne(ctx context.Context, query string, args ...any) (*Payment, error) {
	var p Payment
	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(
		&p.ID,
		&p.OrderID,
		&p.UserID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.Provider,
		&p.ProviderOrderID,
		&p.ProviderPaymentID,
		&p.PaymentMethod,
		&p.ClientSecret,
		&p.IdempotencyKey,
		&p.FailureReason,
		&p.RefundReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to select payment: %w", err)
	}
	return &p, nil
}

func (r *postgresRepository) Update(ctx context.Context, p *Payment) error {
	query := `
		UPDATE order_service.payments
		SET status = $1, provider_payment_id = $2, payment_method = $3,
			failure_reason = $4, refund_reason = $5, updated_at = $6
		WHERE id = $7
	`

	cmdTag, err := db.Conn(ctx, r.pool).Exec(ctx, query,
		string(p.Status),
		p.ProviderPaymentID,
		p.PaymentMethod,
		p.FailureReason,
		p.RefundReason,
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update payment %s: %w", p.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/db"
)

const orderNumberConstraint = "orders_order_number_key"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderNumberTaken  = errors.New("order number already exists")
	ErrTransactionNeeded = errors.New("operation requires a transaction")
)

// Repository is the write side of the order aggregate. Every method joins
// the transaction carried by ctx, if any.
type Repository interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// LockOrder reads the order and its items under a row lock held until
	// the surrounding transaction ends.
	LockOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	UpdateStatus(ctx context.Context, order *Order) error
	AppendTracking(ctx context.Context, entry *Tracking) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) CreateOrder(ctx context.Context, order *Order) error {
	conn := db.Conn(ctx, r.pool)

	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("repository: failed to encode shipping address: %w", err)
	}

	queryOrder := `
		INSERT INTO order_service.orders (
			id, order_number, user_id, status, subtotal, tax, shipping_charge, discount,
			total_amount, shipping_address, cancel_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = conn.Exec(ctx, queryOrder,
		order.ID,
		order.OrderNumber,
		order.UserID,
		string(order.Status),
		order.Subtotal,
		order.Tax,
		order.ShippingCharge,
		order.Discount,
		order.TotalAmount,
		string(address),
		order.CancelReason,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err, orderNumberConstraint) {
			return ErrOrderNumberTaken
		}
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_service.order_items (
			id, order_id, position, product_id, product_title, product_image, quantity, price_per_unit, total_price, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for i := range order.Items {
		item := &order.Items[i]
		_, err = conn.Exec(ctx, queryItem,
			item.ID,
			item.OrderID,
			i,
			item.ProductID,
			item.ProductTitle,
			item.ProductImage,
			item.Quantity,
			item.PricePerUnit,
			item.TotalPrice,
			item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", order.ID, err)
		}
	}

	return nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.selectOrder(ctx, id, false)
}

func (r *postgresRepository) LockOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	if !db.InTx(ctx) {
		return nil, ErrTransactionNeeded
	}
	return r.selectOrder(ctx, id, true)
}

func (r *postgresRepository) selectOrder(ctx context.Context, id uuid.UUID, forUpdate bool) (*Order, error) {
	conn := db.Conn(ctx, r.pool)

	queryOrder := `
		SELECT id, order_number, user_id, status, subtotal, tax, shipping_charge, discount,
			total_amount, shipping_address, cancel_reason, created_at, updated_at
		FROM order_service.orders
		WHERE id = $1
	`
	if forUpdate {
		queryOrder += " FOR UPDATE"
	}

	var (
		order   Order
		address []byte
	)
	err := conn.QueryRow(ctx, queryOrder, id).Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.Status,
		&order.Subtotal,
		&order.Tax,
		&order.ShippingCharge,
		&order.Discount,
		&order.TotalAmount,
		&address,
		&order.CancelReason,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("repository: failed to decode shipping address for order %s: %w", id, err)
	}

	queryItems := `
		SELECT id, order_id, product_id, product_title, product_image, quantity, price_per_unit, total_price, created_at
		FROM order_service.order_items
		WHERE order_id = $1
		ORDER BY position
	`
	rows, err := conn.Query(ctx, queryItems, id)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order id %s: %w", id, err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductTitle,
			&item.ProductImage,
			&item.Quantity,
			&item.PricePerUnit,
			&item.TotalPrice,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order id %s: %w", id, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order id %s: %w", id, err)
	}

	order.Items = items
	return &order, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, order *Order) error {
	query := `
		UPDATE order_service.orders
		SET status = $1, cancel_reason = $2, updated_at = $3
		WHERE id = $4
	`

	cmdTag, err := db.Conn(ctx, r.pool).Exec(ctx, query,
		string(order.Status),
		order.CancelReason,
		order.UpdatedAt,
		order.ID,
	)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", order.ID).Stringer("new_status", order.Status).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status %s: %w", order.ID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		log.Warn().Stringer("order_id", order.ID).Stringer("new_status", order.Status).Msg("repository: order not found for status update")
		return ErrOrderNotFound
	}

	return nil
}

func (r *postgresRepository) AppendTracking(ctx context.Context, entry *Tracking) error {
	query := `
		INSERT INTO order_service.order_tracking (id, order_id, status, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := db.Conn(ctx, r.pool).Exec(ctx, query,
		entry.ID,
		entry.OrderID,
		string(entry.Status),
		entry.Note,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert tracking for order %s: %w", entry.OrderID, err)
	}

	return nil
}

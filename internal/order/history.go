package order

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
)

// ListFilter narrows ListOrders. A nil UserID lists every order.
type ListFilter struct {
	UserID *uuid.UUID
	Limit  int
	Offset int
}

// HistoryRepository serves read-only views: order listings and the
// tracking log.
type HistoryRepository interface {
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
	ListTracking(ctx context.Context, orderID uuid.UUID) ([]Tracking, error)
}

type sqlxHistoryRepository struct {
	db *sqlx.DB
}

func NewHistoryRepository(db *sqlx.DB) HistoryRepository {
	return &sqlxHistoryRepository{db: db}
}

func (r *sqlxHistoryRepository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	query := `
		SELECT id, order_number, user_id, status, subtotal, tax, shipping_charge, discount,
			total_amount, shipping_address, cancel_reason, created_at, updated_at
		FROM order_service.orders
		WHERE ($1::uuid IS NULL OR user_id = $1::uuid)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`

	var userID *string
	if filter.UserID != nil {
		s := filter.UserID.String()
		userID = &s
	}

	orders := make([]Order, 0)
	if err := r.db.SelectContext(ctx, &orders, query, userID, filter.Limit, filter.Offset); err != nil {
		return nil, fmt.Errorf("repository: failed to list orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	index := make(map[uuid.UUID]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID.String()
		index[orders[i].ID] = i
		orders[i].Items = make([]OrderItem, 0)
	}

	itemsQuery := `
		SELECT id, order_id, product_id, product_title, product_image, quantity, price_per_unit, total_price, created_at
		FROM order_service.order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`
	var items []OrderItem
	if err := r.db.SelectContext(ctx, &items, itemsQuery, ids); err != nil {
		return nil, fmt.Errorf("repository: failed to list order items: %w", err)
	}

	for _, item := range items {
		if i, ok := index[item.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}

	return orders, nil
}

func (r *sqlxHistoryRepository) ListTracking(ctx context.Context, orderID uuid.UUID) ([]Tracking, error) {
	query := `
		SELECT id, order_id, status, note, created_at
		FROM order_service.order_tracking
		WHERE order_id = $1
		ORDER BY seq
	`

	entries := make([]Tracking, 0)
	if err := r.db.SelectContext(ctx, &entries, query, orderID.String()); err != nil {
		return nil, fmt.Errorf("repository: failed to list tracking for order %s: %w", orderID, err)
	}

	return entries, nil
}

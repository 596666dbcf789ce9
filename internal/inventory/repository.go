package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/db"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool}
}

func (s *postgresStore) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	query := `
		SELECT id, title, image_url, price, stock, is_active, updated_at
		FROM order_service.products
		WHERE id = ANY($1::uuid[])
	`

	rawIDs := make([]string, len(ids))
	for i, id := range ids {
		rawIDs[i] = id.String()
	}

	rows, err := db.Conn(ctx, s.pool).Query(ctx, query, rawIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query products: %w", err)
	}
	defer rows.Close()

	products := make(map[uuid.UUID]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Title, &p.ImageURL, &p.Price, &p.Stock, &p.IsActive, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating products: %w", err)
	}

	return products, nil
}

func (s *postgresStore) LockProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	if !db.InTx(ctx) {
		return nil, errors.New("repository: LockProduct requires a transaction")
	}

	query := `
		SELECT id, title, image_url, price, stock, is_active, updated_at
		FROM order_service.products
		WHERE id = $1
		FOR UPDATE
	`

	var p Product
	err := db.Conn(ctx, s.pool).QueryRow(ctx, query, id).
		Scan(&p.ID, &p.Title, &p.ImageURL, &p.Price, &p.Stock, &p.IsActive, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock product %s: %w", id, err)
	}

	return &p, nil
}

func (s *postgresStore) AdjustStock(ctx context.Context, id uuid.UUID, delta int) error {
	query := `
		UPDATE order_service.products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
	`

	cmdTag, err := db.Conn(ctx, s.pool).Exec(ctx, query, id, delta)
	if err != nil {
		if db.IsCheckViolation(err, "products_stock_check") {
			return ErrInsufficientStock
		}
		return fmt.Errorf("repository: failed to adjust stock for product %s: %w", id, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}

	return nil
}

package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrProductUnavailable = errors.New("product is not available")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
)

// Store is the persistence contract of the catalog collaborator.
// LockProduct must take a row lock that is held until the surrounding
// transaction ends.
type Store interface {
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error)
	LockProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) error
}

// Ledger reserves and releases stock. Both calls must run inside the
// caller's transaction.
type Ledger interface {
	// Reserve decrements stock by qty and returns the product as read under
	// the lock, so callers price the order from the same read.
	Reserve(ctx context.Context, productID uuid.UUID, qty int) (*Product, error)
	// Release increments stock by qty. Calling it twice for one reservation
	// over-releases; the ledger does not detect that.
	Release(ctx context.Context, productID uuid.UUID, qty int) error
}

type ledger struct {
	store Store
}

func NewLedger(store Store) Ledger {
	return &ledger{store: store}
}

func (l *ledger) Reserve(ctx context.Context, productID uuid.UUID, qty int) (*Product, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	product, err := l.store.LockProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, productID)
		}
		return nil, fmt.Errorf("ledger: failed to lock product %s: %w", productID, err)
	}

	if !product.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, productID)
	}

	if product.Stock < qty {
		log.Warn().
			Stringer("product_id", productID).
			Int("available", product.Stock).
			Int("requested", qty).
			Msg("ledger: insufficient stock")
		return nil, fmt.Errorf("%w: product %s has %d, requested %d", ErrInsufficientStock, productID, product.Stock, qty)
	}

	if err := l.store.AdjustStock(ctx, productID, -qty); err != nil {
		return nil, fmt.Errorf("ledger: failed to reserve product %s: %w", productID, err)
	}
	product.Stock -= qty

	return product, nil
}

func (l *ledger) Release(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}

	if err := l.store.AdjustStock(ctx, productID, qty); err != nil {
		return fmt.Errorf("ledger: failed to release product %s: %w", productID, err)
	}

	log.Debug().Stringer("product_id", productID).Int("quantity", qty).Msg("ledger: stock released")
	return nil
}

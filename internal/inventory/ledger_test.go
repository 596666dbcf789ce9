package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/inventory"
)

type mockStore struct {
	getProductsFunc func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]inventory.Product, error)
	lockProductFunc func(ctx context.Context, id uuid.UUID) (*inventory.Product, error)
	adjustStockFunc func(ctx context.Context, id uuid.UUID, delta int) error
}

func (m *mockStore) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]inventory.Product, error) {
	return m.getProductsFunc(ctx, ids)
}

func (m *mockStore) LockProduct(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
	return m.lockProductFunc(ctx, id)
}

func (m *mockStore) AdjustStock(ctx context.Context, id uuid.UUID, delta int) error {
	return m.adjustStockFunc(ctx, id, delta)
}

func TestLedger_Reserve(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name          string
		qty           int
		lockFunc      func(ctx context.Context, id uuid.UUID) (*inventory.Product, error)
		adjustFunc    func(ctx context.Context, id uuid.UUID, delta int) error
		wantErrIs     error
		wantStock     int
		wantAdjustArg int
	}{
		{
			name: "reserves_available_stock",
			qty:  3,
			lockFunc: func(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
				return &inventory.Product{ID: id, Price: 500, Stock: 5, IsActive: true}, nil
			},
			adjustFunc:    func(ctx context.Context, id uuid.UUID, delta int) error { return nil },
			wantStock:     2,
			wantAdjustArg: -3,
		},
		{
			name: "reserves_exact_stock",
			qty:  5,
			lockFunc: func(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
				return &inventory.Product{ID: id, Stock: 5, IsActive: true}, nil
			},
			adjustFunc:    func(ctx context.Context, id uuid.UUID, delta int) error { return nil },
			wantStock:     0,
			wantAdjustArg: -5,
		},
		{
			name: "insufficient_stock",
			qty:  6,
			lockFunc: func(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
				return &inventory.Product{ID: id, Stock: 5, IsActive: true}, nil
			},
			wantErrIs: inventory.ErrInsufficientStock,
		},
		{
			name: "inactive_product",
			qty:  1,
			lockFunc: func(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
				return &inventory.Product{ID: id, Stock: 5, IsActive: false}, nil
			},
			wantErrIs: inventory.ErrProductUnavailable,
		},
		{
			name: "missing_product",
			qty:  1,
			lockFunc: func(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
				return nil, inventory.ErrProductNotFound
			},
			wantErrIs: inventory.ErrProductUnavailable,
		},
		{
			name:      "zero_quantity",
			qty:       0,
			wantErrIs: inventory.ErrInvalidQuantity,
		},
		{
			name: "storage_check_constraint",
			qty:  1,
			lockFunc: func(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
				return &inventory.Product{ID: id, Stock: 1, IsActive: true}, nil
			},
			adjustFunc: func(ctx context.Context, id uuid.UUID, delta int) error {
				return inventory.ErrInsufficientStock
			},
			wantErrIs:     inventory.ErrInsufficientStock,
			wantAdjustArg: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var adjusted int
			store := &mockStore{
				lockProductFunc: tt.lockFunc,
				adjustStockFunc: func(ctx context.Context, id uuid.UUID, delta int) error {
					adjusted = delta
					return tt.adjustFunc(ctx, id, delta)
				},
			}
			ledger := inventory.NewLedger(store)

			product, err := ledger.Reserve(context.Background(), productID, tt.qty)
			assert.Equal(t, tt.wantAdjustArg, adjusted)
			if tt.wantErrIs != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErrIs), "got %v", err)
				assert.Nil(t, product)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStock, product.Stock)
		})
	}
}

func TestLedger_Release(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())

	var gotDelta int
	store := &mockStore{
		adjustStockFunc: func(ctx context.Context, id uuid.UUID, delta int) error {
			assert.Equal(t, productID, id)
			gotDelta = delta
			return nil
		},
	}
	ledger := inventory.NewLedger(store)

	require.NoError(t, ledger.Release(context.Background(), productID, 4))
	assert.Equal(t, 4, gotDelta)

	assert.ErrorIs(t, ledger.Release(context.Background(), productID, 0), inventory.ErrInvalidQuantity)

	store.adjustStockFunc = func(ctx context.Context, id uuid.UUID, delta int) error {
		return inventory.ErrProductNotFound
	}
	assert.ErrorIs(t, ledger.Release(context.Background(), productID, 1), inventory.ErrProductNotFound)
}

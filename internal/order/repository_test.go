package order_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/audit"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/config"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/db"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/order"
)

// pg is nil unless DB_HOST_TEST points at a disposable Postgres instance.
var pg *db.Postgres

func TestMain(m *testing.M) {
	host := os.Getenv("DB_HOST_TEST")
	if host == "" {
		os.Exit(m.Run())
	}

	cfg := config.PostgresConfig{
		Host:            host,
		Port:            envOr("DB_PORT_TEST", "5432"),
		User:            envOr("DB_USER_TEST", "postgres"),
		Password:        envOr("DB_PASSWORD_TEST", "postgres"),
		DBName:          envOr("DB_NAME_TEST", "orders_test"),
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MigrationsPath:  "../../migrations",
	}

	if err := db.ApplyMigrations(cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate test database")
	}

	var err error
	pg, err = db.New(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to test database")
	}

	code := m.Run()
	pg.Close()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupPostgres(t *testing.T) {
	t.Helper()
	if pg == nil {
		t.Skip("DB_HOST_TEST not set, skipping Postgres integration test")
	}

	truncate := func() {
		_, err := pg.Pool.Exec(context.Background(), `
			TRUNCATE order_service.payments, order_service.order_tracking,
				order_service.order_items, order_service.orders, order_service.products`)
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(truncate)
}

func insertProduct(t *testing.T, price int64, stock int) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	_, err := pg.Pool.Exec(context.Background(),
		`INSERT INTO order_service.products (id, title, image_url, price, stock) VALUES ($1, $2, $3, $4, $5)`,
		id, "product "+id.String()[:8], "", price, stock)
	require.NoError(t, err)
	return id
}

func productStock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var stock int
	err := pg.Pool.QueryRow(context.Background(),
		`SELECT stock FROM order_service.products WHERE id = $1`, id).Scan(&stock)
	require.NoError(t, err)
	return stock
}

func newPostgresService(t *testing.T) order.Service {
	t.Helper()
	tx := db.NewTxManager(pg.Pool, 5*time.Second, 5)
	products := inventory.NewPostgresStore(pg.Pool)
	return order.NewService(
		tx,
		order.NewRepository(pg.Pool),
		order.NewHistoryRepository(pg.SQLX),
		products,
		inventory.NewLedger(products),
		audit.NopRecorder(),
	)
}

func TestPostgres_CreateAndReadOrder(t *testing.T) {
	setupPostgres(t)
	svc := newPostgresService(t)
	ctx := context.Background()

	a := insertProduct(t, 1000, 10)
	b := insertProduct(t, 700, 5)
	user := order.Actor{ID: uuid.Must(uuid.NewV4()), Role: order.RoleUser}

	created, err := svc.CreateOrder(ctx, order.CreateOrderInput{
		UserID: user.ID,
		Items: []order.ItemInput{
			{ProductID: a, Quantity: 1},
			{ProductID: b, Quantity: 1},
		},
		ShippingAddress: validAddress(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1700), created.TotalAmount)
	assert.Equal(t, 9, productStock(t, a))
	assert.Equal(t, 4, productStock(t, b))

	got, err := svc.GetOrder(ctx, created.ID, user)
	require.NoError(t, err)
	assert.Equal(t, created.OrderNumber, got.OrderNumber)
	assert.Equal(t, created.ShippingAddress, got.ShippingAddress)
	require.Len(t, got.Items, 2)
	var itemsTotal int64
	for _, item := range got.Items {
		itemsTotal += item.TotalPrice
	}
	assert.Equal(t, got.Subtotal, itemsTotal)

	list, err := svc.ListOrders(ctx, user, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Items, 2)

	tracking, err := svc.GetTracking(ctx, created.ID, user)
	require.NoError(t, err)
	require.Len(t, tracking, 1)
	assert.Equal(t, order.StatusPending, tracking[0].Status)
}

func TestPostgres_ItemsKeepCartOrder(t *testing.T) {
	setupPostgres(t)
	svc := newPostgresService(t)
	ctx := context.Background()
	user := order.Actor{ID: uuid.Must(uuid.NewV4()), Role: order.RoleUser}

	var (
		items []order.ItemInput
		want  []uuid.UUID
	)
	for i := 0; i < 8; i++ {
		id := insertProduct(t, 100, 10)
		items = append(items, order.ItemInput{ProductID: id, Quantity: 1})
		want = append(want, id)
	}

	created, err := svc.CreateOrder(ctx, order.CreateOrderInput{
		UserID:          user.ID,
		Items:           items,
		ShippingAddress: validAddress(),
	})
	require.NoError(t, err)

	productIDs := func(items []order.OrderItem) []uuid.UUID {
		ids := make([]uuid.UUID, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ProductID)
		}
		return ids
	}

	got, err := svc.GetOrder(ctx, created.ID, user)
	require.NoError(t, err)
	assert.Equal(t, want, productIDs(got.Items))

	list, err := svc.ListOrders(ctx, user, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, want, productIDs(list[0].Items))
}

func TestPostgres_InsufficientStockRollsBack(t *testing.T) {
	setupPostgres(t)
	svc := newPostgresService(t)

	a := insertProduct(t, 1000, 10)
	b := insertProduct(t, 700, 1)

	_, err := svc.CreateOrder(context.Background(), order.CreateOrderInput{
		UserID: uuid.Must(uuid.NewV4()),
		Items: []order.ItemInput{
			{ProductID: a, Quantity: 4},
			{ProductID: b, Quantity: 2},
		},
		ShippingAddress: validAddress(),
	})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, 10, productStock(t, a))
	assert.Equal(t, 1, productStock(t, b))

	var orders int
	require.NoError(t, pg.Pool.QueryRow(context.Background(), `SELECT count(*) FROM order_service.orders`).Scan(&orders))
	assert.Zero(t, orders)
}

func TestPostgres_ConcurrentOrdersNeverOversell(t *testing.T) {
	setupPostgres(t)
	svc := newPostgresService(t)
	a := insertProduct(t, 500, 3)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(context.Background(), order.CreateOrderInput{
				UserID:          uuid.Must(uuid.NewV4()),
				Items:           []order.ItemInput{{ProductID: a, Quantity: 1}},
				ShippingAddress: validAddress(),
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			if !errors.Is(err, inventory.ErrInsufficientStock) && !errors.Is(err, db.ErrTxConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, ok, 3)
	assert.Equal(t, 3-ok, productStock(t, a))
}

func TestPostgres_CancelRestoresStock(t *testing.T) {
	setupPostgres(t)
	svc := newPostgresService(t)
	ctx := context.Background()

	a := insertProduct(t, 1000, 5)
	user := order.Actor{ID: uuid.Must(uuid.NewV4()), Role: order.RoleUser}
	created, err := svc.CreateOrder(ctx, order.CreateOrderInput{
		UserID:          user.ID,
		Items:           []order.ItemInput{{ProductID: a, Quantity: 5}},
		ShippingAddress: validAddress(),
	})
	require.NoError(t, err)
	require.Equal(t, 0, productStock(t, a))

	cancelled, err := svc.CancelOrder(ctx, created.ID, user, "")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, 5, productStock(t, a))

	got, err := svc.GetOrder(ctx, created.ID, user)
	require.NoError(t, err)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "Cancelled by customer", *got.CancelReason)

	_, err = svc.CancelOrder(ctx, created.ID, user, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.Equal(t, 5, productStock(t, a))
}

func TestPostgres_OrderNumberUnique(t *testing.T) {
	setupPostgres(t)
	repo := order.NewRepository(pg.Pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	newOrder := func() *order.Order {
		return &order.Order{
			ID:              uuid.Must(uuid.NewV4()),
			OrderNumber:     "ORD-FIXED-000001",
			UserID:          uuid.Must(uuid.NewV4()),
			Status:          order.StatusPending,
			Subtotal:        100,
			TotalAmount:     100,
			ShippingAddress: validAddress(),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}

	require.NoError(t, repo.CreateOrder(ctx, newOrder()))
	assert.ErrorIs(t, repo.CreateOrder(ctx, newOrder()), order.ErrOrderNumberTaken)

	_, err := repo.LockOrder(ctx, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, order.ErrTransactionNeeded)

	_, err = repo.GetOrderByID(ctx, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

// Package storetest provides an in-memory implementation of every
// repository and the transaction manager, for service tests that need real
// transactional behaviour without a database.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/db"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/order"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/payment"
)

var (
	_ db.TxManager            = (*Store)(nil)
	_ inventory.Store         = (*Store)(nil)
	_ order.Repository        = (*Store)(nil)
	_ order.HistoryRepository = (*Store)(nil)
	_ payment.Repository      = (*Store)(nil)
)

type txKey struct{}

type state struct {
	products map[uuid.UUID]inventory.Product
	orders   map[uuid.UUID]order.Order
	numbers  map[string]uuid.UUID
	tracking map[uuid.UUID][]order.Tracking
	payments map[uuid.UUID]payment.Payment
}

func newState() state {
	return state{
		products: make(map[uuid.UUID]inventory.Product),
		orders:   make(map[uuid.UUID]order.Order),
		numbers:  make(map[string]uuid.UUID),
		tracking: make(map[uuid.UUID][]order.Tracking),
		payments: make(map[uuid.UUID]payment.Payment),
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range s.numbers {
		c.numbers[k] = v
	}
	for k, v := range s.tracking {
		c.tracking[k] = append([]order.Tracking(nil), v...)
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

func copyOrder(o order.Order) order.Order {
	o.Items = append([]order.OrderItem(nil), o.Items...)
	return o
}

// Store serialises transactions with a single lock, which gives the same
// observable behaviour as serializable isolation. A failed transaction
// restores the snapshot taken when it began.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data state

	// FailOn, when set, is consulted before every write; a non-nil result
	// aborts that write.
	FailOn func(op string) error
}

func New() *Store {
	return &Store{data: newState()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, true))
}

func (s *Store) restore(snapshot state) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
}

func inTx(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

func (s *Store) fail(op string) error {
	if s.FailOn == nil {
		return nil
	}
	return s.FailOn(op)
}

// Seeding and inspection helpers.

func (s *Store) AddProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[p.ID] = p
}

func (s *Store) Product(id uuid.UUID) inventory.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.products[id]
}

func (s *Store) Order(id uuid.UUID) (order.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.orders[id]
	return copyOrder(o), ok
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.orders)
}

func (s *Store) Tracking(orderID uuid.UUID) []order.Tracking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]order.Tracking(nil), s.data.tracking[orderID]...)
}

func (s *Store) PaymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.payments)
}

// SetOrderStatus forces a status without going through the lifecycle.
func (s *Store) SetOrderStatus(id uuid.UUID, status order.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.data.orders[id]
	o.Status = status
	s.data.orders[id] = o
}

// inventory.Store

func (s *Store) GetProducts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]inventory.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.data.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) LockProduct(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
	if !inTx(ctx) {
		return nil, errors.New("storetest: LockProduct requires a transaction")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.products[id]
	if !ok {
		return nil, inventory.ErrProductNotFound
	}
	return &p, nil
}

func (s *Store) AdjustStock(_ context.Context, id uuid.UUID, delta int) error {
	if err := s.fail("AdjustStock"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.products[id]
	if !ok {
		return inventory.ErrProductNotFound
	}
	if p.Stock+delta < 0 {
		return inventory.ErrInsufficientStock
	}
	p.Stock += delta
	s.data.products[id] = p
	return nil
}

// order.Repository

func (s *Store) CreateOrder(_ context.Context, o *order.Order) error {
	if err := s.fail("CreateOrder"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.data.numbers[o.OrderNumber]; taken {
		return order.ErrOrderNumberTaken
	}
	if o.TotalAmount != o.Subtotal+o.Tax+o.ShippingCharge-o.Discount {
		return fmt.Errorf("storetest: orders_total_check violated for %s", o.ID)
	}
	s.data.orders[o.ID] = copyOrder(*o)
	s.data.numbers[o.OrderNumber] = o.ID
	return nil
}

func (s *Store) GetOrderByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	c := copyOrder(o)
	return &c, nil
}

func (s *Store) LockOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	if !inTx(ctx) {
		return nil, order.ErrTransactionNeeded
	}
	return s.GetOrderByID(ctx, id)
}

func (s *Store) UpdateStatus(_ context.Context, o *order.Order) error {
	if err := s.fail("UpdateStatus"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.data.orders[o.ID]
	if !ok {
		return order.ErrOrderNotFound
	}
	existing.Status = o.Status
	existing.CancelReason = o.CancelReason
	existing.UpdatedAt = o.UpdatedAt
	s.data.orders[o.ID] = existing
	return nil
}

func (s *Store) AppendTracking(_ context.Context, entry *order.Tracking) error {
	if err := s.fail("AppendTracking"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.tracking[entry.OrderID] = append(s.data.tracking[entry.OrderID], *entry)
	return nil
}

// order.HistoryRepository

func (s *Store) ListOrders(_ context.Context, filter order.ListFilter) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]order.Order, 0)
	for _, o := range s.data.orders {
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		out = append(out, copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset >= len(out) {
		return []order.Order{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListTracking(_ context.Context, orderID uuid.UUID) ([]order.Tracking, error) {
	return s.Tracking(orderID), nil
}

// payment.Repository

func (s *Store) Create(_ context.Context, pay *payment.Payment) error {
	if err := s.fail("CreatePayment"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.data.payments {
		if existing.OrderID == pay.OrderID {
			return payment.ErrPaymentExists
		}
		if existing.IdempotencyKey == pay.IdempotencyKey {
			return fmt.Errorf("storetest: payments_idempotency_key_key violated")
		}
		if existing.Provider == pay.Provider && existing.ProviderOrderID == pay.ProviderOrderID {
			return fmt.Errorf("storetest: payments_provider_ref_key violated")
		}
	}
	s.data.payments[pay.ID] = *pay
	return nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pay, ok := s.data.payments[id]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	return &pay, nil
}

func (s *Store) GetByOrderID(_ context.Context, orderID uuid.UUID) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pay := range s.data.payments {
		if pay.OrderID == orderID {
			return &pay, nil
		}
	}
	return nil, payment.ErrPaymentNotFound
}

func (s *Store) GetByProviderOrderID(_ context.Context, provider payment.Provider, ref string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pay := range s.data.payments {
		if pay.Provider == provider && pay.ProviderOrderID == ref {
			return &pay, nil
		}
	}
	return nil, payment.ErrPaymentNotFound
}

func (s *Store) LockByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	if !inTx(ctx) {
		return nil, payment.ErrTransactionNeeded
	}
	return s.GetByID(ctx, id)
}

func (s *Store) LockByProviderOrderID(ctx context.Context, provider payment.Provider, ref string) (*payment.Payment, error) {
	if !inTx(ctx) {
		return nil, payment.ErrTransactionNeeded
	}
	return s.GetByProviderOrderID(ctx, provider, ref)
}

func (s *Store) Update(_ context.Context, pay *payment.Payment) error {
	if err := s.fail("UpdatePayment"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.payments[pay.ID]; !ok {
		return payment.ErrPaymentNotFound
	}
	s.data.payments[pay.ID] = *pay
	return nil
}

// Payment returns the stored payment for an order.
func (s *Store) Payment(orderID uuid.UUID) (payment.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pay := range s.data.payments {
		if pay.OrderID == orderID {
			return pay, true
		}
	}
	return payment.Payment{}, false
}

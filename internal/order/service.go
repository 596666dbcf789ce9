package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/audit"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/db"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/inventory"
)

const (
	maxOrderNumberAttempts = 3
	defaultListLimit       = 20
	maxListLimit           = 100
)

var (
	ErrEmptyOrder        = errors.New("order must contain at least one item")
	ErrInvalidQuantity   = errors.New("item quantity must be at least 1")
	ErrDuplicateProduct  = errors.New("duplicate product in order")
	ErrInvalidAddress    = errors.New("invalid shipping address")
	ErrInvalidStatus     = errors.New("unknown order status")
	ErrStatusAlreadySet  = errors.New("status is already set to the desired value")
	ErrForbidden         = errors.New("operation not permitted")
	ErrInvalidPagination = errors.New("invalid pagination parameters")
)

type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error)
	GetOrder(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error)
	ListOrders(ctx context.Context, actor Actor, limit, offset int) ([]Order, error)
	GetTracking(ctx context.Context, id uuid.UUID, actor Actor) ([]Tracking, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status Status, actor Actor, note string) (*Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Order, error)
}

type Option func(*service)

func WithPricing(rules PricingRules) Option {
	return func(s *service) { s.pricing = rules }
}

func WithNumberGenerator(gen NumberGenerator) Option {
	return func(s *service) { s.numbers = gen }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
		s.lifecycle.now = now
	}
}

type service struct {
	tx        db.TxManager
	repo      Repository
	history   HistoryRepository
	products  inventory.Store
	ledger    inventory.Ledger
	lifecycle *Lifecycle
	recorder  audit.Recorder
	pricing   PricingRules
	numbers   NumberGenerator
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(
	tx db.TxManager,
	repo Repository,
	history HistoryRepository,
	products inventory.Store,
	ledger inventory.Ledger,
	recorder audit.Recorder,
	opts ...Option,
) Service {
	s := &service{
		tx:        tx,
		repo:      repo,
		history:   history,
		products:  products,
		ledger:    ledger,
		lifecycle: NewLifecycle(repo, ledger),
		recorder:  recorder,
		pricing:   NoCharges(),
		numbers:   NewNumberGenerator(),
		validate:  validator.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error) {
	if err := s.validateCreateInput(input); err != nil {
		log.Warn().Err(err).Stringer("user_id", input.UserID).Msg("service: rejected order input")
		return nil, err
	}

	var (
		order *Order
		err   error
	)
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		order, err = s.createOrderOnce(ctx, input)
		if !errors.Is(err, ErrOrderNumberTaken) {
			break
		}
		log.Warn().Int("attempt", attempt).Stringer("user_id", input.UserID).Msg("service: order number collision, regenerating")
	}
	if err != nil {
		if errors.Is(err, ErrOrderNumberTaken) {
			log.Error().Err(err).Stringer("user_id", input.UserID).Msg("service: exhausted order number attempts")
		}
		return nil, err
	}

	log.Info().
		Stringer("order_id", order.ID).
		Stringer("user_id", order.UserID).
		Str("order_number", order.OrderNumber).
		Int64("total_amount", order.TotalAmount).
		Msg("service: order created successfully")

	s.recorder.Record(ctx, audit.Entry{
		Action:       audit.ActionOrderCreated,
		ResourceType: "order",
		ResourceID:   order.ID.String(),
		ActorID:      order.UserID.String(),
		Metadata: map[string]string{
			"order_number": order.OrderNumber,
			"total_amount": strconv.FormatInt(order.TotalAmount, 10),
			"items":        strconv.Itoa(len(order.Items)),
		},
	})

	return order, nil
}

func (s *service) validateCreateInput(input CreateOrderInput) error {
	if input.UserID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", ErrForbidden)
	}
	if len(input.Items) == 0 {
		return ErrEmptyOrder
	}

	seen := make(map[uuid.UUID]struct{}, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return fmt.Errorf("%w: product id cannot be nil", inventory.ErrProductUnavailable)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: product %s", ErrInvalidQuantity, item.ProductID)
		}
		if _, dup := seen[item.ProductID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateProduct, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}

	if err := s.validate.Struct(input.ShippingAddress); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}

func (s *service) createOrderOnce(ctx context.Context, input CreateOrderInput) (*Order, error) {
	var created *Order

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ids := make([]uuid.UUID, len(input.Items))
		for i, item := range input.Items {
			ids[i] = item.ProductID
		}

		products, err := s.products.GetProducts(ctx, ids)
		if err != nil {
			return fmt.Errorf("service: failed to load products: %w", err)
		}
		for _, id := range ids {
			p, ok := products[id]
			if !ok || !p.IsActive {
				return fmt.Errorf("%w: %s", inventory.ErrProductUnavailable, id)
			}
		}

		orderID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("service: failed to generate order id: %w", err)
		}
		now := s.now().UTC()

		items := make([]OrderItem, 0, len(input.Items))
		var subtotal int64
		for _, in := range input.Items {
			product, err := s.ledger.Reserve(ctx, in.ProductID, in.Quantity)
			if err != nil {
				return err
			}

			itemID, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("service: failed to generate order item id: %w", err)
			}

			total := product.Price * int64(in.Quantity)
			subtotal += total
			items = append(items, OrderItem{
				ID:           itemID,
				OrderID:      orderID,
				ProductID:    product.ID,
				ProductTitle: product.Title,
				ProductImage: product.ImageURL,
				Quantity:     in.Quantity,
				PricePerUnit: product.Price,
				TotalPrice:   total,
				CreatedAt:    now,
			})
		}

		charges, err := s.pricing.Charges(subtotal, items, input.ShippingAddress)
		if err != nil {
			return fmt.Errorf("service: failed to price order: %w", err)
		}

		number, err := s.numbers.Next()
		if err != nil {
			return err
		}

		order := &Order{
			ID:              orderID,
			OrderNumber:     number,
			UserID:          input.UserID,
			Status:          StatusPending,
			Subtotal:        subtotal,
			Tax:             charges.Tax,
			ShippingCharge:  charges.ShippingCharge,
			Discount:        charges.Discount,
			TotalAmount:     subtotal + charges.Tax + charges.ShippingCharge - charges.Discount,
			ShippingAddress: input.ShippingAddress,
			Items:           items,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := s.repo.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := s.lifecycle.appendTracking(ctx, order.ID, StatusPending, "Order created", now); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	if !actor.CanAccess(order.UserID) {
		log.Warn().Stringer("order_id", id).Stringer("actor_id", actor.ID).Msg("service: order requested by non-owner")
		return nil, ErrOrderNotFound
	}

	return order, nil
}

func (s *service) ListOrders(ctx context.Context, actor Actor, limit, offset int) ([]Order, error) {
	if limit < 0 || offset < 0 {
		return nil, ErrInvalidPagination
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	filter := ListFilter{Limit: limit, Offset: offset}
	if !actor.IsAdmin() {
		userID := actor.ID
		filter.UserID = &userID
	}

	orders, err := s.history.ListOrders(ctx, filter)
	if err != nil {
		log.Error().Err(err).Stringer("actor_id", actor.ID).Msg("service: failed to list orders in repository")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}

	return orders, nil
}

func (s *service) GetTracking(ctx context.Context, id uuid.UUID, actor Actor) ([]Tracking, error) {
	if _, err := s.GetOrder(ctx, id, actor); err != nil {
		return nil, err
	}

	entries, err := s.history.ListTracking(ctx, id)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to list tracking in repository")
		return nil, fmt.Errorf("service: failed to list tracking: %w", err)
	}

	return entries, nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status Status, actor Actor, note string) (*Order, error) {
	if !actor.IsAdmin() {
		log.Warn().Stringer("order_id", id).Stringer("actor_id", actor.ID).Msg("service: non-admin attempted status update")
		return nil, ErrForbidden
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var (
		updated *Order
		from    Status
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.repo.LockOrder(ctx, id)
		if err != nil {
			return err
		}

		if order.Status == status {
			return ErrStatusAlreadySet
		}

		if note == "" {
			note = "Status changed to " + status.String()
		}
		var reason *string
		if status == StatusCancelled {
			reason = &note
		}

		from = order.Status
		if err := s.lifecycle.Transition(ctx, order, status, note, reason); err != nil {
			return err
		}

		updated = order
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Stringer("new_status", status).Msg("service: order not found, cannot update status")
		}
		return nil, err
	}

	s.recorder.Record(ctx, audit.Entry{
		Action:       audit.ActionOrderStatusChanged,
		ResourceType: "order",
		ResourceID:   id.String(),
		ActorID:      actor.ID.String(),
		Metadata:     map[string]string{"from": from.String(), "to": status.String(), "note": note},
	})

	return updated, nil
}

func (s *service) CancelOrder(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Order, error) {
	if reason == "" {
		reason = "Cancelled by customer"
	}

	var (
		cancelled *Order
		from      Status
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.repo.LockOrder(ctx, id)
		if err != nil {
			return err
		}

		if !actor.CanAccess(order.UserID) {
			return ErrOrderNotFound
		}

		from = order.Status
		if err := s.lifecycle.Transition(ctx, order, StatusCancelled, reason, &reason); err != nil {
			return err
		}

		cancelled = order
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", id).Stringer("actor_id", actor.ID).Msg("service: failed to cancel order")
		return nil, err
	}

	log.Info().Stringer("order_id", id).Stringer("old_status", from).Msg("service: order cancelled")

	s.recorder.Record(ctx, audit.Entry{
		Action:       audit.ActionOrderCancelled,
		ResourceType: "order",
		ResourceID:   id.String(),
		ActorID:      actor.ID.String(),
		Metadata:     map[string]string{"from": from.String(), "reason": reason},
	})

	return cancelled, nil
}

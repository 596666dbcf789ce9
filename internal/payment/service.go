package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/audit"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/db"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/order"
)

var (
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrUnknownProvider     = errors.New("unknown payment provider")
	ErrAmountMismatch      = errors.New("event amount does not match payment")
	ErrInvalidOrderState   = errors.New("order is not in a payable state")
	ErrInvalidPaymentState = errors.New("payment is not in a valid state for this operation")
	ErrGateway             = errors.New("payment provider request failed")
)

type Service interface {
	CreatePaymentIntent(ctx context.Context, orderID uuid.UUID, actor order.Actor, provider Provider) (*IntentResult, error)
	HandleProviderEvent(ctx context.Context, provider Provider, payload []byte, signature string) (*Payment, error)
	ReconcilePayment(ctx context.Context, paymentID uuid.UUID, actor order.Actor) (*Payment, error)
	InitiateRefund(ctx context.Context, paymentID uuid.UUID, actor order.Actor, reason string) (*Payment, error)
	// Gateway exposes a registered provider so transports can read its
	// signature header.
	Gateway(provider Provider) (Gateway, error)
}

type Option func(*service)

func WithEventGuard(guard EventGuard) Option {
	return func(s *service) { s.guard = guard }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

type service struct {
	tx        db.TxManager
	repo      Repository
	orders    order.Repository
	lifecycle *order.Lifecycle
	gateways  map[Provider]Gateway
	recorder  audit.Recorder
	guard     EventGuard
	currency  string
	now       func() time.Time
}

func NewService(
	tx db.TxManager,
	repo Repository,
	orders order.Repository,
	lifecycle *order.Lifecycle,
	gateways []Gateway,
	recorder audit.Recorder,
	currency string,
	opts ...Option,
) Service {
	s := &service{
		tx:        tx,
		repo:      repo,
		orders:    orders,
		lifecycle: lifecycle,
		gateways:  make(map[Provider]Gateway, len(gateways)),
		recorder:  recorder,
		guard:     NopGuard(),
		currency:  strings.ToUpper(currency),
		now:       time.Now,
	}
	for _, gw := range gateways {
		s.gateways[gw.Provider()] = gw
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Gateway(provider Provider) (Gateway, error) {
	gw, ok := s.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return gw, nil
}

func (s *service) CreatePaymentIntent(ctx context.Context, orderID uuid.UUID, actor order.Actor, provider Provider) (*IntentResult, error) {
	gw, err := s.Gateway(provider)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to load order %s: %w", orderID, err)
	}
	if o.UserID != actor.ID {
		log.Warn().Stringer("order_id", orderID).Stringer("actor_id", actor.ID).Msg("service: payment intent requested by non-owner")
		return nil, order.ErrOrderNotFound
	}
	if o.Status != order.StatusPending {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidOrderState, o.Status)
	}

	existing, err := s.repo.GetByOrderID(ctx, orderID)
	switch {
	case err == nil:
		log.Info().Stringer("order_id", orderID).Stringer("payment_id", existing.ID).Msg("service: returning existing payment intent")
		return newIntentResult(existing), nil
	case !errors.Is(err, ErrPaymentNotFound):
		return nil, fmt.Errorf("service: failed to look up payment for order %s: %w", orderID, err)
	}

	key, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate idempotency key: %w", err)
	}

	intent, err := gw.CreateIntent(ctx, IntentRequest{
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		UserID:         o.UserID,
		Amount:         o.TotalAmount,
		Currency:       s.currency,
		IdempotencyKey: key,
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("provider", provider).Msg("service: provider rejected payment intent")
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate payment id: %w", err)
	}
	now := s.now().UTC()
	p := &Payment{
		ID:              id,
		OrderID:         o.ID,
		UserID:          o.UserID,
		Amount:          o.TotalAmount,
		Currency:        s.currency,
		Status:          StatusInitiated,
		Provider:        provider,
		ProviderOrderID: intent.ProviderOrderID,
		IdempotencyKey:  key,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if intent.ClientSecret != "" {
		secret := intent.ClientSecret
		p.ClientSecret = &secret
	}

	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrPaymentExists) {
			winner, getErr := s.repo.GetByOrderID(ctx, orderID)
			if getErr != nil {
				return nil, fmt.Errorf("service: failed to load concurrent payment for order %s: %w", orderID, getErr)
			}
			log.Info().Stringer("order_id", orderID).Stringer("payment_id", winner.ID).Msg("service: lost payment insert race, returning winner")
			return newIntentResult(winner), nil
		}
		return nil, fmt.Errorf("service: failed to store payment: %w", err)
	}

	log.Info().
		Stringer("order_id", orderID).
		Stringer("payment_id", p.ID).
		Stringer("provider", provider).
		Int64("amount", p.Amount).
		Msg("service: payment intent created")

	s.recorder.Record(ctx, audit.Entry{
		Action:       audit.ActionPaymentInitiated,
		ResourceType: "payment",
		ResourceID:   p.ID.String(),
		ActorID:      actor.ID.String(),
		Metadata: map[string]string{
			"order_id":          orderID.String(),
			"provider":          provider.String(),
			"provider_order_id": p.ProviderOrderID,
			"amount":            strconv.FormatInt(p.Amount, 10),
		},
	})

	return newIntentResult(p), nil
}

func (s *service) HandleProviderEvent(ctx context.Context, provider Provider, payload []byte, signature string) (*Payment, error) {
	gw, err := s.Gateway(provider)
	if err != nil {
		return nil, err
	}

	if err := gw.VerifySignature(payload, signature); err != nil {
		log.Warn().Err(err).Stringer("provider", provider).Msg("service: rejected webhook signature")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event, err := gw.ParseEvent(payload)
	if err != nil {
		if errors.Is(err, ErrEventIgnored) {
			log.Debug().Stringer("provider", provider).Msg("service: ignoring webhook event type")
			return nil, ErrEventIgnored
		}
		s.recordEventFailure(ctx, provider, nil, err)
		return nil, fmt.Errorf("service: failed to parse %s event: %w", provider, err)
	}
	event.Provider = provider

	if event.EventID != "" {
		seen, err := s.guard.Seen(ctx, provider, event.EventID)
		if err != nil {
			log.Warn().Err(err).Str("event_id", event.EventID).Msg("service: event guard unavailable, continuing")
		}
		if seen {
			log.Info().Str("event_id", event.EventID).Stringer("provider", provider).Msg("service: duplicate webhook delivery")
			return s.repo.GetByProviderOrderID(ctx, provider, event.ProviderOrderID)
		}
	}

	p, err := s.settle(ctx, event, "")
	if err != nil {
		s.recordEventFailure(ctx, provider, event, err)
		return nil, err
	}

	if event.EventID != "" {
		if err := s.guard.Remember(ctx, provider, event.EventID); err != nil {
			log.Warn().Err(err).Str("event_id", event.EventID).Msg("service: failed to remember webhook event")
		}
	}

	return p, nil
}

func (s *service) ReconcilePayment(ctx context.Context, paymentID uuid.UUID, actor order.Actor) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(p.UserID) {
		return nil, ErrPaymentNotFound
	}
	if p.Status.Settled() {
		return p, nil
	}

	gw, err := s.Gateway(p.Provider)
	if err != nil {
		return nil, err
	}
	fetcher, ok := gw.(StatusFetcher)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot be polled", ErrUnsupported, p.Provider)
	}

	event, err := fetcher.FetchEvent(ctx, p.ProviderOrderID)
	if err != nil {
		if errors.Is(err, ErrEventIgnored) {
			return p, nil
		}
		log.Error().Err(err).Stringer("payment_id", paymentID).Msg("service: failed to fetch provider status")
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	event.Provider = p.Provider
	event.ProviderOrderID = p.ProviderOrderID

	return s.settle(ctx, event, actor.ID.String())
}

// settle applies a provider event to the payment it references and, through
// the order lifecycle, to the order. A payment that is already settled is
// returned unchanged.
func (s *service) settle(ctx context.Context, event *Event, actorID string) (*Payment, error) {
	var (
		settled *Payment
		action  string
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		action = ""

		p, err := s.repo.LockByProviderOrderID(ctx, event.Provider, event.ProviderOrderID)
		if err != nil {
			return err
		}

		if p.Status.Settled() {
			log.Info().Stringer("payment_id", p.ID).Stringer("status", p.Status).Msg("service: payment already settled, event ignored")
			settled = p
			return nil
		}

		if event.Amount != nil && *event.Amount != p.Amount {
			return fmt.Errorf("%w: expected %d, got %d", ErrAmountMismatch, p.Amount, *event.Amount)
		}
		if event.Currency != "" && !strings.EqualFold(event.Currency, p.Currency) {
			return fmt.Errorf("%w: expected currency %s, got %s", ErrAmountMismatch, p.Currency, event.Currency)
		}

		now := s.now().UTC()
		switch event.Outcome {
		case OutcomeSucceeded:
			o, err := s.orders.LockOrder(ctx, p.OrderID)
			if err != nil {
				return err
			}
			note := "Payment received via " + p.Provider.String()
			if err := s.lifecycle.Transition(ctx, o, order.StatusPaid, note, nil); err != nil {
				return err
			}
			p.Status = StatusSuccess
			p.ProviderPaymentID = optional(event.ProviderPaymentID)
			p.PaymentMethod = optional(event.Method)
			action = audit.ActionPaymentSucceeded

		case OutcomeFailed:
			o, err := s.orders.LockOrder(ctx, p.OrderID)
			if err != nil {
				return err
			}
			reason := event.FailureReason
			if reason == "" {
				reason = "payment failed"
			}
			// An order the customer already cancelled had its stock returned then.
			if o.Status != order.StatusCancelled {
				cancelReason := "Payment failed: " + reason
				if err := s.lifecycle.Transition(ctx, o, order.StatusCancelled, cancelReason, &cancelReason); err != nil {
					return err
				}
			}
			p.Status = StatusFailed
			p.FailureReason = &reason
			if event.ProviderPaymentID != "" {
				p.ProviderPaymentID = optional(event.ProviderPaymentID)
			}
			action = audit.ActionPaymentFailed

		case OutcomePending:
			if p.Status == StatusPending {
				settled = p
				return nil
			}
			p.Status = StatusPending
			action = audit.ActionPaymentPending

		default:
			return fmt.Errorf("service: unknown event outcome %q", event.Outcome)
		}

		p.UpdatedAt = now
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}

		settled = p
		return nil
	})
	if err != nil {
		log.Error().Err(err).
			Stringer("provider", event.Provider).
			Str("provider_order_id", event.ProviderOrderID).
			Str("outcome", string(event.Outcome)).
			Msg("service: failed to settle payment event")
		return nil, err
	}

	if action != "" {
		log.Info().
			Stringer("payment_id", settled.ID).
			Stringer("order_id", settled.OrderID).
			Stringer("status", settled.Status).
			Msg("service: payment settled")

		s.recorder.Record(ctx, audit.Entry{
			Action:       action,
			ResourceType: "payment",
			ResourceID:   settled.ID.String(),
			ActorID:      actorID,
			Metadata: map[string]string{
				"order_id":          settled.OrderID.String(),
				"provider":          settled.Provider.String(),
				"provider_order_id": settled.ProviderOrderID,
				"event_id":          event.EventID,
			},
		})
	}

	return settled, nil
}

func (s *service) InitiateRefund(ctx context.Context, paymentID uuid.UUID, actor order.Actor, reason string) (*Payment, error) {
	if !actor.IsAdmin() {
		return nil, order.ErrForbidden
	}
	if reason == "" {
		reason = "Refund issued"
	}

	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusSuccess {
		return nil, fmt.Errorf("%w: payment is %s", ErrInvalidPaymentState, p.Status)
	}

	o, err := s.orders.GetOrderByID(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if !refundable(o.Status) {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidOrderState, o.Status)
	}

	gw, err := s.Gateway(p.Provider)
	if err != nil {
		return nil, err
	}

	req := RefundRequest{
		ProviderOrderID: p.ProviderOrderID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Reason:          reason,
		IdempotencyKey:  p.IdempotencyKey,
	}
	if p.ProviderPaymentID != nil {
		req.ProviderPaymentID = *p.ProviderPaymentID
	}
	if err := gw.Refund(ctx, req); err != nil {
		log.Error().Err(err).Stringer("payment_id", paymentID).Msg("service: provider refund failed")
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	var refunded *Payment
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.LockByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == StatusRefunded {
			refunded = p
			return nil
		}
		if p.Status != StatusSuccess {
			return fmt.Errorf("%w: payment is %s", ErrInvalidPaymentState, p.Status)
		}

		o, err := s.orders.LockOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		switch o.Status {
		case order.StatusReturned:
			if err := s.lifecycle.Transition(ctx, o, order.StatusRefunded, "Refund issued: "+reason, nil); err != nil {
				return err
			}
		case order.StatusCancelled, order.StatusRefunded:
		default:
			return fmt.Errorf("%w: order is %s", ErrInvalidOrderState, o.Status)
		}

		p.Status = StatusRefunded
		p.RefundReason = &reason
		p.UpdatedAt = s.now().UTC()
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}

		refunded = p
		return nil
	})
	if err != nil {
		log.Error().Err(err).Stringer("payment_id", paymentID).Msg("service: failed to record refund after provider accepted it")
		return nil, err
	}

	log.Info().Stringer("payment_id", paymentID).Stringer("order_id", refunded.OrderID).Msg("service: payment refunded")

	s.recorder.Record(ctx, audit.Entry{
		Action:       audit.ActionPaymentRefunded,
		ResourceType: "payment",
		ResourceID:   paymentID.String(),
		ActorID:      actor.ID.String(),
		Metadata:     map[string]string{"order_id": refunded.OrderID.String(), "reason": reason},
	})

	return refunded, nil
}

// refundable reports whether a successful payment may be refunded for an
// order in status. REFUNDED covers orders an admin moved there through
// UpdateOrderStatus while the payment was still captured.
func refundable(status order.Status) bool {
	switch status {
	case order.StatusReturned, order.StatusCancelled, order.StatusRefunded:
		return true
	}
	return false
}

func (s *service) recordEventFailure(ctx context.Context, provider Provider, event *Event, cause error) {
	meta := map[string]string{"provider": provider.String(), "error": cause.Error()}
	resourceID := ""
	if event != nil {
		resourceID = event.ProviderOrderID
		meta["event_id"] = event.EventID
		meta["outcome"] = string(event.Outcome)
		if p, err := s.repo.GetByProviderOrderID(ctx, provider, event.ProviderOrderID); err == nil {
			meta["order_id"] = p.OrderID.String()
		}
	}
	s.recorder.Record(ctx, audit.Entry{
		Action:       audit.ActionPaymentEventFailed,
		ResourceType: "payment",
		ResourceID:   resourceID,
		Metadata:     meta,
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

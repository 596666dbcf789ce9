package order

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/inventory"
)

// Lifecycle applies status transitions to an order that the caller has
// already locked. It is shared by the order and payment services so every
// transition goes through the same table and every entry into CANCELLED
// returns the reserved stock.
type Lifecycle struct {
	repo   Repository
	ledger inventory.Ledger
	now    func() time.Time
}

func NewLifecycle(repo Repository, ledger inventory.Ledger) *Lifecycle {
	return &Lifecycle{repo: repo, ledger: ledger, now: time.Now}
}

// Transition must run inside the caller's transaction. On success order
// reflects the persisted state.
func (l *Lifecycle) Transition(ctx context.Context, order *Order, target Status, note string, cancelReason *string) error {
	from := order.Status
	if err := CheckTransition(from, target); err != nil {
		log.Warn().
			Stringer("order_id", order.ID).
			Stringer("current_status", from).
			Stringer("new_status", target).
			Msg("lifecycle: invalid status transition attempt")
		return err
	}

	if target == StatusCancelled {
		for _, item := range order.Items {
			if err := l.ledger.Release(ctx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("lifecycle: failed to restore stock for order %s: %w", order.ID, err)
			}
		}
		if cancelReason != nil {
			order.CancelReason = cancelReason
		}
	}

	now := l.now().UTC()
	order.Status = target
	order.UpdatedAt = now

	if err := l.repo.UpdateStatus(ctx, order); err != nil {
		return err
	}

	if err := l.appendTracking(ctx, order.ID, target, note, now); err != nil {
		return err
	}

	log.Info().
		Stringer("order_id", order.ID).
		Stringer("old_status", from).
		Stringer("new_status", target).
		Msg("lifecycle: order status updated")
	return nil
}

func (l *Lifecycle) appendTracking(ctx context.Context, orderID uuid.UUID, status Status, note string, at time.Time) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("lifecycle: failed to generate tracking id: %w", err)
	}

	entry := &Tracking{
		ID:        id,
		OrderID:   orderID,
		Status:    status,
		CreatedAt: at,
	}
	if note != "" {
		entry.Note = &note
	}

	if err := l.repo.AppendTracking(ctx, entry); err != nil {
		return fmt.Errorf("lifecycle: failed to append tracking for order %s: %w", orderID, err)
	}
	return nil
}

package audit

import (
	"context"
	"time"
)

const (
	ActionOrderCreated       = "order.created"
	ActionOrderStatusChanged = "order.status_changed"
	ActionOrderCancelled     = "order.cancelled"
	ActionPaymentInitiated   = "payment.initiated"
	ActionPaymentSucceeded   = "payment.succeeded"
	ActionPaymentFailed      = "payment.failed"
	ActionPaymentPending     = "payment.pending"
	ActionPaymentRefunded    = "payment.refunded"
	ActionPaymentEventFailed = "payment.event_failed"
)

// Entry is one audit record. ActorID is empty for system-originated events
// such as provider webhooks.
type Entry struct {
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	ActorID      string            `json:"actor_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// OrderKey returns the id of the order the entry belongs to: the resource id
// for order entries, the order_id metadata for anything else that carries
// one. Entries with neither fall back to the resource id.
func (e Entry) OrderKey() string {
	if e.ResourceType != "order" {
		if id := e.Metadata["order_id"]; id != "" {
			return id
		}
	}
	return e.ResourceID
}

// Recorder is what the domain services call. Record never fails from the
// caller's point of view.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Sink delivers entries to their destination.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

type nopRecorder struct{}

// NopRecorder discards every entry.
func NopRecorder() Recorder { return nopRecorder{} }

func (nopRecorder) Record(context.Context, Entry) {}

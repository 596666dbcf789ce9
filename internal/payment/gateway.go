package payment

import (
	"context"
	"errors"

	"github.com/gofrs/uuid"
)

var (
	// ErrEventIgnored is returned by ParseEvent for event types that do not
	// affect settlement.
	ErrEventIgnored = errors.New("event type ignored")
	ErrUnsupported  = errors.New("operation not supported by provider")
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
)

type IntentRequest struct {
	OrderID        uuid.UUID
	OrderNumber    string
	UserID         uuid.UUID
	Amount         int64
	Currency       string
	IdempotencyKey uuid.UUID
}

type Intent struct {
	ProviderOrderID string
	// ClientSecret is whatever handle the client needs to finish payment:
	// a Stripe client secret or a PayPal approval link. Empty for COD and
	// Razorpay.
	ClientSecret string
}

// Event is a provider notification normalized to the fields settlement
// needs. Amount and Currency are nil/empty when the provider omits them.
type Event struct {
	EventID           string
	Provider          Provider
	ProviderOrderID   string
	ProviderPaymentID string
	Outcome           Outcome
	Amount            *int64
	Currency          string
	Method            string
	FailureReason     string
}

type RefundRequest struct {
	ProviderOrderID   string
	ProviderPaymentID string
	Amount            int64
	Currency          string
	Reason            string
	IdempotencyKey    uuid.UUID
}

// Gateway is one payment provider.
type Gateway interface {
	Provider() Provider
	// SignatureHeader names the HTTP header that carries the webhook signature.
	SignatureHeader() string
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	// VerifySignature must compare in constant time.
	VerifySignature(payload []byte, signature string) error
	ParseEvent(payload []byte) (*Event, error)
	Refund(ctx context.Context, req RefundRequest) error
}

// StatusFetcher is implemented by gateways that can be polled for the
// current state of an intent.
type StatusFetcher interface {
	FetchEvent(ctx context.Context, providerOrderID string) (*Event, error)
}

package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusPending   Status = "PENDING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

func (s Status) String() string { return string(s) }

func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusPending, StatusSuccess, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Settled reports whether provider events can no longer change the payment.
func (s Status) Settled() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusRefunded
}

type Provider string

const (
	ProviderStripe   Provider = "STRIPE"
	ProviderRazorpay Provider = "RAZORPAY"
	ProviderPayPal   Provider = "PAYPAL"
	ProviderCOD      Provider = "COD"
)

func (p Provider) String() string { return string(p) }

func (p Provider) Valid() bool {
	switch p {
	case ProviderStripe, ProviderRazorpay, ProviderPayPal, ProviderCOD:
		return true
	}
	return false
}

// ParseProvider accepts any letter case, so URL segments like "stripe" work.
func ParseProvider(raw string) (Provider, error) {
	p := Provider(strings.ToUpper(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, raw)
	}
	return p, nil
}

type Payment struct {
	ID                uuid.UUID `json:"id" db:"id"`
	OrderID           uuid.UUID `json:"order_id" db:"order_id"`
	UserID            uuid.UUID `json:"user_id" db:"user_id"`
	Amount            int64     `json:"amount" db:"amount"`
	Currency          string    `json:"currency" db:"currency"`
	Status            Status    `json:"status" db:"status"`
	Provider          Provider  `json:"provider" db:"provider"`
	ProviderOrderID   string    `json:"provider_order_id" db:"provider_order_id"`
	ProviderPaymentID *string   `json:"provider_payment_id,omitempty" db:"provider_payment_id"`
	PaymentMethod     *string   `json:"payment_method,omitempty" db:"payment_method"`
	ClientSecret      *string   `json:"-" db:"client_secret"`
	IdempotencyKey    uuid.UUID `json:"idempotency_key" db:"idempotency_key"`
	FailureReason     *string   `json:"failure_reason,omitempty" db:"failure_reason"`
	RefundReason      *string   `json:"refund_reason,omitempty" db:"refund_reason"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// IntentResult is what a client needs to complete the payment with the
// provider.
type IntentResult struct {
	Payment         *Payment `json:"payment"`
	ProviderOrderID string   `json:"provider_order_id"`
	ClientSecret    string   `json:"client_secret,omitempty"`
}

func newIntentResult(p *Payment) *IntentResult {
	res := &IntentResult{Payment: p, ProviderOrderID: p.ProviderOrderID}
	if p.ClientSecret != nil {
		res.ClientSecret = *p.ClientSecret
	}
	return res
}

package gateway

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/payment"
)

// CashOnDelivery settles offline: the intent is local and no webhook ever
// arrives.
type CashOnDelivery struct{}

func NewCashOnDelivery() *CashOnDelivery { return &CashOnDelivery{} }

func (CashOnDelivery) Provider() payment.Provider { return payment.ProviderCOD }

func (CashOnDelivery) SignatureHeader() string { return "" }

func (CashOnDelivery) CreateIntent(context.Context, payment.IntentRequest) (*payment.Intent, error) {
	ref, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("cod: failed to generate reference: %w", err)
	}
	return &payment.Intent{ProviderOrderID: "cod_" + ref.String()}, nil
}

func (CashOnDelivery) VerifySignature([]byte, string) error {
	return payment.ErrUnsupported
}

func (CashOnDelivery) ParseEvent([]byte) (*payment.Event, error) {
	return nil, payment.ErrUnsupported
}

// Refund has nothing to call; the refund is recorded locally only.
func (CashOnDelivery) Refund(context.Context, payment.RefundRequest) error {
	return nil
}

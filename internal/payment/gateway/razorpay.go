package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/vasiliy-maslov/ecommerce-checkout/internal/payment"
)

type Razorpay struct {
	api           apiClient
	keyID         string
	keySecret     string
	webhookSecret []byte
}

func NewRazorpay(baseURL, keyID, keySecret, webhookSecret string, client *http.Client) *Razorpay {
	if baseURL == "" {
		baseURL = "https://api.razorpay.com"
	}
	return &Razorpay{
		api:           newAPIClient("razorpay", baseURL, client),
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: []byte(webhookSecret),
	}
}

func (r *Razorpay) Provider() payment.Provider { return payment.ProviderRazorpay }

func (r *Razorpay) SignatureHeader() string { return "X-Razorpay-Signature" }

func (r *Razorpay) headers() http.Header {
	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(r.keyID, r.keySecret)
	return req.Header
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (r *Razorpay) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	body := razorpayOrderRequest{
		Amount:   req.Amount,
		Currency: strings.ToUpper(req.Currency),
		Receipt:  req.OrderNumber,
		Notes: map[string]string{
			"order_id":        req.OrderID.String(),
			"idempotency_key": req.IdempotencyKey.String(),
		},
	}

	var created razorpayOrder
	if err := r.api.doJSON(ctx, http.MethodPost, "/v1/orders", body, r.headers(), &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, errors.New("razorpay: order response without id")
	}

	return &payment.Intent{ProviderOrderID: created.ID}, nil
}

func (r *Razorpay) VerifySignature(payload []byte, signature string) error {
	return verifyHex(r.webhookSecret, payload, signature)
}

type razorpayPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorDescription string `json:"error_description"`
}

type razorpayEvent struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID         string `json:"id"`
				AmountPaid int64  `json:"amount_paid"`
				Currency   string `json:"currency"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

func (r *Razorpay) ParseEvent(payload []byte) (*payment.Event, error) {
	var evt razorpayEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("razorpay: invalid event payload: %w", err)
	}

	var outcome payment.Outcome
	switch evt.Event {
	case "payment.captured", "order.paid":
		outcome = payment.OutcomeSucceeded
	case "payment.failed":
		outcome = payment.OutcomeFailed
	default:
		return nil, payment.ErrEventIgnored
	}

	p := evt.Payload.Payment.Entity
	event := razorpayPaymentEvent(&p, outcome)
	if event.ProviderOrderID == "" {
		event.ProviderOrderID = evt.Payload.Order.Entity.ID
	}
	if event.ProviderOrderID == "" {
		return nil, errors.New("razorpay: event without order id")
	}
	// Razorpay bodies carry no event id; the event name plus payment id
	// identifies a delivery.
	event.EventID = evt.Event + ":" + p.ID
	return event, nil
}

func razorpayPaymentEvent(p *razorpayPayment, outcome payment.Outcome) *payment.Event {
	amount := p.Amount
	event := &payment.Event{
		Provider:          payment.ProviderRazorpay,
		ProviderOrderID:   p.OrderID,
		ProviderPaymentID: p.ID,
		Outcome:           outcome,
		Amount:            &amount,
		Currency:          strings.ToUpper(p.Currency),
		Method:            p.Method,
	}
	if outcome == payment.OutcomeFailed {
		event.FailureReason = p.ErrorDescription
	}
	return event
}

// FetchEvent reports success if any payment against the order was
// captured, failure if every attempt failed, and nothing otherwise.
func (r *Razorpay) FetchEvent(ctx context.Context, providerOrderID string) (*payment.Event, error) {
	var list struct {
		Items []razorpayPayment `json:"items"`
	}
	path := "/v1/orders/" + url.PathEscape(providerOrderID) + "/payments"
	if err := r.api.do(ctx, http.MethodGet, path, nil, r.headers(), &list); err != nil {
		return nil, err
	}

	var (
		lastFailed *razorpayPayment
		inFlight   bool
	)
	for i := range list.Items {
		p := &list.Items[i]
		switch p.Status {
		case "captured":
			return razorpayPaymentEvent(p, payment.OutcomeSucceeded), nil
		case "failed":
			lastFailed = p
		default:
			inFlight = true
		}
	}
	if lastFailed != nil && !inFlight {
		return razorpayPaymentEvent(lastFailed, payment.OutcomeFailed), nil
	}
	return nil, payment.ErrEventIgnored
}

func (r *Razorpay) Refund(ctx context.Context, req payment.RefundRequest) error {
	if req.ProviderPaymentID == "" {
		return errors.New("razorpay: refund requires a payment id")
	}

	body := map[string]any{
		"amount":  req.Amount,
		"receipt": "refund-" + req.IdempotencyKey.String(),
		"notes":   map[string]string{"reason": req.Reason},
	}
	path := "/v1/payments/" + url.PathEscape(req.ProviderPaymentID) + "/refund"
	return r.api.doJSON(ctx, http.MethodPost, path, body, r.headers(), nil)
}

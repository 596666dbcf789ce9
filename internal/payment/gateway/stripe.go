package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vasiliy-maslov/ecommerce-checkout/internal/payment"
)

const stripeSignatureTolerance = 5 * time.Minute

type Stripe struct {
	api           apiClient
	secretKey     string
	webhookSecret []byte
	now           func() time.Time
}

func NewStripe(baseURL, secretKey, webhookSecret string, client *http.Client) *Stripe {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Stripe{
		api:           newAPIClient("stripe", baseURL, client),
		secretKey:     secretKey,
		webhookSecret: []byte(webhookSecret),
		now:           time.Now,
	}
}

func (s *Stripe) Provider() payment.Provider { return payment.ProviderStripe }

func (s *Stripe) SignatureHeader() string { return "Stripe-Signature" }

type stripeIntent struct {
	ID                 string   `json:"id"`
	ClientSecret       string   `json:"client_secret"`
	Status             string   `json:"status"`
	Amount             int64    `json:"amount"`
	AmountReceived     int64    `json:"amount_received"`
	Currency           string   `json:"currency"`
	LatestCharge       string   `json:"latest_charge"`
	PaymentMethodTypes []string `json:"payment_method_types"`
	LastPaymentError   *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
	CancellationReason string `json:"cancellation_reason"`
}

func (s *Stripe) headers(idempotencyKey string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.secretKey)
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		h.Set("Idempotency-Key", idempotencyKey)
	}
	return h
}

func (s *Stripe) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("metadata[order_id]", req.OrderID.String())
	form.Set("metadata[order_number]", req.OrderNumber)

	var intent stripeIntent
	err := s.api.do(ctx, http.MethodPost, "/v1/payment_intents", strings.NewReader(form.Encode()),
		s.headers(req.IdempotencyKey.String()), &intent)
	if err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, errors.New("stripe: payment intent response without id")
	}

	return &payment.Intent{ProviderOrderID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// VerifySignature checks a "t=<unix>,v1=<hex>" header against "<t>.<payload>".
func (s *Stripe) VerifySignature(payload []byte, signature string) error {
	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(signature, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return errors.New("stripe: malformed signature header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("stripe: invalid signature timestamp: %w", err)
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return errors.New("stripe: signature timestamp outside tolerance")
	}

	signed := make([]byte, 0, len(timestamp)+1+len(payload))
	signed = append(signed, timestamp...)
	signed = append(signed, '.')
	signed = append(signed, payload...)

	for _, sig := range signatures {
		if verifyHex(s.webhookSecret, signed, sig) == nil {
			return nil
		}
	}
	return errSignatureMismatch
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeIntent `json:"object"`
	} `json:"data"`
}

func (s *Stripe) ParseEvent(payload []byte) (*payment.Event, error) {
	var evt stripeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("stripe: invalid event payload: %w", err)
	}

	var outcome payment.Outcome
	switch evt.Type {
	case "payment_intent.succeeded":
		outcome = payment.OutcomeSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		outcome = payment.OutcomeFailed
	case "payment_intent.processing":
		outcome = payment.OutcomePending
	default:
		return nil, payment.ErrEventIgnored
	}

	event := stripeIntentEvent(&evt.Data.Object, outcome)
	event.EventID = evt.ID
	return event, nil
}

func stripeIntentEvent(intent *stripeIntent, outcome payment.Outcome) *payment.Event {
	amount := intent.Amount
	if outcome == payment.OutcomeSucceeded && intent.AmountReceived > 0 {
		amount = intent.AmountReceived
	}

	event := &payment.Event{
		Provider:          payment.ProviderStripe,
		ProviderOrderID:   intent.ID,
		ProviderPaymentID: intent.LatestCharge,
		Outcome:           outcome,
		Amount:            &amount,
		Currency:          strings.ToUpper(intent.Currency),
	}
	if len(intent.PaymentMethodTypes) > 0 {
		event.Method = intent.PaymentMethodTypes[0]
	}
	if outcome == payment.OutcomeFailed {
		switch {
		case intent.LastPaymentError != nil && intent.LastPaymentError.Message != "":
			event.FailureReason = intent.LastPaymentError.Message
		case intent.CancellationReason != "":
			event.FailureReason = "canceled: " + intent.CancellationReason
		}
	}
	return event
}

// FetchEvent polls the intent and maps its status onto a settlement outcome.
func (s *Stripe) FetchEvent(ctx context.Context, providerOrderID string) (*payment.Event, error) {
	var intent stripeIntent
	err := s.api.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(providerOrderID), nil, s.headers(""), &intent)
	if err != nil {
		return nil, err
	}

	switch {
	case intent.Status == "succeeded":
		return stripeIntentEvent(&intent, payment.OutcomeSucceeded), nil
	case intent.Status == "processing":
		return stripeIntentEvent(&intent, payment.OutcomePending), nil
	case intent.Status == "canceled":
		return stripeIntentEvent(&intent, payment.OutcomeFailed), nil
	case intent.Status == "requires_payment_method" && intent.LastPaymentError != nil:
		return stripeIntentEvent(&intent, payment.OutcomeFailed), nil
	default:
		return nil, payment.ErrEventIgnored
	}
}

func (s *Stripe) Refund(ctx context.Context, req payment.RefundRequest) error {
	form := url.Values{}
	form.Set("payment_intent", req.ProviderOrderID)
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}

	return s.api.do(ctx, http.MethodPost, "/v1/refunds", strings.NewReader(form.Encode()),
		s.headers("refund-"+req.IdempotencyKey.String()), nil)
}

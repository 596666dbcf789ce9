package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vasiliy-maslov/ecommerce-checkout/internal/payment"
)

type PayPal struct {
	api           apiClient
	clientID      string
	clientSecret  string
	webhookSecret []byte
	now           func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewPayPal(baseURL, clientID, clientSecret, webhookSecret string, client *http.Client) *PayPal {
	if baseURL == "" {
		baseURL = "https://api-m.paypal.com"
	}
	return &PayPal{
		api:           newAPIClient("paypal", baseURL, client),
		clientID:      clientID,
		clientSecret:  clientSecret,
		webhookSecret: []byte(webhookSecret),
		now:           time.Now,
	}
}

func (p *PayPal) Provider() payment.Provider { return payment.ProviderPayPal }

func (p *PayPal) SignatureHeader() string { return "Paypal-Transmission-Sig" }

// accessToken returns a cached client-credentials token, refreshing it a
// minute before it expires.
func (p *PayPal) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Before(p.tokenExpiry) {
		return p.token, nil
	}

	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	body := strings.NewReader(url.Values{"grant_type": {"client_credentials"}}.Encode())
	if err := p.api.do(ctx, http.MethodPost, "/v1/oauth2/token", body, req.Header, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", errors.New("paypal: token response without access_token")
	}

	p.token = resp.AccessToken
	p.tokenExpiry = p.now().Add(time.Duration(resp.ExpiresIn)*time.Second - time.Minute)
	return p.token, nil
}

func (p *PayPal) headers(ctx context.Context, requestID string) (http.Header, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if requestID != "" {
		h.Set("PayPal-Request-Id", requestID)
	}
	return h, nil
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

func (p *PayPal) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	headers, err := p.headers(ctx, req.IdempotencyKey.String())
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(req.Currency)
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.OrderID.String(),
			"custom_id":    req.OrderNumber,
			"amount": paypalAmount{
				CurrencyCode: currency,
				Value:        toMajorUnits(req.Amount, currency),
			},
		}},
	}

	var created struct {
		ID     string       `json:"id"`
		Status string       `json:"status"`
		Links  []paypalLink `json:"links"`
	}
	if err := p.api.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", body, headers, &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, errors.New("paypal: order response without id")
	}

	intent := &payment.Intent{ProviderOrderID: created.ID}
	// PayPal has no client secret; the approval link plays that role.
	for _, link := range created.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			intent.ClientSecret = link.Href
			break
		}
	}
	return intent, nil
}

// VerifySignature checks the hex HMAC-SHA256 of the body that the webhook
// relay puts in Paypal-Transmission-Sig.
func (p *PayPal) VerifySignature(payload []byte, signature string) error {
	return verifyHex(p.webhookSecret, payload, signature)
}

type paypalEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string       `json:"id"`
		Status            string       `json:"status"`
		Amount            paypalAmount `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
		StatusDetails struct {
			Reason string `json:"reason"`
		} `json:"status_details"`
	} `json:"resource"`
}

func (p *PayPal) ParseEvent(payload []byte) (*payment.Event, error) {
	var evt paypalEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("paypal: invalid event payload: %w", err)
	}

	var outcome payment.Outcome
	switch evt.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		outcome = payment.OutcomeSucceeded
	case "PAYMENT.CAPTURE.DENIED":
		outcome = payment.OutcomeFailed
	case "PAYMENT.CAPTURE.PENDING":
		outcome = payment.OutcomePending
	default:
		return nil, payment.ErrEventIgnored
	}

	res := evt.Resource
	if res.SupplementaryData.RelatedIDs.OrderID == "" {
		return nil, errors.New("paypal: capture event without related order id")
	}

	event := &payment.Event{
		EventID:           evt.ID,
		Provider:          payment.ProviderPayPal,
		ProviderOrderID:   res.SupplementaryData.RelatedIDs.OrderID,
		ProviderPaymentID: res.ID,
		Outcome:           outcome,
		Currency:          strings.ToUpper(res.Amount.CurrencyCode),
		Method:            "paypal",
	}
	if res.Amount.Value != "" {
		amount, err := toMinorUnits(res.Amount.Value, res.Amount.CurrencyCode)
		if err != nil {
			return nil, fmt.Errorf("paypal: %w", err)
		}
		event.Amount = &amount
	}
	if outcome == payment.OutcomeFailed {
		event.FailureReason = res.StatusDetails.Reason
		if event.FailureReason == "" {
			event.FailureReason = "capture denied"
		}
	}
	return event, nil
}

func (p *PayPal) Refund(ctx context.Context, req payment.RefundRequest) error {
	if req.ProviderPaymentID == "" {
		return errors.New("paypal: refund requires a capture id")
	}

	headers, err := p.headers(ctx, "refund-"+req.IdempotencyKey.String())
	if err != nil {
		return err
	}

	currency := strings.ToUpper(req.Currency)
	body := map[string]any{
		"amount": paypalAmount{
			CurrencyCode: currency,
			Value:        toMajorUnits(req.Amount, currency),
		},
		"note_to_payer": req.Reason,
	}
	path := "/v2/payments/captures/" + url.PathEscape(req.ProviderPaymentID) + "/refund"
	return p.api.doJSON(ctx, http.MethodPost, path, body, headers, nil)
}

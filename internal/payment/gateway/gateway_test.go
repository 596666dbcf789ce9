package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/payment"
)

func stripeHeader(secret string, ts int64, payload []byte) string {
	signed := strconv.FormatInt(ts, 10) + "." + string(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, signHex([]byte(secret), []byte(signed)))
}

func TestStripe_VerifySignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewStripe("", "sk_test", "whsec_test", nil)
	s.now = func() time.Time { return now }

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	tests := []struct {
		name    string
		header  string
		payload []byte
		wantErr bool
	}{
		{name: "valid", header: stripeHeader("whsec_test", now.Unix(), payload), payload: payload},
		{name: "valid_among_rotated_secrets", header: stripeHeader("whsec_test", now.Unix(), payload) + ",v1=deadbeef", payload: payload},
		{name: "tampered_body", header: stripeHeader("whsec_test", now.Unix(), payload), payload: []byte(`{"id":"evt_2"}`), wantErr: true},
		{name: "wrong_secret", header: stripeHeader("other", now.Unix(), payload), payload: payload, wantErr: true},
		{name: "stale_timestamp", header: stripeHeader("whsec_test", now.Add(-6*time.Minute).Unix(), payload), payload: payload, wantErr: true},
		{name: "malformed_header", header: "garbage", payload: payload, wantErr: true},
		{name: "empty_header", header: "", payload: payload, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.VerifySignature(tt.payload, tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStripe_ParseEvent(t *testing.T) {
	s := NewStripe("", "sk_test", "whsec_test", nil)

	succeeded := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_123", "amount": 1700, "amount_received": 1700, "currency": "usd",
			"latest_charge": "ch_9", "payment_method_types": ["card"]
		}}
	}`)
	event, err := s.ParseEvent(succeeded)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.EventID)
	assert.Equal(t, "pi_123", event.ProviderOrderID)
	assert.Equal(t, "ch_9", event.ProviderPaymentID)
	assert.Equal(t, payment.OutcomeSucceeded, event.Outcome)
	require.NotNil(t, event.Amount)
	assert.Equal(t, int64(1700), *event.Amount)
	assert.Equal(t, "USD", event.Currency)
	assert.Equal(t, "card", event.Method)

	failed := []byte(`{
		"id": "evt_2",
		"type": "payment_intent.payment_failed",
		"data": {"object": {"id": "pi_123", "amount": 1700, "currency": "usd",
			"last_payment_error": {"message": "Your card was declined."}}}
	}`)
	event, err = s.ParseEvent(failed)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeFailed, event.Outcome)
	assert.Equal(t, "Your card was declined.", event.FailureReason)

	processing := []byte(`{"id":"evt_3","type":"payment_intent.processing","data":{"object":{"id":"pi_123","amount":1700,"currency":"usd"}}}`)
	event, err = s.ParseEvent(processing)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomePending, event.Outcome)

	_, err = s.ParseEvent([]byte(`{"id":"evt_4","type":"charge.refunded","data":{"object":{}}}`))
	assert.ErrorIs(t, err, payment.ErrEventIgnored)

	_, err = s.ParseEvent([]byte(`not json`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, payment.ErrEventIgnored)
}

func TestStripe_CreateIntentAndFetch(t *testing.T) {
	key := uuid.Must(uuid.NewV4())
	orderID := uuid.Must(uuid.NewV4())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
			assert.Equal(t, key.String(), r.Header.Get("Idempotency-Key"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "1700", r.PostForm.Get("amount"))
			assert.Equal(t, "usd", r.PostForm.Get("currency"))
			assert.Equal(t, orderID.String(), r.PostForm.Get("metadata[order_id]"))
			_, _ = io.WriteString(w, `{"id":"pi_123","client_secret":"pi_123_secret_abc","status":"requires_payment_method"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_123":
			_, _ = io.WriteString(w, `{"id":"pi_123","status":"succeeded","amount":1700,"amount_received":1700,"currency":"usd","latest_charge":"ch_1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_open":
			_, _ = io.WriteString(w, `{"id":"pi_open","status":"requires_payment_method","amount":1700,"currency":"usd"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"message":"no such route"}}`)
		}
	}))
	defer srv.Close()

	s := NewStripe(srv.URL, "sk_test", "whsec_test", srv.Client())

	intent, err := s.CreateIntent(context.Background(), payment.IntentRequest{
		OrderID:        orderID,
		OrderNumber:    "ORD-1-ABCDEF",
		Amount:         1700,
		Currency:       "USD",
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ProviderOrderID)
	assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)

	event, err := s.FetchEvent(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeSucceeded, event.Outcome)
	assert.Equal(t, "ch_1", event.ProviderPaymentID)

	_, err = s.FetchEvent(context.Background(), "pi_open")
	assert.ErrorIs(t, err, payment.ErrEventIgnored)

	_, err = s.FetchEvent(context.Background(), "pi_missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestStripe_Refund(t *testing.T) {
	key := uuid.Must(uuid.NewV4())
	var form url.Values

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		assert.Equal(t, "refund-"+key.String(), r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		_, _ = io.WriteString(w, `{"id":"re_1","status":"succeeded"}`)
	}))
	defer srv.Close()

	s := NewStripe(srv.URL, "sk_test", "whsec_test", srv.Client())
	err := s.Refund(context.Background(), payment.RefundRequest{
		ProviderOrderID: "pi_123",
		Amount:          1700,
		Currency:        "USD",
		Reason:          "returned",
		IdempotencyKey:  key,
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", form.Get("payment_intent"))
	assert.Equal(t, "1700", form.Get("amount"))
	assert.Equal(t, "returned", form.Get("metadata[reason]"))
}

func TestRazorpay_SignatureAndParse(t *testing.T) {
	r := NewRazorpay("", "rzp_key", "rzp_secret", "rzp_whsec", nil)

	payload := []byte(`{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": "pay_1", "order_id": "order_1", "amount": 1700, "currency": "INR",
			"status": "captured", "method": "upi"
		}}}
	}`)

	require.NoError(t, r.VerifySignature(payload, signHex([]byte("rzp_whsec"), payload)))
	assert.Error(t, r.VerifySignature(payload, signHex([]byte("wrong"), payload)))
	assert.Error(t, r.VerifySignature(payload, "not-hex"))

	event, err := r.ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "order_1", event.ProviderOrderID)
	assert.Equal(t, "pay_1", event.ProviderPaymentID)
	assert.Equal(t, "payment.captured:pay_1", event.EventID)
	assert.Equal(t, payment.OutcomeSucceeded, event.Outcome)
	assert.Equal(t, "upi", event.Method)
	assert.Equal(t, int64(1700), *event.Amount)

	failed := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{
		"id":"pay_2","order_id":"order_1","amount":1700,"currency":"INR","status":"failed",
		"error_description":"Payment was unsuccessful"}}}}`)
	event, err = r.ParseEvent(failed)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeFailed, event.Outcome)
	assert.Equal(t, "Payment was unsuccessful", event.FailureReason)

	_, err = r.ParseEvent([]byte(`{"event":"refund.created","payload":{}}`))
	assert.ErrorIs(t, err, payment.ErrEventIgnored)
}

func TestRazorpay_CreateIntentAndFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_key", user)
		assert.Equal(t, "rzp_secret", pass)

		switch r.URL.Path {
		case "/v1/orders":
			var body razorpayOrderRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(1700), body.Amount)
			assert.Equal(t, "INR", body.Currency)
			assert.Equal(t, "ORD-1-ABCDEF", body.Receipt)
			_, _ = io.WriteString(w, `{"id":"order_1","status":"created"}`)
		case "/v1/orders/order_1/payments":
			_, _ = io.WriteString(w, `{"items":[
				{"id":"pay_1","order_id":"order_1","amount":1700,"currency":"INR","status":"failed"},
				{"id":"pay_2","order_id":"order_1","amount":1700,"currency":"INR","status":"captured","method":"card"}
			]}`)
		case "/v1/orders/order_2/payments":
			_, _ = io.WriteString(w, `{"items":[
				{"id":"pay_3","order_id":"order_2","amount":1700,"currency":"INR","status":"failed","error_description":"declined"}
			]}`)
		case "/v1/orders/order_3/payments":
			_, _ = io.WriteString(w, `{"items":[]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	r := NewRazorpay(srv.URL, "rzp_key", "rzp_secret", "rzp_whsec", srv.Client())

	intent, err := r.CreateIntent(context.Background(), payment.IntentRequest{
		OrderID:        uuid.Must(uuid.NewV4()),
		OrderNumber:    "ORD-1-ABCDEF",
		Amount:         1700,
		Currency:       "inr",
		IdempotencyKey: uuid.Must(uuid.NewV4()),
	})
	require.NoError(t, err)
	assert.Equal(t, "order_1", intent.ProviderOrderID)
	assert.Empty(t, intent.ClientSecret)

	event, err := r.FetchEvent(context.Background(), "order_1")
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeSucceeded, event.Outcome)
	assert.Equal(t, "pay_2", event.ProviderPaymentID)

	event, err = r.FetchEvent(context.Background(), "order_2")
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeFailed, event.Outcome)
	assert.Equal(t, "declined", event.FailureReason)

	_, err = r.FetchEvent(context.Background(), "order_3")
	assert.ErrorIs(t, err, payment.ErrEventIgnored)
}

func TestPayPal_CreateIntentUsesTokenAndDecimalAmount(t *testing.T) {
	tokenCalls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			tokenCalls++
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "pp_client", user)
			assert.Equal(t, "pp_secret", pass)
			_, _ = io.WriteString(w, `{"access_token":"tok_1","expires_in":3600}`)
		case "/v2/checkout/orders":
			assert.Equal(t, "Bearer tok_1", r.Header.Get("Authorization"))
			assert.NotEmpty(t, r.Header.Get("PayPal-Request-Id"))

			var body struct {
				PurchaseUnits []struct {
					Amount paypalAmount `json:"amount"`
				} `json:"purchase_units"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body.PurchaseUnits, 1)
			assert.Equal(t, "17.00", body.PurchaseUnits[0].Amount.Value)
			assert.Equal(t, "USD", body.PurchaseUnits[0].Amount.CurrencyCode)

			_, _ = io.WriteString(w, `{"id":"PP-ORDER-1","status":"CREATED","links":[
				{"href":"https://paypal.example/approve/PP-ORDER-1","rel":"approve"}
			]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewPayPal(srv.URL, "pp_client", "pp_secret", "pp_whsec", srv.Client())

	for i := 0; i < 2; i++ {
		intent, err := p.CreateIntent(context.Background(), payment.IntentRequest{
			OrderID:        uuid.Must(uuid.NewV4()),
			Amount:         1700,
			Currency:       "USD",
			IdempotencyKey: uuid.Must(uuid.NewV4()),
		})
		require.NoError(t, err)
		assert.Equal(t, "PP-ORDER-1", intent.ProviderOrderID)
		assert.Equal(t, "https://paypal.example/approve/PP-ORDER-1", intent.ClientSecret)
	}
	assert.Equal(t, 1, tokenCalls)
}

func TestPayPal_ParseEvent(t *testing.T) {
	p := NewPayPal("", "pp_client", "pp_secret", "pp_whsec", nil)

	payload := []byte(`{
		"id": "WH-1",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": "CAPTURE-1",
			"status": "COMPLETED",
			"amount": {"currency_code": "USD", "value": "17.00"},
			"supplementary_data": {"related_ids": {"order_id": "PP-ORDER-1"}}
		}
	}`)
	require.NoError(t, p.VerifySignature(payload, signHex([]byte("pp_whsec"), payload)))

	event, err := p.ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "WH-1", event.EventID)
	assert.Equal(t, "PP-ORDER-1", event.ProviderOrderID)
	assert.Equal(t, "CAPTURE-1", event.ProviderPaymentID)
	assert.Equal(t, int64(1700), *event.Amount)

	denied := []byte(`{"id":"WH-2","event_type":"PAYMENT.CAPTURE.DENIED","resource":{
		"id":"CAPTURE-2","amount":{"currency_code":"USD","value":"17.00"},
		"supplementary_data":{"related_ids":{"order_id":"PP-ORDER-1"}}}}`)
	event, err = p.ParseEvent(denied)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeFailed, event.Outcome)
	assert.Equal(t, "capture denied", event.FailureReason)

	_, err = p.ParseEvent([]byte(`{"id":"WH-3","event_type":"CHECKOUT.ORDER.APPROVED","resource":{}}`))
	assert.ErrorIs(t, err, payment.ErrEventIgnored)

	_, err = p.ParseEvent([]byte(`{"id":"WH-4","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{
		"id":"CAPTURE-3","amount":{"currency_code":"USD","value":"17.001"},
		"supplementary_data":{"related_ids":{"order_id":"PP-ORDER-1"}}}}`))
	assert.Error(t, err)
}

func TestAmountConversion(t *testing.T) {
	assert.Equal(t, "17.00", toMajorUnits(1700, "USD"))
	assert.Equal(t, "0.05", toMajorUnits(5, "eur"))
	assert.Equal(t, "1700", toMajorUnits(1700, "JPY"))

	tests := []struct {
		value    string
		currency string
		want     int64
		wantErr  bool
	}{
		{value: "17.00", currency: "USD", want: 1700},
		{value: "17", currency: "USD", want: 1700},
		{value: "0.1", currency: "USD", want: 10},
		{value: "1700", currency: "JPY", want: 1700},
		{value: "17.5", currency: "JPY", wantErr: true},
		{value: "17.001", currency: "USD", wantErr: true},
		{value: "abc", currency: "USD", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.value+"_"+tt.currency, func(t *testing.T) {
			got, err := toMinorUnits(tt.value, tt.currency)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCashOnDelivery(t *testing.T) {
	cod := NewCashOnDelivery()

	intent, err := cod.CreateIntent(context.Background(), payment.IntentRequest{Amount: 1700})
	require.NoError(t, err)
	assert.Regexp(t, `^cod_[0-9a-f-]{36}$`, intent.ProviderOrderID)
	assert.Empty(t, intent.ClientSecret)

	assert.ErrorIs(t, cod.VerifySignature([]byte("{}"), "sig"), payment.ErrUnsupported)
	_, err = cod.ParseEvent([]byte("{}"))
	assert.ErrorIs(t, err, payment.ErrUnsupported)
	assert.NoError(t, cod.Refund(context.Background(), payment.RefundRequest{Amount: 1700}))
}

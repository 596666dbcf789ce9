// Package gateway holds one payment.Gateway implementation per provider.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/payment"
)

var (
	_ payment.Gateway       = (*Stripe)(nil)
	_ payment.StatusFetcher = (*Stripe)(nil)
	_ payment.Gateway       = (*Razorpay)(nil)
	_ payment.StatusFetcher = (*Razorpay)(nil)
	_ payment.Gateway       = (*PayPal)(nil)
	_ payment.Gateway       = CashOnDelivery{}
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
)

var errSignatureMismatch = errors.New("signature mismatch")

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

type apiClient struct {
	provider string
	baseURL  string
	http     *http.Client
}

func newAPIClient(provider, baseURL string, client *http.Client) apiClient {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return apiClient{provider: provider, baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

// do sends the request and decodes a JSON response into out when out is
// non-nil.
func (c apiClient) do(ctx context.Context, method, path string, body io.Reader, headers http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", c.provider, err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", c.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Provider: c.provider, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", c.provider, err)
	}
	return nil
}

func (c apiClient) doJSON(ctx context.Context, method, path string, in any, headers http.Header, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", c.provider, err)
		}
		body = bytes.NewReader(raw)
	}
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	return c.do(ctx, method, path, body, headers, out)
}

func signHex(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyHex compares the expected HMAC-SHA256 of message against a hex
// signature in constant time.
func verifyHex(secret, message []byte, signature string) error {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return errSignatureMismatch
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	if !hmac.Equal(mac.Sum(nil), got) {
		return errSignatureMismatch
	}
	return nil
}

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

func minorUnitExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// toMajorUnits renders minor units as a decimal string, e.g. 1700 USD -> "17.00".
func toMajorUnits(amount int64, currency string) string {
	exp := minorUnitExponent(currency)
	return decimal.New(amount, -exp).StringFixed(exp)
}

// toMinorUnits parses a major-unit decimal string. Values with more
// precision than the currency allows are rejected.
func toMinorUnits(value, currency string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	shifted := d.Shift(minorUnitExponent(currency))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has too many decimal places for %s", value, currency)
	}
	return shifted.IntPart(), nil
}

// Package gateway is the HTTP adapter for the external checkout provider.
// Only the contract the ledger depends on is implemented: create a checkout
// session, retrieve its terminal status.
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
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

const paidStatus = "paid"

type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

func (s CheckoutSession) Paid() bool {
	return s.PaymentStatus == paidStatus
}

type CreateSessionParams struct {
	UserID      string
	UserEmail   string
	AmountMinor int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateCheckoutSession opens a hosted checkout with the provider. The user id
// and requested amount travel in session metadata so the webhook and verify
// paths can credit the right account even if this process dies after returning.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CreateSessionParams) (CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price_data][currency]", params.Currency)
	form.Set("line_items[0][price_data][product_data][name]", "Balance Top-up")
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.AmountMinor, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[user_id]", params.UserID)
	form.Set("metadata[user_email]", params.UserEmail)
	form.Set("metadata[requested_amount]", strconv.FormatInt(params.AmountMinor, 10))
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return CheckoutSession{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// GetCheckoutSession retrieves a session's current status directly from the
// provider. This is the pull-based verification path.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/checkout/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return CheckoutSession{}, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (CheckoutSession, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return CheckoutSession{}, fmt.Errorf("%w: provider returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error.Message == "" {
			apiErr.Error.Message = http.StatusText(resp.StatusCode)
		}
		return CheckoutSession{}, fmt.Errorf("provider rejected request: %s", apiErr.Error.Message)
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return CheckoutSession{}, fmt.Errorf("decode provider response: %w", err)
	}
	return session, nil
}

// Package client is a Go client for the giving HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/sapliy/nightly-giving/internal/notification"
	"github.com/sapliy/nightly-giving/internal/tracker"
	"github.com/sapliy/nightly-giving/pkg/signature"
)

const (
	DefaultBaseURL = "http://localhost:8080"
)

// APIError is returned for any response with status >= 400.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status=%d", e.Status)
	}
	return fmt.Sprintf("api error: status=%d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to a running giving server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// NewClient creates a client. The token is sent as a bearer token and is
// only required for admin endpoints.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithBaseURL sets the base URL for the client.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = data
	}
	return c.doRaw(ctx, method, path, payload, nil, out)
}

func (c *Client) doRaw(ctx context.Context, method, path string, payload []byte, header http.Header, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil {
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) AddDonation(ctx context.Context, req domain.PledgeRequest) (domain.DonationRecord, error) {
	var rec domain.DonationRecord
	err := c.do(ctx, http.MethodPost, "/api/v1/donations", req, &rec)
	return rec, err
}

func (c *Client) History(ctx context.Context) ([]domain.DonationRecord, error) {
	var recs []domain.DonationRecord
	err := c.do(ctx, http.MethodGet, "/api/v1/donations", nil, &recs)
	return recs, err
}

func (c *Client) Aggregates(ctx context.Context) (domain.Aggregates, error) {
	var agg domain.Aggregates
	err := c.do(ctx, http.MethodGet, "/api/v1/aggregates", nil, &agg)
	return agg, err
}

func (c *Client) TrackClick(ctx context.Context, req tracker.ClickRequest) (domain.PendingClick, error) {
	var click domain.PendingClick
	err := c.do(ctx, http.MethodPost, "/api/v1/clicks", req, &click)
	return click, err
}

func (c *Client) PendingClicks(ctx context.Context) ([]domain.PendingClick, error) {
	var clicks []domain.PendingClick
	err := c.do(ctx, http.MethodGet, "/api/v1/clicks/pending", nil, &clicks)
	return clicks, err
}

// SendWebhook posts a signed confirmation, as a charity platform would.
func (c *Client) SendWebhook(ctx context.Context, w tracker.Webhook, secret string) (domain.DonationRecord, error) {
	payload, err := json.Marshal(w)
	if err != nil {
		return domain.DonationRecord{}, fmt.Errorf("marshal webhook: %w", err)
	}
	header := http.Header{}
	header.Set(signature.Header, signature.Sign(payload, secret))

	var rec domain.DonationRecord
	err = c.doRaw(ctx, http.MethodPost, "/api/v1/webhooks/donations", payload, header, &rec)
	return rec, err
}

// SimulateWebhook confirms a random pending click with the given amount.
func (c *Client) SimulateWebhook(ctx context.Context, amount decimal.Decimal) (domain.DonationRecord, error) {
	var rec domain.DonationRecord
	body := map[string]any{"amount": amount}
	err := c.do(ctx, http.MethodPost, "/api/v1/admin/simulate-webhook", body, &rec)
	return rec, err
}

func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/admin/reset", nil, nil)
}

func (c *Client) FireReminder(ctx context.Context, pledgeID string, night int) error {
	path := fmt.Sprintf("/api/v1/admin/reminders/%s/%d/fire", url.PathEscape(pledgeID), night)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) SendTestEmail(ctx context.Context, kind notification.Kind, email string) (notification.Receipt, error) {
	var receipt notification.Receipt
	body := map[string]string{"kind": string(kind), "email": email}
	err := c.do(ctx, http.MethodPost, "/api/v1/admin/emails/test", body, &receipt)
	return receipt, err
}

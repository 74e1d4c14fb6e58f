package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Relay delivers a templated message.
type Relay interface {
	Send(ctx context.Context, msg Message) (RelayResponse, error)
}

// DefaultEmailJSEndpoint is the EmailJS REST send API.
const DefaultEmailJSEndpoint = "https://api.emailjs.com/api/v1.0/email/send"

// EmailJSRelay posts to the EmailJS REST API, which renders and sends the
// template configured in the EmailJS dashboard.
type EmailJSRelay struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
}

type EmailJSOption func(*EmailJSRelay)

func WithEmailJSEndpoint(url string) EmailJSOption {
	return func(r *EmailJSRelay) { r.endpoint = url }
}

// WithAccessToken sets the private key required when the EmailJS account
// enforces it for API calls.
func WithAccessToken(token string) EmailJSOption {
	return func(r *EmailJSRelay) { r.accessToken = token }
}

func WithHTTPClient(c *http.Client) EmailJSOption {
	return func(r *EmailJSRelay) { r.httpClient = c }
}

func NewEmailJSRelay(opts ...EmailJSOption) *EmailJSRelay {
	r := &EmailJSRelay{
		endpoint:   DefaultEmailJSEndpoint,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type emailJSRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	AccessToken    string            `json:"accessToken,omitempty"`
	TemplateParams map[string]string `json:"template_params"`
}

func (r *EmailJSRelay) Send(ctx context.Context, msg Message) (RelayResponse, error) {
	body, err := json.Marshal(emailJSRequest{
		ServiceID:      msg.ServiceID,
		TemplateID:     msg.TemplateID,
		UserID:         msg.AuthToken,
		AccessToken:    r.accessToken,
		TemplateParams: msg.Params,
	})
	if err != nil {
		return RelayResponse{}, fmt.Errorf("failed to encode emailjs request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return RelayResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return RelayResponse{}, fmt.Errorf("emailjs request failed: %w", err)
	}
	defer resp.Body.Close()

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return RelayResponse{Status: resp.StatusCode, Text: string(text)},
			fmt.Errorf("emailjs returned %d: %s", resp.StatusCode, text)
	}
	return RelayResponse{Status: resp.StatusCode, Text: string(text)}, nil
}

// LogRelay only logs messages. Used in development.
type LogRelay struct {
	logger *slog.Logger
}

func NewLogRelay(logger *slog.Logger) *LogRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRelay{logger: logger}
}

func (r *LogRelay) Send(ctx context.Context, msg Message) (RelayResponse, error) {
	id := uuid.NewString()
	r.logger.InfoContext(ctx, "email relay (log only)",
		"id", id,
		"kind", msg.Kind,
		"template_id", msg.TemplateID,
		"to", msg.Params["to_email"],
		"subject", GetEmailSubject(msg.Kind, msg.Params),
	)
	return RelayResponse{ID: id, Status: 200, Text: "OK"}, nil
}

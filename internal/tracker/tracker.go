// Package tracker issues tracking ids for outbound charity clicks and
// matches inbound webhook confirmations back to them.
package tracker

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/sapliy/nightly-giving/pkg/clock"
	"github.com/shopspring/decimal"
)

const (
	DefaultPendingTTL = 24 * time.Hour
	AnonymousEmail    = "anonymous@example.com"
)

// Ledger is the part of the donation ledger the tracker writes to.
type Ledger interface {
	AddPendingClick(ctx context.Context, click domain.PendingClick) error
	RecordExternalConfirmation(ctx context.Context, c domain.Confirmation) (domain.DonationRecord, error)
	PendingClicks() []domain.PendingClick
	ExpirePending(ctx context.Context, cutoff time.Time) []domain.PendingClick
}

type ClickRequest struct {
	CharityID      string `json:"charityId"`
	CharityName    string `json:"charityName"`
	Region         string `json:"region,omitempty"`
	ReferrerURL    string `json:"referrerUrl,omitempty"`
	DestinationURL string `json:"destinationUrl"`
}

// Webhook is the confirmation payload sent by a charity platform.
// Timestamp is in Unix milliseconds.
type Webhook struct {
	TrackingID    string          `json:"trackingId"`
	Amount        decimal.Decimal `json:"amount"`
	DonorEmail    string          `json:"donorEmail,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	Timestamp     int64           `json:"timestamp,omitempty"`
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (Webhook, error) {
	var w Webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return Webhook{}, &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return w, nil
}

type Option func(*Tracker)

func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithEntropy replaces crypto/rand as the id randomness source.
func WithEntropy(r io.Reader) Option {
	return func(t *Tracker) { t.entropy = r }
}

// WithPendingTTL sets how long a click may wait for confirmation. Zero
// disables expiry.
func WithPendingTTL(d time.Duration) Option {
	return func(t *Tracker) { t.ttl = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

type Tracker struct {
	ledger  Ledger
	clock   clock.Clock
	entropy io.Reader
	ttl     time.Duration
	logger  *slog.Logger
}

func New(ledger Ledger, opts ...Option) *Tracker {
	t := &Tracker{
		ledger:  ledger,
		clock:   clock.Real{},
		entropy: rand.Reader,
		ttl:     DefaultPendingTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}
	return t
}

// TrackClick records an outbound click and returns it with the decorated
// URL the user should be sent to.
func (t *Tracker) TrackClick(ctx context.Context, req ClickRequest) (domain.PendingClick, error) {
	charityID := strings.TrimSpace(req.CharityID)
	charityName := strings.TrimSpace(req.CharityName)
	if charityID == "" && charityName == "" {
		return domain.PendingClick{}, &domain.ValidationError{Field: "charity", Reason: "charity id or name is required"}
	}
	if charityName == "" {
		charityName = charityID
	}

	now := t.clock.Now()
	trackingID, err := NewTrackingID(now, t.entropy)
	if err != nil {
		return domain.PendingClick{}, fmt.Errorf("failed to generate tracking id: %w", err)
	}
	tracked, err := DecorateURL(req.DestinationURL, charityID, trackingID)
	if err != nil {
		return domain.PendingClick{}, err
	}

	click := domain.PendingClick{
		TrackingID:     trackingID,
		CharityID:      charityID,
		CharityName:    charityName,
		Region:         strings.TrimSpace(req.Region),
		ReferrerURL:    req.ReferrerURL,
		DestinationURL: strings.TrimSpace(req.DestinationURL),
		TrackedURL:     tracked,
		Timestamp:      now,
		Status:         domain.ClickPending,
	}
	if err := t.ledger.AddPendingClick(ctx, click); err != nil {
		return domain.PendingClick{}, err
	}

	t.logger.InfoContext(ctx, "external click tracked", "tracking_id", trackingID, "charity", charityName)
	return click, nil
}

// ConfirmClick turns the pending click named by w.TrackingID into a
// confirmed external donation. Unknown or consumed ids yield a NotFoundError
// and change nothing. A click older than the pending TTL also yields a
// NotFoundError and is discarded as expired.
func (t *Tracker) ConfirmClick(ctx context.Context, w Webhook) (domain.DonationRecord, error) {
	trackingID := strings.TrimSpace(w.TrackingID)
	if trackingID == "" {
		return domain.DonationRecord{}, &domain.ValidationError{Field: "trackingId", Reason: "required"}
	}
	if !w.Amount.IsPositive() {
		return domain.DonationRecord{}, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	now := t.clock.Now()
	c := domain.Confirmation{
		TrackingID:    trackingID,
		Amount:        w.Amount,
		DonorEmail:    strings.TrimSpace(w.DonorEmail),
		TransactionID: strings.TrimSpace(w.TransactionID),
	}
	if c.DonorEmail == "" {
		c.DonorEmail = AnonymousEmail
	}
	if c.TransactionID == "" {
		id, err := newID("tx-", now, t.entropy)
		if err != nil {
			return domain.DonationRecord{}, fmt.Errorf("failed to generate transaction id: %w", err)
		}
		c.TransactionID = id
	}
	if w.Timestamp > 0 {
		c.Timestamp = time.UnixMilli(w.Timestamp)
	}
	if t.ttl > 0 {
		c.NotBefore = now.Add(-t.ttl)
	}

	return t.ledger.RecordExternalConfirmation(ctx, c)
}

func (t *Tracker) PendingClicks() []domain.PendingClick {
	return t.ledger.PendingClicks()
}

// ExpireStale discards clicks older than the pending TTL.
func (t *Tracker) ExpireStale(ctx context.Context) []domain.PendingClick {
	if t.ttl <= 0 {
		return nil
	}
	return t.ledger.ExpirePending(ctx, t.clock.Now().Add(-t.ttl))
}

// RunExpiry calls ExpireStale every interval until ctx is done.
func (t *Tracker) RunExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := t.ExpireStale(ctx); len(expired) > 0 {
				t.logger.InfoContext(ctx, "expired stale clicks", "count", len(expired))
			}
		}
	}
}

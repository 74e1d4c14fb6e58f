// Package notification sends pledge confirmations and nightly reminders
// through a pluggable relay, suppressing duplicate sends.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/sapliy/nightly-giving/pkg/clock"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const DefaultTimeout = 10 * time.Second

// Config identifies the relay account and templates.
type Config struct {
	ServiceID              string
	ConfirmationTemplateID string
	ReminderTemplateID     string
	AuthToken              string
	Timeout                time.Duration
}

type Option func(*Notifier)

func WithClock(c clock.Clock) Option {
	return func(n *Notifier) { n.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// Notifier delivers each dedup key at most once per process. Concurrent
// sends of the same key share one relay call.
type Notifier struct {
	relay  Relay
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	sent  map[string]Receipt
	group singleflight.Group
}

func NewNotifier(relay Relay, cfg Config, opts ...Option) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	n := &Notifier{
		relay: relay,
		cfg:   cfg,
		clock: clock.Real{},
		sent:  make(map[string]Receipt),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.New(slog.DiscardHandler)
	}
	return n
}

func ConfirmationKey(pledgeID string) string {
	return "confirmation:" + pledgeID
}

func ReminderKey(pledgeID string, night int) string {
	return fmt.Sprintf("reminder:%s:%d", pledgeID, night)
}

func (n *Notifier) SendConfirmation(ctx context.Context, p domain.DonationPledge) (Receipt, error) {
	key := ConfirmationKey(p.ID)
	if p.DonorEmail == "" {
		return Receipt{}, &DeliveryError{Key: key, Err: ErrNoRecipient}
	}
	return n.send(ctx, key, KindConfirmation, n.cfg.ConfirmationTemplateID, ConfirmationParams(p))
}

func (n *Notifier) SendReminder(ctx context.Context, p domain.DonationPledge, night int) (Receipt, error) {
	key := ReminderKey(p.ID, night)
	if !domain.ValidNight(night) {
		return Receipt{}, &DeliveryError{Key: key, Err: fmt.Errorf("%w: %d", ErrInvalidNight, night)}
	}
	if p.DonorEmail == "" {
		return Receipt{}, &DeliveryError{Key: key, Err: ErrNoRecipient}
	}
	return n.send(ctx, key, KindReminder, n.cfg.ReminderTemplateID, ReminderParams(p, night))
}

// SendTest sends a sample message of kind to email, bypassing the dedup
// cache.
func (n *Notifier) SendTest(ctx context.Context, kind Kind, email string) (Receipt, error) {
	p := domain.DonationPledge{
		ID:             "test",
		AmountPerNight: decimal.NewFromInt(10),
		TotalAmount:    decimal.NewFromInt(100),
		CharityName:    "Test Charity",
		DonorEmail:     email,
		CreatedAt:      n.clock.Now(),
		IsRecurring:    true,
		ReminderTime:   "20:00",
	}
	key := fmt.Sprintf("test:%s:%d", kind, n.clock.Now().UnixMilli())
	if email == "" {
		return Receipt{}, &DeliveryError{Key: key, Err: ErrNoRecipient}
	}

	switch kind {
	case KindConfirmation:
		return n.deliver(ctx, key, kind, n.cfg.ConfirmationTemplateID, ConfirmationParams(p))
	case KindReminder:
		return n.deliver(ctx, key, kind, n.cfg.ReminderTemplateID, ReminderParams(p, domain.FirstNight))
	default:
		return Receipt{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// ClearDedup forgets every delivered key.
func (n *Notifier) ClearDedup() {
	n.mu.Lock()
	n.sent = make(map[string]Receipt)
	n.mu.Unlock()
}

func (n *Notifier) send(ctx context.Context, key string, kind Kind, templateID string, params map[string]string) (Receipt, error) {
	if r, ok := n.cached(key); ok {
		EmailsSent.WithLabelValues(string(kind), "duplicate").Inc()
		n.logger.Info("duplicate send suppressed", "key", key)
		return r, nil
	}

	v, err, _ := n.group.Do(key, func() (interface{}, error) {
		if r, ok := n.cached(key); ok {
			return r, nil
		}
		r, err := n.deliver(ctx, key, kind, templateID, params)
		if err != nil {
			return r, err
		}
		n.mu.Lock()
		n.sent[key] = r
		n.mu.Unlock()
		return r, nil
	})
	return v.(Receipt), err
}

func (n *Notifier) cached(key string) (Receipt, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.sent[key]
	if ok {
		r.Duplicate = true
	}
	return r, ok
}

func (n *Notifier) deliver(ctx context.Context, key string, kind Kind, templateID string, params map[string]string) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	timer := prometheus.NewTimer(RelayLatency.WithLabelValues(string(kind)))
	resp, err := n.relay.Send(ctx, Message{
		ServiceID:  n.cfg.ServiceID,
		TemplateID: templateID,
		Kind:       kind,
		Params:     params,
		AuthToken:  n.cfg.AuthToken,
	})
	timer.ObserveDuration()

	if err != nil {
		EmailsSent.WithLabelValues(string(kind), "failed").Inc()
		n.logger.Error("email delivery failed", "key", key, "error", err)
		return Receipt{}, &DeliveryError{Key: key, Err: err}
	}

	EmailsSent.WithLabelValues(string(kind), "sent").Inc()
	n.logger.Info("email sent", "key", key, "message_id", resp.ID, "status", resp.Status)
	return Receipt{
		Key:       key,
		Kind:      kind,
		MessageID: resp.ID,
		Status:    resp.Status,
		Text:      resp.Text,
		SentAt:    n.clock.Now(),
	}, nil
}

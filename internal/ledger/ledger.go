// Package ledger holds the authoritative donation state: the record
// history, pending external clicks, recurring pledges and the derived
// aggregates.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/sapliy/nightly-giving/internal/policy"
	"github.com/sapliy/nightly-giving/pkg/clock"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const persistTimeout = 5 * time.Second

var tracer = otel.Tracer("ledger")

// ReminderScheduler is notified about recurring pledges.
type ReminderScheduler interface {
	Enroll(ctx context.Context, pledge domain.DonationPledge)
	CancelPledge(pledgeID string)
}

type Metrics interface {
	RecordDonation(kind string, amount decimal.Decimal)
	RecordPersistenceFailure()
	SetTotal(total decimal.Decimal)
	SetPending(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordDonation(string, decimal.Decimal) {}
func (nopMetrics) RecordPersistenceFailure()              {}
func (nopMetrics) SetTotal(decimal.Decimal)               {}
func (nopMetrics) SetPending(int)                         {}

type Option func(*Ledger)

func WithStore(s domain.Store) Option {
	return func(l *Ledger) { l.store = s }
}

func WithPublisher(p domain.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithScheduler(s ReminderScheduler) Option {
	return func(l *Ledger) { l.reminders = s }
}

func WithPolicy(e policy.PolicyEngine) Option {
	return func(l *Ledger) { l.policy = e }
}

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLocation sets the location whose calendar day decides the night bucket.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.location = loc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithObserver registers f to receive aggregates after every committed
// mutation, in commit order. f must not block.
func WithObserver(f func(domain.Aggregates)) Option {
	return func(l *Ledger) { l.observers = append(l.observers, f) }
}

type Ledger struct {
	store     domain.Store
	publisher domain.EventPublisher
	reminders ReminderScheduler
	policy    policy.PolicyEngine
	clock     clock.Clock
	location  *time.Location
	logger    *slog.Logger
	metrics   Metrics
	observers []func(domain.Aggregates)

	mu   sync.Mutex
	data *domain.Snapshot

	// saveMu orders snapshot writes without holding mu during I/O.
	saveMu sync.Mutex
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		clock:    clock.Real{},
		location: time.UTC,
		metrics:  nopMetrics{},
		data:     domain.NewSnapshot(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	return l
}

// Load restores state from the store and recomputes the aggregates from the
// history. On failure the ledger starts empty and the error is returned for
// logging only.
func (l *Ledger) Load(ctx context.Context) error {
	var loadErr error
	snap := domain.NewSnapshot()
	if l.store != nil {
		loaded, err := l.store.Load(ctx)
		if err != nil {
			l.metrics.RecordPersistenceFailure()
			loadErr = fmt.Errorf("%w: load snapshot: %v", domain.ErrPersistence, err)
		} else if loaded != nil {
			snap = loaded
		}
	}
	snap.Normalize()
	recompute(snap, l.location)

	l.mu.Lock()
	l.data = snap
	l.mu.Unlock()

	l.metrics.SetTotal(snap.TotalDonations)
	l.metrics.SetPending(len(snap.PendingDonations))
	l.logger.InfoContext(ctx, "ledger loaded",
		"records", len(snap.DonationHistory),
		"pending", len(snap.PendingDonations),
		"pledges", len(snap.Pledges),
		"total", snap.TotalDonations.String(),
	)
	return loadErr
}

// AddDonation validates and records a pledge. Recurring pledges are
// credited in full at creation and handed to the reminder scheduler.
func (l *Ledger) AddDonation(ctx context.Context, req domain.PledgeRequest) (domain.DonationRecord, error) {
	ctx, span := tracer.Start(ctx, "ledger.AddDonation")
	defer span.End()

	now := l.clock.Now()
	pledge, err := buildPledge(req, now)
	if err != nil {
		span.RecordError(err)
		return domain.DonationRecord{}, err
	}

	rec := domain.DonationRecord{
		ID:          uuid.NewString(),
		Amount:      pledge.TotalAmount,
		CharityID:   pledge.CharityID,
		CharityName: pledge.CharityName,
		Timestamp:   now,
		DonorEmail:  pledge.DonorEmail,
		IsScheduled: pledge.IsRecurring,
		Region:      pledge.Region,
	}
	if pledge.IsRecurring {
		rec.PledgeID = pledge.ID
	}
	span.SetAttributes(
		attribute.String("donation.id", rec.ID),
		attribute.Bool("donation.recurring", pledge.IsRecurring),
	)

	l.mu.Lock()
	l.appendRecord(rec)
	if pledge.IsRecurring {
		l.data.Pledges = append(l.data.Pledges, pledge)
	}
	reminders := l.reminders
	agg := l.commitLocked(ctx)

	kind := "one_off"
	if pledge.IsRecurring {
		kind = "recurring"
	}
	l.metrics.RecordDonation(kind, rec.Amount)
	l.publish(ctx, domain.EventDonationRecorded, &rec, agg)
	l.logger.InfoContext(ctx, "donation recorded",
		"id", rec.ID,
		"charity", rec.CharityName,
		"amount", rec.Amount.String(),
		"recurring", pledge.IsRecurring,
	)

	if pledge.IsRecurring && reminders != nil {
		reminders.Enroll(ctx, pledge)
	}
	return rec, nil
}

// AddPendingClick stores a freshly tracked outbound click.
func (l *Ledger) AddPendingClick(ctx context.Context, click domain.PendingClick) error {
	if click.TrackingID == "" {
		return &domain.ValidationError{Field: "trackingId", Reason: "required"}
	}
	click.Status = domain.ClickPending

	l.mu.Lock()
	if l.findPendingLocked(click.TrackingID) >= 0 {
		l.mu.Unlock()
		return &domain.ValidationError{Field: "trackingId", Reason: "already pending"}
	}
	l.data.PendingDonations = append(l.data.PendingDonations, click)
	l.commitLocked(ctx)
	return nil
}

// RecordExternalConfirmation consumes the pending click for c.TrackingID and
// records the confirmed donation. The take and the append happen under one
// lock so a click is consumed at most once.
func (l *Ledger) RecordExternalConfirmation(ctx context.Context, c domain.Confirmation) (domain.DonationRecord, error) {
	ctx, span := tracer.Start(ctx, "ledger.RecordExternalConfirmation")
	defer span.End()
	span.SetAttributes(attribute.String("tracking.id", c.TrackingID))

	if c.TrackingID == "" {
		return domain.DonationRecord{}, &domain.ValidationError{Field: "trackingId", Reason: "required"}
	}
	if !c.Amount.IsPositive() {
		return domain.DonationRecord{}, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	ts := c.Timestamp
	if ts.IsZero() {
		ts = l.clock.Now()
	}

	l.mu.Lock()
	idx := l.findPendingLocked(c.TrackingID)
	if idx < 0 {
		l.mu.Unlock()
		return domain.DonationRecord{}, &domain.NotFoundError{TrackingID: c.TrackingID}
	}
	click := l.data.PendingDonations[idx]
	l.data.PendingDonations = append(l.data.PendingDonations[:idx], l.data.PendingDonations[idx+1:]...)

	if !c.NotBefore.IsZero() && click.Timestamp.Before(c.NotBefore) {
		l.commitLocked(ctx)
		l.logger.InfoContext(ctx, "pending click expired before confirmation", "tracking_id", c.TrackingID)
		return domain.DonationRecord{}, &domain.NotFoundError{TrackingID: c.TrackingID}
	}

	rec := domain.DonationRecord{
		ID:             uuid.NewString(),
		Amount:         c.Amount,
		CharityID:      click.CharityID,
		CharityName:    click.CharityName,
		Timestamp:      ts,
		DonorEmail:     c.DonorEmail,
		Region:         click.Region,
		IsExternal:     true,
		ExternalSource: click.DestinationURL,
		TrackingID:     click.TrackingID,
		TransactionID:  c.TransactionID,
	}
	l.appendRecord(rec)
	l.data.ConfirmedExternalDonations = append(l.data.ConfirmedExternalDonations, rec)
	agg := l.commitLocked(ctx)

	l.metrics.RecordDonation("external", rec.Amount)
	l.publish(ctx, domain.EventDonationExternalConfirmed, &rec, agg)
	l.logger.InfoContext(ctx, "external donation confirmed",
		"tracking_id", rec.TrackingID,
		"transaction_id", rec.TransactionID,
		"amount", rec.Amount.String(),
	)
	return rec, nil
}

// ExpirePending discards pending clicks created before cutoff and returns
// them with status expired.
func (l *Ledger) ExpirePending(ctx context.Context, cutoff time.Time) []domain.PendingClick {
	l.mu.Lock()
	var expired []domain.PendingClick
	live := make([]domain.PendingClick, 0, len(l.data.PendingDonations))
	for _, p := range l.data.PendingDonations {
		if p.Timestamp.Before(cutoff) {
			p.Status = domain.ClickExpired
			expired = append(expired, p)
			continue
		}
		live = append(live, p)
	}
	if len(expired) == 0 {
		l.mu.Unlock()
		return nil
	}
	l.data.PendingDonations = live
	l.commitLocked(ctx)
	l.logger.InfoContext(ctx, "expired pending clicks", "count", len(expired))
	return expired
}

// Reset clears all donation state. The caller must be allowed the
// ledger.reset action.
func (l *Ledger) Reset(ctx context.Context, pctx *policy.PolicyContext) error {
	ctx, span := tracer.Start(ctx, "ledger.Reset")
	defer span.End()

	l.mu.Lock()
	engine := l.policy
	l.mu.Unlock()
	if err := policy.Enforce(ctx, engine, policy.WithAction(pctx, policy.ActionLedgerReset)); err != nil {
		span.RecordError(err)
		if errors.Is(err, policy.ErrDenied) {
			return fmt.Errorf("%w: %v", domain.ErrForbidden, err)
		}
		return err
	}

	l.mu.Lock()
	pledgeIDs := make([]string, 0, len(l.data.Pledges))
	for _, p := range l.data.Pledges {
		pledgeIDs = append(pledgeIDs, p.ID)
	}
	reminders := l.reminders
	l.data = domain.NewSnapshot()
	agg := l.commitLocked(ctx)

	if reminders != nil {
		for _, id := range pledgeIDs {
			reminders.CancelPledge(id)
		}
	}
	l.publish(ctx, domain.EventLedgerReset, nil, agg)
	l.logger.WarnContext(ctx, "ledger reset", "cancelled_pledges", len(pledgeIDs))
	return nil
}

func (l *Ledger) GetAggregates() domain.Aggregates {
	l.mu.Lock()
	defer l.mu.Unlock()
	return aggregatesOf(l.data)
}

func (l *Ledger) History() []domain.DonationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.DonationRecord{}, l.data.DonationHistory...)
}

func (l *Ledger) PendingClicks() []domain.PendingClick {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.PendingClick{}, l.data.PendingDonations...)
}

func (l *Ledger) ConfirmedExternal() []domain.DonationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.DonationRecord{}, l.data.ConfirmedExternalDonations...)
}

func (l *Ledger) RecurringPledges() []domain.DonationPledge {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.DonationPledge{}, l.data.Pledges...)
}

func (l *Ledger) Pledge(id string) (domain.DonationPledge, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.data.Pledges {
		if p.ID == id {
			return p, true
		}
	}
	return domain.DonationPledge{}, false
}

func (l *Ledger) appendRecord(rec domain.DonationRecord) {
	l.data.DonationHistory = append(l.data.DonationHistory, rec)
	l.data.TotalDonations = l.data.TotalDonations.Add(rec.Amount)
	if n, ok := NightFor(rec.Timestamp, l.location); ok {
		l.data.NightlyDonations[n] = l.data.NightlyDonations[n].Add(rec.Amount)
	}
}

func (l *Ledger) findPendingLocked(trackingID string) int {
	for i, p := range l.data.PendingDonations {
		if p.TrackingID == trackingID && p.Status == domain.ClickPending {
			return i
		}
	}
	return -1
}

// commitLocked must be called with mu held and releases it. It stamps the
// snapshot, persists a copy and notifies observers, in mutation order.
func (l *Ledger) commitLocked(ctx context.Context) domain.Aggregates {
	l.data.LastUpdated = l.clock.Now().UnixMilli()
	snap := l.data.Clone()
	agg := aggregatesOf(snap)

	l.saveMu.Lock()
	l.mu.Unlock()
	defer l.saveMu.Unlock()

	l.persist(ctx, snap)
	l.metrics.SetTotal(agg.TotalDonations)
	l.metrics.SetPending(len(snap.PendingDonations))
	for _, f := range l.observers {
		f(agg)
	}
	return agg
}

// persist is best effort: failures are logged and counted, and the next
// mutation writes the full snapshot again.
func (l *Ledger) persist(ctx context.Context, snap *domain.Snapshot) {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := l.store.Save(ctx, snap); err != nil {
		l.metrics.RecordPersistenceFailure()
		l.logger.ErrorContext(ctx, "failed to persist ledger snapshot",
			"error", fmt.Errorf("%w: %v", domain.ErrPersistence, err))
	}
}

func (l *Ledger) publish(ctx context.Context, eventType string, rec *domain.DonationRecord, agg domain.Aggregates) {
	if l.publisher == nil {
		return
	}
	evt := domain.LedgerEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  l.clock.Now(),
		Record:     rec,
		Aggregates: agg,
	}
	if err := l.publisher.Publish(ctx, evt); err != nil {
		l.logger.WarnContext(ctx, "failed to publish ledger event", "type", eventType, "error", err)
	}
}

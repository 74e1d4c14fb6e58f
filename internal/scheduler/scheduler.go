// Package scheduler arms one single-shot reminder per campaign night for
// each recurring pledge and fires it through the notifier.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/sapliy/nightly-giving/internal/notification"
	"github.com/sapliy/nightly-giving/pkg/clock"
)

var (
	ErrUnknownPledge = errors.New("unknown pledge")
	ErrInvalidNight  = errors.New("night outside campaign window")
	ErrAlreadySent   = errors.New("reminder already sent")
)

type Notifier interface {
	SendConfirmation(ctx context.Context, p domain.DonationPledge) (notification.Receipt, error)
	SendReminder(ctx context.Context, p domain.DonationPledge, night int) (notification.Receipt, error)
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithSentStore(st SentStore) Option {
	return func(s *Scheduler) { s.sent = st }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

type reminderKey struct {
	pledgeID string
	night    int
}

type reminder struct {
	timer clock.Timer
	gen   uint64
	sent  bool
}

// Scheduler owns the (pledge, night) reminder registry.
type Scheduler struct {
	notifier Notifier
	calendar *Calendar
	clock    clock.Clock
	sent     SentStore
	logger   *slog.Logger

	mu        sync.Mutex
	pledges   map[string]domain.DonationPledge
	reminders map[reminderKey]*reminder
	gen       uint64

	wg sync.WaitGroup
}

func New(notifier Notifier, calendar *Calendar, opts ...Option) *Scheduler {
	s := &Scheduler{
		notifier:  notifier,
		calendar:  calendar,
		clock:     clock.Real{},
		pledges:   make(map[string]domain.DonationPledge),
		reminders: make(map[reminderKey]*reminder),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sent == nil {
		s.sent = NewMemorySentStore()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Enroll arms a new pledge's reminders and sends its confirmation in the
// background. A failed confirmation does not affect the reminders.
func (s *Scheduler) Enroll(ctx context.Context, p domain.DonationPledge) {
	s.ArmPledge(ctx, p)

	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.notifier.SendConfirmation(ctx, p); err != nil {
			ConfirmationsFailed.Inc()
			s.logger.Error("pledge confirmation failed", "pledge_id", p.ID, "error", err)
		}
	}()
}

// ArmPledge (re)arms a timer for every night of p that is neither sent nor
// in the past, and returns how many were armed. Re-arming replaces pending
// timers, so a pledge never holds more than ten.
func (s *Scheduler) ArmPledge(ctx context.Context, p domain.DonationPledge) int {
	if !p.IsRecurring || p.ReminderTime == "" {
		s.logger.Info("pledge has no reminders", "pledge_id", p.ID)
		return 0
	}
	if _, _, err := domain.ParseReminderTime(p.ReminderTime); err != nil {
		s.logger.Warn("skipping pledge with invalid reminder time", "pledge_id", p.ID, "error", err)
		return 0
	}

	persisted := make(map[int]bool, domain.NightCount)
	for night := domain.FirstNight; night <= domain.LastNight; night++ {
		ok, err := s.sent.IsSent(ctx, p.ID, night)
		if err != nil {
			s.logger.Warn("sent store unavailable", "pledge_id", p.ID, "night", night, "error", err)
			continue
		}
		persisted[night] = ok
	}

	armedAt := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pledges[p.ID] = p
	armed := 0
	for night := domain.FirstNight; night <= domain.LastNight; night++ {
		key := reminderKey{pledgeID: p.ID, night: night}
		r := s.reminders[key]
		if r != nil && r.sent {
			continue
		}
		if persisted[night] {
			if r == nil {
				r = &reminder{}
				s.reminders[key] = r
			}
			s.stopLocked(r)
			r.sent = true
			continue
		}

		fireAt, err := s.calendar.FireAt(night, p.ReminderTime, armedAt)
		if err != nil {
			s.logger.Warn("cannot compute reminder time", "pledge_id", p.ID, "night", night, "error", err)
			continue
		}
		delay := fireAt.Sub(armedAt)
		if delay <= 0 {
			if r != nil {
				s.stopLocked(r)
			}
			s.logger.Debug("reminder time has passed", "pledge_id", p.ID, "night", night, "fire_at", fireAt)
			continue
		}

		if r == nil {
			r = &reminder{}
			s.reminders[key] = r
		}
		s.stopLocked(r)
		s.gen++
		gen, pledgeID, n := s.gen, p.ID, night
		r.gen = gen
		r.timer = s.clock.AfterFunc(delay, func() { s.onTimer(pledgeID, n, gen) })
		armed++
	}
	s.updateGaugeLocked()

	s.logger.Info("reminders armed", "pledge_id", p.ID, "armed", armed)
	return armed
}

// Rebuild re-arms every pledge, typically after a restart.
func (s *Scheduler) Rebuild(ctx context.Context, pledges []domain.DonationPledge) int {
	total := 0
	for _, p := range pledges {
		total += s.ArmPledge(ctx, p)
	}
	return total
}

// Fire sends the reminder for (pledgeID, night) now. It is called by the
// timer and by the admin test route. A successful send marks the night as
// sent and cancels its pending timer; failures are not retried.
func (s *Scheduler) Fire(ctx context.Context, pledgeID string, night int) error {
	if !domain.ValidNight(night) {
		return fmt.Errorf("%w: %d", ErrInvalidNight, night)
	}
	key := reminderKey{pledgeID: pledgeID, night: night}

	s.mu.Lock()
	p, ok := s.pledges[pledgeID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPledge, pledgeID)
	}
	if r := s.reminders[key]; r != nil && r.sent {
		s.mu.Unlock()
		return ErrAlreadySent
	}
	s.mu.Unlock()

	receipt, err := s.notifier.SendReminder(ctx, p, night)
	if err != nil {
		RemindersFired.WithLabelValues("failed").Inc()
		s.logger.Error("reminder failed", "pledge_id", pledgeID, "night", night, "error", err)
		return err
	}

	s.mu.Lock()
	if _, ok := s.pledges[pledgeID]; ok {
		r := s.reminders[key]
		if r == nil {
			r = &reminder{}
			s.reminders[key] = r
		}
		s.stopLocked(r)
		r.sent = true
		s.updateGaugeLocked()
	}
	s.mu.Unlock()

	if err := s.sent.MarkSent(ctx, pledgeID, night); err != nil {
		s.logger.Warn("failed to persist sent marker", "pledge_id", pledgeID, "night", night, "error", err)
	}
	RemindersFired.WithLabelValues("sent").Inc()
	s.logger.Info("reminder sent",
		"pledge_id", pledgeID,
		"night", night,
		"message_id", receipt.MessageID,
		"duplicate", receipt.Duplicate,
	)
	return nil
}

// CancelPledge stops and forgets every reminder of a pledge.
func (s *Scheduler) CancelPledge(pledgeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for night := domain.FirstNight; night <= domain.LastNight; night++ {
		key := reminderKey{pledgeID: pledgeID, night: night}
		if r, ok := s.reminders[key]; ok {
			s.stopLocked(r)
			delete(s.reminders, key)
		}
	}
	delete(s.pledges, pledgeID)
	s.updateGaugeLocked()
}

// Armed reports how many timers are pending for a pledge.
func (s *Scheduler) Armed(pledgeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for night := domain.FirstNight; night <= domain.LastNight; night++ {
		if r := s.reminders[reminderKey{pledgeID: pledgeID, night: night}]; r != nil && r.timer != nil {
			n++
		}
	}
	return n
}

// Sent reports whether the reminder for (pledgeID, night) was delivered by
// this process or a previous one sharing the sent store.
func (s *Scheduler) Sent(ctx context.Context, pledgeID string, night int) bool {
	s.mu.Lock()
	r := s.reminders[reminderKey{pledgeID: pledgeID, night: night}]
	s.mu.Unlock()
	if r != nil && r.sent {
		return true
	}
	ok, err := s.sent.IsSent(ctx, pledgeID, night)
	return err == nil && ok
}

// Wait blocks until background confirmation sends finish.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stop cancels every timer and waits for background sends.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for key, r := range s.reminders {
		s.stopLocked(r)
		delete(s.reminders, key)
	}
	s.pledges = make(map[string]domain.DonationPledge)
	s.updateGaugeLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) onTimer(pledgeID string, night int, gen uint64) {
	s.mu.Lock()
	r := s.reminders[reminderKey{pledgeID: pledgeID, night: night}]
	if r == nil || r.gen != gen || r.timer == nil {
		// Cancelled or re-armed after this timer was scheduled.
		s.mu.Unlock()
		return
	}
	r.timer = nil
	s.updateGaugeLocked()
	s.mu.Unlock()

	if err := s.Fire(context.Background(), pledgeID, night); err != nil && !errors.Is(err, ErrAlreadySent) {
		s.logger.Warn("scheduled reminder not delivered", "pledge_id", pledgeID, "night", night, "error", err)
	}
}

func (s *Scheduler) stopLocked(r *reminder) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (s *Scheduler) updateGaugeLocked() {
	n := 0
	for _, r := range s.reminders {
		if r.timer != nil {
			n++
		}
	}
	RemindersArmed.Set(float64(n))
}

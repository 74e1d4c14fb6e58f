// Package simulate confirms a random pending click as if the charity had
// called back. It is a demo harness and must not be wired into the real
// confirmation path.
package simulate

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"

	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/sapliy/nightly-giving/internal/tracker"
	"github.com/shopspring/decimal"
)

const DefaultDonorEmail = "external-donor@example.com"

var ErrNoPending = errors.New("no pending clicks to confirm")

type Confirmer interface {
	ExpireStale(ctx context.Context) []domain.PendingClick
	PendingClicks() []domain.PendingClick
	ConfirmClick(ctx context.Context, w tracker.Webhook) (domain.DonationRecord, error)
}

type Option func(*Simulator)

// WithPicker replaces the random index choice.
func WithPicker(pick func(n int) int) Option {
	return func(s *Simulator) { s.pick = pick }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

type Simulator struct {
	target Confirmer
	pick   func(n int) int
	logger *slog.Logger
}

func New(target Confirmer, opts ...Option) *Simulator {
	s := &Simulator{target: target, pick: rand.IntN}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Confirm picks a live pending click at random and confirms it for amount.
// Clicks past the pending TTL are expired first so they are never picked.
func (s *Simulator) Confirm(ctx context.Context, amount decimal.Decimal, donorEmail string) (domain.DonationRecord, error) {
	s.target.ExpireStale(ctx)
	pending := s.target.PendingClicks()
	if len(pending) == 0 {
		return domain.DonationRecord{}, ErrNoPending
	}
	if donorEmail == "" {
		donorEmail = DefaultDonorEmail
	}

	click := pending[s.pick(len(pending))]
	s.logger.InfoContext(ctx, "simulating webhook", "tracking_id", click.TrackingID, "amount", amount.String())
	return s.target.ConfirmClick(ctx, tracker.Webhook{
		TrackingID: click.TrackingID,
		Amount:     amount,
		DonorEmail: donorEmail,
	})
}

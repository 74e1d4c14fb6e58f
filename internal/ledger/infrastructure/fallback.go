package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sapliy/nightly-giving/internal/ledger/domain"
)

// FallbackStore writes every snapshot to a backup before the primary and
// reads from the backup when the primary is unavailable.
type FallbackStore struct {
	Primary domain.Store
	Backup  domain.Store
	logger  *slog.Logger
}

func NewFallbackStore(primary, backup domain.Store, logger *slog.Logger) *FallbackStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FallbackStore{Primary: primary, Backup: backup, logger: logger}
}

func (s *FallbackStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	backupErr := s.Backup.Save(ctx, snap)
	if backupErr != nil {
		s.logger.Warn("backup save failed", "error", backupErr)
	}
	if err := s.Primary.Save(ctx, snap); err != nil {
		return fmt.Errorf("%w: primary: %w", domain.ErrPersistence, errors.Join(err, backupErr))
	}
	return nil
}

func (s *FallbackStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	snap, err := s.Primary.Load(ctx)
	if err == nil {
		return snap, nil
	}
	s.logger.Warn("primary load failed, trying backup", "error", err)

	snap, backupErr := s.Backup.Load(ctx)
	if backupErr == nil {
		return snap, nil
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, errors.Join(err, backupErr))
}

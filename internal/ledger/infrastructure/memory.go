package infrastructure

import (
	"context"
	"sync"

	"github.com/sapliy/nightly-giving/internal/ledger/domain"
)

// MemoryStore keeps the snapshot in process. Used for tests and
// --storage=memory.
type MemoryStore struct {
	mu   sync.Mutex
	snap *domain.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return domain.NewSnapshot(), nil
	}
	return s.snap.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap.Clone()
	return nil
}

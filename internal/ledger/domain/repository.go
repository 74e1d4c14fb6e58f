package domain

import (
	"context"
)

// Store persists the ledger snapshot as a whole.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

type EventPublisher interface {
	Publish(ctx context.Context, evt LedgerEvent) error
}

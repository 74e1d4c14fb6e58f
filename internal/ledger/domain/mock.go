package domain

import (
	"context"
)

type MockStore struct {
	LoadFunc func(ctx context.Context) (*Snapshot, error)
	SaveFunc func(ctx context.Context, snap *Snapshot) error
}

func (m *MockStore) Load(ctx context.Context) (*Snapshot, error) {
	if m.LoadFunc == nil {
		return NewSnapshot(), nil
	}
	return m.LoadFunc(ctx)
}

func (m *MockStore) Save(ctx context.Context, snap *Snapshot) error {
	if m.SaveFunc == nil {
		return nil
	}
	return m.SaveFunc(ctx, snap)
}

type MockPublisher struct {
	PublishFunc func(ctx context.Context, evt LedgerEvent) error
}

func (m *MockPublisher) Publish(ctx context.Context, evt LedgerEvent) error {
	if m.PublishFunc == nil {
		return nil
	}
	return m.PublishFunc(ctx, evt)
}

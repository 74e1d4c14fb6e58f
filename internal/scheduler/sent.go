package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SentTTL outlives the campaign so markers survive its whole window.
const SentTTL = 60 * 24 * time.Hour

// SentStore remembers which (pledge, night) reminders were delivered.
type SentStore interface {
	IsSent(ctx context.Context, pledgeID string, night int) (bool, error)
	MarkSent(ctx context.Context, pledgeID string, night int) error
}

func sentKey(pledgeID string, night int) string {
	return fmt.Sprintf("reminder:sent:%s:%d", pledgeID, night)
}

type MemorySentStore struct {
	mu   sync.Mutex
	sent map[string]struct{}
}

func NewMemorySentStore() *MemorySentStore {
	return &MemorySentStore{sent: make(map[string]struct{})}
}

func (s *MemorySentStore) IsSent(ctx context.Context, pledgeID string, night int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[sentKey(pledgeID, night)]
	return ok, nil
}

func (s *MemorySentStore) MarkSent(ctx context.Context, pledgeID string, night int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[sentKey(pledgeID, night)] = struct{}{}
	return nil
}

// RedisSentStore keeps markers as expiring keys so a restarted process does
// not resend.
type RedisSentStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisSentStore(client redis.Cmdable) *RedisSentStore {
	return &RedisSentStore{client: client, ttl: SentTTL}
}

func (s *RedisSentStore) IsSent(ctx context.Context, pledgeID string, night int) (bool, error) {
	n, err := s.client.Exists(ctx, sentKey(pledgeID, night)).Result()
	if err != nil {
		return false, fmt.Errorf("redis error checking sent marker: %w", err)
	}
	return n > 0, nil
}

func (s *RedisSentStore) MarkSent(ctx context.Context, pledgeID string, night int) error {
	if err := s.client.SetNX(ctx, sentKey(pledgeID, night), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("redis error setting sent marker: %w", err)
	}
	return nil
}

package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/shopspring/decimal"
)

// DefaultRedisKey is the hash holding one field per snapshot section.
const DefaultRedisKey = "giving:donationData"

const (
	fieldHistory   = "donationHistory"
	fieldPending   = "pendingDonations"
	fieldConfirmed = "confirmedExternalDonations"
	fieldPledges   = "pledges"
	fieldTotal     = "totalDonations"
	fieldNightly   = "nightlyDonations"
	fieldUpdated   = "lastUpdated"
)

// RedisStore is the key-per-field backup store.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, key: DefaultRedisKey}
}

func (s *RedisStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.key, err)
	}
	return snapshotFromFields(fields)
}

func (s *RedisStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	fields, err := snapshotToFields(snap)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key, fields).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.key, err)
	}
	return nil
}

func snapshotToFields(snap *domain.Snapshot) (map[string]any, error) {
	fields := map[string]any{
		fieldTotal:   snap.TotalDonations.String(),
		fieldUpdated: strconv.FormatInt(snap.LastUpdated, 10),
	}
	parts := map[string]any{
		fieldHistory:   snap.DonationHistory,
		fieldPending:   snap.PendingDonations,
		fieldConfirmed: snap.ConfirmedExternalDonations,
		fieldPledges:   snap.Pledges,
		fieldNightly:   snap.NightlyDonations,
	}
	for name, v := range parts {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", name, err)
		}
		fields[name] = string(raw)
	}
	return fields, nil
}

// snapshotFromFields rebuilds a snapshot; missing fields keep their defaults.
func snapshotFromFields(fields map[string]string) (*domain.Snapshot, error) {
	snap := domain.NewSnapshot()
	if len(fields) == 0 {
		return snap, nil
	}

	decode := map[string]any{
		fieldHistory:   &snap.DonationHistory,
		fieldPending:   &snap.PendingDonations,
		fieldConfirmed: &snap.ConfirmedExternalDonations,
		fieldPledges:   &snap.Pledges,
		fieldNightly:   &snap.NightlyDonations,
	}
	for name, dst := range decode {
		raw, ok := fields[name]
		if !ok || raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", name, err)
		}
	}
	if raw, ok := fields[fieldTotal]; ok && raw != "" {
		total, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", fieldTotal, err)
		}
		snap.TotalDonations = total
	}
	if raw, ok := fields[fieldUpdated]; ok && raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", fieldUpdated, err)
		}
		snap.LastUpdated = ts
	}
	snap.Normalize()
	return snap, nil
}

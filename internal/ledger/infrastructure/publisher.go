package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sapliy/nightly-giving/internal/ledger/domain"
)

// LedgerEventsTopic carries domain.LedgerEvent JSON.
const LedgerEventsTopic = "giving.ledger-events"

// Producer is satisfied by messaging.KafkaProducer.
type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// KafkaEventPublisher publishes ledger events keyed by charity so events
// for one charity stay ordered.
type KafkaEventPublisher struct {
	producer Producer
}

func NewKafkaEventPublisher(p Producer) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: p}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, evt domain.LedgerEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", evt.Type, err)
	}
	key := evt.Type
	if evt.Record != nil && evt.Record.CharityID != "" {
		key = evt.Record.CharityID
	}
	return p.producer.Publish(ctx, key, payload)
}

package queue

import (
	"context"
	"encoding/json"

	"github.com/user/notifybot/internal/metrics"
	"github.com/user/notifybot/internal/storage"
	"github.com/user/notifybot/pkg/logger"
)

// Producer is the sole write path into the notification pipeline.
type Producer struct {
	store *storage.QueueStore
}

// NewProducer creates a producer over the queue store.
func NewProducer(store *storage.QueueStore) *Producer {
	return &Producer{store: store}
}

// Enqueue validates and appends one event, returning its id. There is no
// ordering promise between producers beyond insertion time.
func (p *Producer) Enqueue(ctx context.Context, eventType string, payload json.RawMessage) (int64, error) {
	if err := ValidatePayload(eventType, payload); err != nil {
		return 0, err
	}
	id, err := p.store.Enqueue(ctx, eventType, payload)
	if err != nil {
		return 0, err
	}
	metrics.EventsEnqueued.WithLabelValues(eventType).Inc()
	logger.Debug().Int64("event_id", id).Str("type", eventType).Msg("Event enqueued")
	return id, nil
}

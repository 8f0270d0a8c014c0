package queue

import (
	"context"
	"time"

	"github.com/user/notifybot/internal/storage"
)

// Consumer claims, acks, and nacks queue events on behalf of one worker.
// Exclusivity against other consumers comes entirely from the store's
// atomic claim; consumers in separate processes need no further
// coordination.
type Consumer struct {
	store *storage.QueueStore
	id    string
	lease time.Duration
	clock func() time.Time
}

// NewConsumer creates a consumer identified by id. The lease bounds how long
// a claim survives a dead worker before the events become reclaimable.
func NewConsumer(store *storage.QueueStore, id string, lease time.Duration) *Consumer {
	return &Consumer{
		store: store,
		id:    id,
		lease: lease,
		clock: time.Now,
	}
}

// ID returns the consumer's identity as recorded on claims.
func (c *Consumer) ID() string {
	return c.id
}

// PollBatch claims up to limit unprocessed events. An event another consumer
// claimed first simply does not appear in the batch; losing that race is a
// normal outcome, not an error.
func (c *Consumer) PollBatch(ctx context.Context, limit int) ([]storage.QueueEvent, error) {
	return c.store.Claim(ctx, c.id, limit, c.lease, c.clock())
}

// Ack marks an event delivered. Safe to call more than once.
func (c *Consumer) Ack(ctx context.Context, eventID int64) error {
	return c.store.Ack(ctx, eventID, c.clock())
}

// Nack releases a claimed event for immediate redelivery.
func (c *Consumer) Nack(ctx context.Context, eventID int64) error {
	return c.store.Nack(ctx, eventID)
}

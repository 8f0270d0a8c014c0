package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// QueueStore handles notification queue database operations.
//
// The queue is the only synchronization point between producers and the
// worker fleet: exclusivity of claims and terminality of processed_at are
// enforced here with conditional updates, never with in-process locks.
type QueueStore struct {
	db *Database
}

// NewQueueStore creates a new queue store.
func NewQueueStore(db *Database) *QueueStore {
	return &QueueStore{db: db}
}

// Enqueue appends one event. Payload validation happens in the producer
// layer; the store is a pure append.
func (s *QueueStore) Enqueue(ctx context.Context, eventType string, payload json.RawMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notif_queue (type, payload) VALUES (?, ?)`,
		eventType, string(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue event: %w", err)
	}
	return res.LastInsertId()
}

// Claim atomically leases up to limit unprocessed events to consumerID.
//
// Eligible rows have processed_at NULL and no live lease. The single UPDATE
// with a subselect makes competing Claim calls pick disjoint rows; a row
// claimed by a consumer that died becomes eligible again once its lease
// passes. Returned events are ordered by created_at, then id.
func (s *QueueStore) Claim(ctx context.Context, consumerID string, limit int, lease time.Duration, now time.Time) ([]QueueEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE notif_queue
		SET claimed_by = ?, claim_expires_at = ?
		WHERE id IN (
			SELECT id FROM notif_queue
			WHERE processed_at IS NULL
			  AND (claim_expires_at IS NULL OR claim_expires_at <= ?)
			ORDER BY created_at, id
			LIMIT ?
		)
		RETURNING id, type, payload, created_at, claimed_by, claim_expires_at, processed_at
	`
	rows, err := s.db.QueryxContext(ctx, query,
		consumerID, now.Add(lease).UTC(), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim events: %w", err)
	}
	defer rows.Close()

	var events []QueueEvent
	for rows.Next() {
		var e QueueEvent
		if err := rows.StructScan(&e); err != nil {
			return nil, fmt.Errorf("failed to scan claimed event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimed events: %w", err)
	}

	// RETURNING does not promise an order.
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// Ack marks an event processed. processed_at is set at most once; acking an
// already processed or unknown event is a no-op, not an error.
func (s *QueueStore) Ack(ctx context.Context, eventID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notif_queue
		SET processed_at = ?, claimed_by = NULL, claim_expires_at = NULL
		WHERE id = ? AND processed_at IS NULL
	`, now.UTC(), eventID)
	if err != nil {
		return fmt.Errorf("failed to ack event: %w", err)
	}
	return nil
}

// Nack releases an unprocessed event's claim so another consumer can pick it
// up immediately instead of waiting for the lease to lapse.
func (s *QueueStore) Nack(ctx context.Context, eventID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notif_queue
		SET claimed_by = NULL, claim_expires_at = NULL
		WHERE id = ? AND processed_at IS NULL
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to nack event: %w", err)
	}
	return nil
}

// GetEvent returns a single event by id.
func (s *QueueStore) GetEvent(ctx context.Context, eventID int64) (*QueueEvent, error) {
	var e QueueEvent
	err := s.db.GetContext(ctx, &e, `SELECT * FROM notif_queue WHERE id = ?`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	return &e, nil
}

// PruneProcessed removes processed events older than the cutoff to keep the
// queue table bounded. Unprocessed rows are never touched.
func (s *QueueStore) PruneProcessed(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notif_queue WHERE processed_at IS NOT NULL AND processed_at < ?`,
		before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	return res.RowsAffected()
}

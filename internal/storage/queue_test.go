package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func enqueueN(t *testing.T, store *QueueStore, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := store.Enqueue(context.Background(), "broadcast", json.RawMessage(`{"text":"hi"}`))
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestClaimExclusive(t *testing.T) {
	db := newTestDB(t)
	store := NewQueueStore(db)
	ctx := context.Background()
	now := time.Now()

	ids := enqueueN(t, store, 5)

	first, err := store.Claim(ctx, "worker-a", 10, time.Minute, now)
	if err != nil {
		t.Fatalf("claim a: %v", err)
	}
	if len(first) != 5 {
		t.Fatalf("expected 5 claimed events, got %d", len(first))
	}

	// A competing consumer polling while the lease is live gets nothing.
	second, err := store.Claim(ctx, "worker-b", 10, time.Minute, now)
	if err != nil {
		t.Fatalf("claim b: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected empty batch for worker-b, got %d events", len(second))
	}

	// Batch is in created_at, id order.
	for i, ev := range first {
		if ev.ID != ids[i] {
			t.Fatalf("batch out of order: position %d has id %d, want %d", i, ev.ID, ids[i])
		}
	}
}

func TestClaimRespectsLimit(t *testing.T) {
	db := newTestDB(t)
	store := NewQueueStore(db)
	ctx := context.Background()
	now := time.Now()

	enqueueN(t, store, 5)

	batch, err := store.Claim(ctx, "worker-a", 2, time.Minute, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected 2 events, got %d", len(batch))
	}

	rest, err := store.Claim(ctx, "worker-b", 10, time.Minute, now)
	if err != nil {
		t.Fatalf("claim rest: %v", err)
	}
	if len(rest) != 3 {
		t.Fatalf("expected 3 remaining events, got %d", len(rest))
	}
}

func TestExpiredLeaseIsReclaimable(t *testing.T) {
	db := newTestDB(t)
	store := NewQueueStore(db)
	ctx := context.Background()
	now := time.Now()

	ids := enqueueN(t, store, 1)

	if _, err := store.Claim(ctx, "worker-dead", 10, time.Minute, now); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Before the lease lapses nobody can steal the event.
	batch, err := store.Claim(ctx, "worker-b", 10, time.Minute, now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("claim during lease: %v", err)
	}
	if len(batch) != 0 {
		t.Fatal("event must stay claimed while the lease is live")
	}

	// After the lease it belongs to whoever polls next.
	batch, err = store.Claim(ctx, "worker-b", 10, time.Minute, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("claim after lease: %v", err)
	}
	if len(batch) != 1 || batch[0].ID != ids[0] {
		t.Fatalf("expected to reclaim event %d, got %+v", ids[0], batch)
	}
	if batch[0].ClaimedBy.String != "worker-b" {
		t.Fatalf("expected claim by worker-b, got %q", batch[0].ClaimedBy.String)
	}
}

func TestAckTerminalAndIdempotent(t *testing.T) {
	db := newTestDB(t)
	store := NewQueueStore(db)
	ctx := context.Background()
	now := time.Now()

	ids := enqueueN(t, store, 1)

	if _, err := store.Claim(ctx, "worker-a", 10, time.Minute, now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Ack(ctx, ids[0], now); err != nil {
		t.Fatalf("ack: %v", err)
	}

	ev, err := store.GetEvent(ctx, ids[0])
	if err != nil {
		t.Fatalf("load event: %v", err)
	}
	if !ev.Processed() {
		t.Fatal("event must be processed after ack")
	}
	firstAck := ev.ProcessedAt.Time

	// Second ack is a no-op and does not move processed_at.
	if err := store.Ack(ctx, ids[0], now.Add(time.Hour)); err != nil {
		t.Fatalf("second ack: %v", err)
	}
	ev, err = store.GetEvent(ctx, ids[0])
	if err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if !ev.ProcessedAt.Time.Equal(firstAck) {
		t.Fatal("processed_at must be set at most once")
	}

	// Processed events never reappear, even long after any lease.
	batch, err := store.Claim(ctx, "worker-b", 10, time.Minute, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("claim after ack: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("processed event must not be reclaimed, got %d events", len(batch))
	}
}

func TestNackReleasesImmediately(t *testing.T) {
	db := newTestDB(t)
	store := NewQueueStore(db)
	ctx := context.Background()
	now := time.Now()

	ids := enqueueN(t, store, 1)

	if _, err := store.Claim(ctx, "worker-a", 10, time.Minute, now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Nack(ctx, ids[0]); err != nil {
		t.Fatalf("nack: %v", err)
	}

	batch, err := store.Claim(ctx, "worker-b", 10, time.Minute, now)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected nacked event to be reclaimable, got %d events", len(batch))
	}
}

func TestPruneProcessedKeepsUnprocessed(t *testing.T) {
	db := newTestDB(t)
	store := NewQueueStore(db)
	ctx := context.Background()
	now := time.Now()

	ids := enqueueN(t, store, 3)

	if _, err := store.Claim(ctx, "worker-a", 10, time.Minute, now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// Ack two of three, long in the past.
	if err := store.Ack(ctx, ids[0], now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := store.Ack(ctx, ids[1], now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("ack: %v", err)
	}

	pruned, err := store.PruneProcessed(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("expected 2 pruned rows, got %d", pruned)
	}

	if _, err := store.GetEvent(ctx, ids[2]); err != nil {
		t.Fatalf("unprocessed event must survive pruning: %v", err)
	}
}

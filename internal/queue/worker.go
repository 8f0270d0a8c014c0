package queue

import (
	"context"
	"sync"
	"time"

	"github.com/user/notifybot/internal/metrics"
	"github.com/user/notifybot/internal/storage"
	"github.com/user/notifybot/pkg/logger"
)

// Deliverer hands a claimed event to the outbound channel. A nil error acks
// the event; an error leaves it claimed until the lease lapses, after which
// any worker may retry it.
type Deliverer interface {
	Deliver(ctx context.Context, event storage.QueueEvent) error
}

// WorkerOptions tune a worker's poll loop.
type WorkerOptions struct {
	BatchSize    int
	PollInterval time.Duration
	MaxBackoff   time.Duration
	StoreRetries int
}

// Worker runs the poll-claim-deliver-ack loop. Multiple workers may run in
// one process or across hosts; they share nothing but the store.
type Worker struct {
	consumer  *Consumer
	deliverer Deliverer
	opts      WorkerOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker over consumer and deliverer.
func NewWorker(consumer *Consumer, deliverer Deliverer, opts WorkerOptions) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxBackoff < opts.PollInterval {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.StoreRetries <= 0 {
		opts.StoreRetries = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		consumer:  consumer,
		deliverer: deliverer,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the polling loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
	logger.Info().Str("consumer", w.consumer.ID()).Msg("Queue worker started")
}

// Stop gracefully stops the worker and waits for the in-flight batch.
func (w *Worker) Stop() {
	logger.Info().Str("consumer", w.consumer.ID()).Msg("Stopping queue worker")
	w.cancel()
	w.wg.Wait()
}

// run polls with bounded backoff: the delay resets to the base interval
// whenever a batch arrives and doubles up to MaxBackoff while the queue is
// empty or the store is unavailable.
func (w *Worker) run() {
	defer w.wg.Done()

	delay := w.opts.PollInterval
	storeFailures := 0

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(delay):
		}

		events, err := w.consumer.PollBatch(w.ctx, w.opts.BatchSize)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			storeFailures++
			delay = w.backoff(delay)
			if storeFailures >= w.opts.StoreRetries {
				// Operator-facing: the retry budget is exhausted and the
				// pipeline is stalled until the store recovers.
				logger.Error().
					Err(err).
					Str("consumer", w.consumer.ID()).
					Int("failures", storeFailures).
					Msg("Queue store unavailable, retry budget exhausted")
			} else {
				logger.Warn().Err(err).Str("consumer", w.consumer.ID()).Msg("Failed to poll queue")
			}
			continue
		}
		storeFailures = 0

		if len(events) == 0 {
			delay = w.backoff(delay)
			continue
		}
		delay = w.opts.PollInterval

		w.processBatch(events)
	}
}

// processBatch delivers events in created_at order.
func (w *Worker) processBatch(events []storage.QueueEvent) {
	for _, event := range events {
		if w.ctx.Err() != nil {
			// Shutting down mid-batch: release the rest immediately rather
			// than leaving them leased to a dead worker.
			w.release(events)
			return
		}

		if err := w.deliverer.Deliver(w.ctx, event); err != nil {
			metrics.DeliveryFailures.WithLabelValues(event.Type).Inc()
			logger.Warn().
				Err(err).
				Int64("event_id", event.ID).
				Str("type", event.Type).
				Msg("Delivery failed, event will be retried after lease expiry")
			continue
		}

		if err := w.consumer.Ack(w.ctx, event.ID); err != nil {
			// Delivery happened but the ack did not stick; the event will be
			// redelivered after the lease lapses. At-least-once allows this.
			logger.Warn().Err(err).Int64("event_id", event.ID).Msg("Failed to ack event")
			continue
		}
		metrics.EventsDelivered.WithLabelValues(event.Type).Inc()
		logger.Debug().Int64("event_id", event.ID).Str("type", event.Type).Msg("Event delivered")
	}
}

// release nacks undelivered claims during shutdown. Uses a fresh context
// because the worker's own context is already canceled.
func (w *Worker) release(events []storage.QueueEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, event := range events {
		if err := w.consumer.Nack(ctx, event.ID); err != nil {
			logger.Warn().Err(err).Int64("event_id", event.ID).Msg("Failed to release claim")
		}
	}
}

func (w *Worker) backoff(current time.Duration) time.Duration {
	next := current * 2
	if next > w.opts.MaxBackoff {
		next = w.opts.MaxBackoff
	}
	return next
}

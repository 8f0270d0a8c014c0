// Package maintenance runs scheduled housekeeping over the notification
// queue.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/user/notifybot/internal/metrics"
	"github.com/user/notifybot/internal/storage"
	"github.com/user/notifybot/pkg/logger"
)

// Janitor prunes processed queue rows past the retention window. Unprocessed
// events and link tokens are never touched; tokens are kept for audit.
type Janitor struct {
	queue     *storage.QueueStore
	retention time.Duration
	cron      *cron.Cron
}

// NewJanitor creates a janitor with the given retention window.
func NewJanitor(queue *storage.QueueStore, retention time.Duration) *Janitor {
	return &Janitor{
		queue:     queue,
		retention: retention,
		cron:      cron.New(),
	}
}

// Start schedules the hourly prune job.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc("@hourly", j.prune); err != nil {
		return err
	}
	j.cron.Start()
	logger.Info().Dur("retention", j.retention).Msg("Queue janitor started")
	return nil
}

// Stop halts the schedule and waits for a running job.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	logger.Info().Msg("Queue janitor stopped")
}

func (j *Janitor) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-j.retention)
	pruned, err := j.queue.PruneProcessed(ctx, cutoff)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to prune processed events")
		return
	}
	if pruned > 0 {
		metrics.EventsPruned.Add(float64(pruned))
		logger.Info().Int64("pruned", pruned).Time("cutoff", cutoff).Msg("Pruned processed events")
	}
}

package scheduler

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/queue"
)

// QueueStatsJobName is the scheduler entry that logs queue depth
const QueueStatsJobName = "queue_stats"

// StatsSource reports a snapshot of every job queue
type StatsSource interface {
	Stats(ctx context.Context) ([]queue.Stats, error)
}

// QueueStatsJob returns a handler that logs queue depth, warning when a
// queue holds dead letters
func QueueStatsJob(source StatsSource, logger arbor.ILogger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		stats, err := source.Stats(ctx)
		if err != nil {
			return err
		}

		for _, s := range stats {
			event := logger.Info()
			if s.DeadLetters > 0 {
				event = logger.Warn()
			}
			event.
				Str("queue", s.Name).
				Int("ready", s.Ready).
				Int("scheduled", s.Scheduled).
				Int("dead_letters", s.DeadLetters).
				Str("processing", s.Processing).
				Msg("Queue stats")
		}
		return nil
	}
}

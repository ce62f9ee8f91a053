package progress

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
)

const lockStripes = 64

// Reporter persists progress updates and publishes the stored record.
// Upsert and publish for one job id run under the same stripe lock, so
// subscribers see snapshots in the order they were stored.
type Reporter struct {
	store    interfaces.ProgressStorage
	notifier interfaces.ProgressNotifier
	logger   arbor.ILogger
	locks    [lockStripes]sync.Mutex
}

// NewReporter creates a progress reporter
func NewReporter(store interfaces.ProgressStorage, notifier interfaces.ProgressNotifier, logger arbor.ILogger) *Reporter {
	return &Reporter{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

var _ interfaces.ProgressReporter = (*Reporter)(nil)

// Report never fails the caller. A store error is logged and the update is
// dropped, leaving clients on the last stored snapshot until the next
// successful report.
func (r *Reporter) Report(ctx context.Context, jobID string, update *models.ProgressUpdate) {
	mu := r.lockFor(jobID)
	mu.Lock()
	defer mu.Unlock()

	// A cancelled job context must not lose the final status write
	writeCtx := context.WithoutCancel(ctx)

	snapshot, applied, err := r.store.UpsertProgress(writeCtx, jobID, update)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("job_id", jobID).
			Str("status", string(update.Status)).
			Msg("Failed to record job progress")
		return
	}
	if !applied {
		// Rejected by a terminal record, subscribers already have it
		return
	}

	r.notifier.Publish(writeCtx, jobID, snapshot)
}

func (r *Reporter) lockFor(jobID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(jobID))
	return &r.locks[h.Sum32()%lockStripes]
}

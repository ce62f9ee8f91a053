// -----------------------------------------------------------------------
// Job Processor - Binds family workers to their queues
// - Each worker owns one queue's single handler
// - Stage failures become a failed progress report plus a queue retry
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/queue"
)

// Worker processes the payloads of one job family as a sequence of stages
type Worker interface {
	Family() models.JobFamily
	Process(ctx context.Context, job *queue.Job, progress *Progress) (interface{}, error)
}

// JobProcessor registers workers as queue handlers and reports each
// delivery's outcome through the progress reporter
type JobProcessor struct {
	queues   *queue.Manager
	reporter interfaces.ProgressReporter
	logger   arbor.ILogger
	mu       sync.Mutex
	workers  map[models.JobFamily]Worker
}

// NewJobProcessor creates a processor over the queue manager
func NewJobProcessor(queues *queue.Manager, reporter interfaces.ProgressReporter, logger arbor.ILogger) *JobProcessor {
	return &JobProcessor{
		queues:   queues,
		reporter: reporter,
		logger:   logger,
		workers:  make(map[models.JobFamily]Worker),
	}
}

// RegisterWorker makes worker the consumer of its family's queue
func (jp *JobProcessor) RegisterWorker(worker Worker) error {
	family := worker.Family()

	jp.mu.Lock()
	defer jp.mu.Unlock()

	if _, exists := jp.workers[family]; exists {
		return fmt.Errorf("worker for %s already registered", family)
	}

	q, err := jp.queues.Queue(family)
	if err != nil {
		return err
	}
	if err := q.Consume(jp.handler(worker)); err != nil {
		return err
	}
	// No handler returns for a lost final attempt, so the failure is reported here
	q.OnDeadLetter(func(jobID string, attempt int, cause string) {
		jp.reporter.Report(context.Background(), jobID, models.Failed(attempt, errors.New(cause), nil))
	})

	jp.workers[family] = worker
	jp.logger.Debug().
		Str("family", string(family)).
		Msg("Job worker registered")
	return nil
}

// handler is the processor boundary: stage errors are reported as failed
// with the accumulated details and then returned so the queue retries.
func (jp *JobProcessor) handler(worker Worker) queue.Handler {
	family := string(worker.Family())

	return func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
		jobLogger := jp.logger.WithCorrelationId(job.JobID)
		progress := newProgress(jp.reporter, job.JobID, job.Attempt)

		result, err := worker.Process(ctx, job, progress)
		if err != nil {
			// Interrupted by shutdown: the queue redelivers with the same attempt
			if ctx.Err() != nil {
				return nil, err
			}

			err = stageErr("process", err)
			progress.fail(ctx, err)

			jobLogger.Warn().
				Err(err).
				Str("family", family).
				Int("attempt", job.Attempt).
				Bool("final", job.IsFinalAttempt()).
				Msg("Job stage failed")
			return nil, err
		}

		raw, err := json.Marshal(result)
		if err != nil {
			err = stageErr("finalize", err)
			progress.fail(ctx, err)
			return nil, err
		}

		progress.complete(ctx, raw)
		jobLogger.Debug().
			Str("family", family).
			Int("attempt", job.Attempt).
			Msg("Job completed")
		return raw, nil
	}
}

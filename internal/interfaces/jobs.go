package interfaces

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/courseforge/internal/models"
)

// JobHandle is a future for one queued job
type JobHandle interface {
	JobID() string

	// Wait blocks until the job succeeds or exhausts its retries, returning
	// the processor's result or its final error.
	Wait(ctx context.Context) (json.RawMessage, error)
}

// JobSubmitter seeds progress and enqueues jobs
type JobSubmitter interface {
	// Submit seeds a pending progress record, enqueues payload and returns
	// the job id without waiting for the job.
	Submit(ctx context.Context, payload models.JobPayload) (string, error)

	// Dispatch is Submit for callers that need to wait on the child job
	Dispatch(ctx context.Context, payload models.JobPayload) (JobHandle, error)
}

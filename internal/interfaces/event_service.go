package interfaces

import (
	"context"

	"github.com/ternarybob/courseforge/internal/models"
)

// ProgressNotifier fans progress snapshots out to subscribers of a job id.
// Delivery is live only; late subscribers read current state from storage.
type ProgressNotifier interface {
	// Publish delivers snapshot to every current subscriber of jobID. It never
	// blocks on a slow subscriber and never reports delivery failures.
	Publish(ctx context.Context, jobID string, snapshot *models.JobProgress)

	// Subscribe returns a channel of snapshots for jobID, in publish order, and
	// a function that ends the subscription and closes the channel.
	Subscribe(jobID string) (<-chan *models.JobProgress, func())

	Close() error
}

// ProgressReporter is the only path job logic uses to change progress
type ProgressReporter interface {
	// Report persists update and publishes the resulting full record.
	// Failures are logged and swallowed.
	Report(ctx context.Context, jobID string, update *models.ProgressUpdate)
}

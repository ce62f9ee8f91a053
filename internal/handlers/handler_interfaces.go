package handlers

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/queue"
)

// JobService submits jobs and reads back their progress
type JobService interface {
	SubmitJSON(ctx context.Context, family models.JobFamily, raw json.RawMessage) (string, error)
	GetProgress(ctx context.Context, jobID string) (*models.JobProgress, error)
	ListProgress(ctx context.Context, userID string, limit int) ([]*models.JobProgress, error)
}

// QueueInspector reports queue depth and dead letters
type QueueInspector interface {
	Stats(ctx context.Context) ([]queue.Stats, error)
}

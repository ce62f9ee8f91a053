package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/queue"
)

// ErrInvalidPayload is returned when a payload fails validation
var ErrInvalidPayload = errors.New("invalid job payload")

// Service is the submission API: it seeds a pending progress record and
// enqueues the payload on its family's queue before returning.
type Service struct {
	queues     *queue.Manager
	reporter   interfaces.ProgressReporter
	progress   interfaces.ProgressStorage
	generation *common.GenerationConfig
	validate   *validator.Validate
	logger     arbor.ILogger
}

var _ interfaces.JobSubmitter = (*Service)(nil)

// NewService creates a submission service
func NewService(
	queues *queue.Manager,
	reporter interfaces.ProgressReporter,
	progress interfaces.ProgressStorage,
	generation *common.GenerationConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		queues:     queues,
		reporter:   reporter,
		progress:   progress,
		generation: generation,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Submit enqueues payload and returns its job id without waiting
func (s *Service) Submit(ctx context.Context, payload models.JobPayload) (string, error) {
	handle, err := s.enqueue(ctx, payload)
	if err != nil {
		return "", err
	}
	return handle.JobID(), nil
}

// Dispatch enqueues payload and returns a handle the caller can wait on
func (s *Service) Dispatch(ctx context.Context, payload models.JobPayload) (interfaces.JobHandle, error) {
	handle, err := s.enqueue(ctx, payload)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// SubmitJSON decodes raw into family's payload type and submits it
func (s *Service) SubmitJSON(ctx context.Context, family models.JobFamily, raw json.RawMessage) (string, error) {
	payload, err := models.DecodePayload(family, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return s.Submit(ctx, payload)
}

// GetProgress returns the current record for jobID
func (s *Service) GetProgress(ctx context.Context, jobID string) (*models.JobProgress, error) {
	return s.progress.GetProgress(ctx, jobID)
}

// ListProgress returns userID's most recently updated jobs
func (s *Service) ListProgress(ctx context.Context, userID string, limit int) ([]*models.JobProgress, error) {
	return s.progress.ListProgress(ctx, userID, limit)
}

func (s *Service) enqueue(ctx context.Context, payload models.JobPayload) (*queue.Handle, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}

	if payload.GetJobID() == "" {
		payload.SetJobID(common.NewJobID())
	}
	if course, ok := payload.(*models.CoursePayload); ok && course.CourseID == "" {
		course.CourseID = common.NewCourseID()
	}

	if err := s.check(payload); err != nil {
		return nil, err
	}

	family := payload.Family()
	jobID := payload.GetJobID()

	q, err := s.queues.Queue(family)
	if err != nil {
		return nil, err
	}

	// Seed before enqueue so the record exists before any processor report
	s.reporter.Report(ctx, jobID, models.Seed(family, payload.Owner()))

	handle, err := q.Enqueue(ctx, jobID, payload)
	if err != nil {
		err = fmt.Errorf("failed to enqueue %s job: %w", family, err)
		// Nothing will ever process the seeded record
		s.reporter.Report(ctx, jobID, models.Failed(0, err, nil))
		return nil, err
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("family", string(family)).
		Str("user_id", payload.Owner()).
		Msg("Job submitted")

	return handle, nil
}

func (s *Service) check(payload models.JobPayload) error {
	if err := s.validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if course, ok := payload.(*models.CoursePayload); ok && s.generation.MaxTopics > 0 && course.Params.NumTopics > s.generation.MaxTopics {
		return fmt.Errorf("%w: numTopics %d exceeds limit %d", ErrInvalidPayload, course.Params.NumTopics, s.generation.MaxTopics)
	}
	return nil
}

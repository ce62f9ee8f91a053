// -----------------------------------------------------------------------
// Subtopic Worker - Fills in one subtopic's content and images
// -----------------------------------------------------------------------

package workers

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/queue"
)

// SubtopicWorker handles subtopic generation jobs
type SubtopicWorker struct {
	units  *units
	logger arbor.ILogger
}

// NewSubtopicWorker creates a subtopic worker
func NewSubtopicWorker(
	courses interfaces.CourseStorage,
	contentGen interfaces.ContentGenerator,
	images interfaces.ImageGenerator,
	config *common.GenerationConfig,
	logger arbor.ILogger,
) *SubtopicWorker {
	return &SubtopicWorker{
		units: &units{
			courses:      courses,
			content:      contentGen,
			images:       images,
			templatesDir: config.TemplatesDir,
		},
		logger: logger,
	}
}

func (w *SubtopicWorker) Family() models.JobFamily {
	return models.JobFamilySubtopic
}

func (w *SubtopicWorker) Process(ctx context.Context, job *queue.Job, progress *Progress) (interface{}, error) {
	var payload models.SubtopicPayload
	if err := job.Decode(&payload); err != nil {
		return nil, stageErr("initialize", err)
	}

	progress.Step(ctx, 5, "Initializing", "")

	course, err := w.units.courses.GetCourse(ctx, payload.CourseID)
	if err != nil {
		return nil, stageErr("load", err)
	}

	course, err = w.units.realizeSubtopic(ctx, course, payload.TopicID, payload.SubtopicID, progress, 10, 95)
	if err != nil {
		return nil, err
	}

	_, sub, err := locate(course, payload.TopicID, payload.SubtopicID)
	if err != nil {
		return nil, stageErr("finalize", err)
	}
	progress.Step(ctx, 97, "Finalizing subtopic", sub.Title)

	w.logger.Debug().
		Str("job_id", job.JobID).
		Str("subtopic_id", sub.ID).
		Str("status", string(sub.Status)).
		Msg("Subtopic generated")

	return sub, nil
}

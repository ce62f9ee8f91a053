// -----------------------------------------------------------------------
// Topic Worker - Completes one topic of an existing course
// - Overview content, thumbnail and banner when missing
// - "full" mode also realizes every incomplete subtopic
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/queue"
)

const (
	topicSubtopicsFrom = 50
	topicSubtopicsTo   = 95
)

// TopicWorker handles topic generation jobs
type TopicWorker struct {
	units  *units
	logger arbor.ILogger
}

// NewTopicWorker creates a topic worker
func NewTopicWorker(
	courses interfaces.CourseStorage,
	contentGen interfaces.ContentGenerator,
	images interfaces.ImageGenerator,
	config *common.GenerationConfig,
	logger arbor.ILogger,
) *TopicWorker {
	return &TopicWorker{
		units: &units{
			courses:      courses,
			content:      contentGen,
			images:       images,
			templatesDir: config.TemplatesDir,
		},
		logger: logger,
	}
}

func (w *TopicWorker) Family() models.JobFamily {
	return models.JobFamilyTopic
}

func (w *TopicWorker) Process(ctx context.Context, job *queue.Job, progress *Progress) (interface{}, error) {
	var payload models.TopicPayload
	if err := job.Decode(&payload); err != nil {
		return nil, stageErr("initialize", err)
	}

	progress.Step(ctx, 5, "Initializing", "")

	course, err := w.units.courses.GetCourse(ctx, payload.CourseID)
	if err != nil {
		return nil, stageErr("load", err)
	}
	topic, _, err := locate(course, payload.TopicID, "")
	if err != nil {
		return nil, stageErr("load", err)
	}
	title := topic.Title
	progress.Detail("currentTopic", title)

	if topic.Content == "" {
		progress.Step(ctx, 15, "Generating topic overview", title)
		text, err := w.units.content.GenerateTopicContent(ctx, course, topic)
		if err != nil {
			return nil, stageErr("topic_content", err)
		}
		if course, err = w.units.updateTopic(ctx, course.ID, payload.TopicID, func(t *models.Topic) {
			if t.Content == "" {
				t.Content = text
			}
		}); err != nil {
			return nil, stageErr("topic_content", err)
		}
	}

	stepAt := map[models.ImageSize]float64{models.ImageSizeThumbnail: 30, models.ImageSizeBanner: 45}
	for _, size := range []models.ImageSize{models.ImageSizeThumbnail, models.ImageSizeBanner} {
		if topic, _, err = locate(course, payload.TopicID, ""); err != nil {
			return nil, stageErr(string(size), err)
		}
		if imageFor(topic, size) != "" {
			continue
		}

		progress.Step(ctx, stepAt[size], fmt.Sprintf("Generating topic %s", size), fmt.Sprintf("Generating %s for topic %s", size, title))
		url, err := w.units.generateImage(ctx, course, title, size)
		if err != nil {
			return nil, stageErr(string(size), err)
		}
		if course, err = w.units.updateTopic(ctx, course.ID, payload.TopicID, func(t *models.Topic) {
			setImage(t, size, url)
		}); err != nil {
			return nil, stageErr(string(size), err)
		}
	}

	if payload.Mode == models.TopicModeFull {
		if course, err = w.realizeSubtopics(ctx, course, payload.TopicID, progress); err != nil {
			return nil, err
		}
	}

	progress.Step(ctx, 97, "Finalizing topic", title)
	course, err = w.units.updateTopic(ctx, course.ID, payload.TopicID, func(t *models.Topic) {})
	if err != nil {
		return nil, stageErr("finalize", err)
	}
	if topic, _, err = locate(course, payload.TopicID, ""); err != nil {
		return nil, stageErr("finalize", err)
	}

	w.logger.Info().
		Str("job_id", job.JobID).
		Str("course_id", course.ID).
		Str("topic_id", topic.ID).
		Str("mode", string(payload.Mode)).
		Str("status", string(topic.Status)).
		Msg("Topic generated")

	return topic, nil
}

// realizeSubtopics works through the subtopics that were incomplete when the
// stage began, reporting subtopicsCompleted after each one
func (w *TopicWorker) realizeSubtopics(ctx context.Context, course *models.Course, topicID string, progress *Progress) (*models.Course, error) {
	topic, _, err := locate(course, topicID, "")
	if err != nil {
		return nil, stageErr("subtopics", err)
	}

	pending := topic.IncompleteSubtopics()
	total := len(pending)
	progress.Detail("subtopicsCompleted", 0).Detail("totalSubtopics", total)
	progress.Step(ctx, topicSubtopicsFrom, "Generating subtopics", fmt.Sprintf("0 of %d", total))

	if total == 0 {
		return course, nil
	}

	span := float64(topicSubtopicsTo-topicSubtopicsFrom) / float64(total)
	for i, subtopicID := range pending {
		from := topicSubtopicsFrom + span*float64(i)
		if course, err = w.units.realizeSubtopic(ctx, course, topicID, subtopicID, progress, from, from+span); err != nil {
			return nil, err
		}

		progress.Detail("subtopicsCompleted", i+1)
		progress.Step(ctx, from+span, "Generating subtopics", fmt.Sprintf("%d of %d", i+1, total))
	}

	return course, nil
}

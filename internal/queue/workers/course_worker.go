// -----------------------------------------------------------------------
// Course Worker - Generates a course from its parameters
// - Outline and skeleton for every topic
// - Eager topics get content plus thumbnail and banner image child jobs
// - Remaining topics stay incomplete for later topic jobs
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/queue"
)

// Progress bands for the course job
const (
	courseOutlineAt  = 5
	courseSkeletonAt = 10
	courseTopicsEnd  = 95
	courseFinalizeAt = 97
)

// CourseWorker handles course generation jobs
type CourseWorker struct {
	units     *units
	submitter interfaces.JobSubmitter
	config    *common.GenerationConfig
	logger    arbor.ILogger
}

// NewCourseWorker creates a course worker. Image children go through
// submitter so each gets its own progress record.
func NewCourseWorker(
	courses interfaces.CourseStorage,
	contentGen interfaces.ContentGenerator,
	submitter interfaces.JobSubmitter,
	config *common.GenerationConfig,
	logger arbor.ILogger,
) *CourseWorker {
	return &CourseWorker{
		units: &units{
			courses:      courses,
			content:      contentGen,
			templatesDir: config.TemplatesDir,
		},
		submitter: submitter,
		config:    config,
		logger:    logger,
	}
}

func (w *CourseWorker) Family() models.JobFamily {
	return models.JobFamilyCourse
}

func (w *CourseWorker) Process(ctx context.Context, job *queue.Job, progress *Progress) (interface{}, error) {
	var payload models.CoursePayload
	if err := job.Decode(&payload); err != nil {
		return nil, stageErr("initialize", err)
	}
	if payload.CourseID == "" {
		payload.CourseID = "course_" + job.JobID
	}

	progress.Step(ctx, 2, "Initializing", "")

	course, err := w.loadOrCreate(ctx, &payload, progress)
	if err != nil {
		return nil, err
	}

	eager := w.config.EagerTopics
	if eager > len(course.Topics) {
		eager = len(course.Topics)
	}

	progress.
		Detail("totalTopics", len(course.Topics)).
		Detail("topicsCompleted", course.CompletedTopics()).
		Detail("totalImages", eager*2).
		Detail("imagesCompleted", countImages(course.Topics[:eager]))

	for i := 0; i < eager; i++ {
		course, err = w.realizeTopic(ctx, &payload, course, i, eager, progress)
		if err != nil {
			return nil, err
		}
	}

	progress.Step(ctx, courseFinalizeAt, "Finalizing course", "")
	course, err = w.units.courses.UpdateCourse(ctx, course.ID, func(c *models.Course) error {
		if len(c.Topics) > 0 {
			if c.Thumbnail == "" {
				c.Thumbnail = c.Topics[0].Thumbnail
			}
			if c.Banner == "" {
				c.Banner = c.Topics[0].Banner
			}
		}
		c.RefreshStatus()
		return nil
	})
	if err != nil {
		return nil, stageErr("finalize", err)
	}

	w.logger.Info().
		Str("job_id", job.JobID).
		Str("course_id", course.ID).
		Int("topics", len(course.Topics)).
		Int("topics_completed", course.CompletedTopics()).
		Msg("Course generated")

	return course, nil
}

// loadOrCreate reuses the course document from an earlier attempt, or
// generates the outline and saves the skeleton
func (w *CourseWorker) loadOrCreate(ctx context.Context, payload *models.CoursePayload, progress *Progress) (*models.Course, error) {
	course, err := w.units.courses.GetCourse(ctx, payload.CourseID)
	if err == nil {
		return course, nil
	}
	if !errors.Is(err, interfaces.ErrCourseNotFound) {
		return nil, stageErr("load", err)
	}

	progress.Step(ctx, courseOutlineAt, "Generating course outline", payload.Params.Title)
	outline, err := w.units.content.GenerateOutline(ctx, payload.Params)
	if err != nil {
		return nil, stageErr("outline", err)
	}

	progress.Step(ctx, courseSkeletonAt, "Creating course structure", fmt.Sprintf("%d topics", len(outline.Topics)))
	course = buildCourse(payload, outline)
	if err := w.units.courses.SaveCourse(ctx, course); err != nil {
		return nil, stageErr("skeleton", err)
	}
	return course, nil
}

// buildCourse lays out every topic and subtopic with fresh ids and no content
func buildCourse(payload *models.CoursePayload, outline *models.CourseOutline) *models.Course {
	course := &models.Course{
		ID:          payload.CourseID,
		UserID:      payload.UserID,
		Title:       payload.Params.Title,
		Description: outline.Description,
		Prompt:      payload.Params.Prompt,
		Level:       payload.Params.Level,
		Language:    payload.Params.Language,
		Status:      models.ItemStatusIncomplete,
		Topics:      make([]models.Topic, 0, len(outline.Topics)),
	}

	for _, t := range outline.Topics {
		topic := models.Topic{
			ID:          common.NewTopicID(),
			Title:       t.Title,
			Description: t.Description,
			Status:      models.ItemStatusIncomplete,
			Subtopics:   make([]models.Subtopic, 0, len(t.Subtopics)),
		}
		for _, title := range t.Subtopics {
			topic.Subtopics = append(topic.Subtopics, models.Subtopic{
				ID:     common.NewSubtopicID(),
				Title:  title,
				Status: models.ItemStatusIncomplete,
			})
		}
		course.Topics = append(course.Topics, topic)
	}

	return course
}

// realizeTopic fills content, thumbnail and banner of topic index, waiting on
// each image child job in turn, then marks the topic complete
func (w *CourseWorker) realizeTopic(ctx context.Context, payload *models.CoursePayload, course *models.Course, index, eager int, progress *Progress) (*models.Course, error) {
	topicID := course.Topics[index].ID
	title := course.Topics[index].Title
	span := float64(courseTopicsEnd-courseSkeletonAt) / float64(eager*3)
	at := func(part int) float64 {
		return courseSkeletonAt + span*float64(index*3+part)
	}

	progress.Detail("currentTopic", title)

	topic := &course.Topics[index]
	if topic.Content == "" {
		progress.Step(ctx, at(0), "Generating topic content", title)
		text, err := w.units.content.GenerateTopicContent(ctx, course, topic)
		if err != nil {
			return nil, stageErr("topic_content", err)
		}
		course, err = w.units.updateTopic(ctx, course.ID, topicID, func(t *models.Topic) {
			if t.Content == "" {
				t.Content = text
			}
		})
		if err != nil {
			return nil, stageErr("topic_content", err)
		}
	}

	for part, size := range []models.ImageSize{models.ImageSizeThumbnail, models.ImageSizeBanner} {
		topic, _, err := locate(course, topicID, "")
		if err != nil {
			return nil, stageErr(string(size), err)
		}
		if imageFor(topic, size) != "" {
			continue
		}

		progress.Step(ctx, at(part+1), fmt.Sprintf("Generating %s", size), fmt.Sprintf("Generating %s for topic %s", size, title))
		url, err := w.dispatchImage(ctx, payload, course, title, size)
		if err != nil {
			return nil, stageErr(string(size), err)
		}

		course, err = w.units.updateTopic(ctx, course.ID, topicID, func(t *models.Topic) {
			setImage(t, size, url)
		})
		if err != nil {
			return nil, stageErr(string(size), err)
		}
		progress.Detail("imagesCompleted", countImages(course.Topics[:eager]))
	}

	course, err := w.units.updateTopic(ctx, course.ID, topicID, func(t *models.Topic) {
		if t.HasOwnParts() {
			t.Status = models.ItemStatusComplete
		}
	})
	if err != nil {
		return nil, stageErr("topic_status", err)
	}

	progress.Detail("topicsCompleted", course.CompletedTopics())
	progress.Step(ctx, at(3), "Topic completed", title)
	return course, nil
}

// dispatchImage enqueues an image job and blocks until it resolves
func (w *CourseWorker) dispatchImage(ctx context.Context, payload *models.CoursePayload, course *models.Course, subject string, size models.ImageSize) (string, error) {
	prompt, err := w.units.imagePrompt(course, subject, size)
	if err != nil {
		return "", err
	}

	handle, err := w.submitter.Dispatch(ctx, &models.ImagePayload{
		UserID:   payload.UserID,
		Prompt:   prompt,
		Size:     size,
		CourseID: course.ID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s job: %w", size, err)
	}

	raw, err := handle.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("%s job %s failed: %w", size, handle.JobID(), err)
	}

	var result models.ImageResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("invalid %s job result: %w", size, err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("%s job %s returned no url", size, handle.JobID())
	}
	return result.URL, nil
}

func imageFor(topic *models.Topic, size models.ImageSize) string {
	if size == models.ImageSizeBanner {
		return topic.Banner
	}
	return topic.Thumbnail
}

func setImage(topic *models.Topic, size models.ImageSize, url string) {
	if size == models.ImageSizeBanner {
		if topic.Banner == "" {
			topic.Banner = url
		}
		return
	}
	if topic.Thumbnail == "" {
		topic.Thumbnail = url
	}
}

func countImages(topics []models.Topic) int {
	n := 0
	for i := range topics {
		if topics[i].Thumbnail != "" {
			n++
		}
		if topics[i].Banner != "" {
			n++
		}
	}
	return n
}

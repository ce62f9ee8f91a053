package workers

import (
	"context"
	"fmt"

	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/services/content"
)

// units generates and persists the parts of topics and subtopics. Every
// write fills a field only while it is still empty, so a retried or
// duplicated job never overwrites work that already landed.
type units struct {
	courses      interfaces.CourseStorage
	content      interfaces.ContentGenerator
	images       interfaces.ImageGenerator
	templatesDir string
}

// locate returns the topic and, when subtopicID is set, the subtopic
func locate(course *models.Course, topicID, subtopicID string) (*models.Topic, *models.Subtopic, error) {
	topic := course.FindTopic(topicID)
	if topic == nil {
		return nil, nil, fmt.Errorf("%w: %s in course %s", interfaces.ErrTopicNotFound, topicID, course.ID)
	}
	if subtopicID == "" {
		return topic, nil, nil
	}
	sub := topic.FindSubtopic(subtopicID)
	if sub == nil {
		return nil, nil, fmt.Errorf("%w: %s in topic %s", interfaces.ErrSubtopicNotFound, subtopicID, topicID)
	}
	return topic, sub, nil
}

// promoteTopic re-evaluates a topic that is not yet complete. A topic marked
// complete by the course job stays complete.
func promoteTopic(topic *models.Topic) {
	if topic.Status != models.ItemStatusComplete {
		topic.RefreshStatus()
	}
}

func (u *units) updateTopic(ctx context.Context, courseID, topicID string, set func(*models.Topic)) (*models.Course, error) {
	return u.courses.UpdateCourse(ctx, courseID, func(c *models.Course) error {
		topic, _, err := locate(c, topicID, "")
		if err != nil {
			return err
		}
		set(topic)
		promoteTopic(topic)
		c.RefreshStatus()
		return nil
	})
}

func (u *units) updateSubtopic(ctx context.Context, courseID, topicID, subtopicID string, set func(*models.Subtopic)) (*models.Course, error) {
	return u.courses.UpdateCourse(ctx, courseID, func(c *models.Course) error {
		topic, sub, err := locate(c, topicID, subtopicID)
		if err != nil {
			return err
		}
		set(sub)
		sub.RefreshStatus()
		promoteTopic(topic)
		c.RefreshStatus()
		return nil
	})
}

func (u *units) imagePrompt(course *models.Course, subject string, size models.ImageSize) (string, error) {
	return content.ImagePrompt(u.templatesDir, course.Title, subject, size)
}

// generateImage renders and stores an image for subject directly
func (u *units) generateImage(ctx context.Context, course *models.Course, subject string, size models.ImageSize) (string, error) {
	prompt, err := u.imagePrompt(course, subject, size)
	if err != nil {
		return "", err
	}
	return u.images.GenerateImage(ctx, course.ID, prompt, size)
}

// realizeSubtopic generates whichever of content, thumbnail and banner the
// subtopic is missing, reporting progress between from and to. A subtopic
// that already has all three parts costs no generation calls.
func (u *units) realizeSubtopic(ctx context.Context, course *models.Course, topicID, subtopicID string, progress *Progress, from, to float64) (*models.Course, error) {
	topic, sub, err := locate(course, topicID, subtopicID)
	if err != nil {
		return nil, stageErr("load", err)
	}

	step := (to - from) / 3
	title := sub.Title

	if sub.Content == "" {
		progress.Step(ctx, from, "Generating subtopic content", title)
		text, err := u.content.GenerateSubtopicContent(ctx, course, topic, sub)
		if err != nil {
			return nil, stageErr("subtopic_content", err)
		}
		course, err = u.updateSubtopic(ctx, course.ID, topicID, subtopicID, func(s *models.Subtopic) {
			if s.Content == "" {
				s.Content = text
			}
		})
		if err != nil {
			return nil, stageErr("subtopic_content", err)
		}
		if _, sub, err = locate(course, topicID, subtopicID); err != nil {
			return nil, stageErr("subtopic_content", err)
		}
	}

	if sub.Thumbnail == "" {
		progress.Step(ctx, from+step, "Generating subtopic thumbnail", fmt.Sprintf("Generating thumbnail for %s", title))
		url, err := u.generateImage(ctx, course, title, models.ImageSizeThumbnail)
		if err != nil {
			return nil, stageErr("subtopic_thumbnail", err)
		}
		course, err = u.updateSubtopic(ctx, course.ID, topicID, subtopicID, func(s *models.Subtopic) {
			if s.Thumbnail == "" {
				s.Thumbnail = url
			}
		})
		if err != nil {
			return nil, stageErr("subtopic_thumbnail", err)
		}
		if _, sub, err = locate(course, topicID, subtopicID); err != nil {
			return nil, stageErr("subtopic_thumbnail", err)
		}
	}

	if sub.Banner == "" {
		progress.Step(ctx, from+2*step, "Generating subtopic banner", fmt.Sprintf("Generating banner for %s", title))
		url, err := u.generateImage(ctx, course, title, models.ImageSizeBanner)
		if err != nil {
			return nil, stageErr("subtopic_banner", err)
		}
		course, err = u.updateSubtopic(ctx, course.ID, topicID, subtopicID, func(s *models.Subtopic) {
			if s.Banner == "" {
				s.Banner = url
			}
		})
		if err != nil {
			return nil, stageErr("subtopic_banner", err)
		}
	}

	return course, nil
}

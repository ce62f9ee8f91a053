package interfaces

import (
	"context"

	"github.com/ternarybob/courseforge/internal/models"
)

// ContentGenerator turns course documents into prompts for the text model
// and returns cleaned-up results. Outline responses are repaired before use.
type ContentGenerator interface {
	GenerateOutline(ctx context.Context, params models.CourseParams) (*models.CourseOutline, error)
	GenerateTopicContent(ctx context.Context, course *models.Course, topic *models.Topic) (string, error)
	GenerateSubtopicContent(ctx context.Context, course *models.Course, topic *models.Topic, subtopic *models.Subtopic) (string, error)
}

package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/courseforge/internal/models"
)

var (
	// ErrProgressNotFound is returned when no progress record exists for a job id
	ErrProgressNotFound = errors.New("job progress not found")
	// ErrCourseNotFound is returned when no course exists for a course id
	ErrCourseNotFound = errors.New("course not found")
	// ErrTopicNotFound is returned when a course has no topic with the given id
	ErrTopicNotFound = errors.New("topic not found")
	// ErrSubtopicNotFound is returned when a topic has no subtopic with the given id
	ErrSubtopicNotFound = errors.New("subtopic not found")
)

// ProgressStorage is the durable job progress store
type ProgressStorage interface {
	// UpsertProgress merges update onto the record for jobID, creating it
	// when missing, and returns the stored record. applied is false when the
	// record rejected the update and nothing was written. Concurrent first
	// writes for one job id converge on a single record.
	UpsertProgress(ctx context.Context, jobID string, update *models.ProgressUpdate) (record *models.JobProgress, applied bool, err error)

	// GetProgress returns ErrProgressNotFound when the job is unknown
	GetProgress(ctx context.Context, jobID string) (*models.JobProgress, error)

	// ListProgress returns records for a user, newest first; empty userID lists all
	ListProgress(ctx context.Context, userID string, limit int) ([]*models.JobProgress, error)
}

// CourseStorage persists generated course documents
type CourseStorage interface {
	SaveCourse(ctx context.Context, course *models.Course) error
	GetCourse(ctx context.Context, courseID string) (*models.Course, error)

	// UpdateCourse loads the course, applies mutate and writes it back in one
	// transaction, retrying on write conflicts. mutate may run more than once.
	UpdateCourse(ctx context.Context, courseID string, mutate func(course *models.Course) error) (*models.Course, error)
}

// StorageManager owns the database connection and the stores built on it
type StorageManager interface {
	ProgressStorage() ProgressStorage
	CourseStorage() CourseStorage
	// DB returns the underlying *badger.DB used by the job queues
	DB() interface{}
	Close() error
}

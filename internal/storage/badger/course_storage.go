package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CourseStorage implements interfaces.CourseStorage for Badger
type CourseStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCourseStorage creates a new CourseStorage instance
func NewCourseStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CourseStorage {
	return &CourseStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CourseStorage) SaveCourse(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		return fmt.Errorf("course ID is required")
	}

	now := time.Now()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now

	if err := s.db.Store().Upsert(course.ID, course); err != nil {
		return fmt.Errorf("failed to save course: %w", err)
	}
	return nil
}

func (s *CourseStorage) GetCourse(ctx context.Context, courseID string) (*models.Course, error) {
	var course models.Course
	if err := s.db.Store().Get(courseID, &course); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrCourseNotFound, courseID)
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &course, nil
}

// UpdateCourse runs mutate against the current document inside a transaction.
// A topic job and its parent course job may write the same course at once,
// so conflicts re-read and re-apply rather than overwrite.
func (s *CourseStorage) UpdateCourse(ctx context.Context, courseID string, mutate func(course *models.Course) error) (*models.Course, error) {
	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var course models.Course
		err := s.db.Badger().Update(func(tx *badger.Txn) error {
			if err := s.db.Store().TxGet(tx, courseID, &course); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return fmt.Errorf("%w: %s", interfaces.ErrCourseNotFound, courseID)
				}
				return err
			}
			if err := mutate(&course); err != nil {
				return err
			}
			course.UpdatedAt = time.Now()
			return s.db.Store().TxUpdate(tx, courseID, &course)
		})
		if err == nil {
			return &course, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return nil, err
		}

		lastErr = err
		s.logger.Debug().Str("course_id", courseID).Int("attempt", attempt).Msg("Course write conflict, retrying")
	}

	return nil, fmt.Errorf("failed to update course %s after %d attempts: %w", courseID, maxWriteAttempts, lastErr)
}

package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
)

func TestCourseStorage_SaveAndGet(t *testing.T) {
	storage := NewCourseStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	course := &models.Course{
		ID:     "course-1",
		UserID: "user-1",
		Title:  "Go Concurrency",
		Topics: []models.Topic{{ID: "t1", Title: "Goroutines", Status: models.ItemStatusIncomplete}},
	}
	require.NoError(t, storage.SaveCourse(ctx, course))

	got, err := storage.GetCourse(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, "Go Concurrency", got.Title)
	assert.Len(t, got.Topics, 1)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = storage.GetCourse(ctx, "missing")
	assert.True(t, errors.Is(err, interfaces.ErrCourseNotFound))
}

func TestCourseStorage_UpdateCourseConcurrentWriters(t *testing.T) {
	storage := NewCourseStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	const subtopics = 5
	topic := models.Topic{ID: "t1"}
	for i := 0; i < subtopics; i++ {
		topic.Subtopics = append(topic.Subtopics, models.Subtopic{ID: fmt.Sprintf("s%d", i)})
	}
	require.NoError(t, storage.SaveCourse(ctx, &models.Course{ID: "course-1", Topics: []models.Topic{topic}}))

	var wg sync.WaitGroup
	for i := 0; i < subtopics; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := storage.UpdateCourse(ctx, "course-1", func(c *models.Course) error {
				sub := c.FindTopic("t1").FindSubtopic(fmt.Sprintf("s%d", i))
				sub.Content = fmt.Sprintf("content %d", i)
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := storage.GetCourse(ctx, "course-1")
	require.NoError(t, err)
	for i, sub := range got.Topics[0].Subtopics {
		assert.Equal(t, fmt.Sprintf("content %d", i), sub.Content)
	}
}

func TestCourseStorage_UpdateCourseMutateError(t *testing.T) {
	storage := NewCourseStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()
	require.NoError(t, storage.SaveCourse(ctx, &models.Course{ID: "course-1", Title: "Before"}))

	_, err := storage.UpdateCourse(ctx, "course-1", func(c *models.Course) error {
		c.Title = "After"
		return interfaces.ErrTopicNotFound
	})
	assert.True(t, errors.Is(err, interfaces.ErrTopicNotFound))

	got, err := storage.GetCourse(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, "Before", got.Title)

	_, err = storage.UpdateCourse(ctx, "missing", func(c *models.Course) error { return nil })
	assert.True(t, errors.Is(err, interfaces.ErrCourseNotFound))
}

package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/queue"
	"github.com/ternarybob/courseforge/internal/services/events"
	"github.com/ternarybob/courseforge/internal/services/jobs"
	"github.com/ternarybob/courseforge/internal/services/progress"
	"github.com/ternarybob/courseforge/internal/storage/badger"
)

type fakeContent struct {
	mu             sync.Mutex
	outlineCalls   int
	topicCalls     int
	subtopicCalls  int
	failTopicTimes int
}

func (f *fakeContent) GenerateOutline(ctx context.Context, params models.CourseParams) (*models.CourseOutline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outlineCalls++

	outline := &models.CourseOutline{Title: params.Title, Description: "About " + params.Title}
	for i := 0; i < params.NumTopics; i++ {
		outline.Topics = append(outline.Topics, models.TopicOutline{
			Title:     fmt.Sprintf("Topic %d", i+1),
			Subtopics: []string{fmt.Sprintf("Lesson %d.1", i+1), fmt.Sprintf("Lesson %d.2", i+1)},
		})
	}
	return outline, nil
}

func (f *fakeContent) GenerateTopicContent(ctx context.Context, course *models.Course, topic *models.Topic) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topicCalls++

	if f.failTopicTimes > 0 {
		f.failTopicTimes--
		return "", errors.New("upstream timeout")
	}
	return "Overview of " + topic.Title, nil
}

func (f *fakeContent) GenerateSubtopicContent(ctx context.Context, course *models.Course, topic *models.Topic, subtopic *models.Subtopic) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subtopicCalls++
	return "Lesson on " + subtopic.Title, nil
}

func (f *fakeContent) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outlineCalls, f.topicCalls, f.subtopicCalls
}

type fakeImages struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeImages) GenerateImage(ctx context.Context, courseID, prompt string, size models.ImageSize) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return fmt.Sprintf("/images/%s/%s-%d.png", courseID, size, f.calls), nil
}

func (f *fakeImages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	config  *common.Config
	db      *badgerdb.DB
	queues  *queue.Manager
	courses interfaces.CourseStorage
	hub     *events.Service
	jobs    *jobs.Service
	content *fakeContent
	images  *fakeImages
}

// newHarness wires real storage, queues, fan-out and submission around
// fake generators, with every queue retrying after 10ms
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := buildHarness(t, nil)
	require.NoError(t, h.queues.Start())
	t.Cleanup(h.queues.Stop)
	return h
}

// buildHarness is newHarness without starting the queues. configure may
// adjust the config before anything is built.
func buildHarness(t *testing.T, configure func(*common.Config)) *harness {
	t.Helper()
	logger := arbor.NewLogger()
	config := common.NewDefaultConfig()
	config.Queue.PollInterval = "10ms"
	for _, policy := range []*common.RetryPolicyConfig{&config.Queue.Course, &config.Queue.Topic, &config.Queue.Subtopic, &config.Queue.Image} {
		policy.Backoff = "10ms"
	}
	if configure != nil {
		configure(config)
	}

	storage, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	db := storage.DB().(*badgerdb.DB)
	queues, err := queue.NewManager(db, &config.Queue, logger)
	require.NoError(t, err)

	hub := events.NewService(logger, 256)
	reporter := progress.NewReporter(storage.ProgressStorage(), hub, logger)
	submitter := jobs.NewService(queues, reporter, storage.ProgressStorage(), &config.Generation, logger)

	h := &harness{
		config:  config,
		db:      db,
		queues:  queues,
		courses: storage.CourseStorage(),
		hub:     hub,
		jobs:    submitter,
		content: &fakeContent{},
		images:  &fakeImages{},
	}

	processor := NewJobProcessor(queues, reporter, logger)
	require.NoError(t, processor.RegisterWorker(NewCourseWorker(h.courses, h.content, submitter, &config.Generation, logger)))
	require.NoError(t, processor.RegisterWorker(NewTopicWorker(h.courses, h.content, h.images, &config.Generation, logger)))
	require.NoError(t, processor.RegisterWorker(NewSubtopicWorker(h.courses, h.content, h.images, &config.Generation, logger)))
	require.NoError(t, processor.RegisterWorker(NewImageWorker(h.images, logger)))
	return h
}

// run subscribes to jobID, submits payload and collects snapshots until the
// job completes
func (h *harness) run(t *testing.T, payload models.JobPayload) []*models.JobProgress {
	t.Helper()
	ch, unsubscribe := h.hub.Subscribe(payload.GetJobID())
	defer unsubscribe()

	_, err := h.jobs.Submit(context.Background(), payload)
	require.NoError(t, err)

	var snapshots []*models.JobProgress
	timeout := time.After(10 * time.Second)
	for {
		select {
		case p := <-ch:
			snapshots = append(snapshots, p)
			if p.Status == models.JobStatusCompleted {
				return snapshots
			}
		case <-timeout:
			t.Fatalf("job %s did not complete, last snapshots: %d", payload.GetJobID(), len(snapshots))
			return nil
		}
	}
}

// detailInt reads a numeric details value that may have round-tripped JSON
func detailInt(p *models.JobProgress, key string) (int, bool) {
	switch v := p.Details[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// seedCourse stores a course whose first topic has two empty subtopics
func (h *harness) seedCourse(t *testing.T) *models.Course {
	t.Helper()
	course := &models.Course{
		ID:     "course_seeded",
		UserID: "user-1",
		Title:  "Go",
		Status: models.ItemStatusIncomplete,
		Topics: []models.Topic{{
			ID:     "topic_1",
			Title:  "Channels",
			Status: models.ItemStatusIncomplete,
			Subtopics: []models.Subtopic{
				{ID: "sub_1", Title: "Buffered", Status: models.ItemStatusIncomplete},
				{ID: "sub_2", Title: "Select", Status: models.ItemStatusIncomplete},
			},
		}},
	}
	require.NoError(t, h.courses.SaveCourse(context.Background(), course))
	return course
}

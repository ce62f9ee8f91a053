package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/queue"
)

func TestCourseJob_RealizesFirstTopicOnly(t *testing.T) {
	h := newHarness(t)

	payload := &models.CoursePayload{
		JobID:  "job-course",
		UserID: "user-1",
		Params: models.CourseParams{Title: "Intro to Go", NumTopics: 3},
	}
	snapshots := h.run(t, payload)

	first := snapshots[0]
	assert.Equal(t, models.JobStatusPending, first.Status)
	assert.Equal(t, float64(0), first.Progress)
	assert.Equal(t, "Initializing", first.CurrentStep)

	last := snapshots[len(snapshots)-1]
	assert.Equal(t, models.JobStatusCompleted, last.Status)
	assert.Equal(t, float64(100), last.Progress)

	var result models.Course
	require.NoError(t, json.Unmarshal(last.Result, &result))
	require.Len(t, result.Topics, 3)
	assert.Equal(t, payload.CourseID, result.ID)

	stored, err := h.courses.GetCourse(context.Background(), payload.CourseID)
	require.NoError(t, err)
	require.Len(t, stored.Topics, 3)

	topic := stored.Topics[0]
	assert.NotEmpty(t, topic.Content)
	assert.NotEmpty(t, topic.Thumbnail)
	assert.NotEmpty(t, topic.Banner)
	assert.Equal(t, models.ItemStatusComplete, topic.Status)

	for _, later := range stored.Topics[1:] {
		assert.Empty(t, later.Content)
		assert.Equal(t, models.ItemStatusIncomplete, later.Status)
		assert.Len(t, later.Subtopics, 2)
	}

	assert.Equal(t, topic.Thumbnail, stored.Thumbnail)
	assert.Equal(t, topic.Banner, stored.Banner)
	assert.Equal(t, models.ItemStatusIncomplete, stored.Status)

	// Thumbnail and banner came from two image child jobs
	assert.Equal(t, 2, h.images.count())
	images, _ := detailInt(last, "imagesCompleted")
	assert.Equal(t, 2, images)
	topics, _ := detailInt(last, "topicsCompleted")
	assert.Equal(t, 1, topics)

	// Progress never moves backwards within the run
	for i := 1; i < len(snapshots); i++ {
		assert.GreaterOrEqual(t, snapshots[i].Progress, snapshots[i-1].Progress)
	}
}

func TestTopicJob_FullModeCompletesSubtopics(t *testing.T) {
	h := newHarness(t)
	course := h.seedCourse(t)

	snapshots := h.run(t, &models.TopicPayload{
		JobID:    "job-topic",
		CourseID: course.ID,
		TopicID:  "topic_1",
		Mode:     models.TopicModeFull,
	})

	var seen []int
	for _, p := range snapshots {
		n, ok := detailInt(p, "subtopicsCompleted")
		if !ok {
			continue
		}
		if len(seen) == 0 || seen[len(seen)-1] != n {
			seen = append(seen, n)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, seen)

	last := snapshots[len(snapshots)-1]
	assert.Equal(t, models.JobStatusCompleted, last.Status)
	total, _ := detailInt(last, "totalSubtopics")
	assert.Equal(t, 2, total)

	stored, err := h.courses.GetCourse(context.Background(), course.ID)
	require.NoError(t, err)
	topic := stored.Topics[0]
	assert.Equal(t, models.ItemStatusComplete, topic.Status)
	for _, sub := range topic.Subtopics {
		assert.Equal(t, models.ItemStatusComplete, sub.Status, sub.ID)
		assert.NotEmpty(t, sub.Content)
	}
	assert.Equal(t, models.ItemStatusComplete, stored.Status)
}

func TestTopicJob_OverviewModeLeavesSubtopics(t *testing.T) {
	h := newHarness(t)
	course := h.seedCourse(t)

	h.run(t, &models.TopicPayload{JobID: "job-overview", CourseID: course.ID, TopicID: "topic_1"})

	stored, err := h.courses.GetCourse(context.Background(), course.ID)
	require.NoError(t, err)
	topic := stored.Topics[0]
	assert.NotEmpty(t, topic.Content)
	assert.NotEmpty(t, topic.Banner)
	assert.Equal(t, models.ItemStatusIncomplete, topic.Status)
	assert.Equal(t, []string{"sub_1", "sub_2"}, topic.IncompleteSubtopics())

	_, _, subtopicCalls := h.content.counts()
	assert.Zero(t, subtopicCalls)
}

func TestCourseJob_RetryAfterStageFailure(t *testing.T) {
	h := newHarness(t)
	h.content.failTopicTimes = 1

	snapshots := h.run(t, &models.CoursePayload{
		JobID:  "job-retry",
		UserID: "user-1",
		Params: models.CourseParams{Title: "Retry", NumTopics: 2},
	})

	failedAt := -1
	for i, p := range snapshots {
		if p.Status == models.JobStatusFailed {
			failedAt = i
			break
		}
	}
	require.GreaterOrEqual(t, failedAt, 0, "expected a failed snapshot")

	failed := snapshots[failedAt]
	assert.Contains(t, failed.Error, "upstream timeout")
	assert.Contains(t, failed.Error, "topic_content")
	assert.Equal(t, 1, failed.Attempt)
	total, ok := detailInt(failed, "totalTopics")
	assert.True(t, ok, "failure keeps accumulated details")
	assert.Equal(t, 2, total)

	after := snapshots[failedAt+1:]
	require.NotEmpty(t, after)
	assert.Equal(t, models.JobStatusProcessing, after[0].Status)
	assert.Empty(t, after[0].Error)
	for _, p := range after {
		assert.Equal(t, 2, p.Attempt)
	}
	assert.Equal(t, models.JobStatusCompleted, after[len(after)-1].Status)

	// The retry reused the saved outline
	outlineCalls, topicCalls, _ := h.content.counts()
	assert.Equal(t, 1, outlineCalls)
	assert.Equal(t, 2, topicCalls)
}

func TestSubtopicJob_SkipsExistingParts(t *testing.T) {
	h := newHarness(t)
	course := h.seedCourse(t)
	sub := &course.Topics[0].Subtopics[0]
	sub.Content, sub.Thumbnail, sub.Banner = "done", "/images/t.png", "/images/b.png"
	require.NoError(t, h.courses.SaveCourse(context.Background(), course))

	snapshots := h.run(t, &models.SubtopicPayload{
		JobID:      "job-sub-done",
		CourseID:   course.ID,
		TopicID:    "topic_1",
		SubtopicID: "sub_1",
	})

	_, _, subtopicCalls := h.content.counts()
	assert.Zero(t, subtopicCalls)
	assert.Zero(t, h.images.count())

	var result models.Subtopic
	require.NoError(t, json.Unmarshal(snapshots[len(snapshots)-1].Result, &result))
	assert.Equal(t, "done", result.Content)
	assert.Equal(t, "/images/t.png", result.Thumbnail)
}

func TestSubtopicJob_GeneratesMissingParts(t *testing.T) {
	h := newHarness(t)
	course := h.seedCourse(t)

	snapshots := h.run(t, &models.SubtopicPayload{
		JobID:      "job-sub",
		CourseID:   course.ID,
		TopicID:    "topic_1",
		SubtopicID: "sub_2",
	})

	var result models.Subtopic
	require.NoError(t, json.Unmarshal(snapshots[len(snapshots)-1].Result, &result))
	assert.Equal(t, "Lesson on Select", result.Content)
	assert.NotEmpty(t, result.Thumbnail)
	assert.NotEmpty(t, result.Banner)
	assert.Equal(t, models.ItemStatusComplete, result.Status)
	assert.Equal(t, 2, h.images.count())

	var steps []string
	for _, p := range snapshots {
		steps = append(steps, p.CurrentStep)
	}
	assert.Contains(t, steps, "Generating subtopic content")
	assert.Contains(t, steps, "Generating subtopic banner")
}

func TestImageJob_ReturnsURL(t *testing.T) {
	h := newHarness(t)

	snapshots := h.run(t, &models.ImagePayload{JobID: "job-image", Prompt: "a gopher", Size: models.ImageSizeBanner, CourseID: "course_x"})

	var result models.ImageResult
	require.NoError(t, json.Unmarshal(snapshots[len(snapshots)-1].Result, &result))
	assert.Equal(t, "/images/course_x/banner-1.png", result.URL)
	assert.Equal(t, models.ImageSizeBanner, result.Size)
}

func TestImageJob_LostConsumerOnFinalAttemptFails(t *testing.T) {
	h := buildHarness(t, func(config *common.Config) {
		config.Queue.VisibilityTimeout = "50ms"
		config.Queue.Image.Attempts = 1
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Another process on the same database claims the job and hangs
	other, err := queue.NewManager(h.db, &h.config.Queue, arbor.NewLogger())
	require.NoError(t, err)
	lost, err := other.Queue(models.JobFamilyImage)
	require.NoError(t, err)
	claimed := make(chan int, 1)
	require.NoError(t, lost.Consume(func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
		claimed <- job.Attempt
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	require.NoError(t, lost.Start())
	t.Cleanup(lost.Stop)

	ch, unsubscribe := h.hub.Subscribe("job-lost")
	defer unsubscribe()

	handle, err := h.jobs.Dispatch(ctx, &models.ImagePayload{JobID: "job-lost", Prompt: "a gopher", Size: models.ImageSizeThumbnail, CourseID: "course_x"})
	require.NoError(t, err)

	select {
	case attempt := <-claimed:
		assert.Equal(t, 1, attempt)
	case <-ctx.Done():
		t.Fatal("job was never claimed")
	}

	require.NoError(t, h.queues.Start())
	t.Cleanup(h.queues.Stop)

	_, err = handle.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "visibility timeout")

	var failed *models.JobProgress
	for failed == nil {
		select {
		case p := <-ch:
			if p.Status == models.JobStatusFailed {
				failed = p
			}
		case <-ctx.Done():
			t.Fatal("no failed snapshot published")
		}
	}
	assert.Equal(t, 1, failed.Attempt)
	assert.Contains(t, failed.Error, "visibility timeout")

	record, err := h.jobs.GetProgress(ctx, "job-lost")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, record.Status)
	assert.NotEmpty(t, record.Error)

	images, err := h.queues.Queue(models.JobFamilyImage)
	require.NoError(t, err)
	dead, err := images.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "job-lost", dead[0].JobID)
	assert.Zero(t, h.images.count())
}

func TestStageErr(t *testing.T) {
	assert.NoError(t, stageErr("x", nil))

	cause := errors.New("boom")
	err := stageErr("outline", cause)
	assert.Equal(t, "outline: boom", err.Error())
	assert.True(t, errors.Is(err, cause))

	// An already staged error keeps its original stage
	assert.Equal(t, err, stageErr("process", err))
}

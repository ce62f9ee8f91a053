package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/queue"
)

func TestService_RunsRegisteredJob(t *testing.T) {
	s := NewService(arbor.NewLogger())

	var runs int32
	require.NoError(t, s.RegisterJob("tick", "@every 1s", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) > 0 }, 3*time.Second, 20*time.Millisecond)

	status, err := s.GetJobStatus("tick")
	require.NoError(t, err)
	assert.NotNil(t, status.LastRun)
	assert.NotNil(t, status.NextRun)
	assert.Empty(t, status.LastError)
}

func TestService_RecordsLastError(t *testing.T) {
	s := NewService(arbor.NewLogger())

	require.NoError(t, s.RegisterJob("broken", "@every 1s", func(ctx context.Context) error {
		return errors.New("queue unavailable")
	}))
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		status, err := s.GetJobStatus("broken")
		return err == nil && status.LastError == "queue unavailable"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestService_RegisterJobErrors(t *testing.T) {
	s := NewService(arbor.NewLogger())
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.RegisterJob("stats", "0 */5 * * * *", noop))
	assert.Error(t, s.RegisterJob("stats", "0 */5 * * * *", noop), "duplicate name")
	assert.Error(t, s.RegisterJob("bad", "every five minutes", noop))

	_, err := s.GetJobStatus("missing")
	assert.Error(t, err)
}

func TestService_StopIsIdempotent(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

type stubStats struct {
	stats []queue.Stats
	err   error
}

func (s stubStats) Stats(ctx context.Context) ([]queue.Stats, error) {
	return s.stats, s.err
}

func TestQueueStatsJob(t *testing.T) {
	logger := arbor.NewLogger()

	job := QueueStatsJob(stubStats{stats: []queue.Stats{
		{Name: "course", Ready: 1},
		{Name: "image", DeadLetters: 2},
	}}, logger)
	assert.NoError(t, job(context.Background()))

	failing := QueueStatsJob(stubStats{err: errors.New("closed")}, logger)
	assert.EqualError(t, failing(context.Background()), "closed")
}

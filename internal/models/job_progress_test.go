package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobProgressApply_MergesDetails(t *testing.T) {
	now := time.Now()
	p := NewJobProgress("job-1", now)
	require.True(t, p.Apply(Processing(1, 40, "Generating topics", "").WithDetails(map[string]interface{}{
		"topicsCompleted": 2,
		"totalTopics":     5,
	}), now))

	require.True(t, p.Apply(Processing(1, 45, "Generating topics", "").WithDetails(map[string]interface{}{
		"currentTopic": "X",
	}), now))

	assert.Equal(t, map[string]interface{}{
		"topicsCompleted": 2,
		"totalTopics":     5,
		"currentTopic":    "X",
	}, p.Details)
}

func TestJobProgressApply_TerminalStates(t *testing.T) {
	tests := []struct {
		name        string
		terminal    *ProgressUpdate
		next        *ProgressUpdate
		wantApplied bool
		wantStatus  JobStatus
	}{
		{
			name:        "completed ignores later processing",
			terminal:    Completed(1, json.RawMessage(`{"ok":true}`)),
			next:        Processing(1, 10, "Again", ""),
			wantApplied: false,
			wantStatus:  JobStatusCompleted,
		},
		{
			name:        "completed ignores a retry attempt",
			terminal:    Completed(1, nil),
			next:        Processing(2, 0, "Initializing", ""),
			wantApplied: false,
			wantStatus:  JobStatusCompleted,
		},
		{
			name:        "failed ignores same attempt",
			terminal:    Failed(1, errors.New("boom"), nil),
			next:        Completed(1, nil),
			wantApplied: false,
			wantStatus:  JobStatusFailed,
		},
		{
			name:        "failed ignores seed",
			terminal:    Failed(1, errors.New("boom"), nil),
			next:        Seed(JobFamilyCourse, "user-1"),
			wantApplied: false,
			wantStatus:  JobStatusFailed,
		},
		{
			name:        "failed reopens for higher attempt",
			terminal:    Failed(1, errors.New("boom"), nil),
			next:        Processing(2, 5, "Initializing", ""),
			wantApplied: true,
			wantStatus:  JobStatusProcessing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Now()
			p := NewJobProgress("job-1", now)
			require.True(t, p.Apply(Processing(1, 50, "Working", ""), now))
			require.True(t, p.Apply(tt.terminal, now))

			applied := p.Apply(tt.next, now.Add(time.Second))
			assert.Equal(t, tt.wantApplied, applied)
			assert.Equal(t, tt.wantStatus, p.Status)
		})
	}
}

func TestJobProgressApply_RetryClearsError(t *testing.T) {
	now := time.Now()
	p := NewJobProgress("job-1", now)
	p.Apply(Failed(1, errors.New("upstream timeout"), map[string]interface{}{"imagesCompleted": 1}), now)
	assert.Equal(t, "upstream timeout", p.Error)

	p.Apply(Processing(2, 0, "Initializing", ""), now)
	assert.Empty(t, p.Error)
	assert.Equal(t, 2, p.Attempt)
	assert.Equal(t, 1, p.Details["imagesCompleted"])
}

func TestJobProgressApply_PendingDoesNotRegress(t *testing.T) {
	now := time.Now()
	p := NewJobProgress("job-1", now)
	p.Apply(Processing(1, 10, "Generating outline", ""), now)
	p.Apply(Seed(JobFamilyCourse, "user-1"), now)

	assert.Equal(t, JobStatusProcessing, p.Status)
	assert.Equal(t, "Initializing", p.CurrentStep)
	assert.Equal(t, "user-1", p.UserID)
}

func TestJobProgressApply_ProgressClamped(t *testing.T) {
	now := time.Now()
	p := NewJobProgress("job-1", now)
	p.Apply(Processing(1, 140, "Working", ""), now)
	assert.Equal(t, float64(100), p.Progress)
	p.Apply(Processing(1, -3, "Working", ""), now)
	assert.Equal(t, float64(0), p.Progress)
}

func TestJobProgressClone_IsIndependent(t *testing.T) {
	p := NewJobProgress("job-1", time.Now())
	p.Details["a"] = 1
	c := p.Clone()
	c.Details["a"] = 2
	assert.Equal(t, 1, p.Details["a"])
}

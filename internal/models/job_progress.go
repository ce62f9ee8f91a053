// -----------------------------------------------------------------------
// Job Progress - durable, pollable status record for one job
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid reports whether s is one of the known statuses
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// JobProgress is the single status record kept per job id.
//
// Attempt is the queue delivery attempt that last wrote the record (0 for
// the submission seed). A failed record only re-opens for a strictly higher
// attempt, a completed record never re-opens.
type JobProgress struct {
	JobID       string                 `json:"jobId"`
	UserID      string                 `json:"userId,omitempty"`
	Family      JobFamily              `json:"family,omitempty"`
	Status      JobStatus              `json:"status"`
	Progress    float64                `json:"progress"`
	CurrentStep string                 `json:"currentStep"`
	SubStep     string                 `json:"subStep,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Result      json.RawMessage        `json:"result,omitempty"`
	Attempt     int                    `json:"attempt"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// ProgressUpdate is a partial update. Nil pointers and empty values leave
// the stored field untouched; Details is merged one level deep.
type ProgressUpdate struct {
	UserID      string
	Family      JobFamily
	Status      JobStatus
	Progress    *float64
	CurrentStep *string
	SubStep     *string
	Details     map[string]interface{}
	Error       string
	Result      json.RawMessage
	Attempt     int
}

// NewJobProgress returns the record created when no record exists for jobID yet
func NewJobProgress(jobID string, now time.Time) *JobProgress {
	return &JobProgress{
		JobID:     jobID,
		Status:    JobStatusPending,
		Details:   map[string]interface{}{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply merges u onto p and stamps UpdatedAt. It returns false, leaving p
// untouched, when the record is terminal for u's attempt.
func (p *JobProgress) Apply(u *ProgressUpdate, now time.Time) bool {
	if u == nil {
		return false
	}

	switch p.Status {
	case JobStatusCompleted:
		return false
	case JobStatusFailed:
		if u.Attempt <= p.Attempt {
			return false
		}
		// A retry re-opens the record, the previous failure no longer applies
		p.Error = ""
	}

	if u.Attempt > p.Attempt {
		p.Attempt = u.Attempt
	}
	if u.UserID != "" {
		p.UserID = u.UserID
	}
	if u.Family != "" {
		p.Family = u.Family
	}

	// Status never moves back to pending once work has started
	if u.Status != "" && !(u.Status == JobStatusPending && p.Status != JobStatusPending) {
		p.Status = u.Status
	}

	if u.Progress != nil {
		p.Progress = clampProgress(*u.Progress)
	}
	if u.CurrentStep != nil {
		p.CurrentStep = *u.CurrentStep
	}
	if u.SubStep != nil {
		p.SubStep = *u.SubStep
	}

	if len(u.Details) > 0 {
		if p.Details == nil {
			p.Details = make(map[string]interface{}, len(u.Details))
		}
		for k, v := range u.Details {
			p.Details[k] = v
		}
	}

	switch p.Status {
	case JobStatusFailed:
		if u.Error != "" {
			p.Error = u.Error
		}
	case JobStatusCompleted:
		p.Error = ""
		if len(u.Result) > 0 {
			p.Result = u.Result
		}
	default:
		p.Error = ""
	}

	p.UpdatedAt = now
	return true
}

// Clone returns a deep copy safe to hand to other goroutines
func (p *JobProgress) Clone() *JobProgress {
	if p == nil {
		return nil
	}
	c := *p
	if p.Details != nil {
		c.Details = make(map[string]interface{}, len(p.Details))
		for k, v := range p.Details {
			c.Details[k] = v
		}
	}
	if p.Result != nil {
		c.Result = append(json.RawMessage(nil), p.Result...)
	}
	return &c
}

func clampProgress(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Seed is the update written by the submission path before the job is enqueued
func Seed(family JobFamily, userID string) *ProgressUpdate {
	return &ProgressUpdate{
		UserID:      userID,
		Family:      family,
		Status:      JobStatusPending,
		Progress:    Float(0),
		CurrentStep: String("Initializing"),
		SubStep:     String(""),
	}
}

// Processing builds a stage transition update. SubStep is always written
// so a stale label from the previous stage is cleared.
func Processing(attempt int, progress float64, step, subStep string) *ProgressUpdate {
	return &ProgressUpdate{
		Status:      JobStatusProcessing,
		Progress:    Float(progress),
		CurrentStep: String(step),
		SubStep:     String(subStep),
		Attempt:     attempt,
	}
}

// Completed builds the terminal success update
func Completed(attempt int, result json.RawMessage) *ProgressUpdate {
	return &ProgressUpdate{
		Status:      JobStatusCompleted,
		Progress:    Float(100),
		CurrentStep: String("Completed"),
		SubStep:     String(""),
		Result:      result,
		Attempt:     attempt,
	}
}

// Failed builds the terminal failure update. Progress is left as it was so
// the client can see how far the job got.
func Failed(attempt int, err error, details map[string]interface{}) *ProgressUpdate {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &ProgressUpdate{
		Status:      JobStatusFailed,
		CurrentStep: String("Failed"),
		Details:     details,
		Error:       msg,
		Attempt:     attempt,
	}
}

// WithDetails merges extra detail keys into the update and returns it
func (u *ProgressUpdate) WithDetails(details map[string]interface{}) *ProgressUpdate {
	if len(details) == 0 {
		return u
	}
	if u.Details == nil {
		u.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		u.Details[k] = v
	}
	return u
}

// Float returns a pointer to v
func Float(v float64) *float64 { return &v }

// String returns a pointer to v
func String(v string) *string { return &v }

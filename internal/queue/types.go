package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoMessage is returned when no message is ready for delivery
	ErrNoMessage = errors.New("no messages in queue")
	// ErrHandlerRegistered is returned by a second Consume call
	ErrHandlerRegistered = errors.New("queue already has a handler")
	// ErrNoHandler is returned by Start when Consume was never called
	ErrNoHandler = errors.New("queue has no handler")
	// ErrQueueStopped resolves handles still pending when a queue stops
	ErrQueueStopped = errors.New("queue stopped")
)

// Message is the envelope stored in Badger
type Message struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	Payload    json.RawMessage `json:"payload"`
	Seq        uint64          `json:"seq"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	VisibleAt  time.Time       `json:"visible_at"`
	Attempts   int             `json:"attempts"` // Deliveries so far
	LastError  string          `json:"last_error,omitempty"`
	FailedAt   *time.Time      `json:"failed_at,omitempty"` // Set on dead letters
	IndexKey   string          `json:"index_key,omitempty"`
}

// Job is what a handler receives for one delivery
type Job struct {
	MessageID   string
	JobID       string
	Payload     json.RawMessage
	Attempt     int // 1-based delivery attempt
	MaxAttempts int
}

// Decode unmarshals the job payload into v
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload for job %s: %w", j.JobID, err)
	}
	return nil
}

// IsFinalAttempt reports whether a failure of this delivery is terminal
func (j *Job) IsFinalAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

// Handler processes one delivery. A nil error acknowledges the message and
// the result resolves the job's handle; an error schedules a retry.
type Handler func(ctx context.Context, job *Job) (json.RawMessage, error)

// DeadLetterFunc is told about a message buried while no handler held it
type DeadLetterFunc func(jobID string, attempt int, cause string)

// Stats is a point-in-time view of one queue
type Stats struct {
	Name        string `json:"name"`
	Ready       int    `json:"ready"`     // Visible now
	Scheduled   int    `json:"scheduled"` // Waiting on backoff or claimed
	DeadLetters int    `json:"dead_letters"`
	Processing  string `json:"processing,omitempty"` // Job id of the in-flight delivery
}

package queue

import (
	"context"
	"encoding/json"
	"sync"
)

// Handle is the future returned by Enqueue. It resolves when the job is
// acknowledged or exhausts its retries.
type Handle struct {
	messageID string
	jobID     string
	done      chan struct{}
	once      sync.Once
	result    json.RawMessage
	err       error
}

// NewHandle creates an unresolved handle
func NewHandle(messageID, jobID string) *Handle {
	return &Handle{
		messageID: messageID,
		jobID:     jobID,
		done:      make(chan struct{}),
	}
}

// JobID returns the job id the handle tracks
func (h *Handle) JobID() string {
	return h.jobID
}

// MessageID returns the queue message id
func (h *Handle) MessageID() string {
	return h.messageID
}

// Resolve settles the handle. Only the first call has any effect.
func (h *Handle) Resolve(result json.RawMessage, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}

// Done is closed once the handle resolves
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle resolves or ctx ends
func (h *Handle) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

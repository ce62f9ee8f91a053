package queue

import (
	"time"

	"github.com/ternarybob/courseforge/internal/common"
)

// RetryPolicy is the per-queue retry schedule
type RetryPolicy struct {
	// Attempts is the total number of deliveries, including the first
	Attempts int

	// Backoff is the base delay; the retry after failed attempt n waits Backoff * 2^(n-1)
	Backoff time.Duration
}

// Delay returns the wait before the delivery that follows failed attempt n
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return p.Backoff * time.Duration(1<<uint(attempt-1))
}

// PolicyFromConfig converts the TOML retry policy for one family
func PolicyFromConfig(c common.RetryPolicyConfig) RetryPolicy {
	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return RetryPolicy{
		Attempts: attempts,
		Backoff:  common.ParseDuration(c.Backoff, time.Second),
	}
}

// Options holds the loop settings shared by every queue
type Options struct {
	// PollInterval bounds how long an idle loop sleeps without an enqueue signal
	PollInterval time.Duration

	// VisibilityTimeout is how long a claimed message stays hidden. A message
	// whose handler never acknowledged it is delivered again afterwards.
	VisibilityTimeout time.Duration
}

// NewDefaultOptions creates queue options with sensible defaults
func NewDefaultOptions() Options {
	return Options{
		PollInterval:      1 * time.Second,
		VisibilityTimeout: 30 * time.Minute,
	}
}

// OptionsFromConfig converts the TOML queue section
func OptionsFromConfig(c *common.QueueConfig) Options {
	defaults := NewDefaultOptions()
	return Options{
		PollInterval:      common.ParseDuration(c.PollInterval, defaults.PollInterval),
		VisibilityTimeout: common.ParseDuration(c.VisibilityTimeout, defaults.VisibilityTimeout),
	}
}

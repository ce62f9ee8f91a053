package llm

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig defines how a single provider call backs off on rate limits.
// Failures that survive these retries are left to the job queue's policy.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

const (
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 10 * time.Second
	DefaultMaxBackoff        = 60 * time.Second
	DefaultBackoffMultiplier = 1.5
)

// NewRetryConfig returns the default backoff with maxRetries applied.
// A negative value disables retries.
func NewRetryConfig(maxRetries int) *RetryConfig {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// IsRateLimitError matches 429 responses and quota exhaustion from either provider
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate_limit_error") ||
		strings.Contains(errStr, "quota")
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// ExtractRetryDelay parses the API-suggested retry delay from an error.
// Returns 0 if no delay is found.
//
// Example: "Error 429, Message: ... Please retry in 45.387061394s., Status: RESOURCE_EXHAUSTED"
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}

	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}

	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

// CalculateBackoff computes the wait before retry number attempt (0-based).
// An API-suggested delay replaces InitialBackoff as the base. The result is
// capped at MaxBackoff.
func (c *RetryConfig) CalculateBackoff(attempt int, apiDelay time.Duration) time.Duration {
	base := c.InitialBackoff
	if apiDelay > 0 {
		base = apiDelay + time.Second
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(base) * multiplier)
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}

	return backoff
}

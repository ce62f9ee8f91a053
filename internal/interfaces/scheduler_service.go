package interfaces

import (
	"context"
	"time"
)

// ScheduledJobStatus represents the current status of a scheduled job
type ScheduledJobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
	IsRunning bool       `json:"isRunning"`
	LastError string     `json:"lastError,omitempty"`
}

// SchedulerService runs housekeeping jobs on cron schedules
type SchedulerService interface {
	Start() error
	Stop() error
	IsRunning() bool

	// RegisterJob adds a job under a six-field cron schedule (seconds first)
	RegisterJob(name string, schedule string, handler func(ctx context.Context) error) error

	GetJobStatus(name string) (*ScheduledJobStatus, error)
}

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/interfaces"
)

// jobEntry represents a registered job with metadata
type jobEntry struct {
	name      string
	schedule  string
	handler   func(ctx context.Context) error
	cronID    cron.EntryID
	lastRun   *time.Time
	isRunning bool
	lastError string
}

// Service implements SchedulerService on robfig/cron
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	ctx     context.Context
	cancel  context.CancelFunc
	jobMu   sync.Mutex
	jobs    map[string]*jobEntry
	running bool
}

// NewService creates a scheduler whose schedules carry a seconds field
func NewService(logger arbor.ILogger) *Service {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron:   cron.New(cron.WithParser(parser)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*jobEntry),
	}
}

var _ interfaces.SchedulerService = (*Service)(nil)

// Start begins running registered jobs
func (s *Service) Start() error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for running jobs to return
func (s *Service) Stop() error {
	s.jobMu.Lock()
	if !s.running {
		s.jobMu.Unlock()
		return nil
	}
	s.running = false
	s.jobMu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.running
}

// RegisterJob registers a new job with the scheduler
func (s *Service) RegisterJob(name string, schedule string, handler func(ctx context.Context) error) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:     name,
		schedule: schedule,
		handler:  handler,
	}

	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, name, err)
	}

	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Job registered")

	return nil
}

// GetJobStatus returns the status of a registered job
func (s *Service) GetJobStatus(name string) (*interfaces.ScheduledJobStatus, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}

	status := &interfaces.ScheduledJobStatus{
		Name:      entry.name,
		Schedule:  entry.schedule,
		LastRun:   entry.lastRun,
		IsRunning: entry.isRunning,
		LastError: entry.lastError,
	}
	if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
		status.NextRun = &next
	}
	return status, nil
}

func (s *Service) executeJob(name string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_name", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in scheduled job")

			s.jobMu.Lock()
			if entry, exists := s.jobs[name]; exists {
				entry.isRunning = false
				entry.lastError = fmt.Sprintf("panic: %v", r)
			}
			s.jobMu.Unlock()
		}
	}()

	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists || entry.isRunning {
		s.jobMu.Unlock()
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.jobMu.Unlock()

	start := time.Now()
	err := handler(s.ctx)

	finished := time.Now()
	s.jobMu.Lock()
	entry.isRunning = false
	entry.lastRun = &finished
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("job_name", name).
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("Scheduled job failed")
		return
	}
	s.logger.Debug().
		Str("job_name", name).
		Dur("duration", time.Since(start)).
		Msg("Scheduled job completed")
}

package queue

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/models"
)

// Manager owns one queue per job family. Each queue runs its own loop, so a
// parent job blocked on a child job never holds up the child's queue.
type Manager struct {
	queues map[models.JobFamily]*Queue
	logger arbor.ILogger
}

// NewManager creates the family queues over db using the configured policies
func NewManager(db *badger.DB, config *common.QueueConfig, logger arbor.ILogger) (*Manager, error) {
	opts := OptionsFromConfig(config)
	policies := map[models.JobFamily]common.RetryPolicyConfig{
		models.JobFamilyCourse:   config.Course,
		models.JobFamilyTopic:    config.Topic,
		models.JobFamilySubtopic: config.Subtopic,
		models.JobFamilyImage:    config.Image,
	}

	m := &Manager{
		queues: make(map[models.JobFamily]*Queue, len(policies)),
		logger: logger,
	}

	for _, family := range models.JobFamilies {
		q, err := NewQueue(db, string(family), PolicyFromConfig(policies[family]), opts, logger)
		if err != nil {
			return nil, err
		}
		m.queues[family] = q
	}

	return m, nil
}

// Queue returns the queue for family
func (m *Manager) Queue(family models.JobFamily) (*Queue, error) {
	q, ok := m.queues[family]
	if !ok {
		return nil, fmt.Errorf("no queue for job family: %s", family)
	}
	return q, nil
}

// Start starts every queue loop, child families first
func (m *Manager) Start() error {
	for _, family := range models.JobFamilies {
		if err := m.queues[family].Start(); err != nil {
			m.Stop()
			return err
		}
	}
	m.logger.Info().Int("queues", len(m.queues)).Msg("Job queues started")
	return nil
}

// Stop stops every queue loop, parent families first so their waits end
// before the child queues go away
func (m *Manager) Stop() {
	for i := len(models.JobFamilies) - 1; i >= 0; i-- {
		m.queues[models.JobFamilies[i]].Stop()
	}
}

// Stats returns stats for every queue in family order
func (m *Manager) Stats(ctx context.Context) ([]Stats, error) {
	result := make([]Stats, 0, len(m.queues))
	for _, family := range models.JobFamilies {
		stats, err := m.queues[family].Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read stats for queue %s: %w", family, err)
		}
		result = append(result, stats)
	}
	return result, nil
}

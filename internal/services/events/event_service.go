package events

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
)

// DefaultSubscriberBuffer is the per-subscriber snapshot buffer
const DefaultSubscriberBuffer = 64

type subscriber struct {
	id uint64
	ch chan *models.JobProgress
}

// Service is the in-process progress fan-out keyed by job id
type Service struct {
	subscribers map[string]map[uint64]*subscriber
	nextID      uint64
	buffer      int
	closed      bool
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewService creates a new progress fan-out
func NewService(logger arbor.ILogger, buffer int) *Service {
	if buffer < 1 {
		buffer = DefaultSubscriberBuffer
	}
	return &Service{
		subscribers: make(map[string]map[uint64]*subscriber),
		buffer:      buffer,
		logger:      logger,
	}
}

var _ interfaces.ProgressNotifier = (*Service)(nil)

// Subscribe registers a subscriber for jobID. Only snapshots published
// after this call are delivered.
func (s *Service) Subscribe(jobID string) (<-chan *models.JobProgress, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *models.JobProgress, s.buffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	s.nextID++
	sub := &subscriber{id: s.nextID, ch: ch}
	if s.subscribers[jobID] == nil {
		s.subscribers[jobID] = make(map[uint64]*subscriber)
	}
	s.subscribers[jobID][sub.id] = sub

	s.logger.Debug().
		Str("job_id", jobID).
		Int("subscriber_count", len(s.subscribers[jobID])).
		Msg("Progress subscriber added")

	var once sync.Once
	return ch, func() {
		once.Do(func() { s.unsubscribe(jobID, sub.id) })
	}
}

func (s *Service) unsubscribe(jobID string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[jobID]
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(s.subscribers, jobID)
	}
	close(sub.ch)

	s.logger.Debug().Str("job_id", jobID).Msg("Progress subscriber removed")
}

// Publish delivers a copy of snapshot to each subscriber of jobID without
// blocking. A subscriber whose buffer is full loses its oldest snapshot, so
// it always ends up holding the most recent state.
func (s *Service) Publish(ctx context.Context, jobID string, snapshot *models.JobProgress) {
	if snapshot == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscribers[jobID] {
		msg := snapshot.Clone()
		select {
		case sub.ch <- msg:
			continue
		default:
		}

		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- msg:
		default:
		}
		s.logger.Warn().
			Str("job_id", jobID).
			Int64("subscriber", int64(sub.id)).
			Msg("Progress subscriber lagging, dropped oldest snapshot")
	}
}

// SubscriberCount returns the number of live subscribers for jobID
func (s *Service) SubscriberCount(jobID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[jobID])
}

// Close ends every subscription
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for jobID, subs := range s.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(s.subscribers, jobID)
	}
	s.closed = true
	s.logger.Info().Msg("Progress fan-out closed")

	return nil
}

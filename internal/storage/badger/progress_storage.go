package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// maxWriteAttempts bounds retries of a transaction that lost a write race
const maxWriteAttempts = 8

// ProgressStorage implements interfaces.ProgressStorage for Badger
type ProgressStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	now    func() time.Time
}

// NewProgressStorage creates a new ProgressStorage instance
func NewProgressStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProgressStorage {
	return &ProgressStorage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// UpsertProgress reads, merges and writes the record in one transaction.
// Two first writers for the same job id both see "not found"; the loser
// gets a conflict (or ErrKeyExists) and is retried as a merge onto the
// winner's record, so exactly one record survives.
func (s *ProgressStorage) UpsertProgress(ctx context.Context, jobID string, update *models.ProgressUpdate) (*models.JobProgress, bool, error) {
	if jobID == "" {
		return nil, false, fmt.Errorf("job ID is required")
	}
	if update == nil {
		return nil, false, fmt.Errorf("progress update is required")
	}

	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		record, applied, err := s.upsertOnce(jobID, update)
		if err == nil {
			return record, applied, nil
		}
		if !isWriteRace(err) {
			return nil, false, fmt.Errorf("failed to upsert progress for job %s: %w", jobID, err)
		}

		lastErr = err
		s.logger.Debug().
			Str("job_id", jobID).
			Int("attempt", attempt).
			Err(err).
			Msg("Progress write lost a race, retrying as update")
	}

	return nil, false, fmt.Errorf("failed to upsert progress for job %s after %d attempts: %w", jobID, maxWriteAttempts, lastErr)
}

func (s *ProgressStorage) upsertOnce(jobID string, update *models.ProgressUpdate) (*models.JobProgress, bool, error) {
	var record *models.JobProgress
	applied := false
	now := s.now()

	err := s.db.Badger().Update(func(tx *badger.Txn) error {
		applied = false
		var existing models.JobProgress
		err := s.db.Store().TxGet(tx, jobID, &existing)
		if errors.Is(err, badgerhold.ErrNotFound) {
			record = models.NewJobProgress(jobID, now)
			record.Apply(update, now)
			applied = true
			return s.db.Store().TxInsert(tx, jobID, record)
		}
		if err != nil {
			return err
		}

		record = &existing
		if !record.Apply(update, now) {
			// Terminal for this attempt, nothing to write
			return nil
		}
		applied = true
		return s.db.Store().TxUpdate(tx, jobID, record)
	})
	if err != nil {
		return nil, false, err
	}

	return record, applied, nil
}

// GetProgress returns the record for jobID
func (s *ProgressStorage) GetProgress(ctx context.Context, jobID string) (*models.JobProgress, error) {
	var record models.JobProgress
	if err := s.db.Store().Get(jobID, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return &record, nil
}

// ListProgress returns records newest first, optionally filtered by owner
func (s *ProgressStorage) ListProgress(ctx context.Context, userID string, limit int) ([]*models.JobProgress, error) {
	query := badgerhold.Where("JobID").Ne("")
	if userID != "" {
		query = query.And("UserID").Eq(userID)
	}
	query = query.SortBy("UpdatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.JobProgress
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}

	result := make([]*models.JobProgress, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func isWriteRace(err error) bool {
	return errors.Is(err, badger.ErrConflict) || errors.Is(err, badgerhold.ErrKeyExists)
}

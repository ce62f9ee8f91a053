package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	progress interfaces.ProgressStorage
	course   interfaces.CourseStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		progress: NewProgressStorage(db, logger),
		course:   NewCourseStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// ProgressStorage returns the job progress storage
func (m *Manager) ProgressStorage() interfaces.ProgressStorage {
	return m.progress
}

// CourseStorage returns the course document storage
func (m *Manager) CourseStorage() interfaces.CourseStorage {
	return m.course
}

// DB returns the underlying *badger.DB
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Badger()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

package storage

import (
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/storage/badger"
)

// NewStorageManager opens the Badger store and prepares the image directory
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	if dir := config.Storage.Filesystem.Images; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create images directory %s: %w", dir, err)
		}
	}
	return badger.NewManager(logger, &config.Storage.Badger)
}

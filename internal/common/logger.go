package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

// InitLogger initializes the arbor logger with configuration
func InitLogger(config *Config) arbor.ILogger {
	timeFormat := config.Logging.TimeFormat
	if timeFormat == "" {
		timeFormat = "15:04:05"
	}

	logger := arbor.NewLogger()

	hasFileOutput := false
	hasStdoutOutput := false
	for _, output := range config.Logging.Output {
		switch output {
		case "file":
			hasFileOutput = true
		case "stdout", "console":
			hasStdoutOutput = true
		}
	}

	if hasFileOutput {
		if logsDir, err := logsDirectory(); err != nil {
			fmt.Printf("Warning: Failed to resolve logs directory: %v\n", err)
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   filepath.Join(logsDir, "courseforge.log"),
				TimeFormat: timeFormat,
				MaxSize:    100 * 1024 * 1024, // 100 MB
				MaxBackups: 3,
				OutputType: models.OutputFormatLogfmt,
			})
		}
	}

	// Never leave the process silent
	if hasStdoutOutput || !hasFileOutput {
		logger = logger.WithConsoleWriter(consoleWriter(timeFormat))
	}

	return logger.WithLevelFromString(config.Logging.Level)
}

func consoleWriter(timeFormat string) models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeConsole,
		TimeFormat: timeFormat,
		OutputType: models.OutputFormatLogfmt,
	}
}

// logsDirectory returns ./logs next to the executable, creating it when missing
func logsDirectory() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	logsDir := filepath.Join(filepath.Dir(execPath), "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return "", err
	}
	return logsDir, nil
}

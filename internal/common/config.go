package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment   string              `toml:"environment"` // "development" or "production"
	Server        ServerConfig        `toml:"server"`
	Queue         QueueConfig         `toml:"queue"`
	Storage       StorageConfig       `toml:"storage"`
	Logging       LoggingConfig       `toml:"logging"`
	WebSocket     WebSocketConfig     `toml:"websocket"`
	Notifications NotificationsConfig `toml:"notifications"`
	Gemini        GeminiConfig        `toml:"gemini"`
	Claude        ClaudeConfig        `toml:"claude"`
	LLM           LLMConfig           `toml:"llm"`
	Generation    GenerationConfig    `toml:"generation"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// QueueConfig holds the shared queue loop settings and the per-family retry policies
type QueueConfig struct {
	PollInterval      string            `toml:"poll_interval"`      // e.g., "1s" - idle poll ceiling when no enqueue signal arrives
	VisibilityTimeout string            `toml:"visibility_timeout"` // e.g., "30m" - claimed messages become visible again after this
	StatsSchedule     string            `toml:"stats_schedule"`     // Cron schedule for queue depth logging (empty disables)
	Course            RetryPolicyConfig `toml:"course"`
	Topic             RetryPolicyConfig `toml:"topic"`
	Subtopic          RetryPolicyConfig `toml:"subtopic"`
	Image             RetryPolicyConfig `toml:"image"`
}

// RetryPolicyConfig is the retry policy for one job family
type RetryPolicyConfig struct {
	Attempts int    `toml:"attempts"` // Total delivery attempts including the first
	Backoff  string `toml:"backoff"`  // Exponential backoff base delay, e.g. "2s"
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type FilesystemConfig struct {
	Images    string `toml:"images"`     // Directory generated images are written to
	ImagesURL string `toml:"images_url"` // URL prefix the images directory is served under
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// WebSocketConfig contains configuration for the live progress channel
type WebSocketConfig struct {
	SubscriberBuffer int    `toml:"subscriber_buffer"` // Snapshots buffered per subscriber before drops
	WriteTimeout     string `toml:"write_timeout"`     // Per-message write deadline
	PingInterval     string `toml:"ping_interval"`     // Keepalive ping interval
}

// NotificationsConfig enables the optional Redis relay used when several
// instances share one progress store and subscribers may be connected to
// any of them.
type NotificationsConfig struct {
	RedisEnabled  bool   `toml:"redis_enabled"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	ChannelPrefix string `toml:"channel_prefix"`
}

// GeminiConfig contains Google Gemini API configuration for text and image generation
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Text model (default: "gemini-2.5-flash")
	ImageModel  string  `toml:"image_model"` // Imagen model used for thumbnails and banners
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	RateLimit   string  `toml:"rate_limit"`  // Minimum interval between calls (default: "4s")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.7)
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key
	Model       string  `toml:"model"`       // Model for text generation
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 8192)
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	RateLimit   string  `toml:"rate_limit"`  // Minimum interval between calls (default: "1s")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.7)
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig contains unified configuration for all AI providers
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"` // "gemini" or "claude" (default: "gemini")
	MaxRetries      int         `toml:"max_retries"`      // Rate-limit retries inside one provider call
}

// GenerationConfig controls how much of a course is realized up front
type GenerationConfig struct {
	EagerTopics       int    `toml:"eager_topics"`        // Topics fully generated by the course job (default: 1)
	MaxTopics         int    `toml:"max_topics"`          // Upper bound accepted for numTopics
	SubtopicsPerTopic int    `toml:"subtopics_per_topic"` // Subtopics requested per topic in the outline
	TemplatesDir      string `toml:"templates_dir"`       // Directory of prompt template overrides (empty uses embedded)
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			VisibilityTimeout: "30m", // Course jobs wait on child image jobs, keep this well above a full course run
			StatsSchedule:     "0 */5 * * * *",
			Course:            RetryPolicyConfig{Attempts: 3, Backoff: "1s"},
			Topic:             RetryPolicyConfig{Attempts: 2, Backoff: "2s"},
			Subtopic:          RetryPolicyConfig{Attempts: 2, Backoff: "2s"},
			Image:             RetryPolicyConfig{Attempts: 2, Backoff: "2s"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Filesystem: FilesystemConfig{
				Images:    "./data/images",
				ImagesURL: "/images",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		WebSocket: WebSocketConfig{
			SubscriberBuffer: 64,
			WriteTimeout:     "10s",
			PingInterval:     "30s",
		},
		Notifications: NotificationsConfig{
			RedisEnabled:  false,
			RedisAddr:     "localhost:6379",
			ChannelPrefix: "courseforge:progress:",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			ImageModel:  "imagen-4.0-generate-001",
			Timeout:     "5m",
			RateLimit:   "4s", // 15 RPM free tier
			Temperature: 0.7,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-4-5",
			MaxTokens:   8192,
			Timeout:     "5m",
			RateLimit:   "1s",
			Temperature: 0.7,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
			MaxRetries:      3,
		},
		Generation: GenerationConfig{
			EagerTopics:       1,
			MaxTopics:         20,
			SubtopicsPerTopic: 3,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COURSEFORGE_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("COURSEFORGE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("COURSEFORGE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue configuration
	if pollInterval := os.Getenv("COURSEFORGE_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if visibilityTimeout := os.Getenv("COURSEFORGE_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if schedule, ok := os.LookupEnv("COURSEFORGE_QUEUE_STATS_SCHEDULE"); ok {
		config.Queue.StatsSchedule = schedule
	}

	// Storage configuration
	if badgerPath := os.Getenv("COURSEFORGE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if imagesDir := os.Getenv("COURSEFORGE_IMAGES_DIR"); imagesDir != "" {
		config.Storage.Filesystem.Images = imagesDir
	}

	// Logging configuration
	if level := os.Getenv("COURSEFORGE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("COURSEFORGE_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Notifications
	if addr := os.Getenv("COURSEFORGE_REDIS_ADDR"); addr != "" {
		config.Notifications.RedisAddr = addr
		config.Notifications.RedisEnabled = true
	}
	if password := os.Getenv("COURSEFORGE_REDIS_PASSWORD"); password != "" {
		config.Notifications.RedisPassword = password
	}

	// Provider keys, the conventional vendor variables are honoured as a fallback
	if key := firstEnv("COURSEFORGE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	}
	if key := firstEnv("COURSEFORGE_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"); key != "" {
		config.Claude.APIKey = key
	}
	if provider := os.Getenv("COURSEFORGE_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(strings.ToLower(provider))
	}
	if dir := os.Getenv("COURSEFORGE_TEMPLATES_DIR"); dir != "" {
		config.Generation.TemplatesDir = dir
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail deep inside a component
func (c *Config) Validate() error {
	for name, policy := range map[string]RetryPolicyConfig{
		"course":   c.Queue.Course,
		"topic":    c.Queue.Topic,
		"subtopic": c.Queue.Subtopic,
		"image":    c.Queue.Image,
	} {
		if policy.Attempts < 1 {
			return fmt.Errorf("queue.%s.attempts must be at least 1, got %d", name, policy.Attempts)
		}
		if _, err := time.ParseDuration(policy.Backoff); err != nil {
			return fmt.Errorf("queue.%s.backoff: %w", name, err)
		}
	}

	if c.Queue.StatsSchedule != "" {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(c.Queue.StatsSchedule); err != nil {
			return fmt.Errorf("queue.stats_schedule: invalid cron expression: %w", err)
		}
	}

	switch c.LLM.DefaultProvider {
	case LLMProviderGemini, LLMProviderClaude:
	default:
		return fmt.Errorf("llm.default_provider must be gemini or claude, got %q", c.LLM.DefaultProvider)
	}

	if c.Generation.EagerTopics < 0 {
		return fmt.Errorf("generation.eager_topics must not be negative")
	}

	return nil
}

// ParseDuration parses a duration string, returning fallback when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	ConfigPath    string
	Feed          FeedConfig
	Queue         QueueConfig
	Worker        WorkerConfig
	StateStore    StateStoreConfig
	Policy        PolicyConfig
	Analysis      AnalysisConfig
	Export        ExportConfig
	API           APIConfig
	Observability ObservabilityConfig
}

// FeedConfig configures the local advisory feed
type FeedConfig struct {
	Dir          string
	PollInterval time.Duration
}

// QueueConfig configures the in-memory task queue
type QueueConfig struct {
	BufferSize int
}

// WorkerConfig configures the worker behavior
type WorkerConfig struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	Concurrency   int
}

// StateStoreConfig configures the state store
type StateStoreConfig struct {
	SQLitePath string
}

// PolicyConfig configures the alert policy
type PolicyConfig struct {
	Expression   string
	AlertMessage string
}

// AnalysisConfig configures the periodic corpus analysis
type AnalysisConfig struct {
	Interval            time.Duration
	SimilarityThreshold float64
}

// ExportConfig configures report export
type ExportConfig struct {
	Dir string
}

// APIConfig configures the HTTP API server
type APIConfig struct {
	Enabled  bool
	Port     int
	APIKey   string
	ReadOnly bool
}

// ObservabilityConfig configures logging and metrics
type ObservabilityConfig struct {
	LogLevel        string
	MetricsPort     int
	HealthCheckPort int
}

// fileConfig is the YAML shape of vulnforge.yml. Environment variables
// override anything set here.
type fileConfig struct {
	Feed struct {
		Dir          string `yaml:"dir"`
		PollInterval string `yaml:"pollInterval"`
	} `yaml:"feed"`
	Policy struct {
		Expression   string `yaml:"expression"`
		AlertMessage string `yaml:"alertMessage"`
	} `yaml:"policy"`
	Analysis struct {
		Interval            string  `yaml:"interval"`
		SimilarityThreshold float64 `yaml:"similarityThreshold"`
	} `yaml:"analysis"`
}

// Load loads configuration from environment variables and files
func Load() (*Config, error) {
	configPath := getEnv("VULNFORGE_CONFIG", "vulnforge.yml")

	// File settings act as defaults under the environment
	var fileCfg fileConfig
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	}

	feedPollInterval := 5 * time.Minute
	if fileCfg.Feed.PollInterval != "" {
		if d, err := parseInterval(fileCfg.Feed.PollInterval); err == nil {
			feedPollInterval = d
		}
	}

	analysisInterval := 15 * time.Minute
	if fileCfg.Analysis.Interval != "" {
		if d, err := parseInterval(fileCfg.Analysis.Interval); err == nil {
			analysisInterval = d
		}
	}

	similarityThreshold := 0.8
	if fileCfg.Analysis.SimilarityThreshold > 0 {
		similarityThreshold = fileCfg.Analysis.SimilarityThreshold
	}

	feedDir := fileCfg.Feed.Dir
	if feedDir == "" {
		feedDir = "feeds"
	}

	cfg := &Config{
		ConfigPath: configPath,
		Feed: FeedConfig{
			Dir:          getEnv("FEED_DIR", feedDir),
			PollInterval: getEnvDuration("FEED_POLL_INTERVAL", feedPollInterval),
		},
		Queue: QueueConfig{
			BufferSize: getEnvInt("QUEUE_BUFFER_SIZE", 1000),
		},
		Worker: WorkerConfig{
			RetryAttempts: getEnvInt("WORKER_RETRY_ATTEMPTS", 3),
			RetryBackoff:  getEnvDuration("WORKER_RETRY_BACKOFF", 10*time.Second),
			Concurrency:   getEnvInt("WORKER_CONCURRENCY", 3),
		},
		StateStore: StateStoreConfig{
			SQLitePath: getEnv("SQLITE_PATH", "vulnforge.db"),
		},
		Policy: PolicyConfig{
			Expression:   getEnv("POLICY_EXPRESSION", fileCfg.Policy.Expression),
			AlertMessage: getEnv("POLICY_ALERT_MESSAGE", fileCfg.Policy.AlertMessage),
		},
		Analysis: AnalysisConfig{
			Interval:            getEnvDuration("ANALYSIS_INTERVAL", analysisInterval),
			SimilarityThreshold: getEnvFloat("ANALYSIS_SIMILARITY_THRESHOLD", similarityThreshold),
		},
		Export: ExportConfig{
			Dir: getEnv("EXPORT_DIR", "reports"),
		},
		API: APIConfig{
			Enabled:  getEnvBool("API_ENABLED", true),
			Port:     getEnvInt("API_PORT", 8080),
			APIKey:   getEnv("API_KEY", ""),
			ReadOnly: getEnvBool("API_READ_ONLY", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			MetricsPort:     getEnvInt("METRICS_PORT", 9090),
			HealthCheckPort: getEnvInt("HEALTH_CHECK_PORT", 8081),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Feed.Dir == "" {
		return fmt.Errorf("feed directory is required")
	}

	if c.Feed.PollInterval <= 0 {
		return fmt.Errorf("feed poll interval must be positive")
	}

	if c.Queue.BufferSize <= 0 {
		return fmt.Errorf("queue buffer size must be positive")
	}

	if c.StateStore.SQLitePath == "" {
		return fmt.Errorf("sqlite path is required")
	}

	if c.Analysis.SimilarityThreshold <= 0 || c.Analysis.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in (0, 1], got %g", c.Analysis.SimilarityThreshold)
	}

	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("invalid API port: %d", c.API.Port)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var floatValue float64
		if _, err := fmt.Sscanf(value, "%g", &floatValue); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

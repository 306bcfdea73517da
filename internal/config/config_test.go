package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VULNFORGE_CONFIG", filepath.Join(t.TempDir(), "missing.yml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Feed.Dir != "feeds" {
		t.Errorf("feed dir = %q", cfg.Feed.Dir)
	}
	if cfg.Feed.PollInterval != 5*time.Minute {
		t.Errorf("poll interval = %v", cfg.Feed.PollInterval)
	}
	if cfg.Worker.RetryAttempts != 3 || cfg.Worker.Concurrency != 3 {
		t.Errorf("worker defaults = %+v", cfg.Worker)
	}
	if cfg.Analysis.SimilarityThreshold != 0.8 {
		t.Errorf("similarity threshold = %g", cfg.Analysis.SimilarityThreshold)
	}
	if cfg.StateStore.SQLitePath != "vulnforge.db" {
		t.Errorf("sqlite path = %q", cfg.StateStore.SQLitePath)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vulnforge.yml")
	content := `
feed:
  dir: /var/lib/vulnforge/feeds
  pollInterval: 30m
policy:
  expression: 'score >= 7.0'
  alertMessage: high severity advisory
analysis:
  interval: 1h
  similarityThreshold: 0.9
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	t.Setenv("VULNFORGE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Feed.Dir != "/var/lib/vulnforge/feeds" {
		t.Errorf("feed dir = %q", cfg.Feed.Dir)
	}
	if cfg.Feed.PollInterval != 30*time.Minute {
		t.Errorf("poll interval = %v", cfg.Feed.PollInterval)
	}
	if cfg.Policy.Expression != "score >= 7.0" {
		t.Errorf("policy expression = %q", cfg.Policy.Expression)
	}
	if cfg.Analysis.Interval != time.Hour {
		t.Errorf("analysis interval = %v", cfg.Analysis.Interval)
	}
	if cfg.Analysis.SimilarityThreshold != 0.9 {
		t.Errorf("similarity threshold = %g", cfg.Analysis.SimilarityThreshold)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vulnforge.yml")
	if err := os.WriteFile(path, []byte("feed:\n  dir: from-file\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	t.Setenv("VULNFORGE_CONFIG", path)
	t.Setenv("FEED_DIR", "from-env")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Feed.Dir != "from-env" {
		t.Errorf("environment must override file, got %q", cfg.Feed.Dir)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("concurrency = %d", cfg.Worker.Concurrency)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Feed:       FeedConfig{Dir: "feeds", PollInterval: time.Minute},
			Queue:      QueueConfig{BufferSize: 100},
			StateStore: StateStoreConfig{SQLitePath: "vulnforge.db"},
			Analysis:   AnalysisConfig{Interval: time.Minute, SimilarityThreshold: 0.8},
			API:        APIConfig{Enabled: true, Port: 8080},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing feed dir", func(c *Config) { c.Feed.Dir = "" }},
		{"zero poll interval", func(c *Config) { c.Feed.PollInterval = 0 }},
		{"zero buffer", func(c *Config) { c.Queue.BufferSize = 0 }},
		{"missing sqlite path", func(c *Config) { c.StateStore.SQLitePath = "" }},
		{"threshold too high", func(c *Config) { c.Analysis.SimilarityThreshold = 1.5 }},
		{"threshold zero", func(c *Config) { c.Analysis.SimilarityThreshold = 0 }},
		{"bad api port", func(c *Config) { c.API.Port = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"2m", 2 * time.Minute, false},
		{"3h", 3 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"0m", 0, true},
		{"5x", 0, true},
		{"m", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseInterval(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("duration = %v, want %v", got, tt.want)
			}
		})
	}
}

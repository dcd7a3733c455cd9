package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration parameters
type Config struct {
	DBPath                string `json:"db_path" yaml:"db_path"`
	HistoryPath           string `json:"history_path" yaml:"history_path"`
	MetricsPath           string `json:"metrics_path" yaml:"metrics_path"`
	LogLevel              string `json:"log_level" yaml:"log_level"`
	UserAgent             string `json:"user_agent" yaml:"user_agent"`
	RequestTimeoutMs      int    `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	BatchSize             int    `json:"batch_size" yaml:"batch_size"`
	BatchDelayMs          int    `json:"batch_delay_ms" yaml:"batch_delay_ms"`
	TaskBatchSize         int    `json:"task_batch_size" yaml:"task_batch_size"`
	CategorizeBatchSize   int    `json:"categorize_batch_size" yaml:"categorize_batch_size"`
	AIBaseURL             string `json:"ai_base_url" yaml:"ai_base_url"`
	AIModel               string `json:"ai_model" yaml:"ai_model"`
	AIMaxTokens           int    `json:"ai_max_tokens" yaml:"ai_max_tokens"`
	StaleTaskAfterMinutes int    `json:"stale_task_after_minutes" yaml:"stale_task_after_minutes"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig reads and validates configuration from a JSON or YAML file.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Nothing to parse, defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	default:
		if err := decode(path, data, &cfg); err != nil {
			return nil, err
		}
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// decode picks the parser from the file extension
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}
	return nil
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "sift.db"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.json"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "bookmark-sift/1.0"
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 10000
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 5
	}
	if cfg.BatchDelayMs == 0 {
		cfg.BatchDelayMs = 500
	}
	if cfg.TaskBatchSize == 0 {
		cfg.TaskBatchSize = 10
	}
	if cfg.CategorizeBatchSize == 0 {
		cfg.CategorizeBatchSize = 50
	}
	if cfg.AIBaseURL == "" {
		cfg.AIBaseURL = "https://api.anthropic.com"
	}
	if cfg.AIModel == "" {
		cfg.AIModel = "claude-3-5-haiku-20241022"
	}
	if cfg.AIMaxTokens == 0 {
		cfg.AIMaxTokens = 2048
	}
	if cfg.StaleTaskAfterMinutes == 0 {
		cfg.StaleTaskAfterMinutes = 30
	}
}

// validate checks that values are sensible
func validate(cfg *Config) error {
	if cfg.RequestTimeoutMs < 100 {
		return fmt.Errorf("request_timeout_ms must be >= 100")
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1")
	}
	if cfg.BatchDelayMs < 0 {
		return fmt.Errorf("batch_delay_ms must be >= 0")
	}
	if cfg.TaskBatchSize < 1 {
		return fmt.Errorf("task_batch_size must be >= 1")
	}
	if cfg.CategorizeBatchSize < 1 || cfg.CategorizeBatchSize > 50 {
		return fmt.Errorf("categorize_batch_size must be between 1 and 50")
	}
	if cfg.AIMaxTokens < 1 {
		return fmt.Errorf("ai_max_tokens must be >= 1")
	}
	return nil
}

// RequestTimeout returns the per-URL reachability timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// BatchDelay returns the pause between scanner batches
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}

// StaleTaskAfter returns how long a running task may go without a heartbeat
// before it is considered abandoned
func (c *Config) StaleTaskAfter() time.Duration {
	return time.Duration(c.StaleTaskAfterMinutes) * time.Minute
}

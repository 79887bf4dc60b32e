// Package config provides configuration loading for the lexicon curator.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Database   DatabaseConfig   `yaml:"database"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	LLM        LLMConfig        `yaml:"llm"`
	Generation GenerationConfig `yaml:"generation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// DatabaseConfig locates the canonical record and proposal store
type DatabaseConfig struct {
	// Path is the SQLite database file
	Path string `yaml:"path"`
}

// LedgerConfig locates the processed-record ledger
type LedgerConfig struct {
	// Path is the JSON ledger file (created on first mark)
	Path string `yaml:"path"`
}

// LLMConfig configures the text-generation service
type LLMConfig struct {
	// URL is the OpenAI-compatible API base (default: http://localhost:11434/v1)
	URL string `yaml:"url"`
	// Model is the model name sent with every request
	Model string `yaml:"model"`
	// APIKey is sent as a bearer token when set
	APIKey string `yaml:"api_key"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// MaxTokens limits reply length; 0 uses the endpoint default
	MaxTokens int `yaml:"max_tokens"`
	// Timeout is the maximum time to wait for one reply
	Timeout time.Duration `yaml:"timeout"`
	// SkipPing disables the reachability check at startup
	SkipPing bool `yaml:"skip_ping"`
}

// GenerationConfig configures a cleanup pass
type GenerationConfig struct {
	// BatchSize is the number of records per pass when none is given
	BatchSize int `yaml:"batch_size"`
	// Workers is the number of records generated concurrently
	Workers int `yaml:"workers"`
	// MaxAttempts bounds tries per record for retryable failures
	MaxAttempts int `yaml:"max_attempts"`
	// BackoffBase is the wait before the second attempt
	BackoffBase time.Duration `yaml:"backoff_base"`
	// MaxBackoff caps the wait between attempts
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// MetricsConfig configures pass metrics
type MetricsConfig struct {
	// TextfilePath, when set, receives Prometheus metrics after each pass
	TextfilePath string `yaml:"textfile_path"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Database: DatabaseConfig{
			Path: "lexicon.db",
		},
		Ledger: LedgerConfig{
			Path: "processed_records.json",
		},
		LLM: LLMConfig{
			URL:         "http://localhost:11434/v1",
			Model:       "llama3.1",
			Temperature: 0.2,
			Timeout:     2 * time.Minute,
		},
		Generation: GenerationConfig{
			BatchSize:   50,
			Workers:     1,
			MaxAttempts: 2,
			BackoffBase: 2 * time.Second,
			MaxBackoff:  30 * time.Second,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}
	if c.LLM.URL == "" {
		return fmt.Errorf("llm.url is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be between 0 and 1")
	}
	if c.Generation.BatchSize < 1 {
		return fmt.Errorf("generation.batch_size must be positive")
	}
	if c.Generation.Workers < 1 {
		return fmt.Errorf("generation.workers must be positive")
	}
	if c.Generation.MaxAttempts < 1 {
		return fmt.Errorf("generation.max_attempts must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

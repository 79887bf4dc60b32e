package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Generation.BatchSize)
	assert.Equal(t, 1, cfg.Generation.Workers)
	assert.Equal(t, "processed_records.json", cfg.Ledger.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no database", func(c *Config) { c.Database.Path = "" }},
		{"no ledger", func(c *Config) { c.Ledger.Path = "" }},
		{"no url", func(c *Config) { c.LLM.URL = "" }},
		{"no model", func(c *Config) { c.LLM.Model = "" }},
		{"temperature high", func(c *Config) { c.LLM.Temperature = 1.5 }},
		{"zero batch", func(c *Config) { c.Generation.BatchSize = 0 }},
		{"zero workers", func(c *Config) { c.Generation.Workers = 0 }},
		{"zero attempts", func(c *Config) { c.Generation.MaxAttempts = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	content := `
log_level: debug
database:
  path: /var/lib/lexicon/lexicon.db
llm:
  url: https://api.openai.com/v1
  model: gpt-4o-mini
  timeout: 45s
generation:
  batch_size: 10
  workers: 3
  backoff_base: 500ms
metrics:
  textfile_path: /var/lib/node_exporter/lexicon.prom
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/lib/lexicon/lexicon.db", cfg.Database.Path)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 10, cfg.Generation.BatchSize)
	assert.Equal(t, 3, cfg.Generation.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Generation.BackoffBase)
	assert.Equal(t, "/var/lib/node_exporter/lexicon.prom", cfg.Metrics.TextfilePath)
	// Unset values keep their defaults.
	assert.Equal(t, "processed_records.json", cfg.Ledger.Path)
	assert.Equal(t, 2, cfg.Generation.MaxAttempts)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvDatabase, "/tmp/env.db")
	t.Setenv(EnvLedger, "/tmp/env.json")
	t.Setenv(EnvLLMURL, "http://llm.internal/v1")
	t.Setenv(EnvLLMModel, "qwen2.5")
	t.Setenv(EnvLLMKey, "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "/tmp/env.json", cfg.Ledger.Path)
	assert.Equal(t, "http://llm.internal/v1", cfg.LLM.URL)
	assert.Equal(t, "qwen2.5", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadLeavesValidationToCaller(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: \"\"\ngeneration:\n  workers: 0\n"), 0o644))
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	cfg.Database.Path = "override.db"
	cfg.Generation.Workers = 2
	assert.NoError(t, cfg.Validate())
}

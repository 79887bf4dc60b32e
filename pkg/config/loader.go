package config

import (
	"log/slog"
	"os"
)

// DefaultConfigFile is picked up from the working directory when no path is given.
const DefaultConfigFile = "lexicon.yaml"

// Environment variables that override file values.
const (
	EnvDatabase = "LEXICON_DB"
	EnvLedger   = "LEXICON_LEDGER"
	EnvLLMURL   = "LEXICON_LLM_URL"
	EnvLLMModel = "LEXICON_LLM_MODEL"
	EnvLLMKey   = "LEXICON_LLM_API_KEY"
)

// Load resolves configuration with layered precedence:
// 1. Default config
// 2. The file at path, or lexicon.yaml in the working directory if path is empty
// 3. Environment variables
//
// An explicit path that cannot be read is an error; a missing default file is not.
// The result is not validated: callers apply their own overrides and then
// call Validate.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config := DefaultConfig()
	switch {
	case path != "":
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		config = loaded
		logger.Debug("Loaded config", slog.String("path", path))
	default:
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			loaded, err := LoadFromFile(DefaultConfigFile)
			if err != nil {
				return nil, err
			}
			config = loaded
			logger.Debug("Loaded config", slog.String("path", DefaultConfigFile))
		}
	}

	config.applyEnv()
	return config, nil
}

// applyEnv overrides values from the environment. OPENAI_API_KEY is used
// when no key is configured.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvLedger); v != "" {
		c.Ledger.Path = v
	}
	if v := os.Getenv(EnvLLMURL); v != "" {
		c.LLM.URL = v
	}
	if v := os.Getenv(EnvLLMModel); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv(EnvLLMKey); v != "" {
		c.LLM.APIKey = v
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Package config loads and validates engramd configuration from
// .engram/config.yaml, with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all engramd configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration (text generation used by sleep cycles)
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Memory core configuration
	Memory MemoryConfig `yaml:"memory"`

	// Vault projection configuration
	Vault VaultConfig `yaml:"vault"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the text-generation capability.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding capability.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama, genai, or empty to disable
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// MemoryConfig configures the memory core.
type MemoryConfig struct {
	// Event log path (the single source of truth)
	EventLogPath string `yaml:"event_log_path"`

	// Semantic index database path (rebuildable, non-authoritative)
	IndexPath string `yaml:"index_path"`

	// Consolidation batching
	SleepBatchSize int `yaml:"sleep_batch_size"`

	// Episodic entries older than this get compacted during sleep
	EpisodicMaxAge string `yaml:"episodic_max_age"`
}

// VaultConfig configures the human-readable vault projection.
type VaultConfig struct {
	Path       string `yaml:"path"`
	SummaryTop int    `yaml:"summary_top"` // Max items per tier summary
}

// LoggingConfig configures the categorized debug logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "engramd",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "120s",
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},

		Memory: MemoryConfig{
			EventLogPath:   ".engram/events.ndjson",
			IndexPath:      ".engram/index.db",
			SleepBatchSize: 60,
			EpisodicMaxAge: "720h",
		},

		Vault: VaultConfig{
			Path:       "vault",
			SummaryTop: 25,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, applying defaults for missing
// fields and environment variable overrides on top.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = key
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if path := os.Getenv("ENGRAMD_EVENT_LOG"); path != "" {
		c.Memory.EventLogPath = path
	}
	if path := os.Getenv("ENGRAMD_VAULT"); path != "" {
		c.Vault.Path = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetEpisodicMaxAge returns the episodic compaction age as a duration.
func (c *Config) GetEpisodicMaxAge() time.Duration {
	d, err := time.ParseDuration(c.Memory.EpisodicMaxAge)
	if err != nil {
		return 720 * time.Hour
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"gemini", "openai"}

// Validate validates the configuration.
// An empty LLM API key is allowed (sleep cycles degrade to the heuristic
// pass), but a configured provider must be one we know.
func (c *Config) Validate() error {
	if c.LLM.Provider != "" {
		valid := false
		for _, p := range ValidProviders {
			if c.LLM.Provider == p {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
		}
	}
	if c.Memory.SleepBatchSize <= 0 {
		return fmt.Errorf("sleep_batch_size must be positive, got %d", c.Memory.SleepBatchSize)
	}
	if c.Vault.SummaryTop <= 0 {
		return fmt.Errorf("vault summary_top must be positive, got %d", c.Vault.SummaryTop)
	}
	return nil
}

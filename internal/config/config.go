// Package config loads and validates planwright configuration from
// .planwright/config.yaml, with environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all planwright configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM analysis backend
	LLM LLMConfig `yaml:"llm"`

	// Refinement loop bounds
	Refinement RefinementConfig `yaml:"refinement"`

	// Discovery fan-out
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Run store
	Store StoreConfig `yaml:"store"`

	// Capability catalog
	Skills SkillsConfig `yaml:"skills"`

	// Verification task commands
	Verification VerificationConfig `yaml:"verification"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the analysis backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai-compatible, gemini, mock
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// RefinementConfig bounds the confidence loop.
type RefinementConfig struct {
	Threshold     int `yaml:"threshold"`      // Minimum score to proceed (default 85)
	MaxIterations int `yaml:"max_iterations"` // Iteration cap (default 3)
}

// DiscoveryConfig bounds the certainty-gate analysis fan-out.
type DiscoveryConfig struct {
	BundleSize  int `yaml:"bundle_size"`  // Max candidates per analysis partition
	MaxParallel int `yaml:"max_parallel"` // Concurrent partition limit (0 = unbounded)
}

// StoreConfig configures the run database.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// SkillsConfig points at the capability catalog.
type SkillsConfig struct {
	CatalogPath string `yaml:"catalog_path"`
}

// VerificationConfig lists the literal commands every verification task runs.
type VerificationConfig struct {
	Commands []string `yaml:"commands"`
}

// LoggingConfig controls the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories,omitempty"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "planwright",
		Version: "0.3.0",
		LLM: LLMConfig{
			Provider: "openai-compatible",
			Model:    "gpt-4o-mini",
			Timeout:  "120s",
		},
		Refinement: RefinementConfig{
			Threshold:     85,
			MaxIterations: 3,
		},
		Discovery: DiscoveryConfig{
			BundleSize:  20,
			MaxParallel: 4,
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(".planwright", "runs.db"),
		},
		Skills: SkillsConfig{
			CatalogPath: filepath.Join(".planwright", "skills.yaml"),
		},
		Verification: VerificationConfig{
			Commands: []string{"go build ./...", "go test ./..."},
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads config from path, applying defaults for missing fields and
// environment overrides for secrets. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides lets environment variables win over file values. API keys
// should normally arrive this way rather than living in the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PLANWRIGHT_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("PLANWRIGHT_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("PLANWRIGHT_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("PLANWRIGHT_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("PLANWRIGHT_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
}

// Validate checks config invariants.
func (c *Config) Validate() error {
	if c.Refinement.Threshold < 0 || c.Refinement.Threshold > 100 {
		return fmt.Errorf("refinement.threshold must be in [0,100], got %d", c.Refinement.Threshold)
	}
	if c.Refinement.MaxIterations < 1 {
		return fmt.Errorf("refinement.max_iterations must be >= 1, got %d", c.Refinement.MaxIterations)
	}
	if c.Discovery.BundleSize < 1 {
		return fmt.Errorf("discovery.bundle_size must be >= 1, got %d", c.Discovery.BundleSize)
	}
	if c.Discovery.MaxParallel < 0 {
		return fmt.Errorf("discovery.max_parallel must be >= 0, got %d", c.Discovery.MaxParallel)
	}
	switch c.LLM.Provider {
	case "openai-compatible", "gemini", "mock", "":
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	return nil
}

// GetLLMTimeout parses the LLM timeout, defaulting to 120s.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the sampling engine configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Limits   LimitsConfig   `yaml:"limits"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Logging  LoggingConfig  `yaml:"logging"`
	Cache    CacheConfig    `yaml:"cache"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	// Backend is "memory" or "sqlite"
	Backend string `yaml:"backend"`
	// Path is the SQLite database file, ignored for memory
	Path string `yaml:"path"`
}

// LimitsConfig contains resource ceilings
type LimitsConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	MaxDies        int   `yaml:"max_dies"`
}

// TimeoutsConfig contains per-operation wall-clock budgets
type TimeoutsConfig struct {
	Upload   time.Duration `yaml:"upload"`
	Parse    time.Duration `yaml:"parse"`
	Simulate time.Duration `yaml:"simulate"`
	Validate time.Duration `yaml:"validate"`
}

// LoggingConfig contains log output settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheConfig bounds the compiled-strategy cache
type CacheConfig struct {
	CompiledStrategies int `yaml:"compiled_strategies"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
			MetricsEnabled:  true,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "wafersample.db",
		},
		Limits: LimitsConfig{
			MaxUploadBytes: 100 << 20,
			MaxDies:        100000,
		},
		Timeouts: TimeoutsConfig{
			Upload:   30 * time.Second,
			Parse:    60 * time.Second,
			Simulate: 10 * time.Second,
			Validate: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Cache: CacheConfig{
			CompiledStrategies: 256,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage backend %q (want memory or sqlite)", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("sqlite backend requires storage.path")
	}
	if c.Limits.MaxUploadBytes <= 0 {
		return fmt.Errorf("limits.max_upload_bytes must be positive")
	}
	if c.Limits.MaxDies <= 0 {
		return fmt.Errorf("limits.max_dies must be positive")
	}
	return nil
}

// Save writes configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

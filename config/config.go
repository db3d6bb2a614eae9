// Package config handles reading docchat configuration from a YAML file
// with .env and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level docchat configuration.
type Config struct {
	Endpoint EndpointConfig `yaml:"endpoint"`
	Storage  StorageConfig  `yaml:"storage"`
	Limits   LimitsConfig   `yaml:"limits"`
	Drafts   DraftsConfig   `yaml:"drafts"`
}

// EndpointConfig locates the generation service.
type EndpointConfig struct {
	GenerateURL  string        `yaml:"generate_url"`
	InterruptURL string        `yaml:"interrupt_url"`
	APIKey       string        `yaml:"api_key"`
	// FirstByteTimeout bounds the wait for the first stream frame.
	FirstByteTimeout time.Duration `yaml:"first_byte_timeout"`
	// TurnTimeout bounds the total duration of one turn.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

// StorageConfig locates the session database.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// LimitsConfig bounds user input.
type LimitsConfig struct {
	MaxQueryRunes int `yaml:"max_query_runes"`
	MaxTitleRunes int `yaml:"max_title_runes"`
}

// DraftsConfig controls crash-recovery snapshot cadence.
type DraftsConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Endpoint: EndpointConfig{
			FirstByteTimeout: 30 * time.Second,
			TurnTimeout:      5 * time.Minute,
		},
		Storage: StorageConfig{
			DBPath: defaultDBPath(),
		},
		Limits: LimitsConfig{
			MaxQueryRunes: 8000,
			MaxTitleRunes: 200,
		},
		Drafts: DraftsConfig{
			Debounce: 1500 * time.Millisecond,
			Interval: 10 * time.Second,
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "docchat.sqlite"
	}
	return filepath.Join(home, ".docchat", "docchat.sqlite")
}

// Load reads the YAML file at path (optional), applies .env if present,
// then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	// .env is optional; missing file is not an error.
	_ = godotenv.Load()
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DOCCHAT_GENERATE_URL"); v != "" {
		cfg.Endpoint.GenerateURL = v
	}
	if v := os.Getenv("DOCCHAT_INTERRUPT_URL"); v != "" {
		cfg.Endpoint.InterruptURL = v
	}
	if v := os.Getenv("DOCCHAT_API_KEY"); v != "" {
		cfg.Endpoint.APIKey = v
	}
	if v := os.Getenv("DOCCHAT_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("DOCCHAT_TURN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Endpoint.TurnTimeout = d
		}
	}
	if v := os.Getenv("DOCCHAT_FIRST_BYTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Endpoint.FirstByteTimeout = d
		}
	}
	if v := os.Getenv("DOCCHAT_MAX_QUERY_RUNES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limits.MaxQueryRunes = n
		}
	}
}

// Validate checks invariants that would otherwise surface as runtime
// failures deep inside a turn.
func (c Config) Validate() error {
	if c.Endpoint.GenerateURL == "" {
		return fmt.Errorf("endpoint.generate_url is required")
	}
	if c.Endpoint.FirstByteTimeout <= 0 {
		return fmt.Errorf("endpoint.first_byte_timeout must be positive")
	}
	if c.Endpoint.TurnTimeout <= 0 {
		return fmt.Errorf("endpoint.turn_timeout must be positive")
	}
	if c.Limits.MaxQueryRunes <= 0 {
		return fmt.Errorf("limits.max_query_runes must be positive")
	}
	if c.Limits.MaxTitleRunes <= 0 {
		return fmt.Errorf("limits.max_title_runes must be positive")
	}
	return nil
}

// Package config loads the server configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up when no path is given
const FileName = "liveregion.yaml"

// Config represents the server configuration
type Config struct {
	// Addr is the listen address of the HTTP server
	Addr string `yaml:"addr" validate:"required"`

	// Path is the websocket endpoint
	Path string `yaml:"path" validate:"required,startswith=/"`

	// Codec is the preferred wire codec when the client offers several
	Codec string `yaml:"codec" validate:"oneof=json cbor"`

	// Minify rendered region sources
	Minify bool `yaml:"minify"`

	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Budget  BudgetConfig  `yaml:"budget"`
	Auth    AuthConfig    `yaml:"auth"`
	Update  UpdateConfig  `yaml:"update"`
}

// SessionConfig controls session expiry
type SessionConfig struct {
	TTL             time.Duration `yaml:"ttl" validate:"gt=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
}

// StoreConfig selects the region store backend
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver sqlite"`
}

// BudgetConfig bounds the memory held by region sources
type BudgetConfig struct {
	MaxSessionKB int `yaml:"max_session_kb" validate:"gte=0"`
	MaxTotalMB   int `yaml:"max_total_mb" validate:"gte=0"`
}

// AuthConfig selects how connections are tied to sessions
type AuthConfig struct {
	Mode     string        `yaml:"mode" validate:"oneof=anonymous token"`
	Secret   string        `yaml:"secret" validate:"required_if=Mode token"`
	TokenTTL time.Duration `yaml:"token_ttl" validate:"gte=0"`
}

// UpdateConfig tunes optimistic concurrency
type UpdateConfig struct {
	MaxRetries int `yaml:"max_retries" validate:"gte=0,lte=100"`
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {
	return &Config{
		Addr:  ":8080",
		Path:  "/live",
		Codec: "json",
		Session: SessionConfig{
			TTL:             30 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Store:  StoreConfig{Driver: "memory"},
		Budget: BudgetConfig{MaxSessionKB: 512, MaxTotalMB: 100},
		Auth:   AuthConfig{Mode: "anonymous", TokenTTL: 24 * time.Hour},
		Update: UpdateConfig{MaxRetries: 3},
	}
}

// Load reads the file at path on top of the defaults, applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FileName
	}

	config := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Addr = ":" + port
	}
	if dsn := os.Getenv("LIVEREGION_STORE_DSN"); dsn != "" {
		c.Store.Driver = "sqlite"
		c.Store.DSN = dsn
	}
	if secret := os.Getenv("LIVEREGION_AUTH_SECRET"); secret != "" {
		c.Auth.Secret = secret
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Save writes the configuration as YAML
func Save(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

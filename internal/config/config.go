package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.petlink/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	Backend        Backend  `toml:"backend"`
	Realtime       Realtime `toml:"realtime"`
	Sound          bool     `toml:"sound"`
}

// Backend configures the REST API client.
type Backend struct {
	BaseURL string `toml:"base_url"`
}

// Realtime configures the persistent socket connection.
type Realtime struct {
	URL             string        `toml:"url"`
	MaxAttempts     int           `toml:"max_attempts"`
	BackoffStart    time.Duration `toml:"backoff_start"`
	BackoffCap      time.Duration `toml:"backoff_cap"`
	BreakerCooldown time.Duration `toml:"breaker_cooldown"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		DefaultProfile: "default",
		Backend:        Backend{BaseURL: "https://api.7pet.app"},
		Realtime:       Realtime{URL: "wss://rt.7pet.app/socket"},
		Sound:          true,
	}
}

// Load reads config from the given path. Returns nil and an error if the
// file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

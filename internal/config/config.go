// Package config loads engine configuration from an optional YAML file with
// environment variable overrides. Environment wins over file, file over
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration for the credit engine server.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	CacheTTL     time.Duration
	TickInterval time.Duration

	SettleAttempts int
	SettleBackoff  time.Duration

	// DefaultBalance is the spendable balance the in-memory oracle reports
	// for unfunded accounts. Ignored when a real oracle is wired in.
	DefaultBalance decimal.Decimal
}

// fileConfig is the YAML schema. Durations are "30s"-style strings; pointer
// fields distinguish "absent" from "zero" so unset keys keep their defaults.
type fileConfig struct {
	Port           *string `yaml:"port"`
	DatabaseURL    *string `yaml:"database_url"`
	RedisURL       *string `yaml:"redis_url"`
	CacheTTL       *string `yaml:"cache_ttl"`
	TickInterval   *string `yaml:"tick_interval"`
	SettleAttempts *int    `yaml:"settle_attempts"`
	SettleBackoff  *string `yaml:"settle_backoff"`
	DefaultBalance *string `yaml:"default_balance"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:           "8080",
		CacheTTL:       30 * time.Second,
		TickInterval:   30 * time.Second,
		SettleAttempts: 3,
		SettleBackoff:  100 * time.Millisecond,
		DefaultBalance: decimal.NewFromInt(100000),
	}
}

// Load reads the config file at path (if non-empty) and applies environment
// overrides on top of defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := fc.apply(&cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.TickInterval <= 0 {
		return cfg, fmt.Errorf("tick_interval must be positive, got %s", cfg.TickInterval)
	}
	if cfg.SettleAttempts <= 0 {
		return cfg, fmt.Errorf("settle_attempts must be positive, got %d", cfg.SettleAttempts)
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	if fc.Port != nil {
		cfg.Port = *fc.Port
	}
	if fc.DatabaseURL != nil {
		cfg.DatabaseURL = *fc.DatabaseURL
	}
	if fc.RedisURL != nil {
		cfg.RedisURL = *fc.RedisURL
	}
	if fc.CacheTTL != nil {
		d, err := time.ParseDuration(*fc.CacheTTL)
		if err != nil {
			return fmt.Errorf("cache_ttl: %w", err)
		}
		cfg.CacheTTL = d
	}
	if fc.TickInterval != nil {
		d, err := time.ParseDuration(*fc.TickInterval)
		if err != nil {
			return fmt.Errorf("tick_interval: %w", err)
		}
		cfg.TickInterval = d
	}
	if fc.SettleAttempts != nil {
		cfg.SettleAttempts = *fc.SettleAttempts
	}
	if fc.SettleBackoff != nil {
		d, err := time.ParseDuration(*fc.SettleBackoff)
		if err != nil {
			return fmt.Errorf("settle_backoff: %w", err)
		}
		cfg.SettleBackoff = d
	}
	if fc.DefaultBalance != nil {
		b, err := decimal.NewFromString(*fc.DefaultBalance)
		if err != nil {
			return fmt.Errorf("default_balance: %w", err)
		}
		cfg.DefaultBalance = b
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TickInterval = d
		}
	}
	if v := os.Getenv("SETTLE_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SettleAttempts = n
		}
	}
	if v := os.Getenv("SETTLE_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SettleBackoff = d
		}
	}
	if v := os.Getenv("DEFAULT_BALANCE"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.DefaultBalance = d
		}
	}
}

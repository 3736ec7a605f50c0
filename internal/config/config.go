// Package config loads the engine configuration from a YAML file with
// environment-variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds the full engine configuration.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		URL string `yaml:"url"` // empty → in-memory store
	} `yaml:"database"`

	Redis struct {
		URL      string `yaml:"url"` // empty → no cache layer
		CacheTTL int    `yaml:"cache_ttl_sec"`
	} `yaml:"redis"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	Simulation struct {
		StartSlot      int64 `yaml:"start_slot"`
		TimeslotMS     int   `yaml:"timeslot_ms"`
		PhaseTimeoutMS int   `yaml:"phase_timeout_ms"`
	} `yaml:"simulation"`

	Tariff struct {
		MinRate        decimal.Decimal `yaml:"min_rate"`
		MaxRate        decimal.Decimal `yaml:"max_rate"`
		PublicationFee decimal.Decimal `yaml:"publication_fee"`
	} `yaml:"tariff"`
}

// Load reads and parses the configuration file, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration suitable for local development: in-memory
// store, no cache, hourly clock compressed to five seconds.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Simulation.TimeslotMS == 0 {
		cfg.Simulation.TimeslotMS = 5000
	}
	if cfg.Simulation.PhaseTimeoutMS == 0 {
		cfg.Simulation.PhaseTimeoutMS = 2000
	}
	if cfg.Redis.CacheTTL == 0 {
		cfg.Redis.CacheTTL = 30
	}
	if cfg.Tariff.MaxRate.IsZero() {
		cfg.Tariff.MaxRate = decimal.NewFromInt(100)
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Simulation.TimeslotMS <= 0 {
		return fmt.Errorf("timeslot interval must be positive")
	}
	if c.Simulation.PhaseTimeoutMS <= 0 {
		return fmt.Errorf("phase timeout must be positive")
	}
	if c.Simulation.PhaseTimeoutMS >= c.Simulation.TimeslotMS {
		return fmt.Errorf("phase timeout %dms must be shorter than the timeslot interval %dms",
			c.Simulation.PhaseTimeoutMS, c.Simulation.TimeslotMS)
	}
	if c.Tariff.MinRate.GreaterThan(c.Tariff.MaxRate) {
		return fmt.Errorf("tariff min rate %s exceeds max rate %s", c.Tariff.MinRate, c.Tariff.MaxRate)
	}
	if c.Tariff.PublicationFee.IsNegative() {
		return fmt.Errorf("publication fee must not be negative")
	}
	return nil
}

// overrideWithEnv overrides deployment values from the environment.
func overrideWithEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

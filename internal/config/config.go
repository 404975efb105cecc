// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the engine's runtime configuration, parsed from TALEWEAVE_*
// environment variables.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `env:"TALEWEAVE_DB_PATH" envDefault:"taleweave.db"`
	// GeneratorTimeout bounds each narrative generation call.
	GeneratorTimeout time.Duration `env:"TALEWEAVE_GENERATOR_TIMEOUT" envDefault:"30s"`
	// StuckThreshold is how many turns without plot progress flag a
	// session as stuck.
	StuckThreshold int `env:"TALEWEAVE_STUCK_THRESHOLD" envDefault:"3"`
	// QueueCapacity bounds each session's pending turn queue.
	QueueCapacity int `env:"TALEWEAVE_QUEUE_CAPACITY" envDefault:"16"`
	// DiffRetention is how many committed state versions each session
	// keeps for incremental diffs.
	DiffRetention int `env:"TALEWEAVE_DIFF_RETENTION" envDefault:"8"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.GeneratorTimeout <= 0 {
		return fmt.Errorf("generator timeout must be positive, got %s", c.GeneratorTimeout)
	}
	if c.StuckThreshold < 1 {
		return fmt.Errorf("stuck threshold must be at least 1, got %d", c.StuckThreshold)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue capacity must be at least 1, got %d", c.QueueCapacity)
	}
	if c.DiffRetention < 1 {
		return fmt.Errorf("diff retention must be at least 1, got %d", c.DiffRetention)
	}
	return nil
}

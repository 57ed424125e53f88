// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/database"
	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all runtime settings.
type Config struct {
	AppName string `env:"APP_NAME" envDefault:"event-checkin-ledger"`
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	Port    string `env:"PORT" envDefault:"8080"`

	// Store selects the ledger backend: "memory" or "postgres".
	Store string          `env:"LEDGER_STORE" envDefault:"memory"`
	DB    database.Config `envPrefix:"DB_"`

	PassSecret string        `env:"CHECKIN_PASS_SECRET,required,unset"`
	PassIssuer string        `env:"CHECKIN_PASS_ISSUER" envDefault:"event-checkin-ledger"`
	PassTTL    time.Duration `env:"CHECKIN_PASS_TTL" envDefault:"15m"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	switch cfg.Store {
	case StoreMemory, StorePostgres:
	default:
		return nil, fmt.Errorf("LEDGER_STORE must be %q or %q, got %q", StoreMemory, StorePostgres, cfg.Store)
	}
	if len(cfg.PassSecret) < 32 {
		return nil, fmt.Errorf("CHECKIN_PASS_SECRET must be at least 32 bytes")
	}
	return &cfg, nil
}

package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	DriverBun    = "bun"
	DriverSQLite = "sqlite"
)

// Config holds all environmentally dependent settings for the Bookshelf service.
type Config struct {
	Addr            string        `env:"BOOKSHELF_ADDR" envDefault:"127.0.0.1:8000"`
	ShutdownTimeout time.Duration `env:"BOOKSHELF_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"BOOKSHELF_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"BOOKSHELF_LOG_FORMAT" envDefault:"console"`

	DBPath   string `env:"BOOKSHELF_DB_PATH" envDefault:"books.db"`
	DBDriver string `env:"BOOKSHELF_DB_DRIVER" envDefault:"bun"`

	// Change events are published only when AMQPURL is set.
	AMQPURL      string `env:"BOOKSHELF_AMQP_URL"`
	AMQPExchange string `env:"BOOKSHELF_AMQP_EXCHANGE" envDefault:"bookshelf.events"`

	ImportStatePath   string `env:"BOOKSHELF_IMPORT_STATE_PATH" envDefault:".bookshelf/import_state.json"`
	ImportConcurrency int    `env:"BOOKSHELF_IMPORT_CONCURRENCY" envDefault:"4"`
	OPDSUsername      string `env:"BOOKSHELF_OPDS_USERNAME"`
	OPDSPassword      string `env:"BOOKSHELF_OPDS_PASSWORD"`
}

// Validate ensures that all required configuration is present and valid.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("BOOKSHELF_ADDR must be host:port: %w", err)
	}

	if c.DBPath == "" {
		return fmt.Errorf("BOOKSHELF_DB_PATH is required")
	}

	switch c.DBDriver {
	case DriverBun, DriverSQLite:
	default:
		return fmt.Errorf("BOOKSHELF_DB_DRIVER must be %q or %q, got %q", DriverBun, DriverSQLite, c.DBDriver)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("BOOKSHELF_LOG_LEVEL must be one of debug, info, warn, error")
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("BOOKSHELF_LOG_FORMAT must be json or console")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("BOOKSHELF_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.ImportConcurrency < 1 {
		return fmt.Errorf("BOOKSHELF_IMPORT_CONCURRENCY must be at least 1")
	}

	return nil
}

// Load reads an optional .env file, then parses the environment on top of
// the defaults and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

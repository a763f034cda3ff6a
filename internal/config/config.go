package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

var ErrMissingDatabaseURL = errors.New("POKER_DATABASE_URL is required for the postgres store")
var ErrUnknownStore = errors.New("unknown store")

type Config struct {
	Addr            string        `env:"POKER_ADDR" envDefault:":8080"`
	Store           string        `env:"POKER_STORE" envDefault:"memory"`
	DatabaseURL     string        `env:"POKER_DATABASE_URL"`
	LogLevel        string        `env:"POKER_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"POKER_LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"POKER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// SweepInterval is how often expired sessions are removed from
	// postgres. Zero turns the sweeper off.
	SweepInterval time.Duration `env:"POKER_SWEEP_INTERVAL" envDefault:"1h"`
}

// Load reads an optional .env file (or the given files) and then the
// environment. Variables already set win over file values.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Client configures the terminal client.
type Client struct {
	ServerURL string `env:"POKER_SERVER_URL" envDefault:"http://localhost:8080"`
	// StateDir holds credentials.json; empty means the user config dir.
	StateDir  string `env:"POKER_STATE_DIR"`
	LogLevel  string `env:"POKER_LOG_LEVEL" envDefault:"warn"`
	LogFormat string `env:"POKER_LOG_FORMAT" envDefault:"console"`
}

func LoadClient(files ...string) (Client, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Client{}, fmt.Errorf("load env file: %w", err)
	}
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, c.Store)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("POKER_SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("POKER_SWEEP_INTERVAL must not be negative, got %s", c.SweepInterval)
	}
	return nil
}

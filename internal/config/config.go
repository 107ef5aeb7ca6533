package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/checkin.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	DeviceID string     `env:"DEVICE_ID"`

	RemoteBackend   string        `env:"REMOTE_BACKEND" envDefault:"memory"`
	MongoURI        string        `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase   string        `env:"MONGO_DATABASE" envDefault:"eventdb"`
	MongoCollection string        `env:"MONGO_COLLECTION" envDefault:"guests"`
	RedisURL        string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisPrefix     string        `env:"REDIS_PREFIX" envDefault:"guests:"`
	SeedFile        string        `env:"SEED_FILE"`
	RemoteTimeout   time.Duration `env:"REMOTE_TIMEOUT" envDefault:"10s"`
	RemoteRate      float64       `env:"REMOTE_RATE" envDefault:"20"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"checkin"`

	SyncInterval  time.Duration `env:"SYNC_INTERVAL" envDefault:"15s"`
	ProbeInterval time.Duration `env:"PROBE_INTERVAL" envDefault:"10s"`
	ScanStdin     bool          `env:"SCAN_STDIN" envDefault:"false"`
}

// Load reads an optional .env file from the working directory, then parses
// the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	switch c.RemoteBackend {
	case "memory", "mongo", "redis":
	default:
		return fmt.Errorf("unknown REMOTE_BACKEND %q", c.RemoteBackend)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("PROBE_INTERVAL must be positive, got %s", c.ProbeInterval)
	}
	if c.RemoteRate <= 0 {
		return fmt.Errorf("REMOTE_RATE must be positive, got %v", c.RemoteRate)
	}
	return nil
}

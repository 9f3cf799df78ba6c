package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the process configuration, read from GUILDCOURT_* variables.
type Config struct {
	Store            string        `env:"GUILDCOURT_STORE" envDefault:"postgres"`
	DatabaseURL      string        `env:"GUILDCOURT_DATABASE_URL"`
	DBMaxConns       int32         `env:"GUILDCOURT_DB_MAX_CONNS" envDefault:"10"`
	MigrationsDir    string        `env:"GUILDCOURT_MIGRATIONS_DIR" envDefault:"migrations"`
	NATSURL          string        `env:"GUILDCOURT_NATS_URL"`
	NATSPrefix       string        `env:"GUILDCOURT_NATS_SUBJECT_PREFIX" envDefault:"guildcourt"`
	KafkaBrokers     []string      `env:"GUILDCOURT_KAFKA_BROKERS" envSeparator:","`
	KafkaPrefix      string        `env:"GUILDCOURT_KAFKA_TOPIC_PREFIX" envDefault:"guildcourt"`
	RedisURL         string        `env:"GUILDCOURT_REDIS_URL"`
	IdempotencyTTL   time.Duration `env:"GUILDCOURT_IDEMPOTENCY_TTL" envDefault:"24h"`
	JWTSecret        string        `env:"GUILDCOURT_JWT_SECRET"`
	TokenTTL         time.Duration `env:"GUILDCOURT_TOKEN_TTL" envDefault:"24h"`
	HTTPAddr         string        `env:"GUILDCOURT_HTTP_ADDR" envDefault:":8080"`
	SweepInterval    time.Duration `env:"GUILDCOURT_SWEEP_INTERVAL" envDefault:"1m"`
	RelayInterval    time.Duration `env:"GUILDCOURT_RELAY_INTERVAL" envDefault:"5s"`
	RelayBatch       int           `env:"GUILDCOURT_RELAY_BATCH" envDefault:"50"`
	RelayMaxAttempts int           `env:"GUILDCOURT_RELAY_MAX_ATTEMPTS" envDefault:"10"`
	OutboxRetention  time.Duration `env:"GUILDCOURT_OUTBOX_RETENTION" envDefault:"168h"`
	LogLevel         string        `env:"GUILDCOURT_LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("GUILDCOURT_DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("GUILDCOURT_STORE must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("GUILDCOURT_JWT_SECRET is required"))
	}
	if c.NATSURL != "" && c.NATSPrefix == "" {
		errs = append(errs, errors.New("GUILDCOURT_NATS_SUBJECT_PREFIX must not be empty"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaPrefix == "" {
		errs = append(errs, errors.New("GUILDCOURT_KAFKA_TOPIC_PREFIX must not be empty"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("GUILDCOURT_IDEMPOTENCY_TTL must be positive"))
	}
	if c.SweepInterval <= 0 || c.RelayInterval <= 0 {
		errs = append(errs, errors.New("sweep and relay intervals must be positive"))
	}
	if c.RelayBatch <= 0 || c.RelayMaxAttempts <= 0 {
		errs = append(errs, errors.New("relay batch and max attempts must be positive"))
	}
	if c.OutboxRetention < 0 {
		errs = append(errs, errors.New("GUILDCOURT_OUTBOX_RETENTION must not be negative"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseLevel maps a level name onto slog.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

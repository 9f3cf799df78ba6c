package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GUILDCOURT_STORE", "memory")
	t.Setenv("GUILDCOURT_JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NATSPrefix != "guildcourt" {
		t.Fatalf("expected default prefix guildcourt, got %q", cfg.NATSPrefix)
	}
	if cfg.SweepInterval != time.Minute || cfg.RelayInterval != 5*time.Second {
		t.Fatalf("unexpected intervals sweep=%s relay=%s", cfg.SweepInterval, cfg.RelayInterval)
	}
	if cfg.RelayBatch != 50 || cfg.RelayMaxAttempts != 10 {
		t.Fatalf("unexpected relay settings batch=%d attempts=%d", cfg.RelayBatch, cfg.RelayMaxAttempts)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.OutboxRetention != 7*24*time.Hour {
		t.Fatalf("expected a week of outbox retention, got %s", cfg.OutboxRetention)
	}
	if cfg.IdempotencyTTL != 24*time.Hour || cfg.RedisURL != "" || len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("unexpected idempotency/redis/kafka defaults: %+v", cfg)
	}
}

func TestLoadKafkaBrokers(t *testing.T) {
	t.Setenv("GUILDCOURT_STORE", "memory")
	t.Setenv("GUILDCOURT_JWT_SECRET", "s3cret")
	t.Setenv("GUILDCOURT_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.KafkaPrefix != "guildcourt" {
		t.Fatalf("expected default kafka prefix, got %q", cfg.KafkaPrefix)
	}
}

func TestLoadRequiresDatabaseForPostgres(t *testing.T) {
	t.Setenv("GUILDCOURT_STORE", "postgres")
	t.Setenv("GUILDCOURT_JWT_SECRET", "s3cret")
	t.Setenv("GUILDCOURT_DATABASE_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "GUILDCOURT_DATABASE_URL") {
		t.Fatalf("expected database url error, got %v", err)
	}
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("GUILDCOURT_SWEEP_INTERVAL", "soon")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Config{Store: "sqlite", SweepInterval: time.Minute, RelayInterval: time.Second, RelayBatch: 1, RelayMaxAttempts: 1, LogLevel: "loud", IdempotencyTTL: time.Hour, OutboxRetention: -time.Hour}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"GUILDCOURT_STORE", "GUILDCOURT_JWT_SECRET", "GUILDCOURT_OUTBOX_RETENTION", "unknown log level"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	if err != nil || level != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v (%v)", level, err)
	}
}

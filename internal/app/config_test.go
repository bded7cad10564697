package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != ":8080" || cfg.MetricsAddr != ":9090" {
		t.Fatalf("unexpected addrs: %s / %s", cfg.HTTPAddr, cfg.MetricsAddr)
	}
	if cfg.Storage != StorageMemory || cfg.Sessions != SessionsMemory {
		t.Fatalf("unexpected backends: %s / %s", cfg.Storage, cfg.Sessions)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("kafka must be off by default, got %v", cfg.KafkaBrokers)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected session ttl: %s", cfg.SessionTTL)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("TECHSTORE_HTTP_ADDR", ":18080")
	t.Setenv("TECHSTORE_STORAGE", StoragePostgres)
	t.Setenv("TECHSTORE_POSTGRES_DSN", "postgres://app@db:5432/techstore")
	t.Setenv("TECHSTORE_SESSIONS", SessionsRedis)
	t.Setenv("TECHSTORE_REDIS_ADDR", "redis:6379")
	t.Setenv("TECHSTORE_REDIS_DB", "3")
	t.Setenv("TECHSTORE_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("TECHSTORE_JWT_SECRET", "prod-secret")
	t.Setenv("TECHSTORE_SESSION_TTL", "10m")
	t.Setenv("TECHSTORE_OUTBOX_POLL_INTERVAL", "250ms")

	cfg := LoadConfig()

	if cfg.HTTPAddr != ":18080" {
		t.Fatalf("http addr: %s", cfg.HTTPAddr)
	}
	if cfg.Storage != StoragePostgres || cfg.PostgresDSN != "postgres://app@db:5432/techstore" {
		t.Fatalf("storage: %s %s", cfg.Storage, cfg.PostgresDSN)
	}
	if cfg.Sessions != SessionsRedis || cfg.RedisAddr != "redis:6379" || cfg.RedisDB != 3 {
		t.Fatalf("sessions: %s %s %d", cfg.Sessions, cfg.RedisAddr, cfg.RedisDB)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "kafka-1:9092" {
		t.Fatalf("brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.JWTSecret != "prod-secret" {
		t.Fatalf("jwt secret: %s", cfg.JWTSecret)
	}
	if cfg.SessionTTL != 10*time.Minute {
		t.Fatalf("session ttl: %s", cfg.SessionTTL)
	}
	if cfg.OutboxPollInterval != 250*time.Millisecond {
		t.Fatalf("poll interval: %s", cfg.OutboxPollInterval)
	}
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("TECHSTORE_REDIS_DB", "not-a-number")
	t.Setenv("TECHSTORE_SESSION_TTL", "yesterday")
	t.Setenv("TECHSTORE_TOKEN_TTL", "-1h")

	cfg := LoadConfig()

	if cfg.RedisDB != 0 {
		t.Fatalf("redis db: %d", cfg.RedisDB)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("session ttl: %s", cfg.SessionTTL)
	}
	if cfg.TokenTTL != 8*time.Hour {
		t.Fatalf("token ttl: %s", cfg.TokenTTL)
	}
}

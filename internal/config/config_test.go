package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != "8080" || cfg.Env != "dev" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AppointmentTTL.Std() != 24*time.Hour || cfg.LockTTL.Std() != 5*time.Second {
		t.Fatalf("unexpected durations: ttl=%s lock=%s", cfg.AppointmentTTL.Std(), cfg.LockTTL.Std())
	}
}

func TestLoadBareSecondsAndRedisURL(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LOCK_TTL", "7")
	t.Setenv("REDIS_URL", "redis://alice:pw@cache:6380")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LockTTL.Std() != 7*time.Second {
		t.Fatalf("LockTTL = %s", cfg.LockTTL.Std())
	}
	if cfg.RedisAddr != "cache:6380" || cfg.RedisUsername != "alice" || cfg.RedisPassword != "pw" {
		t.Fatalf("redis settings not parsed: %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := map[string]map[string]string{
		"postgres without dsn": {"STORE_BACKEND": "postgres", "POSTGRES_DSN": "", "JWT_SECRET": "x"},
		"unknown geo backend":  {"STORE_BACKEND": "memory", "GEO_BACKEND": "s2", "JWT_SECRET": "x"},
		"missing jwt secret":   {"STORE_BACKEND": "memory", "JWT_SECRET": ""},
		"bad duration":         {"STORE_BACKEND": "memory", "JWT_SECRET": "x", "LOCK_TTL": "soon"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestMigrateURL(t *testing.T) {
	cfg := Config{PostgresDSN: "postgres://u:p@db:5432/app?sslmode=disable"}
	if got := cfg.MigrateURL(); got != "pgx5://u:p@db:5432/app?sslmode=disable" {
		t.Fatalf("MigrateURL() = %q", got)
	}
}

func TestSharedGeoIndex(t *testing.T) {
	if !(Config{GeoBackend: "redis"}).SharedGeoIndex() {
		t.Fatal("redis geo index is shared")
	}
	if (Config{GeoBackend: "grid"}).SharedGeoIndex() {
		t.Fatal("grid geo index is private to the process")
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "DATABASE_URL", "QUILL_OPTIMISTIC_SAVES", "QUILL_SESSION_TTL_SECONDS", "REDIS_URL"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.OptimisticSaves {
		t.Fatal("OptimisticSaves should default to false")
	}
	if cfg.SessionTTL != time.Hour {
		t.Fatalf("SessionTTL = %v, want 1h", cfg.SessionTTL)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("RedisURL = %q, want empty", cfg.RedisURL)
	}
	if cfg.UsesMemoryStore() {
		t.Fatal("default DATABASE_URL should be Postgres")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "MEMORY")
	t.Setenv("QUILL_OPTIMISTIC_SAVES", "true")
	t.Setenv("QUILL_ACCESS_TTL_SECONDS", "60")
	t.Setenv("QUILL_ACTIVITY_BREAKER_FAILURES", "not-a-number")

	cfg := Load()
	if !cfg.UsesMemoryStore() {
		t.Fatal("expected memory store")
	}
	if !cfg.OptimisticSaves {
		t.Fatal("expected optimistic saves")
	}
	if cfg.AccessTTL != time.Minute {
		t.Fatalf("AccessTTL = %v, want 1m", cfg.AccessTTL)
	}
	if cfg.ActivityBreakerFailure != 5 {
		t.Fatalf("ActivityBreakerFailure = %d, want fallback 5", cfg.ActivityBreakerFailure)
	}
}

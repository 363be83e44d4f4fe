package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LISTEN_ADDR", "DATABASE_DRIVER", "FEED_MAX_LIMIT", "STORAGE_BASE_DELAY"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr :8080, got %q", cfg.ListenAddr)
	}
	if cfg.DatabaseDriver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.DatabaseDriver)
	}
	if cfg.FeedMaxLimit != 20 {
		t.Fatalf("expected feed max limit 20, got %d", cfg.FeedMaxLimit)
	}
	if cfg.StorageBaseDelay != 100*time.Millisecond {
		t.Fatalf("expected 100ms base delay, got %v", cfg.StorageBaseDelay)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("DATABASE_DRIVER", " Postgres ")
	t.Setenv("FEED_MAX_LIMIT", "50")
	t.Setenv("FEED_FETCH_TIMEOUT", "250ms")
	t.Setenv("STORAGE_MAX_ATTEMPTS", "not-a-number")

	cfg := Load()
	if cfg.ListenAddr != ":9000" {
		t.Fatalf("expected listen addr derived from port, got %q", cfg.ListenAddr)
	}
	if cfg.DatabaseDriver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", cfg.DatabaseDriver)
	}
	if cfg.FeedMaxLimit != 50 {
		t.Fatalf("expected feed max limit 50, got %d", cfg.FeedMaxLimit)
	}
	if cfg.FeedFetchTimeout != 250*time.Millisecond {
		t.Fatalf("expected 250ms fetch timeout, got %v", cfg.FeedFetchTimeout)
	}
	if cfg.StorageMaxAttempts != 3 {
		t.Fatalf("invalid attempts should fall back to 3, got %d", cfg.StorageMaxAttempts)
	}
}

package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "STORE_BACKEND", "DATABASE_URL", "REDIS_URL", "TOKEN_SECRET", "TOKEN_TTL_SEC",
		"TOKEN_CACHE_SIZE", "ALLOWED_ORIGINS", "WS_SEND_QUEUE", "WS_RATE_PER_SEC", "WS_RATE_BURST",
		"WS_PING_INTERVAL_SEC", "LOBBY_TTL_SEC", "MESSAGES_DIR", "GAME_HISTORY_LIMIT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKEN_SECRET", "0123456789abcdef")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8081" || cfg.StoreBackend != BackendMemory || cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKEN_SECRET", "0123456789abcdef")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ALLOWED_ORIGINS", "example.com, *.example.org ,")
	t.Setenv("WS_RATE_PER_SEC", "2.5")
	t.Setenv("WS_SEND_QUEUE", "-3")
	t.Setenv("LOBBY_TTL_SEC", "60")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendRedis {
		t.Fatalf("backend inferred as %q", cfg.StoreBackend)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "*.example.org" {
		t.Fatalf("origins: %v", cfg.AllowedOrigins)
	}
	if cfg.WSRatePerSec != 2.5 || cfg.WSSendQueue != 32 || cfg.LobbyTTL != time.Minute {
		t.Fatalf("unexpected values: %+v", cfg)
	}
}

func TestLoad_Validation(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing secret error")
	}
	t.Setenv("TOKEN_SECRET", "0123456789abcdef")
	t.Setenv("STORE_BACKEND", "postgres")
	if _, err := Load(); err == nil {
		t.Fatalf("expected DATABASE_URL error")
	}
	t.Setenv("STORE_BACKEND", "cassandra")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestLoad_LobbyTTLZeroDisablesSweeper(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKEN_SECRET", "0123456789abcdef")
	t.Setenv("LOBBY_TTL_SEC", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LobbyTTL != 0 {
		t.Fatalf("LobbyTTL = %v, want 0", cfg.LobbyTTL)
	}
}

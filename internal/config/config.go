package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type AppConfig struct {
	HTTPAddr string

	StoreBackend string
	DatabaseURL  string
	RedisURL     string

	TokenSecret    string
	TokenTTL       time.Duration
	TokenCacheSize int

	AllowedOrigins []string

	WSSendQueue    int
	WSRatePerSec   float64
	WSRateBurst    int
	WSPingInterval time.Duration

	LobbyTTL         time.Duration
	MessagesDir      string
	GameHistoryLimit int
}

// Load reads the process environment. Call godotenv.Load beforehand to honor a .env file.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:         ":8081",
		TokenTTL:         24 * time.Hour,
		TokenCacheSize:   1024,
		AllowedOrigins:   []string{"*"},
		WSSendQueue:      32,
		WSRatePerSec:     5,
		WSRateBurst:      10,
		WSPingInterval:   30 * time.Second,
		LobbyTTL:         time.Hour,
		GameHistoryLimit: 50,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if cfg.StoreBackend == "" {
		switch {
		case cfg.DatabaseURL != "":
			cfg.StoreBackend = BackendPostgres
		case cfg.RedisURL != "":
			cfg.StoreBackend = BackendRedis
		default:
			cfg.StoreBackend = BackendMemory
		}
	}

	cfg.TokenSecret = os.Getenv("TOKEN_SECRET")
	if n, ok := positiveInt("TOKEN_TTL_SEC"); ok {
		cfg.TokenTTL = time.Duration(n) * time.Second
	}
	if n, ok := positiveInt("TOKEN_CACHE_SIZE"); ok {
		cfg.TokenCacheSize = n
	}

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	if n, ok := positiveInt("WS_SEND_QUEUE"); ok {
		cfg.WSSendQueue = n
	}
	if v := strings.TrimSpace(os.Getenv("WS_RATE_PER_SEC")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.WSRatePerSec = f
		}
	}
	if n, ok := positiveInt("WS_RATE_BURST"); ok {
		cfg.WSRateBurst = n
	}
	if n, ok := positiveInt("WS_PING_INTERVAL_SEC"); ok {
		cfg.WSPingInterval = time.Duration(n) * time.Second
	}

	// LOBBY_TTL_SEC=0 turns the waiting-room sweeper off.
	if v := strings.TrimSpace(os.Getenv("LOBBY_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.LobbyTTL = time.Duration(n) * time.Second
		}
	}
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	if n, ok := positiveInt("GAME_HISTORY_LIMIT"); ok {
		cfg.GameHistoryLimit = n
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if len(c.TokenSecret) < 16 {
		return errors.New("TOKEN_SECRET is required and must be at least 16 bytes")
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

func positiveInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package appbuilder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/park285/Cheese-Arena/internal/arena"
	"github.com/park285/Cheese-Arena/internal/auth"
	"github.com/park285/Cheese-Arena/internal/config"
	"github.com/park285/Cheese-Arena/internal/gateway"
	"github.com/park285/Cheese-Arena/internal/httpapi"
	"github.com/park285/Cheese-Arena/internal/hub"
	"github.com/park285/Cheese-Arena/internal/msgcat"
	"github.com/park285/Cheese-Arena/internal/obslog"
	"github.com/park285/Cheese-Arena/internal/render"
	"github.com/park285/Cheese-Arena/internal/rules"
	"github.com/park285/Cheese-Arena/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps is the assembled server.
type Deps struct {
	Store    store.Store
	Arena    *arena.Manager
	Registry *hub.Registry
	Gateway  *gateway.Gateway
	Handler  http.Handler

	closers []func() error
}

func New(cfg *config.AppConfig) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	d := &Deps{}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	d.Store = st
	d.closers = append(d.closers, st.Close)

	cache, err := d.tokenCache(cfg, st)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	issuer, err := auth.NewIssuer(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("init token issuer: %w", err)
	}
	verifier := auth.NewVerifier(issuer, cache)

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("load messages: %w", err)
	}

	d.Arena = arena.NewManager(st, rules.NewChessEngine())
	d.Registry = hub.NewRegistry()
	d.Gateway = gateway.New(d.Arena, verifier, d.Registry, hub.NewRouter(d.Registry), msgs, gateway.Options{
		OriginPatterns: cfg.AllowedOrigins,
		SendQueue:      cfg.WSSendQueue,
		RatePerSec:     cfg.WSRatePerSec,
		RateBurst:      cfg.WSRateBurst,
		PingInterval:   cfg.WSPingInterval,
	})
	d.Handler = httpapi.NewRouter(httpapi.Deps{
		Arena:          d.Arena,
		Accounts:       auth.NewAccounts(st, issuer),
		Verifier:       verifier,
		Games:          st,
		Realtime:       d.Gateway,
		Renderer:       render.NewRenderer(),
		AllowedOrigins: cfg.AllowedOrigins,
		HistoryLimit:   cfg.GameHistoryLimit,
	})

	obslog.L().Info("app_built",
		zap.String("store", cfg.StoreBackend),
		zap.Strings("origins", cfg.AllowedOrigins),
		zap.Duration("lobby_ttl", cfg.LobbyTTL),
	)
	return d, nil
}

func openStore(cfg *config.AppConfig) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	case config.BackendRedis:
		return store.NewRedis(cfg.RedisURL)
	case config.BackendMemory, "":
		obslog.L().Warn("store_memory_backend", zap.String("hint", "state is lost on restart"))
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// tokenCache shares the store's redis connection when there is one, opens a
// dedicated one when only REDIS_URL is set, and falls back to process memory.
func (d *Deps) tokenCache(cfg *config.AppConfig, st store.Store) (auth.TokenCache, error) {
	if rs, ok := st.(*store.Redis); ok {
		return auth.NewRedisCache(rs.Client()), nil
	}
	if cfg.RedisURL == "" {
		return auth.NewMemoryCache(cfg.TokenCacheSize), nil
	}
	opts, err := store.ParseRedisURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("token cache: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("token cache redis ping: %w", err)
	}
	d.closers = append(d.closers, rdb.Close)
	return auth.NewRedisCache(rdb), nil
}

// Close releases the store and any auxiliary connections.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

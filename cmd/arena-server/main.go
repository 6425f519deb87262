package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/Cheese-Arena/internal/appbuilder"
	appcfg "github.com/park285/Cheese-Arena/internal/config"
	"github.com/park285/Cheese-Arena/internal/obslog"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf(".env load error: %v", err)
	}
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	deps, err := appbuilder.New(cfg)
	if err != nil {
		obslog.L().Fatal("app_build_failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           deps.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		obslog.L().Info("http_listen", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		interval := cfg.LobbyTTL / 4
		if interval < time.Minute {
			interval = time.Minute
		}
		return deps.Arena.RunSweeper(gctx, interval, cfg.LobbyTTL)
	})
	g.Go(func() error {
		<-gctx.Done()
		obslog.L().Info("shutdown_begin")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := deps.Gateway.Shutdown(sctx); err != nil {
			obslog.L().Warn("gateway_shutdown_incomplete", zap.Error(err))
		}
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		obslog.L().Error("server_exit", zap.Error(err))
	}
	if err := deps.Close(); err != nil {
		obslog.L().Warn("store_close_failed", zap.Error(err))
	}
	obslog.L().Info("shutdown_complete")
}

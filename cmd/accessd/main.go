// Package main provides the entry point for the access-control core
// service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/overlaykit/access-core/internal/auth"
	"github.com/overlaykit/access-core/internal/authz"
	"github.com/overlaykit/access-core/internal/bootstrap"
	"github.com/overlaykit/access-core/internal/config"
	"github.com/overlaykit/access-core/internal/kv"
	"github.com/overlaykit/access-core/internal/metrics"
	"github.com/overlaykit/access-core/internal/migrate"
	"github.com/overlaykit/access-core/internal/ratelimit"
	"github.com/overlaykit/access-core/internal/server"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		slog.Error("accessd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	logger.Info("accessd starting", "version", version, "addr", cfg.ListenAddr, "prefix", cfg.ServicePrefix)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kv.Connect(ctx, cfg.RedisAddr, cfg.KVTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	registry := prometheus.NewRegistry()
	if err := metrics.Init(registry); err != nil {
		return err
	}

	authzStore := authz.NewStore(store, authz.Config{
		Prefix:          cfg.ServicePrefix,
		DefaultRole:     cfg.DefaultRole,
		AdminRole:       cfg.AdminRole,
		AdminPrincipals: cfg.AdminPrincipals,
		QuotaDefaults:   cfg.QuotaDefaults,
		QuotaWindow:     cfg.QuotaWindow,
	})

	runner := migrate.NewRunner(store, cfg.ServicePrefix)
	migrations := bootstrap.Migrations(cfg.ServicePrefix)
	sequencer := bootstrap.New(
		runner,
		migrations,
		authzStore,
		authz.DefaultRoles(cfg.DefaultRole, cfg.AdminRole),
		authz.DefaultPermissions(),
		logger,
	)

	keys := auth.NewKeyStore(store, cfg.ServicePrefix)
	authn := auth.NewAuthenticator(cfg.ServiceSecret, keys, auth.NewTokenVerifier([]byte(cfg.TokenSigningKey)))
	limiter := ratelimit.New(store, cfg.ServicePrefix, cfg.RateLimits(), logger)

	handler := server.NewHandler(authzStore, authn, keys, limiter, sequencer, runner, migrations, cfg.ServiceSecret, logger)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler.NewRouter(logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsListenAddr,
		Handler: metrics.Handler(registry),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsListenAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return metricsSrv.Shutdown(shutdownCtx)
}

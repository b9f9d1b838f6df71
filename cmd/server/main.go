package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appauth "gitea.jw6.us/james/calsched/internal/auth"
	"gitea.jw6.us/james/calsched/internal/config"
	httpserver "gitea.jw6.us/james/calsched/internal/http"
	"gitea.jw6.us/james/calsched/internal/itip"
	"gitea.jw6.us/james/calsched/internal/logging"
	"gitea.jw6.us/james/calsched/internal/policy"
	"gitea.jw6.us/james/calsched/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting calsched server")
	if len(cfg.TrustedProxies) == 0 {
		logger.Warn("no APP_TRUSTED_PROXIES configured; forwarding headers from every peer are trusted")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("create db pool: %w", err)
	}
	defer pool.Close()

	if cfg.DB.RunMigrations {
		if err := store.ApplyMigrations(ctx, pool); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	stor := store.New(pool)
	health := healthChecks{stor}

	var statuses itip.StatusStore = stor.Statuses
	if cfg.StatusBackend == config.StatusBackendRedis {
		client := store.NewRedis(cfg.Redis, logger)
		defer func() { _ = client.Close() }()
		statuses = store.NewRedisStatusStore(client)
		health = append(health, redisHealth{client})
	}

	mode, err := policy.ParseMode(cfg.AutoProcess)
	if err != nil {
		return err
	}
	gate, err := policy.Load(cfg.PolicyFile, mode)
	if err != nil {
		return err
	}
	logger.Info("autoprocess policy loaded", zap.String("mode", string(gate.Mode)), zap.Int("known_senders", len(gate.KnownSenders)))

	engine, err := itip.NewEngine(itip.Config{
		Store:     stor.Objects,
		Mutator:   stor.Objects,
		Conflicts: stor.Objects,
		Statuses:  statuses,
		Logger:    logger.Named("itip"),
	})
	if err != nil {
		return err
	}

	authService := appauth.NewService(cfg.APITokens)
	if cfg.OIDC.Issuer != "" {
		provider, err := oidc.NewProvider(ctx, cfg.OIDC.Issuer)
		if err != nil {
			return fmt.Errorf("discover oidc issuer: %w", err)
		}
		authService.WithOIDC(provider.Verifier(&oidc.Config{ClientID: cfg.OIDC.Audience}), cfg.OIDC.OwnerClaim)
		logger.Info("oidc bearer tokens enabled", zap.String("issuer", cfg.OIDC.Issuer))
	}

	router := httpserver.NewRouter(cfg, httpserver.Deps{
		Engine: engine,
		Policy: gate,
		Auth:   authService,
		Health: health,
		Logger: logger.Named("http"),
	})
	router.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

// healthChecks is ready when every dependency is.
type healthChecks []httpserver.HealthChecker

func (h healthChecks) HealthCheck(ctx context.Context) error {
	for _, c := range h {
		if err := c.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

type redisHealth struct {
	client *redis.Client
}

func (r redisHealth) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

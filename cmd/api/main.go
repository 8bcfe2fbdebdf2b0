// Package main is the entry point for the registry auth service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/GunarsK-portfolio/registry-auth/internal/config"
	"github.com/GunarsK-portfolio/registry-auth/internal/handlers"
	"github.com/GunarsK-portfolio/registry-auth/internal/logging"
	"github.com/GunarsK-portfolio/registry-auth/internal/metrics"
	"github.com/GunarsK-portfolio/registry-auth/internal/repository"
	"github.com/GunarsK-portfolio/registry-auth/internal/routes"
	"github.com/GunarsK-portfolio/registry-auth/internal/service"
	"github.com/GunarsK-portfolio/registry-auth/pkg/redis"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// @title Registry Auth Service API
// @version 1.0
// @description Login, token and profile endpoints of the package registry
// @host localhost:8084
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("auth service stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Initialize credential store
	store, cleanup, err := newStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	// Initialize services
	tokens, err := service.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}
	authService := service.NewAuthService(store, tokens, log, m)
	profileService := service.NewProfileService(store, tokens, service.ProfileOptions{TFAEnabled: cfg.TFAEnabled}, log, m)

	// Setup router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	routes.Setup(router, routes.Deps{
		AuthHandler:    handlers.NewAuthHandler(authService, log),
		ProfileHandler: handlers.NewProfileHandler(profileService, log),
		HealthHandler:  handlers.NewHealthHandler(store, log),
		Tokens:         tokens,
		Log:            log,
		Metrics:        m,
		Gatherer:       registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":    cfg.Port,
			"backend": cfg.Backend,
		}).Info("starting auth service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newStore builds the configured credential backend. The returned cleanup
// releases its resources.
func newStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (repository.CredentialStore, func(), error) {
	limits := repository.Limits{MaxUsers: cfg.MaxUsers, BcryptCost: cfg.BcryptCost}

	switch cfg.Backend {
	case config.BackendRedis:
		client, err := redis.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewRedisStore(client, cfg.RedisKeyPrefix, limits, log)
		return store, func() { client.Close() }, nil
	default:
		store := repository.NewHtpasswdStore(cfg.HtpasswdPath, limits, log)
		watchCtx, cancel := context.WithCancel(ctx)
		if err := store.Watch(watchCtx); err != nil {
			// Edits made outside the service are picked up on restart only.
			log.WithError(err).Warn("htpasswd watcher unavailable")
		}
		return store, cancel, nil
	}
}

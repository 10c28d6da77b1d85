// Package main is the entry point for the llmgate server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/openloom/llmgate/internal/api"
	"github.com/openloom/llmgate/internal/config"
	"github.com/openloom/llmgate/internal/gateway"
	"github.com/openloom/llmgate/internal/observability"
	"github.com/openloom/llmgate/internal/provider"
	"github.com/openloom/llmgate/internal/provider/anthropic"
	"github.com/openloom/llmgate/internal/provider/openai"
	"github.com/openloom/llmgate/internal/provider/openailike"
	"github.com/openloom/llmgate/internal/quota"
	"github.com/openloom/llmgate/internal/ratelimit"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	cfgManager, err := config.NewManager(*configPath, slog.Default())
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting llmgate", "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	registry := provider.NewRegistry(logger)
	registry.RegisterFactory("openai", openai.New)
	registry.RegisterFactory("anthropic", anthropic.New)
	registry.RegisterFactory("openai-like", openailike.New)

	for _, provCfg := range cfg.Providers {
		err := registry.CreateClient(provCfg.Type, provider.ClientConfig{
			Name:    provCfg.Name,
			APIKey:  provCfg.APIKey,
			BaseURL: provCfg.BaseURL,
			Headers: provCfg.Headers,
		}, &provider.Descriptor{
			Name:           provCfg.Name,
			Models:         provCfg.Models,
			ContextLengths: provCfg.ContextLengths,
			Priority:       provCfg.Priority,
			Enabled:        provCfg.IsEnabled(),
		})
		if err != nil {
			logger.Error("failed to create provider", "name", provCfg.Name, "error", err)
			os.Exit(1)
		}
	}

	limiter, localLimiter := newLimiter(cfg, logger)

	store, err := newQuotaStore(ctx, cfg.Quota, logger)
	if err != nil {
		logger.Error("failed to initialize quota store", "error", err)
		os.Exit(1)
	}
	ledger := quota.NewLedger(store, logger)

	gw := gateway.New(registry, limiter, ledger, gateway.Config{
		DefaultMaxTokens: cfg.Gateway.DefaultMaxTokens,
		RequestTimeout:   cfg.Gateway.RequestTimeout,
		UnhealthyTTL:     cfg.Gateway.UnhealthyTTL,
		MaxFailovers:     cfg.Gateway.MaxFailovers,
		Retry: gateway.RetryPolicy{
			MaxAttempts: cfg.Gateway.RetryAttempts,
			Backoff:     cfg.Gateway.RetryBackoff,
		},
	}, logger)

	// Ceiling changes take effect on config reload without a restart.
	cfgManager.OnChange(func(newCfg *config.Config) {
		if localLimiter != nil {
			localLimiter.SetCeilings(newCfg.RateLimit.TierCeilings())
		}
	})
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	handler := api.NewHandler(gw, newHeaderResolver(), cfg.Server.MaxBodyBytes, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}
	_ = cfgManager.Close()
	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// newLimiter builds the rate limiter stack: a local fixed-window limiter,
// optionally fronted by Redis so every replica shares the same windows.
// With rate limiting disabled every request is admitted.
func newLimiter(cfg *config.Config, logger *slog.Logger) (ratelimit.Limiter, *ratelimit.WindowLimiter) {
	if !cfg.RateLimit.Enabled {
		logger.Warn("rate limiting disabled, admitting all traffic")
		return ratelimit.NewNoopLimiter(), nil
	}

	limiterCfg := cfg.RateLimit.LimiterConfig()
	limiterCfg.Logger = logger

	local := ratelimit.NewWindowLimiter(limiterCfg)
	if !cfg.Redis.Enabled {
		return local, local
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	logger.Info("distributed rate limiting enabled", "addr", cfg.Redis.Addr)
	return ratelimit.NewRedisLimiter(client, limiterCfg, local), local
}

func newQuotaStore(ctx context.Context, cfg config.QuotaConfig, logger *slog.Logger) (quota.Store, error) {
	if cfg.Store != "postgres" {
		return quota.NewMemoryStore(), nil
	}

	logger.Info("using postgres quota store")
	pgCfg := quota.DefaultPostgresConfig()
	pgCfg.DSN = cfg.PostgresDSN
	store, err := quota.NewPostgresStore(pgCfg)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

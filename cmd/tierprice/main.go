// Tierprice - Tier-based discount resolution and pricing service.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/tierprice/internal/api"
	"github.com/opensource-finance/tierprice/internal/audit"
	"github.com/opensource-finance/tierprice/internal/bus"
	"github.com/opensource-finance/tierprice/internal/cache"
	"github.com/opensource-finance/tierprice/internal/clock"
	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/opensource-finance/tierprice/internal/metrics"
	"github.com/opensource-finance/tierprice/internal/pricing"
	"github.com/opensource-finance/tierprice/internal/repository"
	"github.com/opensource-finance/tierprice/internal/rules"
	"github.com/opensource-finance/tierprice/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/multierr"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A missing .env is fine; the environment may already be set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg, err := domain.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting tierprice",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"mode", cfg.Mode,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"strategy", cfg.Pricing.DefaultStrategy,
	)

	if cfg.Tracing.Enabled {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		slog.Info("trace propagation enabled", "service", cfg.Tracing.ServiceName)
	}

	// Create context with cancellation
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		repo.Close()
		os.Exit(1)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		multierr.Combine(cacheImpl.Close(), repo.Close())
		os.Exit(1)
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pricingMetrics := metrics.NewPricingMetrics(registry)

	// Pricing engine
	pricingCache := cache.NewPricingCache(cacheImpl, cfg.Cache, pricingMetrics)
	conditions, err := rules.NewConditionEngine()
	if err != nil {
		slog.Error("failed to initialize condition engine", "error", err)
		multierr.Combine(busImpl.Close(), cacheImpl.Close(), repo.Close())
		os.Exit(1)
	}
	clk := clock.Real{}
	resolver := rules.NewResolver(repo, pricingCache, conditions, clk, cfg.Pricing.MaxWorkers)
	auditLogger := audit.NewLogger(busImpl, clk)
	calculator := pricing.NewCalculator(resolver, pricingCache, auditLogger, pricingMetrics, clk, cfg.Pricing)
	slog.Info("pricing engine initialized",
		"latency_budget_ms", cfg.Pricing.LatencyBudget.Milliseconds(),
		"max_workers", cfg.Pricing.MaxWorkers,
	)

	// Async worker: audit persistence and cache invalidation
	asyncWorker := worker.NewWorker(busImpl, repo, pricingCache)
	if err := asyncWorker.Start(worker.Config{PersistAudit: true, ApplyInvalidations: true}); err != nil {
		slog.Error("failed to start async worker", "error", err)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Dependencies{
		Calculator:   calculator,
		Resolver:     resolver,
		Store:        repo,
		Cache:        cacheImpl,
		PricingCache: pricingCache,
		Bus:          busImpl,
		HTTPMetrics:  metrics.NewHTTPMetrics(registry),
		Version:      Version,
	}, registry)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	slog.Info("tierprice is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err = multierr.Combine(
		srv.Shutdown(shutdownCtx),
		asyncWorker.Stop(),
		busImpl.Close(),
		cacheImpl.Close(),
		repo.Close(),
	)
	if err != nil {
		slog.Error("unclean shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("tierprice shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
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

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |               TIERPRICE                   |")
	fmt.Println("  |     Tier-Based Discount Pricing Engine    |")
	fmt.Println("  |        One customer, one best price.      |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Mode:     %s\n", cfg.Mode)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /prices                                   - Price one product")
	fmt.Println("    POST /prices/cart                              - Price a cart")
	fmt.Println("    GET  /customers/{c}/products/{p}/savings       - Buy more, save more")
	fmt.Println("    GET  /customers/{c}/products/{p}/rules         - Applicable rules")
	fmt.Println("    GET  /customers/{c}/assignments                - Tier assignments")
	fmt.Println("    GET  /customers/{c}/rules/{r}/assignment       - Tier under one rule")
	fmt.Println("    GET  /rules/{r}/tiers                          - Tier discounts")
	fmt.Println("    GET  /rules/{r}/customers                      - Customers by tier")
	fmt.Println("    POST /cache/invalidate                         - Invalidate cached data")
	fmt.Println("    GET  /audit-logs                               - Pricing audit trail")
	fmt.Println("    GET  /health, /ready, /metrics                 - Operations")
	fmt.Println()
}

// Seed loads products, discount rules, tier rows and customer assignments
// from a YAML fixtures file into the configured repository.
//
// Usage:
//
//	go run cmd/seed/main.go -fixtures internal/repository/testdata/fixtures.yaml
//
// With a NATS bus configured, running services are told to drop their caches.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/tierprice/internal/bus"
	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/opensource-finance/tierprice/internal/repository"
)

func main() {
	path := flag.String("fixtures", "internal/repository/testdata/fixtures.yaml", "Path to fixtures YAML")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*path); err != nil {
		slog.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := domain.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()

	f, err := repository.LoadFixturesFile(ctx, repo, path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	slog.Info("fixtures loaded",
		"driver", cfg.Repository.Driver,
		"products", len(f.Products),
		"rules", len(f.Rules),
	)

	// A channel bus only reaches this process
	if cfg.EventBus.Type != "nats" {
		return nil
	}

	b, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer b.Close()

	payload, err := json.Marshal(domain.InvalidationRequest{Scope: domain.InvalidateAll})
	if err != nil {
		return err
	}
	if err := b.Publish(ctx, domain.TopicCacheInvalidate, payload); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	slog.Info("cache invalidation published", "topic", domain.TopicCacheInvalidate)
	return nil
}

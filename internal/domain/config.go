package domain

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the environment variable prefix for configuration.
const EnvPrefix = "TIERPRICE"

// Config holds the complete tierprice configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" envconfig:"SERVER"`

	// Mode selects the baseline: "default" or "pro"
	Mode string `json:"mode" envconfig:"MODE"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" envconfig:"REPOSITORY"`
	Cache      CacheConfig      `json:"cache" envconfig:"CACHE"`
	EventBus   EventBusConfig   `json:"eventBus" envconfig:"BUS"`
	Pricing    PricingConfig    `json:"pricing" envconfig:"PRICING"`

	// Observability
	Logging LoggingConfig `json:"logging" envconfig:"LOG"`
	Tracing TracingConfig `json:"tracing" envconfig:"TRACING"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `json:"host" envconfig:"HOST"`
	Port           int           `json:"port" envconfig:"PORT"`
	ReadTimeout    int           `json:"readTimeout" envconfig:"READ_TIMEOUT"`   // seconds
	WriteTimeout   int           `json:"writeTimeout" envconfig:"WRITE_TIMEOUT"` // seconds
	RequestTimeout time.Duration `json:"requestTimeout" envconfig:"REQUEST_TIMEOUT"`
}

// PricingConfig tunes the pricing engine.
type PricingConfig struct {
	// LatencyBudget is the soft per-calculation budget; exceeding it logs a warning.
	LatencyBudget time.Duration `json:"latencyBudget" envconfig:"LATENCY_BUDGET"`

	// MaxWorkers bounds concurrent line pricing in carts and summaries.
	MaxWorkers int `json:"maxWorkers" envconfig:"MAX_WORKERS"`

	// DefaultStrategy is used when a request names none.
	DefaultStrategy SelectionStrategy `json:"defaultStrategy" envconfig:"DEFAULT_STRATEGY"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`   // debug, info, warn, error
	Format string `json:"format" envconfig:"FORMAT"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"ENABLED"`
	ServiceName string `json:"serviceName" envconfig:"SERVICE_NAME"`
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory
// cache and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			RequestTimeout: 10 * time.Second,
		},
		Mode: "default",
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./tierprice.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  10000,
			LocalTTL:      5 * time.Minute,
			RulesTTL:      5 * time.Minute,
			RuleTiersTTL:  5 * time.Minute,
			AssignmentTTL: 10 * time.Minute,
			ProductTTL:    15 * time.Minute,
			PricingTTL:    3 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Pricing: PricingConfig{
			LatencyBudget:   200 * time.Millisecond,
			MaxWorkers:      8,
			DefaultStrategy: StrategyBestForCustomer,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "tierprice",
		},
	}
}

// ProConfig returns a multi-node configuration: PostgreSQL, Redis behind
// a local L1, and NATS.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Mode = "pro"
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "tierprice",
	}
	cfg.Cache.Type = "redis"
	cfg.Cache.RedisAddr = "localhost:6379"
	cfg.Cache.EnableTwoPhase = true
	cfg.Cache.LocalMaxSize = 1000
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig picks a baseline from TIERPRICE_MODE and overlays any
// TIERPRICE_* environment variables on top of it.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if os.Getenv(EnvPrefix+"_MODE") == "pro" {
		cfg = ProConfig()
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.Pricing.DefaultStrategy.Valid() {
		return nil, fmt.Errorf("%w: unknown pricing strategy %q", ErrInvalidInput, cfg.Pricing.DefaultStrategy)
	}
	return cfg, nil
}

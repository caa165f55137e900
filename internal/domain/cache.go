package domain

import (
	"context"
	"time"
)

// Cache is a namespaced byte cache safe for concurrent use.
// Implementations: local LRU, Redis, or both in two phases.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Set stores a value in cache with expiration. A zero ttl uses the
	// implementation default.
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, namespace, key string) error

	// DeletePrefix removes every key in namespace starting with prefix.
	// An empty prefix clears the namespace.
	DeletePrefix(ctx context.Context, namespace, prefix string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Cache namespaces used by the pricing engine.
const (
	NamespaceRules          = "rules"
	NamespaceRuleTiers      = "rule_tiers"
	NamespaceTierAssignment = "tier_assignment"
	NamespaceProduct        = "product"
	NamespacePricing        = "pricing"
)

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `envconfig:"TYPE"`

	// Local LRU cache settings
	LocalMaxSize int           `envconfig:"LOCAL_MAX_SIZE"`
	LocalTTL     time.Duration `envconfig:"LOCAL_TTL"`

	// Redis settings
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB"`

	// Two-phase settings
	EnableTwoPhase bool `envconfig:"TWO_PHASE"` // If true, check local first, then Redis

	// Per-namespace TTLs
	RulesTTL      time.Duration `envconfig:"RULES_TTL"`
	RuleTiersTTL  time.Duration `envconfig:"RULE_TIERS_TTL"`
	AssignmentTTL time.Duration `envconfig:"ASSIGNMENT_TTL"`
	ProductTTL    time.Duration `envconfig:"PRODUCT_TTL"`
	PricingTTL    time.Duration `envconfig:"PRICING_TTL"`
}

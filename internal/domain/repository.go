package domain

import (
	"context"
	"time"
)

// RuleStore is typed query access to rules, tiers, assignments and products.
type RuleStore interface {
	// Rules active on date, most specific level first, then newest first.
	ListActiveRules(ctx context.Context, date time.Time) ([]DiscountRule, error)
	GetRule(ctx context.Context, ruleID string) (*DiscountRule, error)

	// Batch lookups keyed by a matched rule-id set.
	ListTiersByRuleIDs(ctx context.Context, ruleIDs []string) ([]DiscountRuleTier, error)
	ListAssignmentsByRuleIDs(ctx context.Context, ruleIDs []string, customerID string) ([]CustomerTierAssignment, error)

	// Tier operations
	ListTiersByRule(ctx context.Context, ruleID string) ([]DiscountRuleTier, error)

	// Assignment operations
	GetAssignment(ctx context.Context, customerID, ruleID string) (*CustomerTierAssignment, error)
	ListAssignmentsByCustomer(ctx context.Context, customerID string) ([]CustomerTierAssignment, error)
	ListAssignmentsByRule(ctx context.Context, ruleID string, tier *Tier) ([]CustomerTierAssignment, error)
	CountAssignmentsByCustomer(ctx context.Context, customerID string) (int, error)

	// Product hierarchy
	GetProduct(ctx context.Context, productID string) (*Product, error)

	// Write side, used by fixture loading
	SaveRule(ctx context.Context, rule *DiscountRule) error
	SaveTier(ctx context.Context, tier *DiscountRuleTier) error
	SaveAssignment(ctx context.Context, a *CustomerTierAssignment) error
	SaveProduct(ctx context.Context, p *Product) error

	// Audit trail
	SaveAuditLog(ctx context.Context, event *AuditEvent) error
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]*AuditEvent, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `envconfig:"DRIVER"`

	// SQLite specific
	SQLitePath string `envconfig:"SQLITE_PATH"`

	// PostgreSQL specific
	PostgresHost     string `envconfig:"POSTGRES_HOST"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT"`
	PostgresUser     string `envconfig:"POSTGRES_USER"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD"`
	PostgresDB       string `envconfig:"POSTGRES_DB"`
	PostgresSSLMode  string `envconfig:"POSTGRES_SSLMODE"`

	// Connection pool settings
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME"`
}

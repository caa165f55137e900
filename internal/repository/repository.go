// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/shopspring/decimal"
)

// SQLRepository implements domain.RuleStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.bootstrap(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) bootstrap() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const ruleColumns = `id, name, description, rule_type, level, target_id, target_name,
	start_date, end_date, status, condition_expr, created_by, created_at, updated_at`

// ListActiveRules returns rules eligible on date, most specific level first,
// newest first within a level.
func (r *SQLRepository) ListActiveRules(ctx context.Context, date time.Time) ([]domain.DiscountRule, error) {
	day := domain.DateKey(date)
	query := `
		SELECT ` + ruleColumns + `
		FROM discount_rules
		WHERE status = ?
		  AND start_date <= ?
		  AND (end_date IS NULL OR end_date >= ?)
		ORDER BY CASE level
			WHEN 'product' THEN 4
			WHEN 'subcategory' THEN 3
			WHEN 'category' THEN 2
			ELSE 1 END DESC,
			created_at DESC,
			id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(domain.RuleStatusActive), day, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.DiscountRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}

	return rules, rows.Err()
}

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.DiscountRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM discount_rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

// SaveRule upserts a discount rule.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.DiscountRule) error {
	if rule.ID == "" || rule.TargetID == "" {
		return fmt.Errorf("%w: rule id and target id are required", domain.ErrInvalidInput)
	}
	if !rule.Level.Valid() {
		return fmt.Errorf("%w: unknown rule level %q", domain.ErrInvalidInput, rule.Level)
	}
	if rule.StartDate.IsZero() {
		return fmt.Errorf("%w: rule start date is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	var endDate sql.NullString
	if rule.EndDate != nil {
		endDate = sql.NullString{String: domain.DateKey(*rule.EndDate), Valid: true}
	}

	query := `
		INSERT INTO discount_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			rule_type = excluded.rule_type,
			level = excluded.level,
			target_id = excluded.target_id,
			target_name = excluded.target_name,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status,
			condition_expr = excluded.condition_expr,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, string(rule.RuleType),
		string(rule.Level), rule.TargetID, rule.TargetName,
		domain.DateKey(rule.StartDate), endDate, string(rule.Status),
		rule.Condition, rule.CreatedBy,
		formatTimestamp(rule.CreatedAt), formatTimestamp(rule.UpdatedAt),
	)
	return err
}

const tierColumns = `id, rule_id, tier, discount_type, discount_value, min_quantity, max_quantity, created_at`

// ListTiersByRuleIDs batch-loads tiers for a set of rules, ordered by rule then tier.
func (r *SQLRepository) ListTiersByRuleIDs(ctx context.Context, ruleIDs []string) ([]domain.DiscountRuleTier, error) {
	if len(ruleIDs) == 0 {
		return nil, nil
	}

	clause, args := r.inClause("rule_id", ruleIDs)
	query := `
		SELECT ` + tierColumns + `
		FROM discount_rule_tiers
		WHERE ` + clause + `
		ORDER BY rule_id, tier, min_quantity DESC
	`
	return r.queryTiers(ctx, query, args...)
}

// ListTiersByRule loads all tiers of a rule ordered by tier, then highest
// minimum quantity first.
func (r *SQLRepository) ListTiersByRule(ctx context.Context, ruleID string) ([]domain.DiscountRuleTier, error) {
	query := `
		SELECT ` + tierColumns + `
		FROM discount_rule_tiers
		WHERE rule_id = ?
		ORDER BY tier ASC, min_quantity DESC
	`
	return r.queryTiers(ctx, query, ruleID)
}

// SaveTier upserts a tier row.
func (r *SQLRepository) SaveTier(ctx context.Context, t *domain.DiscountRuleTier) error {
	if t.ID == "" || t.RuleID == "" {
		return fmt.Errorf("%w: tier id and rule id are required", domain.ErrInvalidInput)
	}
	if t.Tier.Priority() == 0 {
		return fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidInput, t.Tier)
	}
	if !t.DiscountType.Valid() {
		return fmt.Errorf("%w: unknown discount type %q", domain.ErrInvalidInput, t.DiscountType)
	}
	if t.MaxQuantity != nil && *t.MaxQuantity < t.MinQuantity {
		return fmt.Errorf("%w: max quantity %d below min quantity %d", domain.ErrInvalidInput, *t.MaxQuantity, t.MinQuantity)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var maxQty sql.NullInt64
	if t.MaxQuantity != nil {
		maxQty = sql.NullInt64{Int64: int64(*t.MaxQuantity), Valid: true}
	}

	query := `
		INSERT INTO discount_rule_tiers (` + tierColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier = excluded.tier,
			discount_type = excluded.discount_type,
			discount_value = excluded.discount_value,
			min_quantity = excluded.min_quantity,
			max_quantity = excluded.max_quantity
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		t.ID, t.RuleID, string(t.Tier), string(t.DiscountType),
		t.DiscountValue.String(), t.MinQuantity, maxQty,
		formatTimestamp(t.CreatedAt),
	)
	return err
}

func (r *SQLRepository) queryTiers(ctx context.Context, query string, args ...any) ([]domain.DiscountRuleTier, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []domain.DiscountRuleTier
	for rows.Next() {
		var t domain.DiscountRuleTier
		var tier, discountType, value, createdAt string
		var maxQty sql.NullInt64

		if err := rows.Scan(
			&t.ID, &t.RuleID, &tier, &discountType,
			&value, &t.MinQuantity, &maxQty, &createdAt,
		); err != nil {
			return nil, err
		}

		t.Tier = domain.Tier(tier)
		t.DiscountType = domain.DiscountType(discountType)
		if t.DiscountValue, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("tier %s: discount value: %w", t.ID, err)
		}
		if maxQty.Valid {
			m := int(maxQty.Int64)
			t.MaxQuantity = &m
		}
		if t.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("tier %s: %w", t.ID, err)
		}

		tiers = append(tiers, t)
	}

	return tiers, rows.Err()
}

const assignmentColumns = `id, rule_id, customer_id, tier, assigned_date, assigned_by, notes, created_at, updated_at`

// ListAssignmentsByRuleIDs batch-loads a customer's assignments for a set of rules.
func (r *SQLRepository) ListAssignmentsByRuleIDs(ctx context.Context, ruleIDs []string, customerID string) ([]domain.CustomerTierAssignment, error) {
	if len(ruleIDs) == 0 {
		return nil, nil
	}

	clause, args := r.inClause("rule_id", ruleIDs)
	query := `
		SELECT ` + assignmentColumns + `
		FROM customer_tier_assignments
		WHERE ` + clause + ` AND customer_id = ?
	`
	return r.queryAssignments(ctx, query, append(args, customerID)...)
}

// GetAssignment retrieves the customer's assignment under a rule.
func (r *SQLRepository) GetAssignment(ctx context.Context, customerID, ruleID string) (*domain.CustomerTierAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM customer_tier_assignments
		WHERE customer_id = ? AND rule_id = ?
	`
	assignments, err := r.queryAssignments(ctx, query, customerID, ruleID)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, domain.ErrNotFound
	}
	return &assignments[0], nil
}

// ListAssignmentsByCustomer returns every assignment of a customer, newest first.
func (r *SQLRepository) ListAssignmentsByCustomer(ctx context.Context, customerID string) ([]domain.CustomerTierAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM customer_tier_assignments
		WHERE customer_id = ?
		ORDER BY assigned_date DESC, id ASC
	`
	return r.queryAssignments(ctx, query, customerID)
}

// ListAssignmentsByRule returns the customers assigned under a rule,
// optionally restricted to one tier.
func (r *SQLRepository) ListAssignmentsByRule(ctx context.Context, ruleID string, tier *domain.Tier) ([]domain.CustomerTierAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM customer_tier_assignments
		WHERE rule_id = ?`
	args := []any{ruleID}
	if tier != nil {
		query += ` AND tier = ?`
		args = append(args, string(*tier))
	}
	query += `
		ORDER BY tier ASC, assigned_date DESC, id ASC`

	return r.queryAssignments(ctx, query, args...)
}

// CountAssignmentsByCustomer counts a customer's tier assignments.
func (r *SQLRepository) CountAssignmentsByCustomer(ctx context.Context, customerID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT COUNT(*) FROM customer_tier_assignments WHERE customer_id = ?`),
		customerID,
	).Scan(&n)
	return n, err
}

// SaveAssignment upserts an assignment, keeping one per (rule, customer).
func (r *SQLRepository) SaveAssignment(ctx context.Context, a *domain.CustomerTierAssignment) error {
	if a.ID == "" || a.RuleID == "" || a.CustomerID == "" {
		return fmt.Errorf("%w: assignment id, rule id and customer id are required", domain.ErrInvalidInput)
	}
	if a.Tier.Priority() == 0 {
		return fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidInput, a.Tier)
	}

	now := time.Now().UTC()
	if a.AssignedDate.IsZero() {
		a.AssignedDate = now
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := `
		INSERT INTO customer_tier_assignments (` + assignmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id, customer_id) DO UPDATE SET
			tier = excluded.tier,
			assigned_date = excluded.assigned_date,
			assigned_by = excluded.assigned_by,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.RuleID, a.CustomerID, string(a.Tier),
		formatTimestamp(a.AssignedDate), a.AssignedBy, a.Notes,
		formatTimestamp(a.CreatedAt), formatTimestamp(a.UpdatedAt),
	)
	return err
}

func (r *SQLRepository) queryAssignments(ctx context.Context, query string, args ...any) ([]domain.CustomerTierAssignment, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []domain.CustomerTierAssignment
	for rows.Next() {
		var a domain.CustomerTierAssignment
		var tier, assignedDate, createdAt, updatedAt string
		var assignedBy, notes sql.NullString

		if err := rows.Scan(
			&a.ID, &a.RuleID, &a.CustomerID, &tier,
			&assignedDate, &assignedBy, &notes, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}

		a.Tier = domain.Tier(tier)
		a.AssignedBy = assignedBy.String
		a.Notes = notes.String
		if a.AssignedDate, err = parseTimestamp(assignedDate); err != nil {
			return nil, fmt.Errorf("assignment %s: %w", a.ID, err)
		}
		if a.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("assignment %s: %w", a.ID, err)
		}
		if a.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
			return nil, fmt.Errorf("assignment %s: %w", a.ID, err)
		}

		assignments = append(assignments, a)
	}

	return assignments, rows.Err()
}

// GetProduct retrieves a product's hierarchy fields.
func (r *SQLRepository) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	query := `SELECT id, name, brand, category, subcategory FROM products WHERE id = ?`

	var p domain.Product
	var name sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), productID).Scan(
		&p.ID, &name, &p.Brand, &p.Category, &p.Subcategory,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Name = name.String
	return &p, nil
}

// SaveProduct upserts a product.
func (r *SQLRepository) SaveProduct(ctx context.Context, p *domain.Product) error {
	if p.ID == "" {
		return fmt.Errorf("%w: product id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO products (id, name, brand, category, subcategory)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			brand = excluded.brand,
			category = excluded.category,
			subcategory = excluded.subcategory
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), p.ID, p.Name, p.Brand, p.Category, p.Subcategory)
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.DiscountRule, error) {
	var rule domain.DiscountRule
	var ruleType, level, status, startDate, createdAt, updatedAt string
	var description, targetName, condition, createdBy, endDate sql.NullString

	if err := row.Scan(
		&rule.ID, &rule.Name, &description, &ruleType, &level,
		&rule.TargetID, &targetName, &startDate, &endDate, &status,
		&condition, &createdBy, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.RuleType = domain.RuleType(ruleType)
	rule.Level = domain.Level(level)
	rule.TargetName = targetName.String
	rule.Status = domain.RuleStatus(status)
	rule.Condition = condition.String
	rule.CreatedBy = createdBy.String

	var err error
	if rule.StartDate, err = time.Parse(domain.DateLayout, startDate); err != nil {
		return nil, fmt.Errorf("rule %s: start date: %w", rule.ID, err)
	}
	if endDate.Valid {
		end, err := time.Parse(domain.DateLayout, endDate.String)
		if err != nil {
			return nil, fmt.Errorf("rule %s: end date: %w", rule.ID, err)
		}
		rule.EndDate = &end
	}
	if rule.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	if rule.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	return &rule, nil
}

// inClause builds a membership predicate: ANY over an array on PostgreSQL,
// an expanded IN list elsewhere.
func (r *SQLRepository) inClause(column string, values []string) (string, []any) {
	if r.driver == "postgres" {
		return column + " = ANY(?)", []any{pq.Array(values)}
	}

	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return column + " IN (" + placeholders + ")", args
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(domain.TimestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(domain.TimestampLayout, s)
	if err != nil {
		// Hand-written rows may carry any RFC 3339 form.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

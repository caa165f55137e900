package repository

// Schema definitions for the tierprice database.
// Compatible with both SQLite and PostgreSQL. Dates are YYYY-MM-DD text,
// timestamps fixed-width UTC text and money decimal text, so comparisons
// and ordering behave the same on both drivers.

const schemaProducts = `
CREATE TABLE IF NOT EXISTS products (
    id TEXT PRIMARY KEY,
    name TEXT,
    brand TEXT NOT NULL,
    category TEXT NOT NULL,
    subcategory TEXT NOT NULL
);
`

const schemaDiscountRules = `
CREATE TABLE IF NOT EXISTS discount_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    rule_type TEXT NOT NULL,
    level TEXT NOT NULL,
    target_id TEXT NOT NULL,
    target_name TEXT,
    start_date TEXT NOT NULL,
    end_date TEXT,
    status TEXT NOT NULL,
    condition_expr TEXT,
    created_by TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_discount_rules_active ON discount_rules(status, start_date, end_date);
CREATE INDEX IF NOT EXISTS idx_discount_rules_target ON discount_rules(level, target_id);
`

const schemaDiscountRuleTiers = `
CREATE TABLE IF NOT EXISTS discount_rule_tiers (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL REFERENCES discount_rules(id) ON DELETE CASCADE,
    tier TEXT NOT NULL,
    discount_type TEXT NOT NULL,
    discount_value TEXT NOT NULL,
    min_quantity INTEGER NOT NULL DEFAULT 1,
    max_quantity INTEGER,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_discount_rule_tiers_rule ON discount_rule_tiers(rule_id, tier);
`

const schemaCustomerTierAssignments = `
CREATE TABLE IF NOT EXISTS customer_tier_assignments (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL REFERENCES discount_rules(id) ON DELETE CASCADE,
    customer_id TEXT NOT NULL,
    tier TEXT NOT NULL,
    assigned_date TEXT NOT NULL,
    assigned_by TEXT,
    notes TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE (rule_id, customer_id)
);

CREATE INDEX IF NOT EXISTS idx_customer_tier_assignments_customer ON customer_tier_assignments(customer_id);
`

const schemaAuditLogs = `
CREATE TABLE IF NOT EXISTS pricing_audit_logs (
    id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    product_id TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    base_price TEXT NOT NULL,
    final_price TEXT NOT NULL,
    discount_amount TEXT NOT NULL,
    discount_percentage TEXT NOT NULL,
    rule_id TEXT,
    rule_name TEXT,
    tier_name TEXT,
    evaluated_discounts TEXT,
    selection_reason TEXT,
    error_message TEXT,
    duration_ms INTEGER NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pricing_audit_logs_customer ON pricing_audit_logs(customer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_pricing_audit_logs_type ON pricing_audit_logs(event_type, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaProducts,
		schemaDiscountRules,
		schemaDiscountRuleTiers,
		schemaCustomerTierAssignments,
		schemaAuditLogs,
	}
}

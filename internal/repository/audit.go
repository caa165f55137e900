package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/shopspring/decimal"
)

const auditColumns = `id, event_type, severity, status, customer_id, product_id, quantity,
	base_price, final_price, discount_amount, discount_percentage,
	rule_id, rule_name, tier_name, evaluated_discounts, selection_reason,
	error_message, duration_ms, created_at`

// SaveAuditLog stores a pricing audit event. Re-delivered events are ignored.
func (r *SQLRepository) SaveAuditLog(ctx context.Context, e *domain.AuditEvent) error {
	if e.ID == "" || e.EventType == "" {
		return fmt.Errorf("%w: audit event id and type are required", domain.ErrInvalidInput)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var evaluated sql.NullString
	if len(e.EvaluatedDiscounts) > 0 {
		data, err := json.Marshal(e.EvaluatedDiscounts)
		if err != nil {
			return fmt.Errorf("encode evaluated discounts: %w", err)
		}
		evaluated = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO pricing_audit_logs (` + auditColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, string(e.EventType), e.Severity, e.Status,
		e.CustomerID, e.ProductID, e.Quantity,
		e.BasePrice.String(), e.FinalPrice.String(),
		e.DiscountAmount.String(), e.DiscountPercentage.String(),
		e.RuleID, e.RuleName, string(e.TierName), evaluated,
		e.SelectionReason, e.ErrorMessage, e.DurationMs,
		formatTimestamp(e.CreatedAt),
	)
	return err
}

// ListAuditLogs returns audit events matching filter, newest first.
func (r *SQLRepository) ListAuditLogs(ctx context.Context, filter domain.AuditLogFilter) ([]*domain.AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM pricing_audit_logs WHERE 1 = 1`
	var args []any

	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	if filter.ProductID != "" {
		query += ` AND product_id = ?`
		args = append(args, filter.ProductID)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var eventType, basePrice, finalPrice, amount, pct, createdAt string
		var ruleID, ruleName, tierName, evaluated, reason, errMsg sql.NullString

		if err := rows.Scan(
			&e.ID, &eventType, &e.Severity, &e.Status,
			&e.CustomerID, &e.ProductID, &e.Quantity,
			&basePrice, &finalPrice, &amount, &pct,
			&ruleID, &ruleName, &tierName, &evaluated, &reason,
			&errMsg, &e.DurationMs, &createdAt,
		); err != nil {
			return nil, err
		}

		e.EventType = domain.AuditEventType(eventType)
		e.RuleID = ruleID.String
		e.RuleName = ruleName.String
		e.TierName = domain.Tier(tierName.String)
		e.SelectionReason = reason.String
		e.ErrorMessage = errMsg.String

		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&e.BasePrice, basePrice},
			{&e.FinalPrice, finalPrice},
			{&e.DiscountAmount, amount},
			{&e.DiscountPercentage, pct},
		} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("audit %s: %w", e.ID, err)
			}
		}
		if evaluated.Valid && evaluated.String != "" {
			if err := json.Unmarshal([]byte(evaluated.String), &e.EvaluatedDiscounts); err != nil {
				return nil, fmt.Errorf("audit %s: evaluated discounts: %w", e.ID, err)
			}
		}
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("audit %s: %w", e.ID, err)
		}

		events = append(events, &e)
	}

	return events, rows.Err()
}

// Package audit records pricing decisions as structured log lines and
// publishes them on the event bus for persistence.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/opensource-finance/tierprice/internal/clock"
	"github.com/opensource-finance/tierprice/internal/domain"
)

// Logger implements domain.AuditLogger.
type Logger struct {
	bus   domain.EventBus
	clock clock.Clock
}

// NewLogger creates an audit logger. With a nil bus events are only logged.
func NewLogger(bus domain.EventBus, clk clock.Clock) *Logger {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Logger{bus: bus, clock: clk}
}

// LogSuccessfulPricing records a completed calculation.
func (l *Logger) LogSuccessfulPricing(ctx context.Context, p domain.PricingAudit) error {
	event := l.newEvent(domain.AuditPricingCalculation, p)
	event.Severity = domain.SeverityInfo
	event.Status = domain.AuditStatusSuccess

	slog.Info("pricing calculated",
		"audit_id", event.ID,
		"customer_id", event.CustomerID,
		"product_id", event.ProductID,
		"quantity", event.Quantity,
		"final_price", event.FinalPrice.String(),
		"rule_id", event.RuleID,
		"tier", event.TierName,
		"duration_ms", event.DurationMs,
	)
	return l.publish(ctx, domain.TopicAuditPricing, event)
}

// LogPricingError records a failed calculation.
func (l *Logger) LogPricingError(ctx context.Context, p domain.PricingAudit) error {
	event := l.newEvent(domain.AuditPricingError, p)
	event.Severity = domain.SeverityHigh
	event.Status = domain.AuditStatusFailure

	slog.Error("pricing error",
		"audit_id", event.ID,
		"customer_id", event.CustomerID,
		"product_id", event.ProductID,
		"quantity", event.Quantity,
		"error", event.ErrorMessage,
		"duration_ms", event.DurationMs,
	)
	return l.publish(ctx, domain.TopicAuditError, event)
}

// LogDiscountEvaluation records the candidates compared for one line.
func (l *Logger) LogDiscountEvaluation(ctx context.Context, p domain.PricingAudit) error {
	event := l.newEvent(domain.AuditDiscountEvaluation, p)
	event.Severity = domain.SeverityInfo
	event.Status = domain.AuditStatusSuccess

	slog.Info("discounts evaluated",
		"audit_id", event.ID,
		"customer_id", event.CustomerID,
		"product_id", event.ProductID,
		"candidates", len(event.EvaluatedDiscounts),
	)
	return l.publish(ctx, domain.TopicAuditEvaluation, event)
}

func (l *Logger) newEvent(eventType domain.AuditEventType, p domain.PricingAudit) *domain.AuditEvent {
	event := &domain.AuditEvent{
		ID:                 uuid.New().String(),
		EventType:          eventType,
		CustomerID:         p.CustomerID,
		ProductID:          p.ProductID,
		Quantity:           p.Quantity,
		BasePrice:          p.BasePrice,
		FinalPrice:         p.FinalPrice,
		DiscountAmount:     p.DiscountAmount,
		DiscountPercentage: p.DiscountPercentage,
		RuleID:             p.RuleID,
		RuleName:           p.RuleName,
		TierName:           p.Tier,
		SelectionReason:    p.SelectionReason,
		ErrorMessage:       p.ErrorMessage,
		DurationMs:         p.Duration.Milliseconds(),
		CreatedAt:          l.clock.Now().UTC(),
	}

	for _, d := range p.Evaluated {
		event.EvaluatedDiscounts = append(event.EvaluatedDiscounts, domain.AuditCandidate{
			RuleID:         d.RuleID,
			RuleName:       d.RuleName,
			TierName:       d.Tier,
			DiscountAmount: d.DiscountAmount,
			Savings:        d.Savings,
		})
	}
	return event
}

func (l *Logger) publish(ctx context.Context, topic string, event *domain.AuditEvent) error {
	if l.bus == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	if err := l.bus.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("failed to publish audit event %s: %w", event.ID, err)
	}
	return nil
}

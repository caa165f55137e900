package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AuditLogger records pricing decisions for explainability.
type AuditLogger interface {
	LogSuccessfulPricing(ctx context.Context, p PricingAudit) error
	LogPricingError(ctx context.Context, p PricingAudit) error
	LogDiscountEvaluation(ctx context.Context, p PricingAudit) error
}

// PricingAudit is the payload handed to an AuditLogger.
type PricingAudit struct {
	CustomerID         string
	ProductID          string
	Quantity           int
	BasePrice          decimal.Decimal
	FinalPrice         decimal.Decimal
	DiscountAmount     decimal.Decimal
	DiscountPercentage decimal.Decimal
	RuleID             string
	RuleName           string
	Tier               Tier
	Evaluated          []EvaluatedDiscount
	SelectionReason    string
	ErrorMessage       string
	Duration           time.Duration
}

// AuditEventType classifies an audit record.
type AuditEventType string

const (
	AuditPricingCalculation AuditEventType = "pricing_calculation"
	AuditPricingError       AuditEventType = "pricing_error"
	AuditDiscountEvaluation AuditEventType = "discount_evaluation"
)

// Audit severities and statuses.
const (
	SeverityInfo = "info"
	SeverityHigh = "high"

	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
)

// AuditCandidate summarizes one evaluated discount inside an audit record.
type AuditCandidate struct {
	RuleID         string          `json:"ruleId"`
	RuleName       string          `json:"ruleName"`
	TierName       Tier            `json:"tierName"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	Savings        decimal.Decimal `json:"savings"`
}

// AuditEvent is the published and persisted form of an audit record.
type AuditEvent struct {
	ID                 string           `json:"id"`
	EventType          AuditEventType   `json:"eventType"`
	Severity           string           `json:"severity"`
	Status             string           `json:"status"`
	CustomerID         string           `json:"customerId"`
	ProductID          string           `json:"productId"`
	Quantity           int              `json:"quantity"`
	BasePrice          decimal.Decimal  `json:"basePrice"`
	FinalPrice         decimal.Decimal  `json:"finalPrice"`
	DiscountAmount     decimal.Decimal  `json:"discountAmount"`
	DiscountPercentage decimal.Decimal  `json:"discountPercentage"`
	RuleID             string           `json:"ruleId,omitempty"`
	RuleName           string           `json:"ruleName,omitempty"`
	TierName           Tier             `json:"tierName,omitempty"`
	EvaluatedDiscounts []AuditCandidate `json:"evaluatedDiscounts,omitempty"`
	SelectionReason    string           `json:"selectionReason,omitempty"`
	ErrorMessage       string           `json:"errorMessage,omitempty"`
	DurationMs         int64            `json:"calculationDurationMs"`
	CreatedAt          time.Time        `json:"createdAt"`
}

// AuditLogFilter narrows an audit trail query. Zero fields match all.
type AuditLogFilter struct {
	CustomerID string
	ProductID  string
	EventType  AuditEventType
	Limit      int
}

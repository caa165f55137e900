package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingContext describes what is being priced, for rule resolution.
type PricingContext struct {
	CustomerID    string
	ProductID     string
	BrandID       string
	CategoryID    string
	SubcategoryID string
	Quantity      int
	CurrentDate   time.Time
}

// TargetFor returns the context field matching a rule level.
func (c PricingContext) TargetFor(level Level) string {
	switch level {
	case LevelProduct:
		return c.ProductID
	case LevelSubcategory:
		return c.SubcategoryID
	case LevelCategory:
		return c.CategoryID
	case LevelBrand:
		return c.BrandID
	}
	return ""
}

// ApplicableRule is a rule matched to a context and enriched with the
// customer's tier and the tier row covering the requested quantity.
type ApplicableRule struct {
	DiscountRule
	Tiers              []DiscountRuleTier `json:"tiers"`
	CustomerTier       *Tier              `json:"customerTier,omitempty"`
	ApplicableDiscount *DiscountRuleTier  `json:"applicableDiscount,omitempty"`
}

// EvaluatedDiscount is a fully priced candidate discount.
type EvaluatedDiscount struct {
	RuleID         string          `json:"ruleId"`
	RuleName       string          `json:"ruleName"`
	RuleType       RuleType        `json:"ruleType"`
	Tier           Tier            `json:"tier"`
	DiscountType   DiscountType    `json:"discountType"`
	DiscountValue  decimal.Decimal `json:"discountValue"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	FinalPrice     decimal.Decimal `json:"finalPrice"`
	Savings        decimal.Decimal `json:"savings"`
}

// RuleMetadata is selection metadata recorded per evaluated rule.
type RuleMetadata struct {
	Level     Level     `json:"level"`
	CreatedAt time.Time `json:"createdAt"`
}

// SelectionStrategy picks among several candidate discounts.
type SelectionStrategy string

const (
	StrategyBestForCustomer   SelectionStrategy = "best_for_customer"
	StrategyBestForBusiness   SelectionStrategy = "best_for_business"
	StrategyHighestPercentage SelectionStrategy = "highest_percentage"
)

// Valid reports whether s is a known strategy.
func (s SelectionStrategy) Valid() bool {
	switch s {
	case StrategyBestForCustomer, StrategyBestForBusiness, StrategyHighestPercentage:
		return true
	}
	return false
}

// PriceCalculationInput is the request for a single-product price.
type PriceCalculationInput struct {
	CustomerID  string
	ProductID   string
	Quantity    int
	BasePrice   decimal.Decimal
	CurrentDate *time.Time
	Strategy    SelectionStrategy
}

// PriceCalculationResult is the outcome of pricing one line.
type PriceCalculationResult struct {
	CustomerID            string              `json:"customerId"`
	ProductID             string              `json:"productId"`
	Quantity              int                 `json:"quantity"`
	BasePrice             decimal.Decimal     `json:"basePrice"`
	BaseTotalPrice        decimal.Decimal     `json:"baseTotalPrice"`
	FinalPrice            decimal.Decimal     `json:"finalPrice"`
	FinalUnitPrice        decimal.Decimal     `json:"finalUnitPrice"`
	TotalSavings          decimal.Decimal     `json:"totalSavings"`
	SavingsPercentage     decimal.Decimal     `json:"savingsPercentage"`
	DiscountApplied       bool                `json:"discountApplied"`
	BestDiscount          *EvaluatedDiscount  `json:"bestDiscount"`
	AllEvaluatedDiscounts []EvaluatedDiscount `json:"allEvaluatedDiscounts"`
	SelectionReason       string              `json:"selectionReason,omitempty"`
	CalculatedAt          time.Time           `json:"calculatedAt"`
}

// CartItem is one line of a cart pricing request.
type CartItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	BasePrice decimal.Decimal `json:"basePrice"`
}

// CartResult aggregates per-line results.
type CartResult struct {
	CustomerID   string                   `json:"customerId"`
	Items        []PriceCalculationResult `json:"items"`
	BaseTotal    decimal.Decimal          `json:"baseTotal"`
	FinalTotal   decimal.Decimal          `json:"finalTotal"`
	TotalSavings decimal.Decimal          `json:"totalSavings"`
}

// SavingsProjection is one "buy more, save more" breakpoint.
type SavingsProjection struct {
	Quantity          int             `json:"quantity"`
	Savings           decimal.Decimal `json:"savings"`
	SavingsPercentage decimal.Decimal `json:"savingsPercentage"`
	FinalPrice        decimal.Decimal `json:"finalPrice"`
}

// SavingsBreakpoints are the quantities probed by a savings summary.
var SavingsBreakpoints = []int{1, 5, 10, 25, 50, 100}

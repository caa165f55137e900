// Package domain defines the core interfaces and types for tierprice.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the storage and cache-key format for calendar dates.
const DateLayout = "2006-01-02"

// TimestampLayout is a fixed-width UTC layout so stored timestamps sort lexicographically.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// DateKey returns the date-only key for t.
func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// RuleType classifies a discount rule.
type RuleType string

const (
	RuleTypeCustomerDiscount RuleType = "customer_discount"
	RuleTypeVolumePricing    RuleType = "volume_pricing"
	RuleTypeTieredPricing    RuleType = "tiered_pricing"
	RuleTypeBOGO             RuleType = "bogo"
	RuleTypeBundle           RuleType = "bundle"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeCustomerDiscount, RuleTypeVolumePricing, RuleTypeTieredPricing, RuleTypeBOGO, RuleTypeBundle:
		return true
	}
	return false
}

// Level is the product hierarchy level a rule is scoped to.
type Level string

const (
	LevelBrand       Level = "brand"
	LevelCategory    Level = "category"
	LevelSubcategory Level = "subcategory"
	LevelProduct     Level = "product"
)

// Specificity ranks levels from most specific (product) to least (brand).
// Unknown levels rank as brand.
func (l Level) Specificity() int {
	switch l {
	case LevelProduct:
		return 4
	case LevelSubcategory:
		return 3
	case LevelCategory:
		return 2
	default:
		return 1
	}
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelBrand, LevelCategory, LevelSubcategory, LevelProduct:
		return true
	}
	return false
}

// RuleStatus is the lifecycle state of a rule.
type RuleStatus string

const (
	RuleStatusActive    RuleStatus = "active"
	RuleStatusInactive  RuleStatus = "inactive"
	RuleStatusScheduled RuleStatus = "scheduled"
	RuleStatusExpired   RuleStatus = "expired"
)

// Tier is a customer segment assigned per rule.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// Priority ranks tiers A > B > C. Unknown tiers rank 0.
func (t Tier) Priority() int {
	switch t {
	case TierA:
		return 3
	case TierB:
		return 2
	case TierC:
		return 1
	}
	return 0
}

// ParseTier validates a tier string.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if t.Priority() == 0 {
		return "", fmt.Errorf("%w: unknown tier %q", ErrInvalidInput, s)
	}
	return t, nil
}

// DiscountType determines how a tier's discount value is applied.
type DiscountType string

const (
	DiscountPercentage    DiscountType = "percentage"
	DiscountFixedAmount   DiscountType = "fixed_amount"
	DiscountPriceOverride DiscountType = "price_override"
)

// Valid reports whether d is a known discount type.
func (d DiscountType) Valid() bool {
	switch d {
	case DiscountPercentage, DiscountFixedAmount, DiscountPriceOverride:
		return true
	}
	return false
}

// DiscountRule is a time-boxed discount policy scoped to one hierarchy level.
type DiscountRule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	RuleType    RuleType   `json:"ruleType"`
	Level       Level      `json:"level"`
	TargetID    string     `json:"targetId"`
	TargetName  string     `json:"targetName,omitempty"`
	StartDate   time.Time  `json:"startDate"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	Status      RuleStatus `json:"status"`

	// Condition is an optional CEL expression narrowing eligibility.
	Condition string `json:"condition,omitempty"`

	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActiveOn reports whether the rule is eligible on the given date.
func (r *DiscountRule) ActiveOn(date time.Time) bool {
	if r.Status != RuleStatusActive {
		return false
	}
	day := DateKey(date)
	if DateKey(r.StartDate) > day {
		return false
	}
	return r.EndDate == nil || DateKey(*r.EndDate) >= day
}

// DiscountRuleTier is one tier's discount schedule row within a rule.
type DiscountRuleTier struct {
	ID            string          `json:"id"`
	RuleID        string          `json:"ruleId"`
	Tier          Tier            `json:"tier"`
	DiscountType  DiscountType    `json:"discountType"`
	DiscountValue decimal.Decimal `json:"discountValue"`
	MinQuantity   int             `json:"minQuantity"`
	MaxQuantity   *int            `json:"maxQuantity,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Covers reports whether quantity falls in [MinQuantity, MaxQuantity-or-unbounded].
func (t *DiscountRuleTier) Covers(quantity int) bool {
	if quantity < t.MinQuantity {
		return false
	}
	return t.MaxQuantity == nil || quantity <= *t.MaxQuantity
}

// CustomerTierAssignment maps (rule, customer) to a tier.
type CustomerTierAssignment struct {
	ID           string    `json:"id"`
	RuleID       string    `json:"ruleId"`
	CustomerID   string    `json:"customerId"`
	Tier         Tier      `json:"tier"`
	AssignedDate time.Time `json:"assignedDate"`
	AssignedBy   string    `json:"assignedBy,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Product carries the hierarchy fields used for rule matching.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Brand       string `json:"brand"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

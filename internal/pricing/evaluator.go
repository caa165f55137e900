// Package pricing turns applicable rules into a single customer price.
package pricing

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CalculateDiscountAmount returns the currency discount a tier row grants
// on quantity units at basePrice. Results are rounded to cents.
//
// A price_override above the base price yields a negative discount. It is
// returned as is and logged.
func CalculateDiscountAmount(tier *domain.DiscountRuleTier, basePrice decimal.Decimal, quantity int) (decimal.Decimal, error) {
	qty := decimal.NewFromInt(int64(quantity))
	total := basePrice.Mul(qty)

	var amount decimal.Decimal
	switch tier.DiscountType {
	case domain.DiscountPercentage:
		amount = total.Mul(tier.DiscountValue).Div(hundred)
	case domain.DiscountFixedAmount:
		amount = tier.DiscountValue.Mul(qty)
	case domain.DiscountPriceOverride:
		amount = total.Sub(tier.DiscountValue.Mul(qty))
		if amount.IsNegative() {
			slog.Warn("price override above base price",
				"rule_id", tier.RuleID,
				"tier", tier.Tier,
				"override", tier.DiscountValue.String(),
				"base_price", basePrice.String(),
			)
		}
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown discount type %q", domain.ErrInvalidInput, tier.DiscountType)
	}

	return amount.Round(2), nil
}

// EvaluateRule prices an applicable rule. It reports false when the
// customer has no tier under the rule or no tier row covers the quantity.
func EvaluateRule(rule domain.ApplicableRule, basePrice decimal.Decimal, quantity int) (domain.EvaluatedDiscount, bool, error) {
	if rule.CustomerTier == nil || rule.ApplicableDiscount == nil {
		return domain.EvaluatedDiscount{}, false, nil
	}

	amount, err := CalculateDiscountAmount(rule.ApplicableDiscount, basePrice, quantity)
	if err != nil {
		return domain.EvaluatedDiscount{}, false, fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	total := basePrice.Mul(decimal.NewFromInt(int64(quantity)))
	return domain.EvaluatedDiscount{
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		RuleType:       rule.RuleType,
		Tier:           *rule.CustomerTier,
		DiscountType:   rule.ApplicableDiscount.DiscountType,
		DiscountValue:  rule.ApplicableDiscount.DiscountValue,
		DiscountAmount: amount,
		FinalPrice:     total.Sub(amount),
		Savings:        amount,
	}, true, nil
}

// savingsPercentage is savings as a share of the pre-discount total.
func savingsPercentage(d *domain.EvaluatedDiscount) decimal.Decimal {
	total := d.FinalPrice.Add(d.Savings)
	if total.IsZero() {
		return decimal.Zero
	}
	return d.Savings.Div(total).Mul(hundred)
}

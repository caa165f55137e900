package pricing

import (
	"testing"
	"time"

	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discount(ruleID string, tier domain.Tier, savings, final string) domain.EvaluatedDiscount {
	return domain.EvaluatedDiscount{
		RuleID:         ruleID,
		RuleName:       ruleID,
		Tier:           tier,
		DiscountType:   domain.DiscountPercentage,
		DiscountAmount: dec(savings),
		Savings:        dec(savings),
		FinalPrice:     dec(final),
	}
}

func TestSelectBestDiscount(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, SelectBestDiscount(nil, "", nil))
		assert.Nil(t, SelectBestDiscount([]domain.EvaluatedDiscount{}, domain.StrategyBestForBusiness, nil))
	})

	t.Run("single", func(t *testing.T) {
		only := discount("only", domain.TierC, "1", "99")
		best := SelectBestDiscount([]domain.EvaluatedDiscount{only}, "", nil)
		require.NotNil(t, best)
		assert.Equal(t, only, *best)
	})

	t.Run("highest savings wins", func(t *testing.T) {
		best := SelectBestDiscount([]domain.EvaluatedDiscount{
			discount("small", domain.TierA, "5", "95"),
			discount("large", domain.TierC, "15", "85"),
		}, domain.StrategyBestForCustomer, nil)
		require.NotNil(t, best)
		assert.Equal(t, "large", best.RuleID)
	})

	t.Run("level breaks a savings and percentage tie", func(t *testing.T) {
		brand := discount("rule-brand", domain.TierA, "10", "90")
		product := discount("rule-product", domain.TierA, "10", "90")
		product.DiscountType = domain.DiscountFixedAmount
		meta := map[string]domain.RuleMetadata{
			"rule-brand":   {Level: domain.LevelBrand},
			"rule-product": {Level: domain.LevelProduct},
		}

		best := SelectBestDiscount([]domain.EvaluatedDiscount{brand, product}, "", meta)
		require.NotNil(t, best)
		assert.Equal(t, "rule-product", best.RuleID)
		assert.True(t, dec("90").Equal(best.FinalPrice))
	})

	t.Run("tier breaks a full tie", func(t *testing.T) {
		meta := map[string]domain.RuleMetadata{
			"rule-b": {Level: domain.LevelCategory},
			"rule-a": {Level: domain.LevelCategory},
		}
		best := SelectBestDiscount([]domain.EvaluatedDiscount{
			discount("rule-b", domain.TierB, "10", "90"),
			discount("rule-a", domain.TierA, "10", "90"),
		}, "", meta)
		require.NotNil(t, best)
		assert.Equal(t, domain.TierA, best.Tier)
	})

	t.Run("recency breaks a tier tie", func(t *testing.T) {
		old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		meta := map[string]domain.RuleMetadata{
			"rule-old": {Level: domain.LevelBrand, CreatedAt: old},
			"rule-new": {Level: domain.LevelBrand, CreatedAt: old.Add(time.Hour)},
		}
		best := SelectBestDiscount([]domain.EvaluatedDiscount{
			discount("rule-old", domain.TierA, "10", "90"),
			discount("rule-new", domain.TierA, "10", "90"),
		}, "", meta)
		require.NotNil(t, best)
		assert.Equal(t, "rule-new", best.RuleID)
	})

	t.Run("percentage within tolerance is a tie", func(t *testing.T) {
		// 10 of 100 is 10%, 10 of 100.005 is 9.9995%.
		meta := map[string]domain.RuleMetadata{
			"rule-brand":   {Level: domain.LevelBrand},
			"rule-product": {Level: domain.LevelProduct},
		}
		best := SelectBestDiscount([]domain.EvaluatedDiscount{
			discount("rule-brand", domain.TierA, "10", "90"),
			discount("rule-product", domain.TierA, "10", "90.005"),
		}, "", meta)
		require.NotNil(t, best)
		assert.Equal(t, "rule-product", best.RuleID)
	})

	t.Run("deterministic under reordering", func(t *testing.T) {
		candidates := []domain.EvaluatedDiscount{
			discount("rule-1", domain.TierA, "10", "90"),
			discount("rule-2", domain.TierA, "10", "90"),
			discount("rule-3", domain.TierB, "10", "90"),
			discount("rule-4", domain.TierA, "8", "92"),
		}
		orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 3, 0, 2}, {2, 0, 3, 1}}

		var winners []string
		for _, order := range orders {
			input := make([]domain.EvaluatedDiscount, len(order))
			for i, idx := range order {
				input[i] = candidates[idx]
			}
			best := SelectBestDiscount(input, "", nil)
			require.NotNil(t, best)
			winners = append(winners, best.RuleID)
		}
		for _, w := range winners {
			assert.Equal(t, "rule-1", w)
		}
	})

	t.Run("percentage ties anchor on the top percentage", func(t *testing.T) {
		// Totals differ, so percentages chain within tolerance:
		// 10.000% ~ 10.008% ~ 10.016%, but 10.000% is not within 0.01 of 10.016%.
		orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
		permute := func(set []domain.EvaluatedDiscount, order []int) []domain.EvaluatedDiscount {
			out := make([]domain.EvaluatedDiscount, len(order))
			for i, idx := range order {
				out[i] = set[idx]
			}
			return out
		}

		byPercentage := []domain.EvaluatedDiscount{
			discount("rule-wide", domain.TierA, "100", "900"),
			discount("rule-mid", domain.TierA, "50", "449.6"),
			discount("rule-narrow", domain.TierA, "10", "89.84"),
		}
		for _, order := range orders {
			best := SelectBestDiscount(permute(byPercentage, order), domain.StrategyHighestPercentage, nil)
			require.NotNil(t, best)
			assert.Equal(t, "rule-mid", best.RuleID, "order %v", order)
		}

		bySavings := []domain.EvaluatedDiscount{
			discount("rule-product", domain.TierA, "10", "90"),
			discount("rule-subcategory", domain.TierA, "10", "89.92"),
			discount("rule-category", domain.TierA, "10", "89.84"),
		}
		meta := map[string]domain.RuleMetadata{
			"rule-product":     {Level: domain.LevelProduct},
			"rule-subcategory": {Level: domain.LevelSubcategory},
			"rule-category":    {Level: domain.LevelCategory},
		}
		for _, order := range orders {
			best := SelectBestDiscount(permute(bySavings, order), domain.StrategyBestForCustomer, meta)
			require.NotNil(t, best)
			assert.Equal(t, "rule-subcategory", best.RuleID, "order %v", order)
		}
	})

	t.Run("best for business minimizes savings", func(t *testing.T) {
		best := SelectBestDiscount([]domain.EvaluatedDiscount{
			discount("small", domain.TierA, "5", "95"),
			discount("large", domain.TierA, "15", "85"),
		}, domain.StrategyBestForBusiness, nil)
		require.NotNil(t, best)
		assert.Equal(t, "small", best.RuleID)
	})

	t.Run("highest percentage", func(t *testing.T) {
		// 20 of 200 is 10%, 15 of 100 is 15%.
		best := SelectBestDiscount([]domain.EvaluatedDiscount{
			discount("bigger-amount", domain.TierA, "20", "180"),
			discount("bigger-share", domain.TierA, "15", "85"),
		}, domain.StrategyHighestPercentage, nil)
		require.NotNil(t, best)
		assert.Equal(t, "bigger-share", best.RuleID)
	})

	t.Run("does not alias the input", func(t *testing.T) {
		input := []domain.EvaluatedDiscount{
			discount("a", domain.TierA, "10", "90"),
			discount("b", domain.TierA, "5", "95"),
		}
		best := SelectBestDiscount(input, "", nil)
		require.NotNil(t, best)
		best.RuleName = "changed"
		assert.Equal(t, "a", input[0].RuleName)
	})
}

func TestCompareDiscounts(t *testing.T) {
	t.Run("savings", func(t *testing.T) {
		a := discount("Brand deal", domain.TierA, "5", "95")
		b := discount("Product deal", domain.TierA, "10", "90")

		cmp := CompareDiscounts(&a, &b)
		assert.Equal(t, "Product deal", cmp.Winner.RuleName)
		assert.Equal(t, "Product deal provides higher savings ($10.00 vs $5.00)", cmp.Reason)
	})

	t.Run("percentage", func(t *testing.T) {
		a := discount("Small basket", domain.TierA, "10", "40")
		b := discount("Large basket", domain.TierA, "10", "90")

		cmp := CompareDiscounts(&a, &b)
		assert.Equal(t, "Small basket", cmp.Winner.RuleName)
		assert.Equal(t, "Small basket provides higher percentage savings (20.00% vs 10.00%)", cmp.Reason)
	})

	t.Run("tier", func(t *testing.T) {
		a := discount("Silver", domain.TierB, "10", "90")
		b := discount("Gold", domain.TierA, "10", "90")

		cmp := CompareDiscounts(&a, &b)
		assert.Equal(t, "Gold", cmp.Winner.RuleName)
		assert.Equal(t, "Gold has better tier assignment (A vs B)", cmp.Reason)
	})

	t.Run("equivalent", func(t *testing.T) {
		a := discount("First", domain.TierA, "10", "90")
		b := discount("Second", domain.TierA, "10", "90")

		cmp := CompareDiscounts(&a, &b)
		assert.Equal(t, "First", cmp.Winner.RuleName)
		assert.Equal(t, "Both discounts are equivalent, selecting First by default", cmp.Reason)
	})
}

func TestExplainDiscountSelection(t *testing.T) {
	best := discount("Product deal", domain.TierA, "10", "90")
	other := discount("Brand deal", domain.TierA, "5", "95")

	assert.Equal(t, "Product deal was the only applicable discount.",
		ExplainDiscountSelection(&best, []domain.EvaluatedDiscount{best}))

	assert.Equal(t,
		"Product deal was selected because it provides the best value:\n"+
			"- vs Brand deal: Product deal provides higher savings ($10.00 vs $5.00)",
		ExplainDiscountSelection(&best, []domain.EvaluatedDiscount{best, other}))

	assert.Equal(t, "No applicable discount.", ExplainDiscountSelection(nil, nil))
}

func TestValidateNoStacking(t *testing.T) {
	a := discount("a", domain.TierA, "10", "90")
	b := discount("b", domain.TierA, "5", "95")

	assert.NoError(t, ValidateNoStacking(nil))
	assert.NoError(t, ValidateNoStacking([]domain.EvaluatedDiscount{a}))

	err := ValidateNoStacking([]domain.EvaluatedDiscount{a, b})
	require.ErrorIs(t, err, domain.ErrPolicyViolation)
	assert.EqualError(t, err, "policy violation: discount stacking is not allowed: 2 discounts applied")
}

package pricing

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/shopspring/decimal"
)

// percentageTolerance absorbs rounding when comparing savings percentages.
var percentageTolerance = decimal.RequireFromString("0.01")

type candidate struct {
	discount *domain.EvaluatedDiscount
	index    int
	pct      decimal.Decimal
	meta     domain.RuleMetadata
}

// SelectBestDiscount returns the single winning discount under strategy, or
// nil when there are no candidates. The result does not depend on the order
// of evaluated. An empty strategy means best_for_customer; metadata may be
// nil.
func SelectBestDiscount(evaluated []domain.EvaluatedDiscount, strategy domain.SelectionStrategy, metadata map[string]domain.RuleMetadata) *domain.EvaluatedDiscount {
	switch len(evaluated) {
	case 0:
		return nil
	case 1:
		best := evaluated[0]
		return &best
	}

	candidates := make([]candidate, len(evaluated))
	for i := range evaluated {
		candidates[i] = candidate{
			discount: &evaluated[i],
			index:    i,
			pct:      savingsPercentage(&evaluated[i]),
			meta:     metadata[evaluated[i].RuleID],
		}
	}

	pool := candidates
	switch strategy {
	case domain.StrategyBestForBusiness:
		pool = keepBySavings(pool, true)
		pool = keepTopPercentage(pool)
	case domain.StrategyHighestPercentage:
		pool = keepTopPercentage(pool)
		pool = keepBySavings(pool, false)
	default:
		pool = keepBySavings(pool, false)
		pool = keepTopPercentage(pool)
	}

	winner := &pool[0]
	for i := 1; i < len(pool); i++ {
		if compareTieBreaks(&pool[i], winner) < 0 {
			winner = &pool[i]
		}
	}

	best := *winner.discount
	return &best
}

// keepBySavings narrows pool to the candidates sharing the highest savings,
// or the lowest when lowest is set.
func keepBySavings(pool []candidate, lowest bool) []candidate {
	target := pool[0].discount.Savings
	for _, c := range pool[1:] {
		s := c.discount.Savings
		if (lowest && s.LessThan(target)) || (!lowest && s.GreaterThan(target)) {
			target = s
		}
	}

	kept := make([]candidate, 0, len(pool))
	for _, c := range pool {
		if c.discount.Savings.Equal(target) {
			kept = append(kept, c)
		}
	}
	return kept
}

// keepTopPercentage narrows pool to the candidates within percentageTolerance
// of the highest percentage in the set.
func keepTopPercentage(pool []candidate) []candidate {
	top := pool[0].pct
	for _, c := range pool[1:] {
		if c.pct.GreaterThan(top) {
			top = c.pct
		}
	}

	kept := make([]candidate, 0, len(pool))
	for _, c := range pool {
		if top.Sub(c.pct).LessThan(percentageTolerance) {
			kept = append(kept, c)
		}
	}
	return kept
}

// compareTieBreaks applies level specificity, tier priority, recency, rule
// id and finally evaluation order. It is a total order.
func compareTieBreaks(a, b *candidate) int {
	if c := b.meta.Level.Specificity() - a.meta.Level.Specificity(); c != 0 {
		return c
	}
	if c := b.discount.Tier.Priority() - a.discount.Tier.Priority(); c != 0 {
		return c
	}
	if c := b.meta.CreatedAt.Compare(a.meta.CreatedAt); c != 0 {
		return c
	}
	if c := strings.Compare(a.discount.RuleID, b.discount.RuleID); c != 0 {
		return c
	}
	return a.index - b.index
}

// comparePercentage treats percentages within percentageTolerance as equal.
// Only used for head-to-head comparisons of two discounts.
func comparePercentage(a, b decimal.Decimal) int {
	if a.Sub(b).Abs().LessThan(percentageTolerance) {
		return 0
	}
	return a.Cmp(b)
}

// Comparison is the outcome of comparing two discounts head to head.
type Comparison struct {
	Winner *domain.EvaluatedDiscount
	Loser  *domain.EvaluatedDiscount
	Reason string
}

// CompareDiscounts picks the better of a and b for the customer and explains
// why: higher savings, then higher percentage, then better tier. Equivalent
// discounts resolve to a.
func CompareDiscounts(a, b *domain.EvaluatedDiscount) Comparison {
	if c := a.Savings.Cmp(b.Savings); c != 0 {
		winner, loser := a, b
		if c < 0 {
			winner, loser = b, a
		}
		return Comparison{
			Winner: winner,
			Loser:  loser,
			Reason: fmt.Sprintf("%s provides higher savings ($%s vs $%s)",
				winner.RuleName, winner.Savings.StringFixed(2), loser.Savings.StringFixed(2)),
		}
	}

	pa, pb := savingsPercentage(a), savingsPercentage(b)
	if c := comparePercentage(pa, pb); c != 0 {
		winner, loser, wp, lp := a, b, pa, pb
		if c < 0 {
			winner, loser, wp, lp = b, a, pb, pa
		}
		return Comparison{
			Winner: winner,
			Loser:  loser,
			Reason: fmt.Sprintf("%s provides higher percentage savings (%s%% vs %s%%)",
				winner.RuleName, wp.StringFixed(2), lp.StringFixed(2)),
		}
	}

	if c := a.Tier.Priority() - b.Tier.Priority(); c != 0 {
		winner, loser := a, b
		if c < 0 {
			winner, loser = b, a
		}
		return Comparison{
			Winner: winner,
			Loser:  loser,
			Reason: fmt.Sprintf("%s has better tier assignment (%s vs %s)",
				winner.RuleName, winner.Tier, loser.Tier),
		}
	}

	return Comparison{
		Winner: a,
		Loser:  b,
		Reason: fmt.Sprintf("Both discounts are equivalent, selecting %s by default", a.RuleName),
	}
}

// ExplainDiscountSelection describes why selected beat every other candidate.
func ExplainDiscountSelection(selected *domain.EvaluatedDiscount, all []domain.EvaluatedDiscount) string {
	if selected == nil {
		return "No applicable discount."
	}

	var others []*domain.EvaluatedDiscount
	for i := range all {
		if all[i].RuleID != selected.RuleID {
			others = append(others, &all[i])
		}
	}
	if len(others) == 0 {
		return fmt.Sprintf("%s was the only applicable discount.", selected.RuleName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s was selected because it provides the best value:", selected.RuleName)
	for _, other := range others {
		cmp := CompareDiscounts(selected, other)
		fmt.Fprintf(&b, "\n- vs %s: %s", other.RuleName, cmp.Reason)
	}
	return b.String()
}

// ValidateNoStacking fails when more than one discount would apply to a line.
func ValidateNoStacking(applied []domain.EvaluatedDiscount) error {
	if len(applied) > 1 {
		return fmt.Errorf("%w: discount stacking is not allowed: %d discounts applied", domain.ErrPolicyViolation, len(applied))
	}
	return nil
}

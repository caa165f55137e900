package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/opensource-finance/tierprice/internal/domain"
)

// GetCustomerTierAssignment returns the customer's tier assignment under a
// rule, or nil when the customer has none. Absence is cached too.
func (r *Resolver) GetCustomerTierAssignment(ctx context.Context, customerID, ruleID string) (*domain.CustomerTierAssignment, error) {
	if customerID == "" || ruleID == "" {
		return nil, fmt.Errorf("%w: customerId and ruleId are required", domain.ErrInvalidInput)
	}

	a, ok, err := r.cache.GetAssignment(ctx, customerID, ruleID)
	if err != nil {
		return nil, domain.DataAccess("assignment cache", err)
	}
	if ok {
		return a, nil
	}

	a, err = r.store.GetAssignment(ctx, customerID, ruleID)
	if errors.Is(err, domain.ErrNotFound) {
		a, err = nil, nil
	}
	if err != nil {
		return nil, domain.DataAccess("get assignment", err)
	}

	if err := r.cache.SetAssignment(ctx, customerID, ruleID, a); err != nil {
		return nil, domain.DataAccess("assignment cache", err)
	}
	return a, nil
}

// GetCustomerTierAssignments returns every assignment of a customer, newest first.
func (r *Resolver) GetCustomerTierAssignments(ctx context.Context, customerID string) ([]domain.CustomerTierAssignment, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customerId is required", domain.ErrInvalidInput)
	}
	assignments, err := r.store.ListAssignmentsByCustomer(ctx, customerID)
	if err != nil {
		return nil, domain.DataAccess("list assignments by customer", err)
	}
	return assignments, nil
}

// GetTierDiscount returns the tier row of a rule for tier covering quantity.
// Among overlapping rows the highest minimum quantity wins. A quantity <= 0
// ignores ranges. Returns nil when nothing matches.
func (r *Resolver) GetTierDiscount(ctx context.Context, ruleID string, tier domain.Tier, quantity int) (*domain.DiscountRuleTier, error) {
	tiers, err := r.ruleTiers(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	return matchingTier(tiers, tier, quantity), nil
}

// GetAllTierDiscounts returns every tier row of a rule ordered by tier, then
// minimum quantity.
func (r *Resolver) GetAllTierDiscounts(ctx context.Context, ruleID string) ([]domain.DiscountRuleTier, error) {
	tiers, err := r.ruleTiers(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.DiscountRuleTier, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].MinQuantity < out[j].MinQuantity
	})
	return out, nil
}

// GetCustomersForRuleTier lists the assignments under a rule, optionally
// restricted to one tier.
func (r *Resolver) GetCustomersForRuleTier(ctx context.Context, ruleID string, tier *domain.Tier) ([]domain.CustomerTierAssignment, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: ruleId is required", domain.ErrInvalidInput)
	}
	assignments, err := r.store.ListAssignmentsByRule(ctx, ruleID, tier)
	if err != nil {
		return nil, domain.DataAccess("list assignments by rule", err)
	}
	return assignments, nil
}

// HasCustomerTierAssignments reports whether the customer holds any tier.
func (r *Resolver) HasCustomerTierAssignments(ctx context.Context, customerID string) (bool, error) {
	n, err := r.store.CountAssignmentsByCustomer(ctx, customerID)
	if err != nil {
		return false, domain.DataAccess("count assignments", err)
	}
	return n > 0, nil
}

// GetBestTierDiscountForCustomer resolves the customer's tier under a rule
// and returns the matching tier row, or nil when the customer is not
// eligible.
func (r *Resolver) GetBestTierDiscountForCustomer(ctx context.Context, customerID, ruleID string, quantity int) (*domain.DiscountRuleTier, error) {
	a, err := r.GetCustomerTierAssignment(ctx, customerID, ruleID)
	if err != nil || a == nil {
		return nil, err
	}
	return r.GetTierDiscount(ctx, ruleID, a.Tier, quantity)
}

func (r *Resolver) ruleTiers(ctx context.Context, ruleID string) ([]domain.DiscountRuleTier, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: ruleId is required", domain.ErrInvalidInput)
	}

	tiers, ok, err := r.cache.GetRuleTiers(ctx, ruleID)
	if err != nil {
		return nil, domain.DataAccess("rule tiers cache", err)
	}
	if ok {
		return tiers, nil
	}

	tiers, err = r.store.ListTiersByRule(ctx, ruleID)
	if err != nil {
		return nil, domain.DataAccess("list tiers by rule", err)
	}
	if err := r.cache.SetRuleTiers(ctx, ruleID, tiers); err != nil {
		return nil, domain.DataAccess("rule tiers cache", err)
	}
	return tiers, nil
}

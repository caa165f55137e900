package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/tierprice/internal/cache"
	"github.com/opensource-finance/tierprice/internal/clock"
	"github.com/opensource-finance/tierprice/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("tierprice-rules")

// Resolver finds the rules applicable to a pricing context and resolves
// customer tiers within them.
type Resolver struct {
	store      domain.RuleStore
	cache      *cache.PricingCache
	conditions *ConditionEngine
	clock      clock.Clock
	maxWorkers int
}

// NewResolver creates a resolver. conditions may be nil, in which case rule
// conditions are ignored.
func NewResolver(store domain.RuleStore, pc *cache.PricingCache, conditions *ConditionEngine, clk clock.Clock, maxWorkers int) *Resolver {
	if clk == nil {
		clk = clock.Real{}
	}
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Resolver{
		store:      store,
		cache:      pc,
		conditions: conditions,
		clock:      clk,
		maxWorkers: maxWorkers,
	}
}

// CartLine is a product and quantity to resolve rules for.
type CartLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// FindApplicableRules returns the rules matching pctx, most specific first,
// each enriched with its tiers, the customer's tier and the tier row covering
// the quantity. Matched rules the customer is not eligible under are still
// returned, without an applicable discount.
func (r *Resolver) FindApplicableRules(ctx context.Context, pctx domain.PricingContext) ([]domain.ApplicableRule, error) {
	ctx, span := tracer.Start(ctx, "rules.FindApplicableRules")
	defer span.End()

	pctx, err := r.normalize(pctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("customer_id", pctx.CustomerID),
		attribute.String("product_id", pctx.ProductID),
		attribute.Int("quantity", pctx.Quantity),
	)

	active, err := r.activeRules(ctx, pctx.CurrentDate)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	matched := make([]domain.DiscountRule, 0, len(active))
	for i := range active {
		if r.matches(&active[i], pctx) {
			matched = append(matched, active[i])
		}
	}
	span.SetAttributes(attribute.Int("rules_matched", len(matched)))

	if len(matched) == 0 {
		return []domain.ApplicableRule{}, nil
	}

	ruleIDs := make([]string, len(matched))
	for i, rule := range matched {
		ruleIDs[i] = rule.ID
	}

	var tiers []domain.DiscountRuleTier
	var assignments []domain.CustomerTierAssignment

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tiers, err = r.store.ListTiersByRuleIDs(gctx, ruleIDs)
		return domain.DataAccess("list tiers by rules", err)
	})
	g.Go(func() error {
		var err error
		assignments, err = r.store.ListAssignmentsByRuleIDs(gctx, ruleIDs, pctx.CustomerID)
		return domain.DataAccess("list assignments by rules", err)
	})
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tiersByRule := make(map[string][]domain.DiscountRuleTier, len(matched))
	for _, t := range tiers {
		tiersByRule[t.RuleID] = append(tiersByRule[t.RuleID], t)
	}
	assignmentByRule := make(map[string]domain.CustomerTierAssignment, len(assignments))
	for _, a := range assignments {
		assignmentByRule[a.RuleID] = a
	}

	result := make([]domain.ApplicableRule, 0, len(matched))
	for _, rule := range matched {
		ar := domain.ApplicableRule{
			DiscountRule: rule,
			Tiers:        tiersByRule[rule.ID],
		}
		if ar.Tiers == nil {
			ar.Tiers = []domain.DiscountRuleTier{}
		}
		if a, ok := assignmentByRule[rule.ID]; ok {
			tier := a.Tier
			ar.CustomerTier = &tier
			ar.ApplicableDiscount = matchingTier(ar.Tiers, tier, pctx.Quantity)
		}
		result = append(result, ar)
	}

	return result, nil
}

// FindApplicableRulesForProduct looks up the product's hierarchy and
// resolves rules for it. A zero at means now.
func (r *Resolver) FindApplicableRulesForProduct(ctx context.Context, customerID, productID string, quantity int, at time.Time) ([]domain.ApplicableRule, error) {
	product, err := r.Product(ctx, productID)
	if err != nil {
		return nil, err
	}

	return r.FindApplicableRules(ctx, domain.PricingContext{
		CustomerID:    customerID,
		ProductID:     product.ID,
		BrandID:       product.Brand,
		CategoryID:    product.Category,
		SubcategoryID: product.Subcategory,
		Quantity:      quantity,
		CurrentDate:   at,
	})
}

// FindApplicableRulesForCart resolves every line concurrently and returns
// the results keyed by product id.
func (r *Resolver) FindApplicableRulesForCart(ctx context.Context, customerID string, lines []CartLine) (map[string][]domain.ApplicableRule, error) {
	results := make([][]domain.ApplicableRule, len(lines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxWorkers)
	for i, line := range lines {
		g.Go(func() error {
			rules, err := r.FindApplicableRulesForProduct(gctx, customerID, line.ProductID, line.Quantity, time.Time{})
			if err != nil {
				return fmt.Errorf("product %s: %w", line.ProductID, err)
			}
			results[i] = rules
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byProduct := make(map[string][]domain.ApplicableRule, len(lines))
	for i, line := range lines {
		byProduct[line.ProductID] = results[i]
	}
	return byProduct, nil
}

// Product returns the hierarchy details of a product, cached.
func (r *Resolver) Product(ctx context.Context, productID string) (*domain.Product, error) {
	if productID == "" {
		return nil, fmt.Errorf("%w: productId is required", domain.ErrInvalidInput)
	}

	product, ok, err := r.cache.GetProduct(ctx, productID)
	if err != nil {
		return nil, domain.DataAccess("product cache", err)
	}
	if ok {
		return product, nil
	}

	product, err = r.store.GetProduct(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, productID)
	}
	if err != nil {
		return nil, domain.DataAccess("get product", err)
	}

	if err := r.cache.SetProduct(ctx, product); err != nil {
		return nil, domain.DataAccess("product cache", err)
	}
	return product, nil
}

func (r *Resolver) normalize(pctx domain.PricingContext) (domain.PricingContext, error) {
	if pctx.CustomerID == "" {
		return pctx, fmt.Errorf("%w: customerId is required", domain.ErrInvalidInput)
	}
	if pctx.Quantity < 0 {
		return pctx, fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrInvalidInput, pctx.Quantity)
	}
	if pctx.Quantity == 0 {
		pctx.Quantity = 1
	}
	if pctx.CurrentDate.IsZero() {
		pctx.CurrentDate = r.clock.Now()
	}
	return pctx, nil
}

// activeRules returns the rules active on date, cached per calendar day.
func (r *Resolver) activeRules(ctx context.Context, date time.Time) ([]domain.DiscountRule, error) {
	rules, ok, err := r.cache.GetRules(ctx, date)
	if err != nil {
		return nil, domain.DataAccess("rules cache", err)
	}
	if ok {
		slog.Debug("active rules cache hit", "date", domain.DateKey(date), "count", len(rules))
		return rules, nil
	}

	rules, err = r.store.ListActiveRules(ctx, date)
	if err != nil {
		return nil, domain.DataAccess("list active rules", err)
	}
	SortBySpecificity(rules)

	if err := r.cache.SetRules(ctx, date, rules); err != nil {
		return nil, domain.DataAccess("rules cache", err)
	}
	return rules, nil
}

// matches reports whether the rule's level target equals the context's
// field at that level and its condition, if any, holds.
func (r *Resolver) matches(rule *domain.DiscountRule, pctx domain.PricingContext) bool {
	target := pctx.TargetFor(rule.Level)
	if target == "" || target != rule.TargetID {
		return false
	}
	if r.conditions == nil {
		return true
	}

	ok, err := r.conditions.Eligible(rule, pctx)
	if err != nil {
		slog.Warn("rule condition failed, rule skipped",
			"rule_id", rule.ID,
			"error", err,
		)
		return false
	}
	return ok
}

// SortBySpecificity orders rules most specific level first, then newest
// first, then by id.
func SortBySpecificity(rules []domain.DiscountRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := &rules[i], &rules[j]
		if sa, sb := a.Level.Specificity(), b.Level.Specificity(); sa != sb {
			return sa > sb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// matchingTier picks, among rows for tier covering quantity, the one with
// the highest minimum quantity. A quantity <= 0 matches any range.
func matchingTier(tiers []domain.DiscountRuleTier, tier domain.Tier, quantity int) *domain.DiscountRuleTier {
	var best *domain.DiscountRuleTier
	for i := range tiers {
		t := &tiers[i]
		if t.Tier != tier {
			continue
		}
		if quantity > 0 && !t.Covers(quantity) {
			continue
		}
		if best == nil || t.MinQuantity > best.MinQuantity ||
			(t.MinQuantity == best.MinQuantity && t.ID < best.ID) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	row := *best
	return &row
}

package rules

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/tierprice/internal/cache"
	"github.com/opensource-finance/tierprice/internal/clock"
	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/opensource-finance/tierprice/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var march = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	resolver *Resolver
	repo     *repository.SQLRepository
	cache    *cache.PricingCache
	clock    *clock.Fixed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "rules.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	_, err = repository.LoadFixturesFile(context.Background(), repo, "../repository/testdata/fixtures.yaml")
	require.NoError(t, err)

	conditions, err := NewConditionEngine()
	require.NoError(t, err)

	pc := cache.NewPricingCache(cache.NewLRUCache(1000, time.Minute), domain.CacheConfig{}, nil)
	clk := clock.NewFixed(march)

	return &fixture{
		resolver: NewResolver(repo, pc, conditions, clk, 4),
		repo:     repo,
		cache:    pc,
		clock:    clk,
	}
}

func drillContext(customerID string, quantity int) domain.PricingContext {
	return domain.PricingContext{
		CustomerID:    customerID,
		ProductID:     "prod-drill",
		BrandID:       "brand-acme",
		CategoryID:    "cat-tools",
		SubcategoryID: "sub-drills",
		Quantity:      quantity,
	}
}

func ruleIDs(rules []domain.ApplicableRule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}

func TestFindApplicableRules(t *testing.T) {
	ctx := context.Background()

	t.Run("most specific first with resolved tiers", func(t *testing.T) {
		f := newFixture(t)

		rules, err := f.resolver.FindApplicableRules(ctx, drillContext("cust-gold", 2))
		require.NoError(t, err)
		require.Equal(t, []string{"rule-drill", "rule-acme"}, ruleIDs(rules))

		drill := rules[0]
		require.NotNil(t, drill.CustomerTier)
		assert.Equal(t, domain.TierA, *drill.CustomerTier)
		require.NotNil(t, drill.ApplicableDiscount)
		assert.Equal(t, domain.DiscountFixedAmount, drill.ApplicableDiscount.DiscountType)
		assert.True(t, decimal.RequireFromString("5").Equal(drill.ApplicableDiscount.DiscountValue))
		assert.Len(t, drill.Tiers, 2)

		acme := rules[1]
		require.NotNil(t, acme.ApplicableDiscount)
		assert.Equal(t, domain.DiscountPercentage, acme.ApplicableDiscount.DiscountType)
		assert.True(t, decimal.NewFromInt(10).Equal(acme.ApplicableDiscount.DiscountValue))
	})

	t.Run("quantity selects the tighter tier row", func(t *testing.T) {
		f := newFixture(t)

		rules, err := f.resolver.FindApplicableRules(ctx, drillContext("cust-gold", 10))
		require.NoError(t, err)
		require.NotNil(t, rules[0].ApplicableDiscount)
		assert.True(t, decimal.RequireFromString("7.5").Equal(rules[0].ApplicableDiscount.DiscountValue))
	})

	t.Run("matched but ineligible rules are kept", func(t *testing.T) {
		f := newFixture(t)

		rules, err := f.resolver.FindApplicableRules(ctx, drillContext("cust-silver", 1))
		require.NoError(t, err)
		require.Equal(t, []string{"rule-drill", "rule-acme"}, ruleIDs(rules))

		assert.Nil(t, rules[0].CustomerTier)
		assert.Nil(t, rules[0].ApplicableDiscount)
		require.NotNil(t, rules[1].CustomerTier)
		assert.Equal(t, domain.TierB, *rules[1].CustomerTier)
	})

	t.Run("expired rules drop out", func(t *testing.T) {
		f := newFixture(t)
		pctx := drillContext("cust-gold", 1)
		pctx.CurrentDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		rules, err := f.resolver.FindApplicableRules(ctx, pctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"rule-acme"}, ruleIDs(rules))
	})

	t.Run("no level match returns empty", func(t *testing.T) {
		f := newFixture(t)

		rules, err := f.resolver.FindApplicableRules(ctx, domain.PricingContext{
			CustomerID: "cust-gold",
			ProductID:  "prod-unknown",
			BrandID:    "brand-other",
		})
		require.NoError(t, err)
		assert.NotNil(t, rules)
		assert.Empty(t, rules)
	})

	t.Run("zero quantity defaults to one", func(t *testing.T) {
		f := newFixture(t)

		rules, err := f.resolver.FindApplicableRules(ctx, drillContext("cust-gold", 0))
		require.NoError(t, err)
		require.NotNil(t, rules[0].ApplicableDiscount)
		assert.Equal(t, 1, rules[0].ApplicableDiscount.MinQuantity)
	})

	t.Run("invalid input", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.resolver.FindApplicableRules(ctx, drillContext("", 1))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		_, err = f.resolver.FindApplicableRules(ctx, drillContext("cust-gold", -1))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("active rules are served from cache until invalidated", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.resolver.FindApplicableRules(ctx, drillContext("cust-gold", 1))
		require.NoError(t, err)

		require.NoError(t, f.repo.SaveRule(ctx, &domain.DiscountRule{
			ID:        "rule-drills-sub",
			Name:      "Drill aisle",
			RuleType:  domain.RuleTypeCustomerDiscount,
			Level:     domain.LevelSubcategory,
			TargetID:  "sub-drills",
			StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Status:    domain.RuleStatusActive,
		}))

		rules, err := f.resolver.FindApplicableRules(ctx, drillContext("cust-gold", 1))
		require.NoError(t, err)
		assert.Equal(t, []string{"rule-drill", "rule-acme"}, ruleIDs(rules))

		require.NoError(t, f.cache.InvalidateRules(ctx))

		rules, err = f.resolver.FindApplicableRules(ctx, drillContext("cust-gold", 1))
		require.NoError(t, err)
		assert.Equal(t, []string{"rule-drill", "rule-drills-sub", "rule-acme"}, ruleIDs(rules))
	})

	t.Run("conditions narrow eligibility", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.repo.SaveRule(ctx, &domain.DiscountRule{
			ID:        "rule-bulk",
			Name:      "Bulk tools",
			RuleType:  domain.RuleTypeVolumePricing,
			Level:     domain.LevelCategory,
			TargetID:  "cat-tools",
			StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Status:    domain.RuleStatusActive,
			Condition: "quantity >= 20",
		}))

		rules, err := f.resolver.FindApplicableRules(ctx, drillContext("cust-gold", 5))
		require.NoError(t, err)
		assert.NotContains(t, ruleIDs(rules), "rule-bulk")

		rules, err = f.resolver.FindApplicableRules(ctx, drillContext("cust-gold", 20))
		require.NoError(t, err)
		assert.Equal(t, []string{"rule-drill", "rule-bulk", "rule-acme"}, ruleIDs(rules))
	})

	t.Run("broken condition excludes the rule", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.repo.SaveRule(ctx, &domain.DiscountRule{
			ID:        "rule-broken",
			Level:     domain.LevelBrand,
			TargetID:  "brand-acme",
			StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Status:    domain.RuleStatusActive,
			Condition: "quantity +",
		}))

		rules, err := f.resolver.FindApplicableRules(ctx, drillContext("cust-gold", 1))
		require.NoError(t, err)
		assert.NotContains(t, ruleIDs(rules), "rule-broken")
	})
}

func TestFindApplicableRulesForProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rules, err := f.resolver.FindApplicableRulesForProduct(ctx, "cust-gold", "prod-saw", 1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"rule-acme"}, ruleIDs(rules))

	_, err = f.resolver.FindApplicableRulesForProduct(ctx, "cust-gold", "prod-missing", 1, time.Time{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.resolver.FindApplicableRulesForProduct(ctx, "cust-gold", "", 1, time.Time{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFindApplicableRulesForCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	byProduct, err := f.resolver.FindApplicableRulesForCart(ctx, "cust-gold", []CartLine{
		{ProductID: "prod-drill", Quantity: 2},
		{ProductID: "prod-saw", Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, byProduct, 2)
	assert.Equal(t, []string{"rule-drill", "rule-acme"}, ruleIDs(byProduct["prod-drill"]))
	assert.Equal(t, []string{"rule-acme"}, ruleIDs(byProduct["prod-saw"]))

	_, err = f.resolver.FindApplicableRulesForCart(ctx, "cust-gold", []CartLine{
		{ProductID: "prod-drill", Quantity: 2},
		{ProductID: "prod-missing", Quantity: 1},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type failingStore struct {
	domain.RuleStore
	err error
}

func (s failingStore) ListTiersByRuleIDs(context.Context, []string) ([]domain.DiscountRuleTier, error) {
	return nil, s.err
}

func TestFindApplicableRulesDataAccessError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection reset")
	f.resolver.store = failingStore{RuleStore: f.repo, err: boom}

	_, err := f.resolver.FindApplicableRules(context.Background(), drillContext("cust-gold", 1))
	require.Error(t, err)

	var dae *domain.DataAccessError
	require.ErrorAs(t, err, &dae)
	assert.ErrorIs(t, err, boom)
}

func TestSortBySpecificity(t *testing.T) {
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	rules := []domain.DiscountRule{
		{ID: "brand", Level: domain.LevelBrand, CreatedAt: newer},
		{ID: "cat-old", Level: domain.LevelCategory, CreatedAt: older},
		{ID: "product", Level: domain.LevelProduct, CreatedAt: older},
		{ID: "cat-new-b", Level: domain.LevelCategory, CreatedAt: newer},
		{ID: "cat-new-a", Level: domain.LevelCategory, CreatedAt: newer},
		{ID: "sub", Level: domain.LevelSubcategory, CreatedAt: older},
	}
	SortBySpecificity(rules)

	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"product", "sub", "cat-new-a", "cat-new-b", "cat-old", "brand"}, ids)
}

func TestMatchingTier(t *testing.T) {
	ten := 10
	twenty := 20
	tiers := []domain.DiscountRuleTier{
		{ID: "a-1", Tier: domain.TierA, MinQuantity: 1, MaxQuantity: &twenty},
		{ID: "a-10", Tier: domain.TierA, MinQuantity: 10},
		{ID: "b-1", Tier: domain.TierB, MinQuantity: 1, MaxQuantity: &ten},
	}

	tests := []struct {
		name     string
		tier     domain.Tier
		quantity int
		want     string
	}{
		{"below open range", domain.TierA, 9, "a-1"},
		{"open range lower bound", domain.TierA, 10, "a-10"},
		{"overlap prefers highest minimum", domain.TierA, 15, "a-10"},
		{"open range far above", domain.TierA, 1000, "a-10"},
		{"bounded range", domain.TierB, 10, "b-1"},
		{"beyond bounded range", domain.TierB, 11, ""},
		{"no rows for tier", domain.TierC, 1, ""},
		{"any quantity", domain.TierA, 0, "a-10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchingTier(tiers, tt.tier, tt.quantity)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

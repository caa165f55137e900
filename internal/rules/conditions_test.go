package rules

import (
	"testing"
	"time"

	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionEngine(t *testing.T) {
	engine, err := NewConditionEngine()
	require.NoError(t, err)

	pctx := domain.PricingContext{
		CustomerID:  "cust-gold",
		ProductID:   "prod-drill",
		BrandID:     "brand-acme",
		CategoryID:  "cat-tools",
		Quantity:    12,
		CurrentDate: time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name      string
		condition string
		want      bool
		wantErr   bool
	}{
		{"empty condition", "", true, false},
		{"quantity threshold met", "quantity >= 10", true, false},
		{"quantity threshold missed", "quantity >= 20", false, false},
		{"customer allow list", "customer_id in ['cust-gold', 'cust-platinum']", true, false},
		{"date window", "date >= '2025-06-01' && date <= '2025-06-30'", true, false},
		{"prefix match", "product_id.startsWith('prod-')", true, false},
		{"non bool result", "quantity + 1", false, true},
		{"syntax error", "quantity >=", false, true},
		{"unknown variable", "region == 'eu'", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &domain.DiscountRule{ID: "rule-x", Condition: tt.condition}

			got, err := engine.Eligible(rule, pctx)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Error(t, engine.Validate(tt.condition))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, engine.Validate(tt.condition))
		})
	}
}

func TestConditionEngineCachesPrograms(t *testing.T) {
	engine, err := NewConditionEngine()
	require.NoError(t, err)

	rule := &domain.DiscountRule{ID: "rule-x", Condition: "quantity > 1"}
	for _, q := range []int{1, 2} {
		_, err := engine.Eligible(rule, domain.PricingContext{Quantity: q})
		require.NoError(t, err)
	}
	assert.Len(t, engine.programs, 1)
}

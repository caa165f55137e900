package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/tierprice/internal/bus"
	"github.com/opensource-finance/tierprice/internal/clock"
	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func subscribe(t *testing.T, b domain.EventBus, topic string) <-chan *domain.Message {
	t.Helper()
	ch := make(chan *domain.Message, 10)
	_, err := b.Subscribe(context.Background(), topic, func(_ context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	require.NoError(t, err)
	return ch
}

func receive(t *testing.T, ch <-chan *domain.Message) *domain.AuditEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var event domain.AuditEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		return &event
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for audit event")
		return nil
	}
}

func TestLogger(t *testing.T) {
	ctx := context.Background()
	b := bus.NewChannelBus(10)
	t.Cleanup(func() { b.Close() })

	logger := NewLogger(b, clock.NewFixed(now))
	events := subscribe(t, b, "tierprice.audit.*")

	t.Run("successful pricing", func(t *testing.T) {
		err := logger.LogSuccessfulPricing(ctx, domain.PricingAudit{
			CustomerID:     "cust-gold",
			ProductID:      "prod-drill",
			Quantity:       2,
			BasePrice:      decimal.NewFromInt(50),
			FinalPrice:     decimal.NewFromInt(90),
			DiscountAmount: decimal.NewFromInt(10),
			RuleID:         "rule-drill",
			RuleName:       "Drill volume deal",
			Tier:           domain.TierA,
			Duration:       42 * time.Millisecond,
		})
		require.NoError(t, err)

		event := receive(t, events)
		assert.NotEmpty(t, event.ID)
		assert.Equal(t, domain.AuditPricingCalculation, event.EventType)
		assert.Equal(t, domain.SeverityInfo, event.Severity)
		assert.Equal(t, domain.AuditStatusSuccess, event.Status)
		assert.Equal(t, "rule-drill", event.RuleID)
		assert.Equal(t, domain.TierA, event.TierName)
		assert.Equal(t, int64(42), event.DurationMs)
		assert.True(t, decimal.NewFromInt(90).Equal(event.FinalPrice))
		assert.True(t, now.Equal(event.CreatedAt))
	})

	t.Run("pricing error", func(t *testing.T) {
		err := logger.LogPricingError(ctx, domain.PricingAudit{
			CustomerID:   "cust-gold",
			ProductID:    "prod-missing",
			ErrorMessage: "record not found: product prod-missing",
		})
		require.NoError(t, err)

		event := receive(t, events)
		assert.Equal(t, domain.AuditPricingError, event.EventType)
		assert.Equal(t, domain.SeverityHigh, event.Severity)
		assert.Equal(t, domain.AuditStatusFailure, event.Status)
		assert.Equal(t, "record not found: product prod-missing", event.ErrorMessage)
	})

	t.Run("discount evaluation carries candidates", func(t *testing.T) {
		err := logger.LogDiscountEvaluation(ctx, domain.PricingAudit{
			CustomerID: "cust-gold",
			ProductID:  "prod-drill",
			Evaluated: []domain.EvaluatedDiscount{
				{RuleID: "rule-drill", Tier: domain.TierA, Savings: decimal.NewFromInt(10), DiscountAmount: decimal.NewFromInt(10)},
				{RuleID: "rule-acme", Tier: domain.TierA, Savings: decimal.NewFromInt(10), DiscountAmount: decimal.NewFromInt(10)},
			},
		})
		require.NoError(t, err)

		event := receive(t, events)
		assert.Equal(t, domain.AuditDiscountEvaluation, event.EventType)
		require.Len(t, event.EvaluatedDiscounts, 2)
		assert.Equal(t, "rule-acme", event.EvaluatedDiscounts[1].RuleID)
	})
}

func TestLoggerWithoutBus(t *testing.T) {
	logger := NewLogger(nil, nil)
	assert.NoError(t, logger.LogSuccessfulPricing(context.Background(), domain.PricingAudit{CustomerID: "c"}))
}

type closedBus struct {
	domain.EventBus
}

func (closedBus) Publish(context.Context, string, []byte) error {
	return errors.New("bus is closed")
}

func TestLoggerPublishError(t *testing.T) {
	logger := NewLogger(closedBus{}, nil)

	err := logger.LogPricingError(context.Background(), domain.PricingAudit{CustomerID: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus is closed")
}

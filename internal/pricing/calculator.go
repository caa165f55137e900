package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/tierprice/internal/cache"
	"github.com/opensource-finance/tierprice/internal/clock"
	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/opensource-finance/tierprice/internal/metrics"
	"github.com/opensource-finance/tierprice/internal/rules"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("tierprice-pricing")

// Calculator composes rule resolution, evaluation and selection into a
// customer price.
type Calculator struct {
	resolver *rules.Resolver
	cache    *cache.PricingCache
	audit    domain.AuditLogger
	metrics  *metrics.PricingMetrics
	clock    clock.Clock
	cfg      domain.PricingConfig
}

// NewCalculator creates a calculator. auditLogger and m may be nil.
func NewCalculator(resolver *rules.Resolver, pc *cache.PricingCache, auditLogger domain.AuditLogger, m *metrics.PricingMetrics, clk clock.Clock, cfg domain.PricingConfig) *Calculator {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.LatencyBudget <= 0 {
		cfg.LatencyBudget = 200 * time.Millisecond
	}
	if !cfg.DefaultStrategy.Valid() {
		cfg.DefaultStrategy = domain.StrategyBestForCustomer
	}
	return &Calculator{
		resolver: resolver,
		cache:    pc,
		audit:    auditLogger,
		metrics:  m,
		clock:    clk,
		cfg:      cfg,
	}
}

// CalculateCustomerPrice prices quantity units of a product for a customer,
// applying at most one discount. A product with no applicable discount is
// priced at base. Store and cache failures are returned, never degraded to
// the base price.
func (c *Calculator) CalculateCustomerPrice(ctx context.Context, input domain.PriceCalculationInput) (*domain.PriceCalculationResult, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pricing.CalculateCustomerPrice")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer_id", input.CustomerID),
		attribute.String("product_id", input.ProductID),
		attribute.Int("quantity", input.Quantity),
	)

	result, outcome, err := c.calculate(ctx, input)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.ObserveCalculation(metrics.OutcomeError, elapsed)

		slog.Error("pricing failed",
			"customer_id", input.CustomerID,
			"product_id", input.ProductID,
			"quantity", input.Quantity,
			"error", err,
		)
		c.logAudit(ctx, c.auditor().LogPricingError, domain.PricingAudit{
			CustomerID:   input.CustomerID,
			ProductID:    input.ProductID,
			Quantity:     input.Quantity,
			BasePrice:    input.BasePrice,
			ErrorMessage: err.Error(),
			Duration:     elapsed,
		})
		return nil, err
	}

	c.metrics.ObserveCalculation(outcome, elapsed)
	span.SetAttributes(attribute.Bool("discount_applied", result.DiscountApplied))

	if elapsed > c.cfg.LatencyBudget {
		c.metrics.IncOverBudget()
		slog.Warn("pricing exceeded latency budget",
			"customer_id", input.CustomerID,
			"product_id", input.ProductID,
			"elapsed_ms", elapsed.Milliseconds(),
			"budget_ms", c.cfg.LatencyBudget.Milliseconds(),
		)
	}

	if outcome == metrics.OutcomeCached {
		return result, nil
	}

	audit := domain.PricingAudit{
		CustomerID:         result.CustomerID,
		ProductID:          result.ProductID,
		Quantity:           result.Quantity,
		BasePrice:          result.BasePrice,
		FinalPrice:         result.FinalPrice,
		DiscountAmount:     result.TotalSavings,
		DiscountPercentage: result.SavingsPercentage,
		Evaluated:          result.AllEvaluatedDiscounts,
		SelectionReason:    result.SelectionReason,
		Duration:           elapsed,
	}
	if best := result.BestDiscount; best != nil {
		audit.RuleID = best.RuleID
		audit.RuleName = best.RuleName
		audit.Tier = best.Tier
	}
	c.logAudit(ctx, c.auditor().LogSuccessfulPricing, audit)

	return result, nil
}

func (c *Calculator) calculate(ctx context.Context, input domain.PriceCalculationInput) (*domain.PriceCalculationResult, string, error) {
	input, err := c.normalize(input)
	if err != nil {
		return nil, "", err
	}

	at := c.clock.Now()
	if input.CurrentDate != nil {
		at = *input.CurrentDate
	}

	// Cached results only exist for the default strategy.
	cacheable := input.Strategy == c.cfg.DefaultStrategy
	if cacheable {
		cached, ok, err := c.cache.GetPricing(ctx, input.CustomerID, input.ProductID, input.Quantity)
		if err != nil {
			return nil, "", domain.DataAccess("pricing cache", err)
		}
		if ok && cached.BasePrice.Equal(input.BasePrice) && domain.DateKey(cached.CalculatedAt) == domain.DateKey(at) {
			slog.Debug("pricing cache hit",
				"customer_id", input.CustomerID,
				"product_id", input.ProductID,
				"quantity", input.Quantity,
			)
			return cached, metrics.OutcomeCached, nil
		}
	}

	applicable, err := c.resolver.FindApplicableRulesForProduct(ctx, input.CustomerID, input.ProductID, input.Quantity, at)
	if err != nil {
		return nil, "", err
	}

	evaluated := make([]domain.EvaluatedDiscount, 0, len(applicable))
	metadata := make(map[string]domain.RuleMetadata, len(applicable))
	for _, rule := range applicable {
		d, ok, err := EvaluateRule(rule, input.BasePrice, input.Quantity)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}
		evaluated = append(evaluated, d)
		metadata[rule.ID] = domain.RuleMetadata{Level: rule.Level, CreatedAt: rule.CreatedAt}
	}

	if len(evaluated) >= 2 {
		c.logAudit(ctx, c.auditor().LogDiscountEvaluation, domain.PricingAudit{
			CustomerID: input.CustomerID,
			ProductID:  input.ProductID,
			Quantity:   input.Quantity,
			BasePrice:  input.BasePrice,
			Evaluated:  evaluated,
		})
	}

	best := SelectBestDiscount(evaluated, input.Strategy, metadata)

	var reason string
	if best != nil {
		if err := ValidateNoStacking([]domain.EvaluatedDiscount{*best}); err != nil {
			return nil, "", err
		}
		reason = ExplainDiscountSelection(best, evaluated)
		slog.Info("discount selected",
			"customer_id", input.CustomerID,
			"product_id", input.ProductID,
			"rule_id", best.RuleID,
			"tier", best.Tier,
			"savings", best.Savings.String(),
			"reason", reason,
		)
	}

	result := buildResult(input, at, best, evaluated, reason)

	if cacheable {
		if err := c.cache.SetPricing(ctx, result); err != nil {
			return nil, "", domain.DataAccess("pricing cache", err)
		}
	}

	outcome := metrics.OutcomeNoDiscount
	if result.DiscountApplied {
		outcome = metrics.OutcomeDiscount
	}
	return result, outcome, nil
}

func (c *Calculator) normalize(input domain.PriceCalculationInput) (domain.PriceCalculationInput, error) {
	if input.CustomerID == "" || input.ProductID == "" {
		return input, fmt.Errorf("%w: customerId and productId are required", domain.ErrInvalidInput)
	}
	if input.Quantity < 0 {
		return input, fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrInvalidInput, input.Quantity)
	}
	if input.Quantity == 0 {
		input.Quantity = 1
	}
	if input.BasePrice.IsNegative() {
		return input, fmt.Errorf("%w: basePrice must not be negative", domain.ErrInvalidInput)
	}
	if input.Strategy == "" {
		input.Strategy = c.cfg.DefaultStrategy
	}
	if !input.Strategy.Valid() {
		return input, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidInput, input.Strategy)
	}
	return input, nil
}

func buildResult(input domain.PriceCalculationInput, at time.Time, best *domain.EvaluatedDiscount, evaluated []domain.EvaluatedDiscount, reason string) *domain.PriceCalculationResult {
	qty := decimal.NewFromInt(int64(input.Quantity))
	baseTotal := input.BasePrice.Mul(qty)

	finalPrice := baseTotal
	savings := decimal.Zero
	if best != nil {
		savings = best.Savings
		finalPrice = baseTotal.Sub(savings)
	}

	pct := decimal.Zero
	if !baseTotal.IsZero() {
		pct = savings.Div(baseTotal).Mul(hundred).Round(2)
	}

	return &domain.PriceCalculationResult{
		CustomerID:            input.CustomerID,
		ProductID:             input.ProductID,
		Quantity:              input.Quantity,
		BasePrice:             input.BasePrice,
		BaseTotalPrice:        baseTotal,
		FinalPrice:            finalPrice,
		FinalUnitPrice:        finalPrice.DivRound(qty, 2),
		TotalSavings:          savings,
		SavingsPercentage:     pct,
		DiscountApplied:       best != nil,
		BestDiscount:          best,
		AllEvaluatedDiscounts: evaluated,
		SelectionReason:       reason,
		CalculatedAt:          at.UTC(),
	}
}

// CalculateCartPrices prices every line independently and concurrently.
func (c *Calculator) CalculateCartPrices(ctx context.Context, customerID string, items []domain.CartItem) (*domain.CartResult, error) {
	results := make([]domain.PriceCalculationResult, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxWorkers)
	for i, item := range items {
		g.Go(func() error {
			r, err := c.CalculateCustomerPrice(gctx, domain.PriceCalculationInput{
				CustomerID: customerID,
				ProductID:  item.ProductID,
				Quantity:   item.Quantity,
				BasePrice:  item.BasePrice,
			})
			if err != nil {
				return fmt.Errorf("product %s: %w", item.ProductID, err)
			}
			results[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cart := &domain.CartResult{
		CustomerID:   customerID,
		Items:        results,
		BaseTotal:    decimal.Zero,
		FinalTotal:   decimal.Zero,
		TotalSavings: decimal.Zero,
	}
	for _, r := range results {
		cart.BaseTotal = cart.BaseTotal.Add(r.BaseTotalPrice)
		cart.FinalTotal = cart.FinalTotal.Add(r.FinalPrice)
		cart.TotalSavings = cart.TotalSavings.Add(r.TotalSavings)
	}

	slog.Info("cart priced",
		"customer_id", customerID,
		"items", len(results),
		"final_total", cart.FinalTotal.String(),
		"total_savings", cart.TotalSavings.String(),
	)
	return cart, nil
}

// GetCustomerSavingsSummary projects savings at the standard quantity
// breakpoints, keeping only those where a discount applies.
func (c *Calculator) GetCustomerSavingsSummary(ctx context.Context, customerID, productID string, basePrice decimal.Decimal) ([]domain.SavingsProjection, error) {
	results := make([]*domain.PriceCalculationResult, len(domain.SavingsBreakpoints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxWorkers)
	for i, qty := range domain.SavingsBreakpoints {
		g.Go(func() error {
			r, err := c.CalculateCustomerPrice(gctx, domain.PriceCalculationInput{
				CustomerID: customerID,
				ProductID:  productID,
				Quantity:   qty,
				BasePrice:  basePrice,
			})
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	projections := make([]domain.SavingsProjection, 0, len(results))
	for _, r := range results {
		if !r.DiscountApplied {
			continue
		}
		projections = append(projections, domain.SavingsProjection{
			Quantity:          r.Quantity,
			Savings:           r.TotalSavings,
			SavingsPercentage: r.SavingsPercentage,
			FinalPrice:        r.FinalPrice,
		})
	}
	return projections, nil
}

func (c *Calculator) auditor() domain.AuditLogger {
	if c.audit == nil {
		return nopAudit{}
	}
	return c.audit
}

// logAudit reports an audit event. Audit failures never fail a calculation.
func (c *Calculator) logAudit(ctx context.Context, fn func(context.Context, domain.PricingAudit) error, p domain.PricingAudit) {
	if err := fn(ctx, p); err != nil {
		slog.Warn("audit logging failed",
			"customer_id", p.CustomerID,
			"product_id", p.ProductID,
			"error", err,
		)
	}
}

type nopAudit struct{}

func (nopAudit) LogSuccessfulPricing(context.Context, domain.PricingAudit) error  { return nil }
func (nopAudit) LogPricingError(context.Context, domain.PricingAudit) error       { return nil }
func (nopAudit) LogDiscountEvaluation(context.Context, domain.PricingAudit) error { return nil }

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/opensource-finance/tierprice/internal/metrics"
)

// PricingCache is a typed view over a domain.Cache for the pricing engine's
// namespaces. Values are JSON encoded.
type PricingCache struct {
	cache   domain.Cache
	cfg     domain.CacheConfig
	metrics *metrics.PricingMetrics
}

// NewPricingCache wraps c. Zero TTLs in cfg fall back to the cache default.
func NewPricingCache(c domain.Cache, cfg domain.CacheConfig, m *metrics.PricingMetrics) *PricingCache {
	return &PricingCache{cache: c, cfg: cfg, metrics: m}
}

// assignmentEntry distinguishes a cached "no assignment" from a miss.
type assignmentEntry struct {
	Assignment *domain.CustomerTierAssignment `json:"assignment"`
}

// GetRules returns the active rules cached for date.
func (p *PricingCache) GetRules(ctx context.Context, date time.Time) ([]domain.DiscountRule, bool, error) {
	var rules []domain.DiscountRule
	ok, err := p.get(ctx, domain.NamespaceRules, domain.DateKey(date), &rules)
	return rules, ok, err
}

// SetRules caches the active rules for date.
func (p *PricingCache) SetRules(ctx context.Context, date time.Time, rules []domain.DiscountRule) error {
	return p.set(ctx, domain.NamespaceRules, domain.DateKey(date), rules, p.cfg.RulesTTL)
}

// GetRuleTiers returns the cached tiers of a rule.
func (p *PricingCache) GetRuleTiers(ctx context.Context, ruleID string) ([]domain.DiscountRuleTier, bool, error) {
	var tiers []domain.DiscountRuleTier
	ok, err := p.get(ctx, domain.NamespaceRuleTiers, ruleID, &tiers)
	return tiers, ok, err
}

// SetRuleTiers caches the tiers of a rule.
func (p *PricingCache) SetRuleTiers(ctx context.Context, ruleID string, tiers []domain.DiscountRuleTier) error {
	return p.set(ctx, domain.NamespaceRuleTiers, ruleID, tiers, p.cfg.RuleTiersTTL)
}

// GetAssignment returns a cached assignment. A hit with a nil assignment
// means the customer is known to have none for the rule.
func (p *PricingCache) GetAssignment(ctx context.Context, customerID, ruleID string) (*domain.CustomerTierAssignment, bool, error) {
	var entry assignmentEntry
	ok, err := p.get(ctx, domain.NamespaceTierAssignment, customerID+":"+ruleID, &entry)
	return entry.Assignment, ok, err
}

// SetAssignment caches a (possibly nil) assignment.
func (p *PricingCache) SetAssignment(ctx context.Context, customerID, ruleID string, a *domain.CustomerTierAssignment) error {
	return p.set(ctx, domain.NamespaceTierAssignment, customerID+":"+ruleID, assignmentEntry{Assignment: a}, p.cfg.AssignmentTTL)
}

// GetProduct returns cached product hierarchy details.
func (p *PricingCache) GetProduct(ctx context.Context, productID string) (*domain.Product, bool, error) {
	var product domain.Product
	ok, err := p.get(ctx, domain.NamespaceProduct, productID, &product)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &product, true, nil
}

// SetProduct caches product hierarchy details.
func (p *PricingCache) SetProduct(ctx context.Context, product *domain.Product) error {
	return p.set(ctx, domain.NamespaceProduct, product.ID, product, p.cfg.ProductTTL)
}

// GetPricing returns a cached price calculation.
func (p *PricingCache) GetPricing(ctx context.Context, customerID, productID string, quantity int) (*domain.PriceCalculationResult, bool, error) {
	var result domain.PriceCalculationResult
	ok, err := p.get(ctx, domain.NamespacePricing, pricingKey(customerID, productID, quantity), &result)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &result, true, nil
}

// SetPricing caches a price calculation.
func (p *PricingCache) SetPricing(ctx context.Context, result *domain.PriceCalculationResult) error {
	key := pricingKey(result.CustomerID, result.ProductID, result.Quantity)
	return p.set(ctx, domain.NamespacePricing, key, result, p.cfg.PricingTTL)
}

func pricingKey(customerID, productID string, quantity int) string {
	return customerID + ":" + productID + ":" + strconv.Itoa(quantity)
}

// Invalidate applies an invalidation request. Every scope also drops the
// pricing results it may have influenced.
func (p *PricingCache) Invalidate(ctx context.Context, req domain.InvalidationRequest) error {
	switch req.Scope {
	case domain.InvalidateRules:
		return p.InvalidateRules(ctx)
	case domain.InvalidateRuleTiers:
		if req.RuleID == "" {
			return fmt.Errorf("%w: ruleId is required for %s invalidation", domain.ErrInvalidInput, req.Scope)
		}
		return p.InvalidateRuleTiers(ctx, req.RuleID)
	case domain.InvalidateAssignment:
		if req.CustomerID == "" || req.RuleID == "" {
			return fmt.Errorf("%w: customerId and ruleId are required for %s invalidation", domain.ErrInvalidInput, req.Scope)
		}
		return p.InvalidateAssignment(ctx, req.CustomerID, req.RuleID)
	case domain.InvalidateProduct:
		if req.ProductID == "" {
			return fmt.Errorf("%w: productId is required for %s invalidation", domain.ErrInvalidInput, req.Scope)
		}
		return p.InvalidateProduct(ctx, req.ProductID)
	case domain.InvalidateCustomer:
		if req.CustomerID == "" {
			return fmt.Errorf("%w: customerId is required for %s invalidation", domain.ErrInvalidInput, req.Scope)
		}
		return p.InvalidateCustomer(ctx, req.CustomerID)
	case domain.InvalidateAll:
		return p.InvalidateAll(ctx)
	default:
		return fmt.Errorf("%w: unknown invalidation scope %q", domain.ErrInvalidInput, req.Scope)
	}
}

// InvalidateRules drops every cached active-rule list.
func (p *PricingCache) InvalidateRules(ctx context.Context) error {
	if err := p.cache.DeletePrefix(ctx, domain.NamespaceRules, ""); err != nil {
		return err
	}
	return p.cache.DeletePrefix(ctx, domain.NamespacePricing, "")
}

// InvalidateRuleTiers drops the cached tiers of one rule.
func (p *PricingCache) InvalidateRuleTiers(ctx context.Context, ruleID string) error {
	if err := p.cache.Delete(ctx, domain.NamespaceRuleTiers, ruleID); err != nil {
		return err
	}
	return p.cache.DeletePrefix(ctx, domain.NamespacePricing, "")
}

// InvalidateAssignment drops one cached assignment and the customer's prices.
func (p *PricingCache) InvalidateAssignment(ctx context.Context, customerID, ruleID string) error {
	if err := p.cache.Delete(ctx, domain.NamespaceTierAssignment, customerID+":"+ruleID); err != nil {
		return err
	}
	return p.cache.DeletePrefix(ctx, domain.NamespacePricing, customerID+":")
}

// InvalidateProduct drops cached product details and all prices.
func (p *PricingCache) InvalidateProduct(ctx context.Context, productID string) error {
	if err := p.cache.Delete(ctx, domain.NamespaceProduct, productID); err != nil {
		return err
	}
	return p.cache.DeletePrefix(ctx, domain.NamespacePricing, "")
}

// InvalidateCustomer drops a customer's assignments and prices.
func (p *PricingCache) InvalidateCustomer(ctx context.Context, customerID string) error {
	if err := p.cache.DeletePrefix(ctx, domain.NamespaceTierAssignment, customerID+":"); err != nil {
		return err
	}
	return p.cache.DeletePrefix(ctx, domain.NamespacePricing, customerID+":")
}

// InvalidateAll clears every pricing namespace.
func (p *PricingCache) InvalidateAll(ctx context.Context) error {
	for _, ns := range []string{
		domain.NamespaceRules,
		domain.NamespaceRuleTiers,
		domain.NamespaceTierAssignment,
		domain.NamespaceProduct,
		domain.NamespacePricing,
	} {
		if err := p.cache.DeletePrefix(ctx, ns, ""); err != nil {
			return fmt.Errorf("invalidate %s: %w", ns, err)
		}
	}
	return nil
}

func (p *PricingCache) get(ctx context.Context, namespace, key string, dst any) (bool, error) {
	data, err := p.cache.Get(ctx, namespace, key)
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", namespace, err)
	}
	if data == nil {
		p.metrics.CacheLookup(namespace, false)
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", namespace, err)
	}
	p.metrics.CacheLookup(namespace, true)
	return true, nil
}

func (p *PricingCache) set(ctx context.Context, namespace, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", namespace, err)
	}
	if err := p.cache.Set(ctx, namespace, key, data, ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", namespace, err)
	}
	return nil
}

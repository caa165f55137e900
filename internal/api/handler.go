package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/opensource-finance/tierprice/internal/cache"
	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/opensource-finance/tierprice/internal/metrics"
	"github.com/opensource-finance/tierprice/internal/pricing"
	"github.com/opensource-finance/tierprice/internal/rules"
	"github.com/shopspring/decimal"
)

// Dependencies are the collaborators the API serves from.
type Dependencies struct {
	Calculator   *pricing.Calculator
	Resolver     *rules.Resolver
	Store        domain.RuleStore
	Cache        domain.Cache
	PricingCache *cache.PricingCache
	Bus          domain.EventBus
	HTTPMetrics  *metrics.HTTPMetrics
	Version      string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	calc         *pricing.Calculator
	resolver     *rules.Resolver
	store        domain.RuleStore
	cache        domain.Cache
	pricingCache *cache.PricingCache
	bus          domain.EventBus
	version      string
	validate     *validator.Validate
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		calc:         deps.Calculator,
		resolver:     deps.Resolver,
		store:        deps.Store,
		cache:        deps.Cache,
		pricingCache: deps.PricingCache,
		bus:          deps.Bus,
		version:      deps.Version,
		validate:     validator.New(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// PriceRequest is the request body for POST /prices.
type PriceRequest struct {
	CustomerID  string          `json:"customerId" validate:"required"`
	ProductID   string          `json:"productId" validate:"required"`
	Quantity    int             `json:"quantity" validate:"gte=0"`
	BasePrice   decimal.Decimal `json:"basePrice"`
	CurrentDate string          `json:"currentDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Strategy    string          `json:"strategy,omitempty" validate:"omitempty,oneof=best_for_customer best_for_business highest_percentage"`
}

// CartRequest is the request body for POST /prices/cart.
type CartRequest struct {
	CustomerID string            `json:"customerId" validate:"required"`
	Items      []CartItemRequest `json:"items" validate:"required,min=1,dive"`
}

// CartItemRequest is one line of a CartRequest.
type CartItemRequest struct {
	ProductID string          `json:"productId" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gte=0"`
	BasePrice decimal.Decimal `json:"basePrice"`
}

// CalculatePrice handles POST /prices.
func (h *Handler) CalculatePrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if !h.decode(w, r, &req) {
		return
	}

	input := domain.PriceCalculationInput{
		CustomerID: req.CustomerID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		BasePrice:  req.BasePrice,
		Strategy:   domain.SelectionStrategy(req.Strategy),
	}
	if req.CurrentDate != "" {
		date, err := time.Parse(domain.DateLayout, req.CurrentDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "currentDate must be YYYY-MM-DD"})
			return
		}
		input.CurrentDate = &date
	}

	result, err := h.calc.CalculateCustomerPrice(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CalculateCart handles POST /prices/cart.
func (h *Handler) CalculateCart(w http.ResponseWriter, r *http.Request) {
	var req CartRequest
	if !h.decode(w, r, &req) {
		return
	}

	items := make([]domain.CartItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			BasePrice: item.BasePrice,
		}
	}

	cart, err := h.calc.CalculateCartPrices(r.Context(), req.CustomerID, items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// SavingsSummary handles GET /customers/{customerID}/products/{productID}/savings.
func (h *Handler) SavingsSummary(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("basePrice")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "basePrice is required"})
		return
	}
	basePrice, err := decimal.NewFromString(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "basePrice must be a decimal number"})
		return
	}

	projections, err := h.calc.GetCustomerSavingsSummary(r.Context(),
		chi.URLParam(r, "customerID"), chi.URLParam(r, "productID"), basePrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projections)
}

// ListApplicableRules handles GET /customers/{customerID}/products/{productID}/rules.
func (h *Handler) ListApplicableRules(w http.ResponseWriter, r *http.Request) {
	quantity, ok := queryInt(w, r, "quantity")
	if !ok {
		return
	}

	var at time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "date must be YYYY-MM-DD"})
			return
		}
		at = d
	}

	applicable, err := h.resolver.FindApplicableRulesForProduct(r.Context(),
		chi.URLParam(r, "customerID"), chi.URLParam(r, "productID"), quantity, at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applicable)
}

// ListCustomerAssignments handles GET /customers/{customerID}/assignments.
func (h *Handler) ListCustomerAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.resolver.GetCustomerTierAssignments(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

// GetCustomerAssignment handles GET /customers/{customerID}/rules/{ruleID}/assignment.
func (h *Handler) GetCustomerAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.resolver.GetCustomerTierAssignment(r.Context(),
		chi.URLParam(r, "customerID"), chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if a == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "assignment not found"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListRuleTiers handles GET /rules/{ruleID}/tiers. With a tier parameter it
// returns the single matching row for the optional quantity.
func (h *Handler) ListRuleTiers(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleID")

	rawTier := r.URL.Query().Get("tier")
	if rawTier == "" {
		tiers, err := h.resolver.GetAllTierDiscounts(r.Context(), ruleID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tiers)
		return
	}

	tier, err := domain.ParseTier(rawTier)
	if err != nil {
		writeError(w, err)
		return
	}
	quantity, ok := queryInt(w, r, "quantity")
	if !ok {
		return
	}

	row, err := h.resolver.GetTierDiscount(r.Context(), ruleID, tier, quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	if row == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no tier discount matches"})
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// ListRuleCustomers handles GET /rules/{ruleID}/customers.
func (h *Handler) ListRuleCustomers(w http.ResponseWriter, r *http.Request) {
	var tier *domain.Tier
	if raw := r.URL.Query().Get("tier"); raw != "" {
		t, err := domain.ParseTier(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		tier = &t
	}

	assignments, err := h.resolver.GetCustomersForRuleTier(r.Context(), chi.URLParam(r, "ruleID"), tier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

// InvalidateCache handles POST /cache/invalidate. The request is applied
// locally and published for other instances.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req domain.InvalidationRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.pricingCache.Invalidate(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(req)
		if err := h.bus.Publish(r.Context(), domain.TopicCacheInvalidate, payload); err != nil {
			slog.Warn("failed to publish cache invalidation",
				"scope", req.Scope,
				"error", err,
			)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAuditLogs handles GET /audit-logs.
func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	q := r.URL.Query()
	logs, err := h.store.ListAuditLogs(r.Context(), domain.AuditLogFilter{
		CustomerID: q.Get("customerId"),
		ProductID:  q.Get("productId"),
		EventType:  domain.AuditEventType(q.Get("eventType")),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, domain.DataAccess("list audit logs", err))
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
	Cache      *cache.Stats      `json:"cache,omitempty"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

type cacheStatser interface {
	Stats() cache.Stats
}

// Health pings the store, cache and bus. A failing component degrades
// the status but the endpoint still answers 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		Components: make(map[string]string),
	}

	checks := []struct {
		name string
		p    pinger
	}{
		{"store", h.store},
		{"cache", h.cache},
		{"bus", h.bus},
	}
	for _, c := range checks {
		if c.p == nil {
			continue
		}
		if err := c.p.Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "component", c.name, "error", err)
			resp.Components[c.name] = "down"
			resp.Status = "degraded"
			continue
		}
		resp.Components[c.name] = "up"
	}

	if s, ok := h.cache.(cacheStatser); ok {
		stats := s.Stats()
		resp.Cache = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: name + " must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var dae *domain.DataAccessError
	switch {
	case errors.As(err, &dae):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPolicyViolation):
		status = http.StatusConflict
	}

	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		slog.Error("data access failed", "op", dae.Op, "error", err)
		msg = "pricing data unavailable"
	case http.StatusInternalServerError:
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

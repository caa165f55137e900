// Package metrics exposes prometheus instruments for the pricing engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Calculation outcomes.
const (
	OutcomeDiscount   = "discount"
	OutcomeNoDiscount = "no_discount"
	OutcomeCached     = "cached"
	OutcomeError      = "error"
)

// PricingMetrics records pricing latency, outcomes and cache effectiveness.
// A nil *PricingMetrics is a valid no-op recorder.
type PricingMetrics struct {
	duration     *prometheus.HistogramVec
	calculations *prometheus.CounterVec
	overBudget   prometheus.Counter
	cacheLookups *prometheus.CounterVec
}

// NewPricingMetrics registers the pricing metrics on the provided registerer.
func NewPricingMetrics(reg prometheus.Registerer) *PricingMetrics {
	if reg == nil {
		return &PricingMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tierprice_calculation_duration_seconds",
		Help:    "Duration of single-product price calculations in seconds.",
		Buckets: []float64{.005, .01, .025, .05, .1, .2, .5, 1, 2.5},
	}, []string{"outcome"})
	calculations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tierprice_calculations_total",
		Help: "Price calculations by outcome.",
	}, []string{"outcome"})
	overBudget := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tierprice_calculations_over_budget_total",
		Help: "Price calculations that exceeded the latency budget.",
	})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tierprice_cache_lookups_total",
		Help: "Pricing cache lookups by namespace and result.",
	}, []string{"namespace", "result"})
	reg.MustRegister(duration, calculations, overBudget, cacheLookups)
	return &PricingMetrics{
		duration:     duration,
		calculations: calculations,
		overBudget:   overBudget,
		cacheLookups: cacheLookups,
	}
}

// ObserveCalculation records one calculation's outcome and duration.
func (m *PricingMetrics) ObserveCalculation(outcome string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
	m.calculations.WithLabelValues(outcome).Inc()
}

// IncOverBudget counts a calculation slower than the latency budget.
func (m *PricingMetrics) IncOverBudget() {
	if m == nil || m.overBudget == nil {
		return
	}
	m.overBudget.Inc()
}

// CacheLookup counts a cache hit or miss for namespace.
func (m *PricingMetrics) CacheLookup(namespace string, hit bool) {
	if m == nil || m.cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(normalizeLabel(namespace), result).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// HTTPMetrics records API request counts and latency by route pattern.
// A nil *HTTPMetrics is a valid no-op recorder.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers the HTTP metrics on the provided registerer.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		return &HTTPMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tierprice_http_requests_total",
		Help: "HTTP requests by method, route pattern and status code.",
	}, []string{"method", "route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tierprice_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by route pattern.",
		Buckets: []float64{.005, .01, .025, .05, .1, .2, .5, 1, 2.5},
	}, []string{"method", "route"})
	reg.MustRegister(requests, duration)
	return &HTTPMetrics{requests: requests, duration: duration}
}

// ObserveRequest records one served request. Route is the router pattern,
// never the raw path, so ids do not become label values.
func (m *HTTPMetrics) ObserveRequest(method, route string, code int, d time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	route = normalizeLabel(route)
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
}

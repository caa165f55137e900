package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPricingMetrics(t *testing.T) {
	t.Run("NilIsNoop", func(t *testing.T) {
		var m *PricingMetrics
		m.ObserveCalculation(OutcomeDiscount, time.Millisecond)
		m.IncOverBudget()
		m.CacheLookup("rules", true)
	})

	t.Run("Records", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := NewPricingMetrics(reg)

		m.ObserveCalculation(OutcomeDiscount, 10*time.Millisecond)
		m.ObserveCalculation(OutcomeDiscount, 20*time.Millisecond)
		m.ObserveCalculation("", time.Millisecond)
		m.CacheLookup("pricing", true)
		m.CacheLookup("pricing", false)
		m.CacheLookup("pricing", false)
		m.IncOverBudget()

		if got := testutil.ToFloat64(m.calculations.WithLabelValues(OutcomeDiscount)); got != 2 {
			t.Errorf("expected 2 discount calculations, got %v", got)
		}
		if got := testutil.ToFloat64(m.calculations.WithLabelValues("unknown")); got != 1 {
			t.Errorf("expected empty outcome to be labelled unknown, got %v", got)
		}
		if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("pricing", "miss")); got != 2 {
			t.Errorf("expected 2 misses, got %v", got)
		}
		if got := testutil.ToFloat64(m.overBudget); got != 1 {
			t.Errorf("expected 1 over-budget calculation, got %v", got)
		}
	})
}

func TestHTTPMetrics(t *testing.T) {
	var nilMetrics *HTTPMetrics
	nilMetrics.ObserveRequest("GET", "/health", 200, time.Millisecond)

	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.ObserveRequest("POST", "/prices", 200, 5*time.Millisecond)
	m.ObserveRequest("POST", "/prices", 200, 7*time.Millisecond)
	m.ObserveRequest("POST", "/prices", 404, time.Millisecond)
	m.ObserveRequest("GET", "", 404, time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("POST", "/prices", "200")); got != 2 {
		t.Errorf("expected 2 successful price requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "unknown", "404")); got != 1 {
		t.Errorf("expected unmatched route to be labelled unknown, got %v", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 2 {
		t.Errorf("expected 2 duration series, got %d", n)
	}
}

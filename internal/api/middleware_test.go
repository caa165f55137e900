package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/tierprice/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewHTTPMetrics(reg)

	router := chi.NewRouter()
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(m))
	router.Use(RecoverMiddleware)
	router.Get("/customers/{customerID}/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	router.Get("/customers/{customerID}/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetRequestID(r.Context())))
	})

	t.Run("RequestIDEchoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/customers/cust-gold/echo", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected request id echoed, got %q", got)
		}
		if rr.Body.String() != "req-123" {
			t.Errorf("expected request id in context, got %q", rr.Body.String())
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected a trace id header")
		}
	})

	t.Run("PanicBecomes500", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/customers/cust-gold/boom", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "internal server error") {
			t.Errorf("expected masked error body, got %s", rr.Body.String())
		}
	})

	t.Run("MetricsUseRoutePattern", func(t *testing.T) {
		for _, id := range []string{"a", "b", "c"} {
			req := httptest.NewRequest(http.MethodGet, "/customers/"+id+"/echo", nil)
			router.ServeHTTP(httptest.NewRecorder(), req)
		}

		expected := `
# HELP tierprice_http_requests_total HTTP requests by method, route pattern and status code.
# TYPE tierprice_http_requests_total counter
tierprice_http_requests_total{code="200",method="GET",route="/customers/{customerID}/echo"} 4
tierprice_http_requests_total{code="500",method="GET",route="/customers/{customerID}/boom"} 1
`
		if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "tierprice_http_requests_total"); err != nil {
			t.Error(err)
		}
	})
}

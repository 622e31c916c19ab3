package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// The metrics middleware composed with a real handler must record all
// four HTTP metric families for a single request.
func TestHTTPMetrics_FullChain(t *testing.T) {
	m, reg := newTestMetrics(t)

	handler := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"has_access":true}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lessons/check-purchase", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	for _, name := range []string{
		MetricHTTPRequestDuration,
		MetricHTTPRequestsTotal,
		MetricHTTPRequestSizeBytes,
		MetricHTTPResponseSizeBytes,
	} {
		if gatherFamily(t, reg, name) == nil {
			t.Errorf("metric family %s not recorded", name)
		}
	}
}

func TestHTTPMetrics_ComposesWithOtherMiddleware(t *testing.T) {
	m, reg := newTestMetrics(t)

	handlerRan := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
		w.WriteHeader(http.StatusOK)
	})

	withHeader := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Outer", "set")
			next.ServeHTTP(w, r)
		})
	}

	stack := withHeader(HTTPMetrics(m)(inner))

	rec := httptest.NewRecorder()
	stack.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lessons/purchase", nil))

	if !handlerRan {
		t.Error("inner handler never ran")
	}
	if rec.Header().Get("X-Outer") != "set" {
		t.Error("outer middleware header missing")
	}
	if gatherFamily(t, reg, MetricHTTPRequestsTotal) == nil {
		t.Error("request counter not recorded through the stack")
	}
}

// Requests for different lesson IDs must collapse into one
// /lessons/{id} series, or the label space grows without bound.
func TestHTTPMetrics_PathNormalization(t *testing.T) {
	m, reg := newTestMetrics(t)

	wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	paths := []string{
		"/lessons/123",
		"/lessons/456",
		"/lessons/abc-def-ghi",
		"/lessons/550e8400-e29b-41d4-a716-446655440000",
	}
	for _, path := range paths {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: status = %d, want 200", path, rec.Code)
		}
	}

	family := gatherFamily(t, reg, MetricHTTPRequestsTotal)
	if family == nil {
		t.Fatal("request counter not recorded")
	}
	if len(family.GetMetric()) != 1 {
		t.Fatalf("series count = %d, want 1 normalized series", len(family.GetMetric()))
	}

	series := family.GetMetric()[0]
	for _, label := range series.GetLabel() {
		if label.GetName() == "path" && label.GetValue() != "/lessons/{id}" {
			t.Errorf("path label = %s, want /lessons/{id}", label.GetValue())
		}
	}
	if got := series.GetCounter().GetValue(); got != float64(len(paths)) {
		t.Errorf("counter = %f, want %d", got, len(paths))
	}
}

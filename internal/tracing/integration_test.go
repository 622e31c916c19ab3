package tracing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/teachniche/api/internal/middleware"
	"github.com/teachniche/api/internal/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	return recorder
}

// Drives a purchase-check request through the tracing middleware into a
// handler that opens its own spans, then checks the whole trace hangs
// together.
func TestPurchaseCheckTrace(t *testing.T) {
	recorder := installRecorder(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ctx, endAccess := tracing.StartSpan(ctx, "check_lesson_access")
		tracing.SetAttributes(ctx,
			attribute.String("user.id", "buyer-8b1f"),
			attribute.String("lesson.id", "lesson-42"),
		)

		ctx, endLedger := tracing.StartDBSpan(ctx, "purchases", tracing.DBOperationQuery)
		endLedger(nil)

		tracing.AddEvent(ctx, "access_granted", attribute.Bool("has_access", true))
		endAccess(nil)

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"has_access":true}`))
	})

	traced := middleware.Tracing("teachniche-api")(handler)

	rr := httptest.NewRecorder()
	traced.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/lessons/check-purchase", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Errorf("span count = %d, want 3", len(spans))
		for i, span := range spans {
			t.Logf("  span %d: %s", i, span.Name())
		}
	}

	byName := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, span := range spans {
		byName[span.Name()] = span
	}
	for _, want := range []string{"GET /lessons/check-purchase", "check_lesson_access", "query purchases"} {
		if _, ok := byName[want]; !ok {
			t.Errorf("missing span %q", want)
		}
	}

	// Every span must belong to the same trace.
	traceID := spans[0].SpanContext().TraceID()
	for i, span := range spans {
		if span.SpanContext().TraceID() != traceID {
			t.Errorf("span %d (%s) has trace ID %s, want %s",
				i, span.Name(), span.SpanContext().TraceID(), traceID)
		}
	}

	ledgerSpan, ok := byName["query purchases"]
	if !ok {
		return
	}
	want := map[attribute.Key]string{
		"db.system":    "postgresql",
		"db.operation": "query",
		"db.sql.table": "purchases",
	}
	for _, attr := range ledgerSpan.Attributes() {
		if expect, tracked := want[attr.Key]; tracked {
			if attr.Value.AsString() != expect {
				t.Errorf("%s = %q, want %q", attr.Key, attr.Value.AsString(), expect)
			}
			delete(want, attr.Key)
		}
	}
	for key := range want {
		t.Errorf("ledger span missing %s attribute", key)
	}
}

// Span helpers must stay callable no-ops when tracing is off.
func TestSpanHelpersWithTracingDisabled(t *testing.T) {
	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName: "teachniche-api",
		Enabled:     false,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if provider.IsEnabled() {
		t.Error("IsEnabled() = true, want false")
	}

	ctx, done := tracing.StartSpan(context.Background(), "check_lesson_access")
	tracing.SetAttributes(ctx, attribute.String("lesson.id", "lesson-42"))
	tracing.AddEvent(ctx, "access_granted")
	done(nil)
}

func TestTraceIDVisibleToHandlers(t *testing.T) {
	recorder := installRecorder(t)

	var handlerTraceID string
	traced := middleware.Tracing("teachniche-api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerTraceID = middleware.GetTraceID(r)
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	traced.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/lessons/check-purchase", nil))

	if handlerTraceID == "" {
		t.Fatal("handler saw no trace ID")
	}

	spans := recorder.Ended()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	if got := spans[0].SpanContext().TraceID().String(); got != handlerTraceID {
		t.Errorf("handler trace ID %s does not match span trace ID %s", handlerTraceID, got)
	}
}

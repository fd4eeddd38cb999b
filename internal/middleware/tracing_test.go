package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return spanRecorder
}

func TestTracing_SpanNames(t *testing.T) {
	tests := []struct {
		method       string
		path         string
		expectedName string
	}{
		{http.MethodGet, "/api/search/cafes", "GET /api/search/cafes"},
		{http.MethodPost, "/api/cafes", "POST /api/cafes"},
		{http.MethodPatch, "/api/cafes/123", "PATCH /api/cafes/{id}"},
		{http.MethodDelete, "/api/cafes/456", "DELETE /api/cafes/{id}"},
	}

	for _, tt := range tests {
		t.Run(tt.expectedName, func(t *testing.T) {
			spanRecorder := newSpanRecorder(t)

			handler := Tracing("test-service")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			spans := spanRecorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if spans[0].Name() != tt.expectedName {
				t.Errorf("expected span name %q, got %q", tt.expectedName, spans[0].Name())
			}
		})
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	spanRecorder := newSpanRecorder(t)

	var capturedTraceID, capturedSpanID string
	handler := Tracing("test-service")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedTraceID = GetTraceID(r)
		capturedSpanID = GetSpanID(r)
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/search/cafes/regular", nil))

	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != capturedTraceID {
		t.Errorf("trace ID mismatch: span %s, handler %s", got, capturedTraceID)
	}
	if got := spans[0].SpanContext().SpanID().String(); got != capturedSpanID {
		t.Errorf("span ID mismatch: span %s, handler %s", got, capturedSpanID)
	}
}

func TestTracing_SkipsOperationalPaths(t *testing.T) {
	spanRecorder := newSpanRecorder(t)

	handler := Tracing("test-service")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for _, path := range []string{"/health", "/ready", "/metrics"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if spans := spanRecorder.Ended(); len(spans) != 0 {
		t.Errorf("expected no spans for probes, got %d", len(spans))
	}
}

func TestGetTraceID_NoActiveSpan(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if traceID := GetTraceID(req); traceID != "" {
		t.Errorf("expected empty trace ID for request without span, got %q", traceID)
	}
	if spanID := GetSpanID(req); spanID != "" {
		t.Errorf("expected empty span ID for request without span, got %q", spanID)
	}
}

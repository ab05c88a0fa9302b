package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())
	})
	return exporter
}

func attrMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{}, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value.AsInterface()
	}
	return m
}

func TestHTTPMiddleware_CreatesSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RequestIDHeader, "req-1")
		w.Write([]byte(`{"ok":true}`))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "GET /api/health" {
		t.Errorf("span name: got %q, want %q", spans[0].Name, "GET /api/health")
	}
	attrs := attrMap(spans[0].Attributes)
	if attrs["http.response.status_code"] != int64(200) {
		t.Errorf("status code: got %v, want 200", attrs["http.response.status_code"])
	}
	if attrs["anchor.request_id"] != "req-1" {
		t.Errorf("anchor.request_id: got %v, want req-1", attrs["anchor.request_id"])
	}
}

func TestHTTPMiddleware_CapturesStatusCode(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	attrs := attrMap(exporter.GetSpans()[0].Attributes)
	if attrs["http.response.status_code"] != int64(404) {
		t.Errorf("status code: got %v, want 404", attrs["http.response.status_code"])
	}
}

func TestHTTPMiddleware_ServerErrorSetsSpanError(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/reply", nil))

	if code := exporter.GetSpans()[0].Status.Code; code != 2 {
		t.Errorf("expected span status Error (2), got %d", code)
	}
}

func TestHTTPMiddleware_NoWriteDefaultsTo200(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	attrs := attrMap(exporter.GetSpans()[0].Attributes)
	if attrs["http.response.status_code"] != int64(200) {
		t.Errorf("status code: got %v, want 200", attrs["http.response.status_code"])
	}
}

func TestHTTPMiddleware_ExtractsTraceContext(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !trace.SpanFromContext(r.Context()).SpanContext().IsValid() {
			t.Error("expected valid span context in request")
		}
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/reply", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	traceID := exporter.GetSpans()[0].SpanContext.TraceID().String()
	if traceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("expected trace ID from injected header, got %s", traceID)
	}
}

func TestStatusWriter_FirstStatusWins(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder()}
	sw.WriteHeader(http.StatusNoContent)
	sw.Write(nil)

	if sw.status != http.StatusNoContent {
		t.Errorf("status: got %d, want %d", sw.status, http.StatusNoContent)
	}
}

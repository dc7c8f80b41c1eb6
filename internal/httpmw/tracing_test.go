package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// tracedRouter serves a chi router inside a recording span and returns the
// ended span.
func tracedRouter(t *testing.T, path string) sdktrace.ReadOnlySpan {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r := chi.NewRouter()
	r.Use(AnnotateHTTPRoute)
	r.Get("/health", func(http.ResponseWriter, *http.Request) {})

	ctx, span := tp.Tracer("test").Start(context.Background(), "initial")
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody).WithContext(ctx)
	r.ServeHTTP(httptest.NewRecorder(), req)
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	return ended[0]
}

func routeAttr(s sdktrace.ReadOnlySpan) string {
	for _, kv := range s.Attributes() {
		if kv.Key == attribute.Key("http.route") {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestAnnotateHTTPRoute_MatchedRoute(t *testing.T) {
	s := tracedRouter(t, "/health")
	if s.Name() != "GET /health" {
		t.Fatalf("span name = %q", s.Name())
	}
	if got := routeAttr(s); got != "/health" {
		t.Fatalf("http.route = %q", got)
	}
}

func TestAnnotateHTTPRoute_UnmatchedRoute(t *testing.T) {
	s := tracedRouter(t, "/wp-login.php")
	if s.Name() != "GET unmatched" {
		t.Fatalf("span name = %q", s.Name())
	}
	if got := routeAttr(s); got != unmatchedRoute {
		t.Fatalf("http.route = %q", got)
	}
}

func TestAnnotateHTTPRoute_NoSpan(t *testing.T) {
	called := false
	h := AnnotateHTTPRoute(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if !called {
		t.Fatal("next handler not called")
	}
}

func TestTraceResponseHeaders(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	h := TraceResponseHeaders("", "")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody).WithContext(ctx))

	if got := rec.Header().Get("X-Trace-Id"); got != tid.String() {
		t.Fatalf("X-Trace-Id = %q", got)
	}
	if got := rec.Header().Get("X-Span-Id"); got != sid.String() {
		t.Fatalf("X-Span-Id = %q", got)
	}
}

func TestTraceResponseHeaders_NoSpanNoHeaders(t *testing.T) {
	h := TraceResponseHeaders("X-T", "X-S")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Header().Get("X-T") != "" || rec.Header().Get("X-S") != "" {
		t.Fatal("headers should be absent without a valid span")
	}
}

package httpmw

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
)

// WithLogger stores a request-scoped logger in the context. Only values the
// server derives itself are attached; query strings (the /echo target among
// them), headers and the Host header stay out of the logs.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	base = log.OrNop(base)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			f := requestFields(r)

			if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
				span.SetAttributes(
					attribute.String("request_id", f.id),
					attribute.String("client.address", f.client),
					attribute.String("network.peer.address", f.peer),
					attribute.String("url.scheme", f.scheme),
				)
			}

			L := base.With(
				"request_id", f.id,
				"client.address", f.client,
				"network.peer.address", f.peer,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", f.scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

type reqFields struct {
	id, client, peer, scheme string
}

func requestFields(r *http.Request) reqFields {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	// ClientIP runs further out and has already applied the trusted hop count
	client := ClientIPFromContext(r.Context())
	if client == "" {
		client = peer
	}
	return reqFields{
		id:     RequestIDFromContext(r.Context()),
		client: client,
		peer:   peer,
		scheme: schemeFromRequest(r),
	}
}

// quietPaths are polled by load balancers every few seconds.
var quietPaths = map[string]bool{
	"/-/ready":   true,
	"/-/healthy": true,
	"/-/ping":    true,
}

// AccessLog writes one line per request once the handler returns. It must sit
// inside the chi router so the matched route pattern is available.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newRecordingWriter(w, r, start)

			next.ServeHTTP(rw, r)
			rw.endWrite()

			if quietPaths[r.URL.Path] {
				return
			}

			ctx := r.Context()
			log.FromContext(ctx).Info(ctx, "http request",
				"http.response.status_code", rw.code(),
				"http.server.request.duration", time.Since(start).Seconds(),
				"http.response.body.size", rw.bytes,
				"http.request.body.size", max(r.ContentLength, 0),
				"http.route", routeOrPath(r),
			)
		})
	}
}

func routeOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

var validSchemes = map[string]bool{"http": true, "https": true}

// schemeFromRequest only ever returns "http" or "https".
func schemeFromRequest(r *http.Request) string {
	// X-Forwarded-Proto survives only when ClientIP trusted the peer
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		if s := strings.ToLower(strings.TrimSpace(first)); validSchemes[s] {
			return s
		}
	}
	if r.URL != nil {
		if s := strings.ToLower(r.URL.Scheme); validSchemes[s] {
			return s
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Scope names the handler in the request logger and span, so a line from the
// report handler can be told apart from one written by /echo.
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("handler", handler))
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

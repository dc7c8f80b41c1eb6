package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// Optional /-/healthy and /-/ready on the public listener
	Health    health.Probe
	Readiness health.Probe

	// APIRoutes mounts the application routes (/health, /, /hello, /echo).
	APIRoutes func(chi.Router)

	// WriteTimeout must cover the slowest /health run; zero means DefaultWriteTimeout.
	WriteTimeout time.Duration
}

package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/version"
)

// Namespace prefixes every metric this service defines.
const Namespace = "healthchecks"

// probeBuckets cover a probe bounded by the default 60s timeout and a run
// bounded by twice that.
var probeBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// ServerMetrics owns a private registry; nothing is registered globally.
// Labels are limited to method, route, status and probe key. Probe keys come
// from configuration, so cardinality is bounded by the deployment.
type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter

	rateLimitDenied   prometheus.Counter
	rateLimitCapacity prometheus.Counter

	// process
	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	// health checks
	probesRegistered prometheus.Gauge
	probeDur         *prometheus.HistogramVec
	probeHealthy     *prometheus.GaugeVec
	probeTimeouts    *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	runDur           prometheus.Histogram
}

// New returns metrics registered on a fresh registry with the Go and
// process collectors.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	ns := Namespace

	m := &ServerMetrics{
		reg: reg,

		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		reqDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "http_request_duration_seconds",
			Help: "HTTP latency by method and route; /health includes every probe",
			// /health can legitimately take up to the global timeout
			Buckets: append([]float64{0.005}, probeBuckets...),
		}, []string{"method", "route"}),
		respBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "http_response_size_bytes",
			Help:    "HTTP response size by method and route",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "http_errors_total",
			Help: "5xx responses by method and route; /health answers 503 when a dependency is down",
		}, []string{"method", "route"}),
		httpPanicTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "http_panic_total",
			Help: "Recovered handler panics",
		}),
		rateLimitDenied: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "http_requests_rate_limited_total",
			Help: "Requests rejected by the per-IP rate limiter",
		}),
		rateLimitCapacity: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "http_rate_limiter_capacity_reached_total",
			Help: "Times the rate limiter visitor table filled up",
		}),

		buildInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "build_info",
			Help: "Build metadata, value is always 1",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "profiling_active",
			Help: "1 when continuous profiling is running",
		}),

		probesRegistered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "probes_registered",
			Help: "Dependency probes registered at startup",
		}),
		probeDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "probe_duration_seconds",
			Help:    "Dependency probe latency",
			Buckets: probeBuckets,
		}, []string{"probe"}),
		probeHealthy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "probe_healthy",
			Help: "1 when the last run of the probe was healthy",
		}, []string{"probe"}),
		probeTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "probe_timeouts_total",
			Help: "Probe runs cut off by the per-probe timeout",
		}, []string{"probe"}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "runs_total",
			Help: "Full health check runs by aggregate status",
		}, []string{"status"}),
		runDur: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "run_duration_seconds",
			Help:    "Wall time of a full health check run",
			Buckets: probeBuckets,
		}),
	}

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

func (m *ServerMetrics) IncRateLimitDenied() { m.rateLimitDenied.Inc() }

func (m *ServerMetrics) IncRateLimitCapacity() { m.rateLimitCapacity.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

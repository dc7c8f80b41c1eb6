package healthhttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/settings"
)

// echoBodyLimit caps how much of an upstream body /echo relays.
const echoBodyLimit = 1 << 20

// Runner produces one report per call. *health.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context) health.Report
}

// API serves the dependency report and the diagnostic routes around it.
type API struct {
	// Report backs GET /health.
	Report Runner
	// Self backs GET /, a liveness report that touches no dependency.
	Self Runner

	Renderer health.Renderer

	// EchoAllowedHosts are the exact host names /echo may fetch. Empty disables /echo.
	EchoAllowedHosts []string
	Client           *http.Client
}

// NewAPI constructs the API. A nil client gets a traced client with a 10s timeout.
func NewAPI(report, self Runner, echoAllowed []string, client *http.Client) *API {
	if client == nil {
		client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &API{
		Report:           report,
		Self:             self,
		EchoAllowedHosts: echoAllowed,
		Client:           client,
	}
}

// RegisterRoutes attaches /health, /, /hello and /echo to the main chi router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.With(httpmw.Scope("health")).Get("/health", api.handleReport(api.Report))
	r.With(httpmw.Scope("self")).Get("/", api.handleReport(api.Self))

	r.Get("/hello", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", health.ContentType)
		_, _ = io.WriteString(w, "hello")
	})

	// load balancer and alerting smoke tests
	r.Get("/503", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	r.With(httpmw.Scope("echo")).Get("/echo", api.handleEcho)
}

func (api *API) handleReport(run Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var rep health.Report
		if run != nil {
			rep = run.Run(ctx)
		} else {
			rep = health.Report{Status: health.StatusHealthy}
		}

		body := api.Renderer.RenderString(rep, requestInfo(r))

		if !rep.Healthy() {
			log.FromContext(ctx).Warn(ctx, "health report unhealthy",
				"unhealthy", strings.Join(rep.Unhealthy(), ","),
				"duration_seconds", rep.TotalDuration.Seconds(),
			)
		}

		w.Header().Set("Content-Type", health.ContentType)
		w.WriteHeader(rep.HTTPStatus())
		_, _ = io.WriteString(w, body)
	}
}

// requestInfo describes the connection a report was requested over.
// RemoteIP prefers the address resolved by httpmw.ClientIP.
func requestInfo(r *http.Request) *health.RequestInfo {
	info := &health.RequestInfo{Host: r.Host}

	info.RemoteIP = httpmw.ClientIPFromContext(r.Context())
	if info.RemoteIP == "" {
		info.RemoteIP = hostOnly(r.RemoteAddr)
	}
	if la, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok && la != nil {
		info.LocalIP = hostOnly(la.String())
	}
	return info
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (api *API) hostAllowed(host string) bool {
	for _, h := range api.EchoAllowedHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// handleEcho fetches an allow-listed URL and relays its status and body,
// for checking egress from inside the deployment.
func (api *API) handleEcho(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	raw := r.URL.Query().Get("url")
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		http.Error(w, "Query parameter argument must be a well formed, fully qualified URL", http.StatusBadRequest)
		return
	}

	host := u.Hostname()
	if !api.hostAllowed(host) {
		http.Error(w, fmt.Sprintf("Host %s is not found in app setting %s.", host, settings.EchoAllowedHosts), http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := api.Client.Do(req)
	if err != nil {
		L.Warn(ctx, "echo request failed", "echo.host", host, "error", err.Error())
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, echoBodyLimit))
	if err != nil {
		L.Warn(ctx, "echo body read failed", "echo.host", host, "error", err.Error())
	}

	w.Header().Set("Content-Type", health.ContentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = fmt.Fprintf(w, "RESPONSE STATUS %d\n\n%s", resp.StatusCode, body)
}

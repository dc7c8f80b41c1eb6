package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/healthhttp"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

const (
	defaultPort = 9000
	// pprof profile and trace stream for 30s by default
	writeTimeout = 60 * time.Second
)

// NewHandler builds the admin mux: probes, /metrics, /-/probes and pprof,
// served to loopback, private and link-local peers only.
func NewHandler(L log.Logger, opts *Options) http.Handler {
	L = log.OrNop(L)
	mux := http.NewServeMux()

	mux.Handle("GET /-/healthy", healthhttp.HealthzHandler(opts.Health))
	mux.Handle("GET /-/ready", healthhttp.ReadyzHandler(opts.Readiness))
	mux.Handle("GET /-/probes", probeList(opts.Probes))

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		// shadow the prefix so a stray DefaultServeMux registration never leaks
		mux.Handle("/debug/pprof/", http.NotFoundHandler())
	}

	h := requireNonPublicNetwork(L, mux)
	if opts.UseRecoverMW {
		h = httpmw.Recover(L, opts.OnPanic)(h)
	}
	return h
}

func probeList(keys []string) http.HandlerFunc {
	body := strings.Join(keys, "\n")
	if body != "" {
		body += "\n"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", health.ContentType)
		w.Header().Set("Cache-Control", "no-store")
		fmt.Fprint(w, body)
	}
}

// Start serves NewHandler on opts.Port and returns stop(ctx) for graceful
// shutdown.
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	L = log.OrNop(L)
	port := opts.Port
	if port == 0 {
		port = defaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := httpserver.NewServer(addr, NewHandler(L, opts))
	srv.WriteTimeout = writeTimeout

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen for admin port on addr=%v", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	var stopErr error
	return func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			stopErr = srv.Shutdown(c)
		})
		return stopErr
	}, nil
}

// requireNonPublicNetwork rejects peers outside loopback, RFC 1918/4193 and
// link-local ranges. The ops port carries pprof and must never be internet
// facing. It checks the socket peer only; forwarded headers are ignored.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	L = log.OrNop(L)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		ip := net.ParseIP(host)
		switch {
		case err != nil || ip == nil:
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		case !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsLinkLocalUnicast():
			L.Warn(r.Context(), "ops request from public address rejected", "network.peer.address", host, "url.path", r.URL.Path)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/healthhttp"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/prof"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/registry"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/settings"
	v "github.com/keithlinneman/linnemanlabs-healthchecks/internal/version"
)

// writeMargin is added to the global probe deadline so a slow /health run
// still has time to write its report before the server times the response out.
const writeMargin = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	L, err := log.New(log.Options{
		App:               v.AppName,
		Component:         "server",
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer L.Sync()
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"probe_timeout", conf.ProbeTimeout,
		"global_timeout", conf.GlobalTimeout(),
		"settings_file", conf.SettingsFile,
		"enable_rate_limit", conf.EnableRateLimit,
		"trusted_proxy_hops", conf.TrustedProxyHops,
		"environment", conf.Environment,
	)

	// Setup pyroscope profiling
	m := metrics.New()
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		Component:     "server",
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,

		BasicAuthUser:     conf.PyroUser,
		BasicAuthPassword: conf.PyroPassword,

		Tags: map[string]string{
			"version":     vi.Version,
			"commit":      vi.Commit,
			"environment": conf.Environment,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(err == nil && conf.EnablePyroscope)
	defer stopProf()

	// Setup otel for tracing, insecure because the collector is on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    true,
		Sample:      conf.TraceSample,
		Service:     v.AppName,
		Component:   "server",
		Version:     vi.Version,
		Environment: conf.Environment,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	// Resolve dependency settings and register probes
	provider, unknown, err := settings.Resolve(conf.SettingsFile)
	if err != nil {
		L.Error(ctx, err, "failed to load settings file", "settings_file", conf.SettingsFile)
		os.Exit(1)
	}
	if len(unknown) > 0 {
		L.Warn(ctx, "settings file has unrecognized names", "names", unknown)
	}

	reg, closeClients := registry.Build(ctx, provider, registry.Options{})
	defer func() {
		if err := closeClients(); err != nil {
			L.Error(context.Background(), err, "close dependency clients")
		}
	}()
	m.SetProbesRegistered(reg.Len())

	orch := health.NewOrchestrator(reg, health.OrchestratorOptions{
		ProbeTimeout:  conf.ProbeTimeout,
		GlobalTimeout: conf.GlobalTimeout(),
		Observer:      m,
	})

	// toggle for server shutdown, backs the self probe and readiness
	var gate health.ShutdownGate
	selfReg := health.NewRegistry()
	selfReg.MustAdd("self", gate.Probe())
	self := health.NewOrchestrator(selfReg, health.OrchestratorOptions{ProbeTimeout: 5 * time.Second})

	api := healthhttp.NewAPI(orch, self, settings.List(provider, settings.EchoAllowedHosts, ","), nil)

	var rateLimitMW func(next http.Handler) http.Handler
	if conf.EnableRateLimit {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitPerSecond, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(ip string) {
				m.IncRateLimitDenied()
			}),
			// logged once per ip until it is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	siteHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  rateLimitMW,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		Health:       health.Fixed(health.StatusHealthy, "ok"),
		Readiness:    gate.Probe(),
		APIRoutes:    api.RegisterRoutes,
		WriteTimeout: orch.GlobalTimeout() + writeMargin,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}

	// admin listener for metrics, probes and pprof
	// requests from public ips are rejected in middleware in case it is ever exposed
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(health.StatusHealthy, "ok"),
		Readiness:    gate.Probe(),
		Probes:       reg.Keys(),
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		_ = siteHTTPStop(context.Background())
		os.Exit(1)
	}

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness and self so load balancers stop routing here
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed", "drain_delay", conf.DrainDelay)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainDelay):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// in-flight /health runs may take up to the global timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), orch.GlobalTimeout()+writeMargin)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		if err := siteHTTPStop(shutdownCtx); err != nil {
			L.Error(context.Background(), err, "app http server shutdown")
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := opsHTTPStop(shutdownCtx); err != nil {
			L.Error(context.Background(), err, "ops http server shutdown")
			return err
		}
		return nil
	})
	shutdownErr := g.Wait()

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	L.Info(context.Background(), "shutdown complete", "clean", shutdownErr == nil)
}

func notifySystemd() error {
	// set to a unix socket path when started under systemd with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}

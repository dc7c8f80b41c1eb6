package cfg

import (
	"flag"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// parse registers flags on a fresh FlagSet, isolating tests from
// flag.CommandLine.
func parse(t *testing.T, args ...string) (*flag.FlagSet, *App) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := &App{}
	Register(fs, c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return fs, c
}

func TestRegister_Defaults(t *testing.T) {
	_, c := parse(t)
	checks := []struct {
		name      string
		got, want any
	}{
		{"HTTPPort", c.HTTPPort, 8080},
		{"AdminPort", c.AdminPort, 9000},
		{"LogJSON", c.LogJSON, true},
		{"LogLevel", c.LogLevel, "info"},
		{"StacktraceLevel", c.StacktraceLevel, "error"},
		{"IncludeErrorLinks", c.IncludeErrorLinks, true},
		{"EnablePprof", c.EnablePprof, true},
		{"EnablePyroscope", c.EnablePyroscope, false},
		{"EnableTracing", c.EnableTracing, false},
		{"ProbeTimeout", c.ProbeTimeout, 60 * time.Second},
		{"GlobalTimeout", c.GlobalTimeout(), 120 * time.Second},
		{"EnableRateLimit", c.EnableRateLimit, true},
		{"RateLimitPerSecond", c.RateLimitPerSecond, 1.0},
		{"RateLimitBurst", c.RateLimitBurst, 5},
		{"TrustedProxyHops", c.TrustedProxyHops, 0},
		{"DrainDelay", c.DrainDelay, 30 * time.Second},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %v, want %v", ch.name, ch.got, ch.want)
		}
	}
	if err := Validate(*c); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestGlobalTimeout(t *testing.T) {
	_, c := parse(t, "-probe-timeout=5s", "-global-timeout-multiplier=1.5")
	if got := c.GlobalTimeout(); got != 7500*time.Millisecond {
		t.Fatalf("GlobalTimeout = %s", got)
	}
}

func TestEnvKey(t *testing.T) {
	if got := EnvKey(EnvPrefix, "global-timeout-multiplier"); got != "HEALTHCHECKS_GLOBAL_TIMEOUT_MULTIPLIER" {
		t.Fatalf("EnvKey = %q", got)
	}
}

func TestFillFromEnv(t *testing.T) {
	t.Setenv("HEALTHCHECKS_HTTP_PORT", "9090")
	t.Setenv("HEALTHCHECKS_PROBE_TIMEOUT", "10s")
	t.Setenv("HEALTHCHECKS_ENABLE_RATE_LIMIT", "false")
	t.Setenv("HEALTHCHECKS_ENVIRONMENT", "prod")
	t.Setenv("HEALTHCHECKS_ADMIN_PORT", "9100")
	t.Setenv("HEALTHCHECKS_RATE_LIMIT_BURST", "many")

	fs, c := parse(t, "-admin-port=9200")
	var logged []string
	FillFromEnv(fs, EnvPrefix, func(format string, args ...any) {
		logged = append(logged, format)
	})

	if c.HTTPPort != 9090 || c.ProbeTimeout != 10*time.Second || c.EnableRateLimit || c.Environment != "prod" {
		t.Fatalf("env not applied: %+v", c)
	}
	if c.AdminPort != 9200 {
		t.Fatalf("AdminPort = %d, cli should win over env", c.AdminPort)
	}
	if c.RateLimitBurst != 5 {
		t.Fatalf("RateLimitBurst = %d, invalid env should keep the default", c.RateLimitBurst)
	}
	if len(logged) != 2 {
		t.Fatalf("logged %q, want one override and one invalid", logged)
	}
}

func TestFillFromEnv_NilLogf(t *testing.T) {
	t.Setenv("HEALTHCHECKS_LOG_LEVEL", "debug")
	fs, c := parse(t, "-log-level=warn")
	FillFromEnv(fs, EnvPrefix, nil)
	if c.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q", c.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "telemetry ok",
			args: []string{"-enable-pyroscope", "-pyro-server=https://pyro:4040", "-enable-tracing", "-otlp-endpoint=otel:4317", "-trace-sample=0.2"},
		},
		{
			name: "rate limit ignored when disabled",
			args: []string{"-enable-rate-limit=false", "-rate-limit-rps=0", "-rate-limit-burst=0"},
		},
		{
			name: "error links ignored when disabled",
			args: []string{"-include-error-links=false", "-max-error-links=0"},
		},
		{
			name: "listeners",
			args: []string{"-http-port=0", "-admin-port=70000", "-trusted-proxy-hops=11", "-drain-delay=-1s"},
			want: []string{"invalid HTTP_PORT", "invalid ADMIN_PORT", "TRUSTED_PROXY_HOPS", "DRAIN_DELAY"},
		},
		{
			name: "same port",
			args: []string{"-http-port=9000"},
			want: []string{"must differ"},
		},
		{
			name: "logging",
			args: []string{"-log-level=nope", "-stacktrace-level=alsonope", "-max-error-links=0"},
			want: []string{"invalid LOG_LEVEL", "invalid STACKTRACE_LEVEL", "MAX_ERROR_LINKS"},
		},
		{
			name: "telemetry",
			args: []string{"-trace-sample=2", "-enable-pyroscope", "-pyro-server=not-a-url", "-pyro-user=u", "-enable-tracing", "-otlp-endpoint=otel"},
			want: []string{"invalid TRACE_SAMPLE", "PYRO_SERVER must be a URL", "PYRO_USER and PYRO_PASSWORD", "OTLP_ENDPOINT must be host:port"},
		},
		{
			name: "telemetry missing endpoints",
			args: []string{"-enable-pyroscope", "-enable-tracing"},
			want: []string{"PYRO_SERVER required", "OTLP_ENDPOINT required"},
		},
		{
			name: "checks",
			args: []string{"-probe-timeout=0s", "-global-timeout-multiplier=0.5", "-settings-file=" + filepath.Join(t.TempDir(), "missing.yaml")},
			want: []string{"PROBE_TIMEOUT", "GLOBAL_TIMEOUT_MULTIPLIER", "SETTINGS_FILE"},
		},
		{
			name: "rate limit",
			args: []string{"-rate-limit-rps=0", "-rate-limit-burst=0"},
			want: []string{"RATE_LIMIT_RPS", "RATE_LIMIT_BURST"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := parse(t, tt.args...)
			err := Validate(*c)
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected errors, got <nil>")
			}
			for _, sub := range tt.want {
				if !strings.Contains(err.Error(), sub) {
					t.Errorf("error %q does not contain %q", err, sub)
				}
			}
		})
	}
}

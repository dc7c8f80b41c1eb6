// Package cfg holds the server's flag-backed configuration. Every flag can
// also be set from the environment as HEALTHCHECKS_<FLAG_NAME>.
package cfg

import (
	"flag"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// EnvPrefix is prepended to flag names when filling from the environment.
const EnvPrefix = "HEALTHCHECKS_"

type App struct {
	// listeners
	HTTPPort         int
	AdminPort        int
	TrustedProxyHops int
	DrainDelay       time.Duration

	// logging
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// telemetry
	EnablePprof     bool
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	PyroUser        string
	PyroPassword    string
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	Environment     string

	// health checks
	ProbeTimeout            time.Duration
	GlobalTimeoutMultiplier float64
	SettingsFile            string

	// rate limiting
	EnableRateLimit    bool
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Register binds all config fields to fs with defaults inline.
func Register(fs *flag.FlagSet, c *App) {
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "ops listen TCP port (1..65535), never expose publicly")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "reverse proxies in front of the public listener (0..10)")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 30*time.Second, "how long to fail readiness before closing listeners on shutdown")

	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "lowest level that carries a stack: debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "log where each wrap in an error chain happened")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "serve /debug/pprof on the ops port")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "push profiles to -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (X-Scope-OrgID) for -pyro-server")
	fs.StringVar(&c.PyroUser, "pyro-user", "", "basic auth user for hosted pyroscope")
	fs.StringVar(&c.PyroPassword, "pyro-password", "", "basic auth password for hosted pyroscope, prefer the env var")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "export OTLP traces to -otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC collector (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.Environment, "environment", "", "deployment environment name (e.g. prod), shown in reports and traces")

	fs.DurationVar(&c.ProbeTimeout, "probe-timeout", 60*time.Second, "deadline for a single dependency probe")
	fs.Float64Var(&c.GlobalTimeoutMultiplier, "global-timeout-multiplier", 2, "whole-run deadline as a multiple of -probe-timeout (>=1)")
	fs.StringVar(&c.SettingsFile, "settings-file", "", "optional YAML file of dependency settings, environment wins")

	fs.BoolVar(&c.EnableRateLimit, "enable-rate-limit", true, "per-IP rate limiting on the public listener")
	fs.Float64Var(&c.RateLimitPerSecond, "rate-limit-rps", 1, "per-IP sustained requests per second")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 5, "per-IP burst size")
}

// EnvKey is the environment variable consulted for flag name.
func EnvKey(prefix, name string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// FillFromEnv sets every flag not passed on the command line from its
// environment variable. Precedence: cli flag, then env, then default. An
// env value that does not parse leaves the flag unchanged.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		val, ok := os.LookupEnv(key)
		switch {
		case !ok:
		case explicit[f.Name]:
			logf("flag -%s: cli value %q overrides env %s", f.Name, f.Value.String(), key)
		default:
			prev := f.Value.String()
			if err := fs.Set(f.Name, val); err != nil {
				_ = fs.Set(f.Name, prev)
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, val, err)
			}
		}
	})
}

// Validate reports every invalid field at once, named by its env var.
func Validate(c App) error {
	var errs []error
	for _, check := range []func(App) []error{
		validateListeners,
		validateLogging,
		validateTelemetry,
		validateChecks,
		validateRateLimit,
	} {
		errs = append(errs, check(c)...)
	}
	return xerrors.Join(errs...)
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func validateListeners(c App) (errs []error) {
	if !validPort(c.HTTPPort) {
		errs = append(errs, xerrors.Newf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if !validPort(c.AdminPort) {
		errs = append(errs, xerrors.Newf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, xerrors.Newf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 10 {
		errs = append(errs, xerrors.Newf("TRUSTED_PROXY_HOPS must be 0..10 (got %d)", c.TrustedProxyHops))
	}
	if c.DrainDelay < 0 {
		errs = append(errs, xerrors.Newf("DRAIN_DELAY must not be negative (got %s)", c.DrainDelay))
	}
	return errs
}

func validateLogging(c App) (errs []error) {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, xerrors.Wrapf(err, "invalid LOG_LEVEL %q", c.LogLevel))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, xerrors.Wrapf(err, "invalid STACKTRACE_LEVEL %q", c.StacktraceLevel))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, xerrors.Newf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}
	return errs
}

func validateTelemetry(c App) (errs []error) {
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, xerrors.Newf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, xerrors.New("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, xerrors.Newf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if (c.PyroUser == "") != (c.PyroPassword == "") {
			errs = append(errs, xerrors.New("PYRO_USER and PYRO_PASSWORD must be set together"))
		}
	}
	// the grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, xerrors.New("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, xerrors.Wrapf(err, "OTLP_ENDPOINT must be host:port (got %q)", c.OTLPEndpoint))
		}
	}
	return errs
}

func validateChecks(c App) (errs []error) {
	if c.ProbeTimeout <= 0 {
		errs = append(errs, xerrors.Newf("PROBE_TIMEOUT must be positive (got %s)", c.ProbeTimeout))
	}
	if c.GlobalTimeoutMultiplier < 1 {
		errs = append(errs, xerrors.Newf("GLOBAL_TIMEOUT_MULTIPLIER must be >= 1 (got %g)", c.GlobalTimeoutMultiplier))
	}
	if c.SettingsFile != "" {
		if _, err := os.Stat(c.SettingsFile); err != nil {
			errs = append(errs, xerrors.Wrapf(err, "SETTINGS_FILE %q", c.SettingsFile))
		}
	}
	return errs
}

func validateRateLimit(c App) (errs []error) {
	if !c.EnableRateLimit {
		return nil
	}
	if c.RateLimitPerSecond <= 0 {
		errs = append(errs, xerrors.Newf("RATE_LIMIT_RPS must be positive (got %g)", c.RateLimitPerSecond))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, xerrors.Newf("RATE_LIMIT_BURST must be >= 1 (got %d)", c.RateLimitBurst))
	}
	return errs
}

// GlobalTimeout is the whole-run deadline derived from the probe timeout.
func (c App) GlobalTimeout() time.Duration {
	return time.Duration(float64(c.ProbeTimeout) * c.GlobalTimeoutMultiplier)
}

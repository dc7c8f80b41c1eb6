package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool

	// Health backs /-/healthy (process liveness). Readiness backs /-/ready,
	// normally the shutdown gate so load balancers stop routing during drain.
	Health    health.Probe
	Readiness health.Probe

	// Probes lists the registered dependency keys on /-/probes. Keys never
	// carry credentials; connection strings stay in settings.
	Probes []string

	UseRecoverMW bool
	OnPanic      func()
}

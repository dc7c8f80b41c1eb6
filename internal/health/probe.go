package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// Probe checks one dependency.
// A returned error (or a panic) is turned into an Unhealthy outcome by the
// orchestrator, so implementations may simply propagate client errors.
type Probe interface {
	Run(ctx context.Context) (Outcome, error)
}

// ProbeFunc adapts a function into a Probe.
type ProbeFunc func(context.Context) (Outcome, error)

func (f ProbeFunc) Run(ctx context.Context) (Outcome, error) { return f(ctx) }

// Fixed returns a probe that always reports status with the given description.
func Fixed(status Status, description string) ProbeFunc {
	if status != StatusHealthy && description == "" {
		description = "unhealthy"
	}
	return func(context.Context) (Outcome, error) {
		return Outcome{Status: status, Description: description}, nil
	}
}

// Stub returns a probe that is permanently Unhealthy with err.
// It stands in for a dependency whose configuration could not be used.
func Stub(err error) ProbeFunc {
	if err == nil {
		err = xerrors.New("misconfigured")
	}
	return func(context.Context) (Outcome, error) {
		return Unhealthy(time.Now(), err.Error(), err), nil
	}
}

// ShutdownGate flips readiness to false during drain/shutdown.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(reason)
	g.draining.Store(true)
}

func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.reason.Store("")
}

func (g *ShutdownGate) Draining() bool { return g.draining.Load() }

func (g *ShutdownGate) Probe() ProbeFunc {
	return func(context.Context) (Outcome, error) {
		start := time.Now()
		if !g.draining.Load() {
			return Healthy(start, "ok"), nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return Unhealthy(start, r, nil), nil
	}
}

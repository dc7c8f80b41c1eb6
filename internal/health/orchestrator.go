package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

const (
	DefaultProbeTimeout     = 60 * time.Second
	DefaultGlobalMultiplier = 2

	// OrchestratorKey is the synthetic entry added when a run itself fails.
	OrchestratorKey = "Orchestrator"
)

// Observer receives per-probe and per-run results, e.g. for metrics.
type Observer interface {
	ObserveProbe(key string, out Outcome)
	ObserveRun(r Report)
}

type OrchestratorOptions struct {
	// ProbeTimeout bounds each probe individually. Default 60s.
	ProbeTimeout time.Duration
	// GlobalTimeout bounds how long Run waits for all probes.
	// Default GlobalMultiplier * ProbeTimeout.
	GlobalTimeout time.Duration
	// GlobalMultiplier derives GlobalTimeout when it is unset. Default 2.
	GlobalMultiplier int
	Observer         Observer
}

// Orchestrator runs every probe of a registry concurrently and aggregates
// the outcomes. It holds no per-run state and is safe for concurrent use.
type Orchestrator struct {
	reg           *Registry
	probeTimeout  time.Duration
	globalTimeout time.Duration
	obs           Observer
	tracer        trace.Tracer
}

func NewOrchestrator(reg *Registry, opts OrchestratorOptions) *Orchestrator {
	if reg == nil {
		reg = NewRegistry()
	}
	pt := opts.ProbeTimeout
	if pt <= 0 {
		pt = DefaultProbeTimeout
	}
	mult := opts.GlobalMultiplier
	if mult <= 0 {
		mult = DefaultGlobalMultiplier
	}
	gt := opts.GlobalTimeout
	if gt <= 0 {
		gt = time.Duration(mult) * pt
	}
	return &Orchestrator{
		reg:           reg,
		probeTimeout:  pt,
		globalTimeout: gt,
		obs:           opts.Observer,
		tracer:        otel.Tracer("linnemanlabs/health"),
	}
}

func (o *Orchestrator) ProbeTimeout() time.Duration  { return o.probeTimeout }
func (o *Orchestrator) GlobalTimeout() time.Duration { return o.globalTimeout }

type result struct {
	key string
	out Outcome
}

// Run executes all registered probes and returns the aggregated report.
// Probes that miss the global deadline are abandoned; their per-probe
// deadline still applies and their late results are discarded.
func (o *Orchestrator) Run(ctx context.Context) Report {
	start := time.Now()
	L := log.FromContext(ctx)

	regs := o.reg.Registrations()
	entries := make(map[string]Outcome, len(regs))

	// buffered so abandoned probes never block on send
	results := make(chan result, len(regs))

	// probes keep ctx values (logger, trace) but are bounded by their own
	// deadline rather than by the caller
	probeCtx := context.WithoutCancel(ctx)

	// results is closed once every probe has reported, which ends the
	// collector when nothing hangs
	var g errgroup.Group
	for _, reg := range regs {
		g.Go(func() error {
			results <- result{key: reg.Key, out: o.runOne(probeCtx, reg)}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	timer := time.NewTimer(o.globalTimeout)
	defer timer.Stop()

	var fault *Outcome
collect:
	for {
		select {
		case r, ok := <-results:
			if !ok {
				break collect
			}
			insert(entries, r.key, r.out)
			if o.obs != nil {
				o.obs.ObserveProbe(r.key, r.out)
			}
		case <-timer.C:
			err := &TimeoutError{Op: "Health check run", Timeout: o.globalTimeout, Err: context.DeadlineExceeded}
			out := Unhealthy(start, err.Error(), err)
			fault = &out
			L.Warn(ctx, "health check run hit global timeout",
				"timeout", o.globalTimeout.String(),
				"completed", len(entries),
				"registered", len(regs),
			)
			break collect
		case <-ctx.Done():
			err := xerrors.Wrap(ctx.Err(), "health check run cancelled")
			out := Unhealthy(start, err.Error(), err)
			fault = &out
			L.Warn(ctx, "health check run cancelled by caller",
				"completed", len(entries),
				"registered", len(regs),
			)
			break collect
		}
	}

	status := aggregate(entries)
	if fault != nil {
		insert(entries, OrchestratorKey, *fault)
		status = StatusUnhealthy
	}

	rep := Report{
		Status:        status,
		Entries:       entries,
		TotalDuration: time.Since(start),
	}
	if o.obs != nil {
		o.obs.ObserveRun(rep)
	}
	L.Debug(ctx, "health check run complete",
		"status", rep.Status.String(),
		"entries", len(rep.Entries),
		"duration", rep.TotalDuration.String(),
	)
	return rep
}

func (o *Orchestrator) runOne(ctx context.Context, reg Registration) Outcome {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "health.probe",
		trace.WithAttributes(attribute.String("health.probe.key", reg.Key)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.probeTimeout)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() { done <- o.invoke(ctx, reg, start) }()

	var out Outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		// the probe ignored cancellation; stop waiting for it
		out = o.timedOut(start, ctx.Err())
	}

	span.SetAttributes(attribute.String("health.probe.status", out.Status.String()))
	if !out.Healthy() {
		span.SetStatus(codes.Error, out.Description)
		L := log.FromContext(ctx)
		if out.Err != nil {
			span.RecordError(out.Err)
			L.Warn(ctx, "probe unhealthy", "probe", reg.Key, "elapsed", out.Elapsed.String(), "err", out.Err.Error())
		} else {
			L.Warn(ctx, "probe unhealthy", "probe", reg.Key, "elapsed", out.Elapsed.String(), "description", out.Description)
		}
	}
	return out
}

// invoke calls the probe and folds errors and panics into an outcome.
func (o *Orchestrator) invoke(ctx context.Context, reg Registration, start time.Time) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			err := xerrors.Newf("probe %q panicked: %v", reg.Key, rec)
			out = Unhealthy(start, fmt.Sprint(rec), err)
		}
	}()

	res, err := reg.Probe.Run(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return o.timedOut(start, err)
		}
		return Unhealthy(start, err.Error(), err)
	}
	if res.Elapsed <= 0 {
		res = res.WithElapsed(time.Since(start))
	}
	return res
}

func (o *Orchestrator) timedOut(start time.Time, cause error) Outcome {
	if cause == nil {
		cause = context.DeadlineExceeded
	}
	err := &TimeoutError{Op: "Probe", Timeout: o.probeTimeout, Err: cause}
	return Unhealthy(start, err.Error(), err)
}

// insert adds an entry exactly once. A second insert under the same key is
// a programming error.
func insert(entries map[string]Outcome, key string, out Outcome) {
	if _, dup := entries[key]; dup {
		panic(fmt.Sprintf("health: duplicate entry %q", key))
	}
	entries[key] = out
}

func aggregate(entries map[string]Outcome) Status {
	for _, e := range entries {
		if !e.Healthy() {
			return StatusUnhealthy
		}
	}
	return StatusHealthy
}

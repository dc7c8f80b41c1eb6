package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/registry"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

type checkFlags struct {
	probeTimeout time.Duration
	multiplier   int
	only         []string
}

func newCheckCmd(a *app) *cobra.Command {
	var f checkFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the configured probes once and print the report",
		Long: `Run every configured dependency probe concurrently and print the report.

Examples:
  # everything configured in the environment
  healthctl check

  # only the cache and one endpoint, with a shorter deadline
  healthctl check --probe Redis --probe https://example.com/ --probe-timeout 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), a, f)
		},
	}
	cmd.Flags().DurationVar(&f.probeTimeout, "probe-timeout", health.DefaultProbeTimeout, "deadline for a single probe")
	cmd.Flags().IntVar(&f.multiplier, "global-timeout-multiplier", health.DefaultGlobalMultiplier, "whole-run deadline as a multiple of probe-timeout")
	cmd.Flags().StringArrayVar(&f.only, "probe", nil, "run only the probe with this key (repeatable)")
	return cmd
}

func runCheck(ctx context.Context, a *app, f checkFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reg, closeFn, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	if len(f.only) > 0 {
		if reg, err = subset(reg, f.only); err != nil {
			return err
		}
	}

	rep := health.NewOrchestrator(reg, health.OrchestratorOptions{
		ProbeTimeout:     f.probeTimeout,
		GlobalMultiplier: f.multiplier,
	}).Run(ctx)

	if err := (health.Renderer{}).Render(a.out, rep, nil); err != nil {
		return xerrors.Wrap(err, "write report")
	}
	if !rep.Healthy() {
		return errUnhealthy
	}
	return nil
}

// build resolves settings and registers probes, logging through a.logger.
func (a *app) build(ctx context.Context) (*health.Registry, func() error, error) {
	L, err := a.logger()
	if err != nil {
		return nil, nil, err
	}
	ctx = log.WithContext(ctx, L)

	p, unknown, err := a.resolve(a.settingsFile)
	if err != nil {
		return nil, nil, err
	}
	if len(unknown) > 0 {
		L.Warn(ctx, "settings file has unrecognized names", "names", unknown)
	}
	reg, closeFn := registry.Build(ctx, p, registry.Options{Clients: a.clients})
	return reg, closeFn, nil
}

// subset returns a registry holding only the named keys of reg.
func subset(reg *health.Registry, keys []string) (*health.Registry, error) {
	byKey := make(map[string]health.Probe, reg.Len())
	for _, r := range reg.Registrations() {
		byKey[r.Key] = r.Probe
	}
	out := health.NewRegistry()
	for _, k := range keys {
		p, ok := byKey[k]
		if !ok {
			return nil, xerrors.Newf("probe %q is not configured (have %v)", k, reg.Keys())
		}
		if out.Has(k) {
			continue
		}
		out.MustAdd(k, p)
	}
	return out, nil
}

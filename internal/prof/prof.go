// Package prof runs the pyroscope agent for continuous profiling.
package prof

import (
	"context"
	"fmt"
	"maps"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	Component     string
	ServerAddress string
	TenantID      string

	// BasicAuthUser and BasicAuthPassword are sent to hosted pyroscope.
	BasicAuthUser     string
	BasicAuthPassword string

	Tags map[string]string

	// MutexProfileFraction and BlockProfileRate enable the contention
	// profiles when > 0; the runtime leaves both off otherwise.
	MutexProfileFraction int
	BlockProfileRate     int
}

// Start begins profiling and returns an idempotent stop func. The stop func
// is never nil, even on error.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	noop := func() {}

	if !opts.Enabled {
		L.Info(ctx, "profiling disabled")
		return noop, nil
	}
	if opts.ServerAddress == "" {
		return noop, xerrors.New("pyroscope: server address is required")
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   opts.AppName,
		ServerAddress:     opts.ServerAddress,
		TenantID:          opts.TenantID,
		BasicAuthUser:     opts.BasicAuthUser,
		BasicAuthPassword: opts.BasicAuthPassword,
		Tags:              tags(opts),
		Logger:            agentLogger{L: L.With("component", "pyroscope")},
		ProfileTypes:      profileTypes(opts),
	})
	if err != nil {
		return noop, xerrors.Wrapf(err, "pyroscope: start %s", opts.ServerAddress)
	}
	L.Info(ctx, "profiling started", "server_address", opts.ServerAddress, "app_name", opts.AppName)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := profiler.Stop(); err != nil {
				L.Error(context.Background(), err, "pyroscope stop")
				return
			}
			L.Info(context.Background(), "profiling stopped")
		})
	}, nil
}

// profileTypes always collects cpu, memory and goroutines. Contention
// profiles are only requested when their sampling is switched on here, since
// an unsampled profile uploads empty.
func profileTypes(opts Options) []pyroscope.ProfileType {
	types := []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
	if opts.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(opts.MutexProfileFraction)
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
		types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	}
	return types
}

// tags copies opts.Tags without empty values and adds the component tag
// unless one is given.
func tags(opts Options) map[string]string {
	out := make(map[string]string, len(opts.Tags)+1)
	maps.Copy(out, opts.Tags)
	maps.DeleteFunc(out, func(_, v string) bool { return v == "" })
	if _, ok := out["component"]; !ok && opts.Component != "" {
		out["component"] = opts.Component
	}
	return out
}

// agentLogger routes the agent's printf logging into ours. Agent debug
// output is per upload, so it stays at debug.
type agentLogger struct{ L log.Logger }

func (a agentLogger) Infof(format string, args ...any) {
	a.L.Info(context.Background(), fmt.Sprintf(format, args...))
}

func (a agentLogger) Debugf(format string, args ...any) {
	a.L.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (a agentLogger) Errorf(format string, args ...any) {
	a.L.Error(context.Background(), nil, fmt.Sprintf(format, args...))
}

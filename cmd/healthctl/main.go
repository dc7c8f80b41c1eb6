// Command healthctl runs the dependency probes once from the command line,
// using the same settings and registry as the server.
//
//	healthctl check                      # run every configured probe
//	healthctl check --probe Redis        # run a subset
//	healthctl probes                     # list what would run
//	healthctl version
//
// check exits 0 when Healthy, 1 when Unhealthy and 2 on usage or setup errors.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/registry"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/settings"
	v "github.com/keithlinneman/linnemanlabs-healthchecks/internal/version"
)

// errUnhealthy marks a completed run whose report was Unhealthy.
var errUnhealthy = errors.New("unhealthy")

// app holds global flags and the seams tests replace.
type app struct {
	out    io.Writer
	errOut io.Writer

	settingsFile string
	logLevel     string
	logJSON      bool

	resolve func(path string) (settings.Provider, []string, error)
	clients *registry.Clients
}

func newApp() *app {
	return &app{
		out:     os.Stdout,
		errOut:  os.Stderr,
		resolve: settings.Resolve,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "healthctl",
		Short: "Run dependency health probes from the command line",
		Long: `healthctl builds the same probe registry as the server from the process
environment (and optionally a YAML settings file), runs it once and prints
the plain-text report served on /health.`,
		Version:       v.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVar(&a.settingsFile, "settings-file", os.Getenv("HEALTHCHECKS_SETTINGS_FILE"), "YAML file of dependency settings, environment wins")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "debug|info|warn|error")
	root.PersistentFlags().BoolVar(&a.logJSON, "log-json", false, "JSON logs (true) or logfmt (false) on stderr")

	root.AddCommand(newCheckCmd(a), newProbesCmd(a), newVersionCmd(a))
	return root
}

// logger writes to errOut so stdout carries only the report.
func (a *app) logger() (log.Logger, error) {
	lvl, err := log.ParseLevel(a.logLevel)
	if err != nil {
		return nil, err
	}
	return log.New(log.Options{
		App:        v.AppName,
		Component:  "healthctl",
		Version:    v.Get().Version,
		Level:      lvl,
		JsonFormat: a.logJSON,
		Writer:     a.errOut,
	})
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUnhealthy):
		return 1
	default:
		return 2
	}
}

func main() {
	a := newApp()
	err := newRootCmd(a).Execute()
	if err != nil && !errors.Is(err, errUnhealthy) {
		fmt.Fprintln(a.errOut, "error:", err)
	}
	os.Exit(exitCode(err))
}

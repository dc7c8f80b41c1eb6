// Package version reports build metadata stamped in by -ldflags, filled in
// from the module build info when the binary was built without them.
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
)

// AppName is the service name used in logs, metrics, traces and profiles.
const AppName = "linnemanlabs-healthchecks"

// set with -ldflags "-X github.com/keithlinneman/linnemanlabs-healthchecks/internal/version.Version=..."
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	AppName    string `json:"app_name"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// String is the one-line form printed by healthctl version.
func (i Info) String() string {
	s := fmt.Sprintf("%s %s (commit %s, built %s, %s)", i.AppName, i.Version, shortCommit(i.Commit), orUnknown(i.BuildDate), orUnknown(i.GoVersion))
	if i.VCSDirty != nil && *i.VCSDirty {
		s += " dirty"
	}
	return s
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Get returns the stamped build metadata, filling gaps from the module
// build info. Values set with -ldflags always win.
func Get() Info {
	out := Info{
		AppName:    AppName,
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		out = merge(out, bi)
	}
	return out
}

func merge(out Info, bi *debug.BuildInfo) Info {
	out.GoVersion = bi.GoVersion
	if out.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		out.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		if s.Value == "" {
			continue
		}
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" {
				out.Commit = s.Value
			}
		case "vcs.time":
			out.CommitDate = s.Value
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
		case "vcs.modified":
			if b, err := strconv.ParseBool(s.Value); err == nil {
				out.VCSDirty = &b
			}
		}
	}
	return out
}

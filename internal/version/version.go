// Package version describes the running umsgen build.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// Info is the resolved build identity.
type Info struct {
	Version string
	Commit  string
	Date    string
	Go      string
}

// Resolve prefers the provided values (usually injected via -ldflags) and
// falls back to Go module build info for unset or placeholder ones.
func Resolve(version string, commit string, date string) Info {
	in := Info{
		Version: strings.TrimSpace(version),
		Commit:  strings.TrimSpace(commit),
		Date:    strings.TrimSpace(date),
		Go:      runtime.Version(),
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if placeholder(in.Version) || in.Version == "(devel)" {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				in.Version = mv
			}
		}
		if placeholder(in.Commit) {
			in.Commit = buildSetting(info, "vcs.revision")
			if len(in.Commit) > 12 {
				in.Commit = in.Commit[:12]
			}
		}
		if placeholder(in.Date) {
			in.Date = buildSetting(info, "vcs.time")
		}
	}
	if placeholder(in.Version) {
		in.Version = "dev"
	}
	return in
}

// String formats the version line printed by --version.
func (in Info) String() string {
	out := "umsgen " + in.Version
	if !placeholder(in.Commit) {
		out += " (" + in.Commit + ")"
	}
	if !placeholder(in.Date) {
		out += " " + in.Date
	}
	if in.Go != "" {
		out += " " + in.Go
	}
	return out
}

func placeholder(s string) bool {
	return s == "" || s == "dev" || s == "unknown"
}

func buildSetting(info *debug.BuildInfo, key string) string {
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

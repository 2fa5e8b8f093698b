package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Injected at build time with -ldflags "-X github.com/ajramos/ebbsync/internal/version.Version=..."
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info contains version information
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	Modified  bool   `json:"modified"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns version information, filling VCS data from the build info when not injected
func GetInfo() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.GitCommit == "unknown" {
					info.GitCommit = s.Value
				}
			case "vcs.time":
				if info.BuildDate == "unknown" {
					info.BuildDate = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	return info
}

// String returns a one-line version
func (i Info) String() string {
	if i.GitCommit == "unknown" {
		return "ebbsync " + i.Version
	}
	commit := i.GitCommit
	if len(commit) > 8 {
		commit = commit[:8]
	}
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("ebbsync %s (%s)", i.Version, commit)
}

// Detailed returns the multi-line --version output
func (i Info) Detailed() string {
	var b strings.Builder
	fmt.Fprintln(&b, i.String())
	fmt.Fprintf(&b, "Git commit: %s\n", i.GitCommit)
	fmt.Fprintf(&b, "Build date: %s\n", i.BuildDate)
	fmt.Fprintf(&b, "Go version: %s\n", i.GoVersion)
	fmt.Fprintf(&b, "Platform: %s", i.Platform)
	return b.String()
}

// IsRelease returns true if this is a release version (not a dev build)
func IsRelease() bool {
	return Version != "" && GitCommit != "unknown" && !strings.Contains(Version, "dev")
}

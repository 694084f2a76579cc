// Package version exposes chefctl build metadata.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Overridden at build time via -ldflags "-X github.com/example/chefctl/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown" // RFC3339 UTC
)

type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit,omitempty"`
	BuildDate string `json:"buildDate,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func Get() Info {
	info := Info{
		Version:   strings.TrimSpace(Version),
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if c := strings.TrimSpace(GitCommit); c != "" && c != "unknown" {
		info.GitCommit = c
	}
	if d := strings.TrimSpace(BuildDate); d != "" && d != "unknown" {
		info.BuildDate = d
	}
	return info
}

// Banner is the single line chefctl prints at the top of every run log.
func (i Info) Banner() string {
	if i.GitCommit == "" {
		return fmt.Sprintf("chefctl %s (%s, %s)", i.Version, i.Platform, i.GoVersion)
	}
	commit := i.GitCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return fmt.Sprintf("chefctl %s+%s (%s, %s)", i.Version, commit, i.Platform, i.GoVersion)
}

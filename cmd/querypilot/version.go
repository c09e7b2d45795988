package main

import (
	"fmt"
	"runtime"
)

// Stamped at build time via -ldflags, e.g.
// go build -ldflags "-X main.version=v0.3.0 -X main.gitCommit=$(git rev-parse --short HEAD)" ./cmd/querypilot
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

// BuildInfo describes the running QueryPilot binary. It shows up in the
// startup log and the /healthz response.
type BuildInfo struct {
	Version, BuildDate, GitCommit, GoVersion, Platform string
}

func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		BuildDate: buildDate,
		GitCommit: gitCommit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

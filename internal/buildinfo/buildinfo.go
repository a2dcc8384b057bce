package buildinfo

import "time"

// Set via -ldflags at build time
var (
	Version    = "dev"
	BuildTime  string // when the binary was compiled
	CommitHash string // short git commit hash
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC().Format(time.RFC3339)

// Info is the build description reported by /health.
type Info struct {
	Version    string `json:"version"`
	BuildTime  string `json:"build_time,omitempty"`
	CommitHash string `json:"commit,omitempty"`
	StartedAt  string `json:"started_at"`
}

func Current() Info {
	return Info{Version: Version, BuildTime: BuildTime, CommitHash: CommitHash, StartedAt: StartTime}
}

// Package version provides build-time version information for epgviewer.
//
// Version, Commit, and Date are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/epgviewer/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/epgviewer/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/epgviewer/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version following SemVer 2.0.0.
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"
)

// Short returns just the version number.
func Short() string {
	return Version
}

// String returns a human-readable version string.
func String() string {
	return fmt.Sprintf("epgviewer %s (commit %s, built %s, %s/%s)",
		Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}

// Info holds structured version information.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	GoOS    string `json:"go_os"`
	GoArch  string `json:"go_arch"`
}

// Get returns the structured version information.
func Get() Info {
	return Info{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
		GoOS:    runtime.GOOS,
		GoArch:  runtime.GOARCH,
	}
}

// JSON returns the version information as a JSON string.
func JSON() string {
	data, err := json.Marshal(Get())
	if err != nil {
		return `{"version":"` + Version + `"}`
	}
	return string(data)
}

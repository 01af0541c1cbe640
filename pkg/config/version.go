// Package config carries the build identity shared by the cinder
// binaries.
package config

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via -ldflags at release build time. A plain source build leaves
// these at their defaults and falls back to the VCS metadata the
// toolchain embeds.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuildInfo is the machine-readable shape of the build identity.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo returns the build identity, filling commit and build
// time from embedded VCS metadata when ldflags left them unset.
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if info.Commit != "unknown" {
		return info
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			info.Commit = setting.Value
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = setting.Value
			}
		}
	}
	return info
}

// VersionString renders the build identity for human eyes.
func VersionString() string {
	info := GetBuildInfo()
	commit := info.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return fmt.Sprintf("cinder %s (%s, %s, %s)", info.Version, commit, info.GoVersion, info.Platform)
}

// ShortVersionString returns just the version.
func ShortVersionString() string {
	return Version
}

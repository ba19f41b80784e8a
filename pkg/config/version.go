// Package config provides build information for teamsync binaries.
package config

import (
	"fmt"
	"runtime"
)

// Build information. Populated at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuildInfo contains all build information.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Describe formats the build for the version command of binary.
func (b BuildInfo) Describe(binary string) string {
	return fmt.Sprintf("%s %s (%s) built at %s with %s for %s/%s",
		binary, b.Version, b.Commit, b.BuildTime, b.GoVersion, b.OS, b.Arch)
}

// UserAgent identifies a binary and the device it syncs for to the remote,
// e.g. "syncd/1.2.0 (device laptop-1)".
func UserAgent(binary, deviceID string) string {
	ua := binary + "/" + Version
	if deviceID != "" {
		ua += " (device " + deviceID + ")"
	}
	return ua
}

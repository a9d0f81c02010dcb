// Package version reports the conductor build version.
package version

import (
	"runtime/debug"
	"strings"
)

// Version is set at build time:
//
//	go build -ldflags "-X github.com/ShayCichocki/conductor/internal/version.Version=v0.3.0"
var Version = ""

// Get returns the build version. Without an ldflags override it falls back
// to the module version recorded in the binary, then to "dev".
func Get() string {
	if v := strings.TrimSpace(Version); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "dev"
}

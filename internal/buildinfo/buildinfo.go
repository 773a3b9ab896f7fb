// Package buildinfo holds version metadata stamped at compile time via
// ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X .../buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns the build metadata for "dailyos version" output.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("dailyos %s (%s) built %s", Version, GitCommit, BuildTime)
}

// UserAgent identifies outgoing HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("dailyos/%s (+https://github.com/jamesgiroux/dailyos-core)", Version)
}

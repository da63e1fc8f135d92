// Package version carries the simulator's build identity, stamped via
// ldflags at release time and logged once at startup.
package version

import (
	"runtime/debug"
)

var (
	Commit         = "unknown"
	Version        = "unknown"
	BuildTimestamp = "unknown"
)

// GetBuildInfo merges the Go build settings with the stamped values.
func GetBuildInfo() map[string]string {
	data := make(map[string]string, 0)

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			data[s.Key] = s.Value
		}
	}

	data["commit"] = Commit
	data["version"] = Version
	data["build_timestamp"] = BuildTimestamp

	return data
}

package version

import (
	"runtime"
	"runtime/debug"
)

var (
	// Set via ldflags at build time
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Info returns version information. Builds without ldflags fall back to
// the module version and VCS revision recorded by the Go toolchain.
func Info() map[string]string {
	info := map[string]string{
		"version": Version,
		"commit":  Commit,
		"built":   BuildDate,
		"go":      runtime.Version(),
		"os/arch": runtime.GOOS + "/" + runtime.GOARCH,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info["version"] = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && Commit == "none":
			info["commit"] = s.Value
		case s.Key == "vcs.time" && BuildDate == "unknown":
			info["built"] = s.Value
		}
	}
	return info
}

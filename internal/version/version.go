package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// current version
const (
	coreVersion = "0.1.0"
	prerelease  = "alpha"
)

// Provisioned by ldflags
var commit string

// Core return the core version.
func Core() string {
	return coreVersion
}

// Short return the version with pre-release, if available.
func Short() string {
	if prerelease != "" {
		return fmt.Sprintf("%s-%s", coreVersion, prerelease)
	}

	return coreVersion
}

// Commit returns the commit provisioned by ldflags, falling back to the vcs
// revision recorded in the build info.
func Commit() string {
	if commit != "" {
		return commit
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
	}

	return "dev"
}

// Full return the full version including pre-release, commit hash, runtime os and arch.
func Full() string {
	return fmt.Sprintf("v%s %s %s/%s", Short(), Commit(), runtime.GOOS, runtime.GOARCH)
}

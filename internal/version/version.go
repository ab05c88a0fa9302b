package version

import "fmt"

// AppName is reported by the health endpoint and used as the tracing service name.
const AppName = "anchor"

// Set via ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", AppName, Version, GitCommit, BuildDate)
}

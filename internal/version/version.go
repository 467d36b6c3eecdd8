// Package version holds build identification, overridden at link time:
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.0 \
//	                   -X .../internal/version.GitSHA=$(git rev-parse --short HEAD)"
package version

import "fmt"

var (
	// Version is the release version of the relay.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String renders the build identification on one line.
func String() string {
	return fmt.Sprintf("serialrelay %s (%s, built %s)", Version, GitSHA, BuildTime)
}

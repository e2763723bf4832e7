// Package version carries build identification, stamped at link time
// and embedded into sealed session containers.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns the composed software identification written into
// container attributes and reported by the API.
func String() string {
	return fmt.Sprintf("seastate %s (%s, built %s)", Version, GitSHA, BuildTime)
}

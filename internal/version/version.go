// Package version carries build identification, stamped via -ldflags.
package version

import "fmt"

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String renders the one-line form printed by -version flags.
func String() string {
	return fmt.Sprintf("caflow %s (%s, built %s)", Version, GitSHA, BuildTime)
}

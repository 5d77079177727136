// Package version exposes the build's version information. Both variables
// are meant to be set at link time, e.g.
//
//	go build -ldflags "-X github.com/m-lab/netqual/pkg/version.Version=v0.1.0"
package version

var (
	// Version is the symbolic version of the running code.
	Version = "v0.0.0-dev"
	// GitShortCommit is the short Git commit of the running code.
	GitShortCommit = "unknown"
)

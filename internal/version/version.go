// Package version carries build metadata injected via -ldflags.
package version

var (
	// Version is the release version of the seatwatch binary.
	Version = "dev"
	// Commit is the git revision the binary was built from.
	Commit = "unknown"
	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)

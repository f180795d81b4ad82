// Package version holds build-time stamped version information, set
// via -ldflags at release build time and left at their zero values
// for `go run`/`go test`.
package version

import "fmt"

// These are overridden at build time with:
//   -ldflags "-X github.com/rcowham/svnfsfs/internal/version.Version=... \
//             -X github.com/rcowham/svnfsfs/internal/version.Commit=... \
//             -X github.com/rcowham/svnfsfs/internal/version.BuildDate=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Print renders app's version banner the way --version flags across
// this codebase's CLIs report it.
func Print(app string) string {
	return fmt.Sprintf("%s version %s (commit %s, built %s)", app, Version, Commit, BuildDate)
}

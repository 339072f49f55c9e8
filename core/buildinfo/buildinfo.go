// Package buildinfo exposes version metadata injected at link time:
//
//	go build -ldflags "-X 'github.com/m3rciful/fsmbot/core/buildinfo.Version=v0.3.0' \
//	  -X 'github.com/m3rciful/fsmbot/core/buildinfo.Commit=abcdef0' \
//	  -X 'github.com/m3rciful/fsmbot/core/buildinfo.Date=2026-01-02T12:00:00Z'" ./cmd/fsmbot
package buildinfo

import "fmt"

var (
	// Version reports the semantic version or tag of the build.
	Version = "dev"
	// Commit reports the source control commit used for the build.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

// String renders the metadata on one line for the CLI version output.
func String() string {
	if Date == "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, Commit, Date)
}

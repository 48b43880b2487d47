// Package version carries build metadata injected via ldflags:
// go build -ldflags "-X git.home.luguber.info/inful/sitebuilder/internal/version.Version=v1.4.0".
package version

// Version is the release version.
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// UserAgent is sent on every outbound request.
func UserAgent() string { return "sitebuilder/" + Version }

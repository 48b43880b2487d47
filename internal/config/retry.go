package config

import "git.home.luguber.info/inful/sitebuilder/internal/foundation/normalization"

// RetryBackoffMode enumerates supported backoff strategies for job retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var retryBackoffs = normalization.NewEnum("retry backoff", map[string]RetryBackoffMode{
	"fixed":       RetryBackoffFixed,
	"linear":      RetryBackoffLinear,
	"exponential": RetryBackoffExponential,
})

var siteBuildModes = normalization.NewEnum("site build mode", map[string]SiteBuildMode{
	"local":  SiteBuildLocal,
	"remote": SiteBuildRemote,
})

// NormalizeRetryBackoff converts user input into a typed mode, returning empty string for unknown.
func NormalizeRetryBackoff(raw string) RetryBackoffMode {
	return retryBackoffs.ParseOr(raw, "")
}

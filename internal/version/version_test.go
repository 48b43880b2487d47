package version

import "testing"

func TestUserAgent(t *testing.T) {
	if Version == "" || BuildTime == "" || GitCommit == "" {
		t.Fatal("build metadata must be initialized")
	}
	if got := UserAgent(); got != "sitebuilder/"+Version {
		t.Fatalf("unexpected user agent %q", got)
	}
}

package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the released version of the worker.
// Override at build time:
//
//	go build -ldflags "-X github.com/hrygo/punctuator/internal/version.Version=0.3.0"
var Version = "0.1.0-dev"

// GitCommit is the git commit hash at build time.
var GitCommit = "unknown"

// BuildTime is the build timestamp in RFC3339 format.
var BuildTime = "unknown"

// IsValid reports whether v (without the leading "v") is a semantic version.
func IsValid(v string) bool {
	return semver.IsValid("v" + v)
}

// IsVersionGreaterOrEqualThan returns true if version is greater than or equal to target.
func IsVersionGreaterOrEqualThan(version, target string) bool {
	return semver.Compare("v"+version, "v"+target) > -1
}

// String returns the version with the short commit hash when known.
func String() string {
	v := Version
	if GitCommit != "" && GitCommit != "unknown" {
		v = fmt.Sprintf("%s-%s", v, shortCommit())
	}
	return v
}

// StringFull returns the version plus build metadata.
func StringFull() string {
	parts := []string{"Version=" + Version}
	if GitCommit != "" && GitCommit != "unknown" {
		parts = append(parts, "Commit="+shortCommit())
	}
	if BuildTime != "" && BuildTime != "unknown" {
		parts = append(parts, "BuildTime="+BuildTime)
	}
	return strings.Join(parts, " ")
}

func shortCommit() string {
	if len(GitCommit) > 8 {
		return GitCommit[:8]
	}
	return GitCommit
}

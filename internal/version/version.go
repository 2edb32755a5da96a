// Package version implements the client/daemon compatibility check run on
// every RPC connection's auth handshake (spec.md §6): a major version
// mismatch is a hard error, a minor mismatch is tolerated but reported.
package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Current is the running binary's version, overridden at build time via
// -ldflags "-X github.com/speakeasy-api/granary/internal/version.Current=...".
var Current = "0.0.0-dev"

// Compatibility describes the result of comparing two versions.
type Compatibility int

const (
	// Compatible means the two versions may interoperate.
	Compatible Compatibility = iota
	// MinorMismatch means the versions share a major version but differ
	// below it; interoperation is allowed but worth surfacing.
	MinorMismatch
)

// Check compares the connecting client's version against daemonVersion. An
// empty clientVersion (older clients predating this check) or either
// version failing semver validation is treated as compatible, matching
// dev-build and pre-upgrade leniency.
func Check(daemonVersion, clientVersion string) (Compatibility, error) {
	if clientVersion == "" {
		return Compatible, nil
	}

	serverVer := normalize(daemonVersion)
	clientVer := normalize(clientVersion)

	if !semver.IsValid(serverVer) || !semver.IsValid(clientVer) {
		return Compatible, nil
	}

	if semver.Major(serverVer) != semver.Major(clientVer) {
		if semver.Compare(serverVer, clientVer) < 0 {
			return 0, fmt.Errorf("incompatible major versions: client %s, daemon %s (daemon is older; restart it on a newer build)", clientVersion, daemonVersion)
		}
		return 0, fmt.Errorf("incompatible major versions: client %s, daemon %s (client is older; upgrade the granary CLI)", clientVersion, daemonVersion)
	}

	if semver.MajorMinor(serverVer) != semver.MajorMinor(clientVer) {
		return MinorMismatch, nil
	}
	return Compatible, nil
}

func normalize(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}

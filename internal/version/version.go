// Package version compares client and server build versions.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// IsDevelopmentVersion returns true for non-release versions.
func IsDevelopmentVersion(v string) bool {
	if v == "" || v == "unknown" || v == "dev" || v == "devel" {
		return true
	}
	return strings.HasPrefix(v, "devel+")
}

var validVersionRegex = regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9]+([.-][a-zA-Z0-9]+)*)?$`)

// IsRelease reports whether v is a well-formed release tag.
func IsRelease(v string) bool {
	return !IsDevelopmentVersion(v) && validVersionRegex.MatchString(v)
}

// Skew describes a mismatch between the CLI and the server it talks to.
// It returns "" when the versions are compatible or cannot be compared.
// Builds sharing a major and minor version are compatible.
func Skew(client, server string) string {
	if !IsRelease(client) || !IsRelease(server) {
		return ""
	}
	c, s := parseSemver(client), parseSemver(server)
	if c[0] == s[0] && c[1] == s[1] {
		return ""
	}
	if isNewer(server, client) {
		return fmt.Sprintf("server %s is newer than this client (%s); upgrade the CLI", server, client)
	}
	return fmt.Sprintf("client %s is newer than server %s; some commands may be rejected", client, server)
}

// parseSemver extracts major, minor and patch. Prerelease and build
// suffixes are ignored; missing or invalid parts are 0.
func parseSemver(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return [3]int{}
		}
		out[i] = n
	}
	return out
}

// isNewer reports whether latest has a higher core version than current.
func isNewer(latest, current string) bool {
	l, c := parseSemver(latest), parseSemver(current)
	for i := range l {
		if l[i] != c[i] {
			return l[i] > c[i]
		}
	}
	return false
}

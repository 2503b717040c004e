package gateway

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// VersionHeader carries the server's API version, e.g. "1.4.2".
const VersionHeader = "API-Version"

// normalizeVersion adds the "v" prefix semver expects.
func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// ValidVersion reports whether v parses as a semantic version.
func ValidVersion(v string) bool {
	return semver.IsValid(normalizeVersion(v))
}

// checkVersion compares the server's major version with the one the client
// was built against. An absent or unparseable server header is accepted;
// storefronts that do not version their API are treated as compatible.
func checkVersion(want, got string) error {
	if want == "" || got == "" {
		return nil
	}
	g := normalizeVersion(got)
	if !semver.IsValid(g) {
		return nil
	}
	w := normalizeVersion(want)
	if semver.Major(w) != semver.Major(g) {
		return fmt.Errorf("server API version %s is incompatible with client %s", got, want)
	}
	return nil
}

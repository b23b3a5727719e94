// Package version reports the ussdpilot build version.
//
// Commit is set at build time:
//
//	go build -ldflags "-X github.com/bhandras/ussdpilot/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Commit is the VCS revision of this build, if known.
var Commit string

const (
	major uint = 0
	minor uint = 3
	patch uint = 0

	// preRelease may only hold [0-9A-Za-z-].
	preRelease = ""
)

// Version returns the SemVer version string.
func Version() string {
	v := fmt.Sprintf("%d.%d.%d", major, minor, patch)
	if pr := keepAlnumDash(preRelease); pr != "" {
		v += "-" + pr
	}
	return v
}

// Full returns Version plus the commit, falling back to the revision the Go
// toolchain embedded in the binary.
func Full() string {
	commit := strings.TrimSpace(Commit)
	if commit == "" {
		commit = buildRevision()
	}
	if commit == "" {
		return Version()
	}
	return fmt.Sprintf("%s commit=%s", Version(), commit)
}

func buildRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return ""
}

func keepAlnumDash(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

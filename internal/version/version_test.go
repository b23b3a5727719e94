package version

import (
	"regexp"
	"testing"
)

func TestVersionIsSemVer(t *testing.T) {
	if !regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z-]+)?$`).MatchString(Version()) {
		t.Fatalf("Version()=%q is not semver", Version())
	}
}

func TestFullIncludesCommit(t *testing.T) {
	old := Commit
	Commit = "abc1234"
	t.Cleanup(func() { Commit = old })

	if got, want := Full(), Version()+" commit=abc1234"; got != want {
		t.Fatalf("Full()=%q, want %q", got, want)
	}
}

func TestKeepAlnumDash(t *testing.T) {
	if got := keepAlnumDash("rc.1+build_7"); got != "rc1build7" {
		t.Fatalf("keepAlnumDash=%q", got)
	}
}

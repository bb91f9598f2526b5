package version

import (
	"slices"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/lockstep/pkg/errors"
)

// Bump keywords.
const (
	Major      = "major"
	Minor      = "minor"
	Patch      = "patch"
	PreMajor   = "premajor"
	PreMinor   = "preminor"
	PrePatch   = "prepatch"
	PreRelease = "prerelease"
)

// Keywords lists the bump keywords from highest to lowest priority.
var Keywords = []string{Major, PreMajor, Minor, PreMinor, Patch, PrePatch, PreRelease}

// IsKeyword reports whether s is a bump keyword.
func IsKeyword(s string) bool { return slices.Contains(Keywords, s) }

// ValidateBump accepts a bump keyword or an explicit semantic version.
func ValidateBump(s string) error {
	if IsKeyword(s) {
		return nil
	}
	if _, err := semver.StrictNewVersion(s); err == nil {
		return nil
	}
	return errors.New(errors.ErrCodeValidation,
		"invalid version bump %q: use one of %s, or an explicit semantic version", s, strings.Join(Keywords, ", "))
}

// Highest returns the keyword with the highest priority. Explicit versions
// rank above every keyword; among several, the greatest wins.
func Highest(bumps []string) string {
	best := ""
	rank := func(s string) int {
		if i := slices.Index(Keywords, s); i >= 0 {
			return len(Keywords) - i
		}
		if s == "" {
			return -1
		}
		return len(Keywords) + 1
	}
	for _, b := range bumps {
		switch {
		case rank(b) > rank(best):
			best = b
		case rank(b) == len(Keywords)+1 && rank(best) == rank(b):
			if isGreater(b, best) {
				best = b
			}
		}
	}
	return best
}

func isGreater(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return false
	}
	return va.GreaterThan(vb)
}

// Bump applies keyword to current and returns the next version. An explicit
// version is returned as given. preid names the prerelease identifier for
// the pre* keywords ("alpha" gives 1.1.0-alpha.0); empty means a bare counter.
func Bump(current, keyword, preid string) (string, error) {
	if err := ValidateBump(keyword); err != nil {
		return "", err
	}
	if !IsKeyword(keyword) {
		return keyword, nil
	}

	v, err := semver.NewVersion(current)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeValidation, err, "invalid current version %q", current)
	}
	major, minor, patch := v.Major(), v.Minor(), v.Patch()
	pre := v.Prerelease()

	var next *semver.Version
	switch keyword {
	case Major:
		if pre == "" || minor != 0 || patch != 0 {
			major++
		}
		next = semver.New(major, 0, 0, "", "")
	case Minor:
		if pre == "" || patch != 0 {
			minor++
		}
		next = semver.New(major, minor, 0, "", "")
	case Patch:
		if pre == "" {
			patch++
		}
		next = semver.New(major, minor, patch, "", "")
	case PreMajor:
		next = semver.New(major+1, 0, 0, firstPrerelease(preid), "")
	case PreMinor:
		next = semver.New(major, minor+1, 0, firstPrerelease(preid), "")
	case PrePatch:
		next = semver.New(major, minor, patch+1, firstPrerelease(preid), "")
	case PreRelease:
		if pre == "" {
			next = semver.New(major, minor, patch+1, firstPrerelease(preid), "")
		} else {
			next = semver.New(major, minor, patch, nextPrerelease(pre, preid), "")
		}
	}
	return next.String(), nil
}

func firstPrerelease(preid string) string {
	if preid == "" {
		return "0"
	}
	return preid + ".0"
}

// nextPrerelease increments the trailing numeric identifier of pre. A
// different preid restarts the counter under the new identifier.
func nextPrerelease(pre, preid string) string {
	parts := strings.Split(pre, ".")
	if preid != "" && parts[0] != preid {
		return preid + ".0"
	}
	for i := len(parts) - 1; i >= 0; i-- {
		if n, err := strconv.ParseUint(parts[i], 10, 64); err == nil {
			parts[i] = strconv.FormatUint(n+1, 10)
			return strings.Join(parts, ".")
		}
	}
	return pre + ".0"
}

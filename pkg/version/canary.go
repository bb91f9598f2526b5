package version

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/lockstep/pkg/errors"
)

// Descriptor is parsed `git describe` output: "<base>-<refCount>-g<sha>".
type Descriptor struct {
	Base     string // version of the last release tag, prefix stripped
	RefCount int    // commits since that tag
	SHA      string
	Dirty    bool
}

var describeRe = regexp.MustCompile(`^(.+)-(\d+)-g([0-9a-f]+)(-dirty)?$`)

// ParseDescriptor parses describe output. tagPrefix ("v", or "name@" in
// independent mode) is stripped from the base when present.
func ParseDescriptor(s, tagPrefix string) (Descriptor, error) {
	m := describeRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Descriptor{}, errors.New(errors.ErrCodeVCSState, "unrecognized describe output %q", s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return Descriptor{}, errors.Wrap(errors.ErrCodeVCSState, err, "describe ref count %q", m[2])
	}
	base := strings.TrimPrefix(m[1], tagPrefix)
	if _, err := semver.NewVersion(base); err != nil {
		return Descriptor{}, errors.Wrap(errors.ErrCodeVCSState, err, "describe base %q is not a version", base)
	}
	return Descriptor{Base: base, RefCount: n, SHA: m[3], Dirty: m[4] != ""}, nil
}

// canaryCounter is the prerelease counter: commits since the tag, minus one.
func (d Descriptor) canaryCounter() int {
	return max(0, d.RefCount-1)
}

// CanaryVersion derives a canary version from d: the base bumped by release,
// then "-<preid>.<refCount-1>+<sha>". A "pre" prefix on release is ignored,
// so "prepatch" and "patch" give the same result.
//
//	1.0.0-2-gdeadbeef, patch, alpha => 1.0.1-alpha.1+deadbeef
func CanaryVersion(d Descriptor, release, preid string) (string, error) {
	release = strings.TrimPrefix(release, "pre")
	if release == "release" || release == "" {
		release = Patch
	}
	if !IsKeyword(release) {
		return "", errors.New(errors.ErrCodeValidation, "invalid canary release type %q", release)
	}
	bumped, err := Bump(d.Base, release, "")
	if err != nil {
		return "", err
	}
	return assemble(bumped, preid, d.canaryCounter(), d.SHA), nil
}

// SeedCanary returns the canary version of a package that was never
// released: its declared version, unbumped, in prerelease form.
func SeedCanary(declared, preid string, counter int, sha string) (string, error) {
	v, err := semver.NewVersion(declared)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeValidation, err, "invalid version %q", declared)
	}
	base := semver.New(v.Major(), v.Minor(), v.Patch(), "", "").String()
	return assemble(base, preid, max(0, counter), sha), nil
}

func assemble(base, preid string, counter int, sha string) string {
	if preid == "" {
		preid = "alpha"
	}
	s := fmt.Sprintf("%s-%s.%d", base, preid, counter)
	if sha != "" {
		s += "+" + sha
	}
	return s
}

// ExistsFunc reports whether name@version is already published.
type ExistsFunc func(ctx context.Context, name, version string) (bool, error)

const maxCanaryAttempts = 100

// NextUnused advances the prerelease counter of a canary version until
// exists reports it free. Registries ignore build metadata, so two runs at
// different commits but equal counters collide without this.
func NextUnused(ctx context.Context, name, version string, exists ExistsFunc) (string, error) {
	if exists == nil {
		return version, nil
	}
	for range maxCanaryAttempts {
		taken, err := exists(ctx, name, version)
		if err != nil {
			return "", err
		}
		if !taken {
			return version, nil
		}
		version, err = advanceCounter(version)
		if err != nil {
			return "", err
		}
	}
	return "", errors.New(errors.ErrCodeValidation, "no unused canary version for %s after %d attempts", name, maxCanaryAttempts)
}

func advanceCounter(version string) (string, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeValidation, err, "invalid version %q", version)
	}
	next := semver.New(v.Major(), v.Minor(), v.Patch(), nextPrerelease(v.Prerelease(), ""), v.Metadata())
	return next.String(), nil
}

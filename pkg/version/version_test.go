package version

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/manifest"
)

func TestBump(t *testing.T) {
	tests := []struct {
		current, keyword, preid, want string
	}{
		{"1.2.3", Major, "", "2.0.0"},
		{"1.2.3", Minor, "", "1.3.0"},
		{"1.2.3", Patch, "", "1.2.4"},
		{"2.0.0-beta.1", Major, "", "2.0.0"},
		{"1.3.0-beta.1", Minor, "", "1.3.0"},
		{"1.2.4-beta.1", Patch, "", "1.2.4"},
		{"1.2.3", PreMajor, "alpha", "2.0.0-alpha.0"},
		{"1.2.3", PreMinor, "alpha", "1.3.0-alpha.0"},
		{"1.2.3", PrePatch, "", "1.2.4-0"},
		{"1.2.3", PreRelease, "beta", "1.2.4-beta.0"},
		{"1.2.4-beta.0", PreRelease, "beta", "1.2.4-beta.1"},
		{"1.2.4-beta.0", PreRelease, "", "1.2.4-beta.1"},
		{"1.2.4-beta.3", PreRelease, "rc", "1.2.4-rc.0"},
		{"1.2.4-beta", PreRelease, "beta", "1.2.4-beta.0"},
		{"1.2.3", "4.0.0", "", "4.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.current+"/"+tt.keyword+"/"+tt.preid, func(t *testing.T) {
			got, err := Bump(tt.current, tt.keyword, tt.preid)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBumpRejectsUnknownKeyword(t *testing.T) {
	_, err := Bump("1.0.0", "huge", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))

	_, err = Bump("not-a-version", Patch, "")
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
}

func TestHighest(t *testing.T) {
	assert.Equal(t, Major, Highest([]string{Patch, "", Major, Minor}))
	assert.Equal(t, PreMinor, Highest([]string{Patch, PreMinor}))
	assert.Equal(t, "3.0.0", Highest([]string{Major, "2.0.0", "3.0.0"}))
	assert.Equal(t, "", Highest([]string{"", ""}))
}

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor("1.0.0-2-gdeadbeef", "")
	require.NoError(t, err)
	assert.Equal(t, Descriptor{Base: "1.0.0", RefCount: 2, SHA: "deadbeef"}, d)

	d, err = ParseDescriptor("v1.2.0-beta.1-14-gabc1234-dirty", "v")
	require.NoError(t, err)
	assert.Equal(t, Descriptor{Base: "1.2.0-beta.1", RefCount: 14, SHA: "abc1234", Dirty: true}, d)

	d, err = ParseDescriptor("@scope/pkg@3.1.0-0-g0123abc", "@scope/pkg@")
	require.NoError(t, err)
	assert.Equal(t, "3.1.0", d.Base)

	_, err = ParseDescriptor("deadbeef", "")
	assert.True(t, errors.Is(err, errors.ErrCodeVCSState))
}

func TestCanaryVersion(t *testing.T) {
	d, err := ParseDescriptor("1.0.0-2-gdeadbeef", "")
	require.NoError(t, err)

	got, err := CanaryVersion(d, Patch, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1-alpha.1+deadbeef", got)

	got, err = CanaryVersion(d, PreMinor, "beta")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0-beta.1+deadbeef", got)

	got, err = CanaryVersion(Descriptor{Base: "1.0.0", RefCount: 0, SHA: "abc"}, Major, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0-alpha.0+abc", got)

	_, err = CanaryVersion(d, "bogus", "alpha")
	assert.Error(t, err)
}

func TestSeedCanary(t *testing.T) {
	got, err := SeedCanary("0.3.0-rc.1", "alpha", 4, "cafe")
	require.NoError(t, err)
	assert.Equal(t, "0.3.0-alpha.4+cafe", got)

	got, err = SeedCanary("0.3.0", "", -1, "")
	require.NoError(t, err)
	assert.Equal(t, "0.3.0-alpha.0", got)
}

func TestNextUnused(t *testing.T) {
	taken := map[string]bool{"1.0.1-alpha.1+a": true, "1.0.1-alpha.2+a": true}
	got, err := NextUnused(context.Background(), "pkg", "1.0.1-alpha.1+a", func(_ context.Context, _, v string) (bool, error) {
		return taken[v], nil
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1-alpha.3+a", got)

	got, err = NextUnused(context.Background(), "pkg", "1.0.1-alpha.1+a", nil)
	require.NoError(t, err)
	assert.Equal(t, "1.0.1-alpha.1+a", got)
}

func packages(versions ...string) []*manifest.Package {
	var out []*manifest.Package
	for i := 0; i+1 < len(versions); i += 2 {
		out = append(out, manifest.New(versions[i], versions[i+1], "/repo/packages/"+versions[i]))
	}
	return out
}

func quiet() *log.Logger { return log.New(io.Discard) }

func TestResolveFixed(t *testing.T) {
	pkgs := packages("a", "1.2.0", "b", "1.0.0", "c", "0.9.0")
	plan, err := Resolve(context.Background(), pkgs, Options{
		Mode:        Fixed,
		RepoVersion: "1.2.0",
		Bump:        Patch,
		PerPackage:  map[string]string{"b": Minor},
		Logger:      quiet(),
	})
	require.NoError(t, err)

	assert.Equal(t, "1.3.0", plan.RepoVersion())
	for _, name := range []string{"a", "b", "c"} {
		v, ok := plan.Version(name)
		require.True(t, ok)
		assert.Equal(t, "1.3.0", v)
	}
	assert.Equal(t, "0.9.0", plan.Previous("c"))
	assert.Equal(t, []Entry{
		{Name: "a", From: "1.2.0", To: "1.3.0"},
		{Name: "b", From: "1.0.0", To: "1.3.0"},
		{Name: "c", From: "0.9.0", To: "1.3.0"},
	}, plan.Entries())

	// the plan hands out copies
	plan.Versions()["a"] = "9.9.9"
	v, _ := plan.Version("a")
	assert.Equal(t, "1.3.0", v)
}

func TestResolveFixedValidation(t *testing.T) {
	ctx := context.Background()
	pkgs := packages("a", "1.2.0")

	_, err := Resolve(ctx, pkgs, Options{Mode: Fixed, RepoVersion: "1.2.0", Bump: "1.1.0", Logger: quiet()})
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))

	_, err = Resolve(ctx, pkgs, Options{Mode: Fixed, RepoVersion: "1.2.0", Logger: quiet()})
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))

	_, err = Resolve(ctx, pkgs, Options{Mode: Fixed, RepoVersion: "1.2.0", Bump: "sideways", Logger: quiet()})
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))

	_, err = Resolve(ctx, packages("a", "3.0.0"), Options{Mode: Fixed, RepoVersion: "1.2.0", Bump: Minor, Logger: quiet()})
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
}

func TestResolveFixedPromptsOnce(t *testing.T) {
	var calls atomic.Int32
	plan, err := Resolve(context.Background(), packages("a", "1.0.0", "b", "1.0.0"), Options{
		Mode:        Fixed,
		RepoVersion: "1.0.0",
		Prompt: func(_ context.Context, req PromptRequest) (string, error) {
			calls.Add(1)
			assert.Empty(t, req.Package)
			assert.Equal(t, "1.0.0", req.Current)
			return Major, nil
		},
		Logger: quiet(),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "2.0.0", plan.RepoVersion())
}

func TestResolveIndependent(t *testing.T) {
	var prompted []string
	plan, err := Resolve(context.Background(), packages("a", "1.0.0", "b", "2.5.0", "c", "0.1.0"), Options{
		Mode:       Independent,
		PerPackage: map[string]string{"a": Major, "b": "3.0.0"},
		Prompt: func(_ context.Context, req PromptRequest) (string, error) {
			prompted = append(prompted, req.Package)
			return PreMinor, nil
		},
		PreID:  "beta",
		Logger: quiet(),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "2.0.0", "b": "3.0.0", "c": "0.2.0-beta.0"}, plan.Versions())
	assert.Equal(t, []string{"c"}, prompted)
	assert.Empty(t, plan.RepoVersion())

	_, err = Resolve(context.Background(), packages("a", "1.0.0"), Options{
		Mode:   Independent,
		Prompt: func(context.Context, PromptRequest) (string, error) { return "", fmt.Errorf("no tty") },
		Logger: quiet(),
	})
	assert.EqualError(t, err, "no tty")
}

func TestResolveCanary(t *testing.T) {
	pkgs := packages("a", "1.0.0", "fresh", "0.1.0")
	published := map[string]bool{"a@1.1.0-alpha.1+deadbeef": true}

	plan, err := Resolve(context.Background(), pkgs, Options{
		Mode:  Independent,
		PreID: "alpha",
		Canary: &CanaryOptions{
			Describe: func(_ context.Context, p *manifest.Package) (Descriptor, bool, error) {
				if p.Name == "fresh" {
					return Descriptor{}, false, nil
				}
				d, err := ParseDescriptor(p.Name+"@1.0.0-2-gdeadbeef", p.Name+"@")
				return d, true, err
			},
			Exists: func(_ context.Context, name, v string) (bool, error) {
				return published[name+"@"+v], nil
			},
			HeadSHA:  "deadbeef",
			RefCount: 3,
		},
		Logger: quiet(),
	})
	require.NoError(t, err)
	assert.True(t, plan.Canary())
	assert.Equal(t, map[string]string{
		"a":     "1.1.0-alpha.2+deadbeef",
		"fresh": "0.1.0-alpha.2+deadbeef",
	}, plan.Versions())
}

func TestResolveCanaryFixed(t *testing.T) {
	plan, err := Resolve(context.Background(), packages("a", "1.0.0", "b", "1.0.0"), Options{
		Mode:        Fixed,
		RepoVersion: "1.0.0",
		PreID:       "alpha",
		Canary: &CanaryOptions{
			Release: Patch,
			Describe: func(_ context.Context, p *manifest.Package) (Descriptor, bool, error) {
				assert.Nil(t, p)
				d, err := ParseDescriptor("v1.0.0-2-gdeadbeef", "v")
				return d, true, err
			},
		},
		Logger: quiet(),
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1-alpha.1+deadbeef", plan.RepoVersion())
	assert.Equal(t, map[string]string{"a": "1.0.1-alpha.1+deadbeef", "b": "1.0.1-alpha.1+deadbeef"}, plan.Versions())
}

func TestResolveCanaryFixedStaysShared(t *testing.T) {
	pkgs := packages("a", "1.0.0", "b", "1.0.0", "internal", "1.0.0")
	pkgs[2].Private = true
	published := map[string]bool{
		"a@1.0.1-alpha.1+deadbeef": true,
		"b@1.0.1-alpha.2+deadbeef": true,
	}

	plan, err := Resolve(context.Background(), pkgs, Options{
		Mode:        Fixed,
		RepoVersion: "1.0.0",
		PreID:       "alpha",
		Canary: &CanaryOptions{
			Release: Patch,
			Describe: func(context.Context, *manifest.Package) (Descriptor, bool, error) {
				d, err := ParseDescriptor("v1.0.0-2-gdeadbeef", "v")
				return d, true, err
			},
			Exists: func(_ context.Context, name, v string) (bool, error) {
				assert.NotEqual(t, "internal", name, "private packages are never looked up")
				return published[name+"@"+v], nil
			},
		},
		Logger: quiet(),
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1-alpha.3+deadbeef", plan.RepoVersion())
	assert.Equal(t, map[string]string{
		"a":        "1.0.1-alpha.3+deadbeef",
		"b":        "1.0.1-alpha.3+deadbeef",
		"internal": "1.0.1-alpha.3+deadbeef",
	}, plan.Versions())
}

func TestResolveEmpty(t *testing.T) {
	plan, err := Resolve(context.Background(), nil, Options{Mode: Fixed})
	require.NoError(t, err)
	assert.Zero(t, plan.Len())
}

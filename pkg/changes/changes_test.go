package changes

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/lockstep/pkg/graph"
	"github.com/matzehuels/lockstep/pkg/manifest"
)

func fixture(t *testing.T) *graph.Graph {
	t.Helper()
	newPkg := func(name string, deps ...string) *manifest.Package {
		p := manifest.New(name, "1.0.0", "/repo/packages/"+name)
		for _, d := range deps {
			p.SetDependency(manifest.Runtime, d, "^1.0.0")
		}
		return p
	}
	private := newPkg("internal-tools", "core")
	private.Private = true

	g, err := graph.New([]*manifest.Package{
		newPkg("core"),
		newPkg("utils", "core"),
		newPkg("app", "utils"),
		newPkg("docs"),
		newPkg("@scope/plugin-a"),
		newPkg("@scope/plugin-b"),
		private,
	}, graph.Options{})
	require.NoError(t, err)
	return g
}

func opts(files ...string) Options {
	return Options{
		Root:         "/repo",
		Since:        "v1.0.0",
		ChangedFiles: files,
		Logger:       log.New(io.Discard),
	}
}

func TestCollectNeverTagged(t *testing.T) {
	o := opts()
	o.Since = ""
	set, err := Collect(fixture(t), o)
	require.NoError(t, err)
	assert.Equal(t, 7, set.Len())
	for _, u := range set.Updates() {
		assert.Equal(t, ReasonDirect, u.Reason)
	}
}

func TestCollectExpandsToDependents(t *testing.T) {
	set, err := Collect(fixture(t), opts("packages/core/src/index.js"))
	require.NoError(t, err)

	assert.Equal(t, []string{"app", "core", "internal-tools", "utils"}, set.Names())
	assert.Equal(t, ReasonDirect, set.Reason("core"))
	assert.Equal(t, ReasonDependent, set.Reason("utils"))
	assert.Equal(t, ReasonDependent, set.Reason("app"))
	assert.Equal(t, Reason(""), set.Reason("docs"))

	// private packages are selected but never published
	assert.True(t, set.Has("internal-tools"))
	assert.NotContains(t, manifest.Names(set.Publishable()), "internal-tools")
}

func TestCollectIgnoreGlobs(t *testing.T) {
	o := opts(
		"packages/docs/README.md",
		"packages/docs/guide/intro.md",
		"packages/utils/test/utils.test.js",
		"packages/app/src/main.js",
		"README.md",
	)
	o.Ignore = []string{"*.md", "test/**"}

	set, err := Collect(fixture(t), o)
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, set.Names())
}

func TestCollectPrefixIsDirectoryBoundary(t *testing.T) {
	// packages/core-extra is not inside packages/core
	set, err := Collect(fixture(t), opts("packages/core-extra/index.js"))
	require.NoError(t, err)
	assert.Zero(t, set.Len())
}

func TestCollectForcePublish(t *testing.T) {
	tests := []struct {
		force []string
		want  []string
	}{
		{[]string{"docs"}, []string{"docs"}},
		{[]string{"@scope/*"}, []string{"@scope/plugin-a", "@scope/plugin-b"}},
		{[]string{"utils"}, []string{"app", "utils"}},
		{[]string{ForceAll}, []string{"@scope/plugin-a", "@scope/plugin-b", "app", "core", "docs", "internal-tools", "utils"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.force), func(t *testing.T) {
			o := opts()
			o.ForcePublish = tt.force
			set, err := Collect(fixture(t), o)
			require.NoError(t, err)
			assert.Equal(t, tt.want, set.Names())
		})
	}

	o := opts("packages/docs/index.js")
	o.ForcePublish = []string{"docs", "core"}
	set, err := Collect(fixture(t), o)
	require.NoError(t, err)
	assert.Equal(t, ReasonDirect, set.Reason("docs"))
	assert.Equal(t, ReasonForced, set.Reason("core"))
	assert.Equal(t, ReasonDependent, set.Reason("utils"))
}

func TestCollectInvalidPattern(t *testing.T) {
	o := opts("packages/core/a.js")
	o.Ignore = []string{"[unclosed"}
	_, err := Collect(fixture(t), o)
	assert.Error(t, err)
}

func TestCollectUnpublished(t *testing.T) {
	g := fixture(t)
	published := map[string]bool{"core@1.0.0": true, "utils@1.0.0": true, "docs@1.0.0": true}

	set, err := CollectUnpublished(context.Background(), g, func(_ context.Context, name, version string) (bool, error) {
		return published[name+"@"+version], nil
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"@scope/plugin-a", "@scope/plugin-b", "app"}, set.Names())
	assert.Equal(t, ReasonUnpublished, set.Reason("app"))

	_, err = CollectUnpublished(context.Background(), g, func(context.Context, string, string) (bool, error) {
		return false, fmt.Errorf("registry down")
	}, 2)
	assert.EqualError(t, err, "registry down")
}

func TestCollectTagged(t *testing.T) {
	g := fixture(t)

	fixed := CollectTagged(g, []string{"v1.0.0"}, "v")
	assert.Equal(t, []string{"@scope/plugin-a", "@scope/plugin-b", "app", "core", "docs", "utils"}, fixed.Names())
	assert.Equal(t, ReasonTagged, fixed.Reason("core"))

	independent := CollectTagged(g, []string{"@scope/plugin-a@1.0.0", "core@2.0.0", "internal-tools@1.0.0", "unrelated"}, "v")
	assert.Equal(t, []string{"@scope/plugin-a"}, independent.Names())

	assert.Zero(t, CollectTagged(g, nil, "v").Len())
}

package rewrite

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/lockstep/pkg/graph"
	"github.com/matzehuels/lockstep/pkg/manifest"
	"github.com/matzehuels/lockstep/pkg/version"
)

type dep struct {
	t    manifest.DepType
	name string
	spec string
}

func pkg(name, v string, deps ...dep) *manifest.Package {
	p := manifest.New(name, v, "/repo/packages/"+name)
	for _, d := range deps {
		p.SetDependency(d.t, d.name, d.spec)
	}
	return p
}

func fixture(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.New([]*manifest.Package{
		pkg("core", "1.0.0"),
		pkg("a", "1.0.0", dep{manifest.Runtime, "core", "^1.0.0"}),
		pkg("b", "1.0.0",
			dep{manifest.Dev, "core", "github:org/core#v1.0.0"},
			dep{manifest.Peer, "core", "^1.0.0"}),
		pkg("c", "1.0.0",
			dep{manifest.Runtime, "core", "workspace:~"},
			dep{manifest.Peer, "core", "workspace:^1.0.0"}),
		pkg("d", "1.0.0", dep{manifest.Runtime, "core", "file:../core"}),
		pkg("e", "1.0.0", dep{manifest.Runtime, "core", "^0.9.0"}),
		pkg("f", "1.0.0", dep{manifest.Optional, "core", "github:org/core#semver:^1.0.0"}),
	}, graph.Options{Type: graph.TypeAll})
	require.NoError(t, err)
	return g
}

func plan(t *testing.T, pkgs []*manifest.Package, versions map[string]string) *version.Plan {
	t.Helper()
	p, err := version.Resolve(context.Background(), pkgs, version.Options{
		Mode:       version.Independent,
		PerPackage: versions,
		Logger:     log.New(io.Discard),
	})
	require.NoError(t, err)
	return p
}

func spec(t *testing.T, g *graph.Graph, name string, dt manifest.DepType) string {
	t.Helper()
	n, ok := g.Get(name)
	require.True(t, ok)
	s, _ := n.Package.DependencySpec(dt, "core")
	return s
}

func TestApplyPreservesShapes(t *testing.T) {
	g := fixture(t)
	core, _ := g.Get("core")
	res, err := Apply(g, plan(t, []*manifest.Package{core.Package}, map[string]string{"core": "2.0.0"}), Options{Logger: log.New(io.Discard)})
	require.NoError(t, err)

	assert.Equal(t, "2.0.0", core.Version())
	assert.Equal(t, "^2.0.0", spec(t, g, "a", manifest.Runtime))
	assert.Equal(t, "github:org/core#v2.0.0", spec(t, g, "b", manifest.Dev))
	assert.Equal(t, "^2.0.0", spec(t, g, "b", manifest.Peer))
	assert.Equal(t, "workspace:~", spec(t, g, "c", manifest.Runtime))
	assert.Equal(t, "workspace:^2.0.0", spec(t, g, "c", manifest.Peer))
	assert.Equal(t, "file:../core", spec(t, g, "d", manifest.Runtime))
	assert.Equal(t, "^0.9.0", spec(t, g, "e", manifest.Runtime))
	assert.Equal(t, "github:org/core#semver:^2.0.0", spec(t, g, "f", manifest.Optional))

	assert.Equal(t, []string{"a", "b", "c", "core", "f"}, manifest.Names(res.Packages))
	assert.Contains(t, res.Changes, Change{Package: "b", Dependency: "core", Type: manifest.Dev, From: "github:org/core#v1.0.0", To: "github:org/core#v2.0.0"})
	assert.Len(t, res.Changes, 5)
}

func TestApplyExact(t *testing.T) {
	g := fixture(t)
	core, _ := g.Get("core")
	_, err := Apply(g, plan(t, []*manifest.Package{core.Package}, map[string]string{"core": "1.1.0"}), Options{Exact: true, Logger: log.New(io.Discard)})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", spec(t, g, "a", manifest.Runtime))
	assert.Equal(t, "github:org/core#semver:1.1.0", spec(t, g, "f", manifest.Optional))
}

func TestApplyDivergedIsNoop(t *testing.T) {
	g, err := graph.New([]*manifest.Package{
		pkg("core", "1.0.0"),
		pkg("pinned", "1.0.0", dep{manifest.Runtime, "core", "^3.0.0"}),
	}, graph.Options{})
	require.NoError(t, err)

	core, _ := g.Get("core")
	res, err := Apply(g, plan(t, []*manifest.Package{core.Package}, map[string]string{"core": "3.0.0"}), Options{Logger: log.New(io.Discard)})
	require.NoError(t, err)

	n, _ := g.Get("pinned")
	s, _ := n.Package.DependencySpec(manifest.Runtime, "core")
	assert.Equal(t, "^3.0.0", s)
	assert.Empty(t, res.Changes)
	assert.Equal(t, []string{"core"}, manifest.Names(res.Packages))
}

func TestApplyForceLocal(t *testing.T) {
	pkgs := []*manifest.Package{
		pkg("core", "1.0.0"),
		pkg("pinned", "1.0.0", dep{manifest.Runtime, "core", "^3.0.0"}),
	}
	g, err := graph.New(pkgs, graph.Options{ForceLocal: true})
	require.NoError(t, err)

	_, err = Apply(g, plan(t, pkgs[:1], map[string]string{"core": "1.0.1"}), Options{ForceLocal: true, Logger: log.New(io.Discard)})
	require.NoError(t, err)
	s, _ := pkgs[1].DependencySpec(manifest.Runtime, "core")
	assert.Equal(t, "^1.0.1", s)
}

func TestApplyUnknownPackage(t *testing.T) {
	g := fixture(t)
	stray := manifest.New("stray", "1.0.0", "/elsewhere")
	_, err := Apply(g, plan(t, []*manifest.Package{stray}, map[string]string{"stray": "2.0.0"}), Options{})
	assert.Error(t, err)
}

func TestResolveFileLinks(t *testing.T) {
	g := fixture(t)
	core, _ := g.Get("core")
	core.Package.Version = "2.0.0"

	d, _ := g.Get("d")
	out := ResolveFileLinks(d.Package, g, Options{})
	s, _ := out.DependencySpec(manifest.Runtime, "core")
	assert.Equal(t, "^2.0.0", s)
	orig, _ := d.Package.DependencySpec(manifest.Runtime, "core")
	assert.Equal(t, "file:../core", orig)

	c, _ := g.Get("c")
	erased := ResolveFileLinks(c.Package, g, Options{EraseWorkspace: true})
	rt, _ := erased.DependencySpec(manifest.Runtime, "core")
	peer, _ := erased.DependencySpec(manifest.Peer, "core")
	assert.Equal(t, "~2.0.0", rt)
	assert.Equal(t, "^2.0.0", peer)

	kept := ResolveFileLinks(c.Package, g, Options{})
	rt, _ = kept.DependencySpec(manifest.Runtime, "core")
	assert.Equal(t, "workspace:~", rt)
}

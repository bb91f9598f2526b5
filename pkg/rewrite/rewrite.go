// Package rewrite applies a version plan to the in-memory manifests.
//
// [Apply] sets each planned package's version and rewrites every sibling's
// declaration of it, keeping the declaration's shape (bare range, git tag,
// git semver range, workspace alias, workspace range). Declarations whose
// range did not match the sibling's old version are left alone. file: links
// are never rewritten on disk.
//
// [ResolveFileLinks] produces the transient manifest handed to the registry,
// where file: links and workspace specifiers become concrete versions.
package rewrite

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/graph"
	"github.com/matzehuels/lockstep/pkg/manifest"
	"github.com/matzehuels/lockstep/pkg/specifier"
	"github.com/matzehuels/lockstep/pkg/version"
)

// DefaultSavePrefix is used when Options.Exact is false.
const DefaultSavePrefix = "^"

// Options configures rewriting.
type Options struct {
	// Exact writes bare versions without a save prefix.
	Exact bool

	// ForceLocal rewrites graph edges even when their range did not match.
	ForceLocal bool

	// EraseWorkspace drops the workspace protocol in [ResolveFileLinks].
	EraseWorkspace bool

	Logger *log.Logger
}

func (o Options) savePrefix() string {
	if o.Exact {
		return ""
	}
	return DefaultSavePrefix
}

// Change is one rewritten dependency declaration.
type Change struct {
	Package    string
	Dependency string
	Type       manifest.DepType
	From       string
	To         string
}

// Result lists what Apply changed.
type Result struct {
	// Packages are the manifests that changed, sorted by name: every planned
	// package plus every sibling whose declarations were rewritten.
	Packages []*manifest.Package
	Changes  []Change
}

// Apply mutates the packages of g according to plan.
func Apply(g *graph.Graph, plan *version.Plan, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	previous := make(map[string]string, plan.Len())
	touched := make(map[string]*manifest.Package)
	for _, name := range plan.Names() {
		n, ok := g.Get(name)
		if !ok {
			return nil, errors.New(errors.ErrCodeInternal, "planned package %s is not in the graph", name)
		}
		previous[name] = n.Version()
	}
	for _, name := range plan.Names() {
		n, _ := g.Get(name)
		next, _ := plan.Version(name)
		n.Package.Version = next
		touched[name] = n.Package
	}

	res := &Result{}
	rw := specifier.RewriteOptions{SavePrefix: opts.savePrefix()}
	for _, n := range g.Nodes() {
		for _, depName := range plan.Names() {
			if depName == n.Name() {
				continue
			}
			_, isEdge := n.LocalDependencies[depName]
			next, _ := plan.Version(depName)
			for _, t := range n.Package.DependencyTypesOf(depName) {
				raw, _ := n.Package.DependencySpec(t, depName)
				spec := specifier.Parse(raw)
				if !spec.MatchesVersion(previous[depName]) && !(opts.ForceLocal && isEdge) {
					logger.Debug("leaving diverged specifier", "package", n.Name(), "dependency", depName, "spec", raw)
					continue
				}
				updated, ok := spec.Rewrite(next, rw)
				if !ok || updated == raw {
					continue
				}
				n.Package.SetDependency(t, depName, updated)
				touched[n.Name()] = n.Package
				res.Changes = append(res.Changes, Change{
					Package: n.Name(), Dependency: depName, Type: t, From: raw, To: updated,
				})
			}
		}
	}

	for _, p := range touched {
		res.Packages = append(res.Packages, p)
	}
	slices.SortFunc(res.Packages, func(a, b *manifest.Package) int { return strings.Compare(a.Name, b.Name) })
	return res, nil
}

// ResolveFileLinks returns a copy of pkg for publishing. file: links that
// point at a sibling become the save-prefixed sibling version; with
// EraseWorkspace, workspace specifiers become concrete versions too. pkg
// itself is not modified, so none of this reaches the on-disk manifest.
func ResolveFileLinks(pkg *manifest.Package, g *graph.Graph, opts Options) *manifest.Package {
	out := pkg.Clone()
	rw := specifier.RewriteOptions{SavePrefix: opts.savePrefix(), EraseWorkspace: true}

	for _, t := range manifest.DepTypes {
		deps := out.Dependencies(t)
		for _, name := range slices.Sorted(maps.Keys(deps)) {
			sibling, ok := g.Get(name)
			if !ok || name == pkg.Name {
				continue
			}
			spec := specifier.Parse(deps[name])
			switch spec.Kind {
			case specifier.KindFile:
				if linksTo(pkg, spec, sibling) {
					deps[name] = opts.savePrefix() + sibling.Version()
				}
			case specifier.KindWorkspace:
				if opts.EraseWorkspace {
					deps[name], _ = spec.Rewrite(sibling.Version(), rw)
				}
			case specifier.KindRange, specifier.KindExact, specifier.KindGit, specifier.KindTag, specifier.KindOther:
			}
		}
	}
	return out
}

func linksTo(from *manifest.Package, spec specifier.Specifier, target *graph.Node) bool {
	path := spec.RelativePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(from.Location, path)
	}
	return filepath.Clean(path) == filepath.Clean(target.Location())
}

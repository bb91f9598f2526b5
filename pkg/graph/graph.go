package graph

import (
	"maps"
	"path/filepath"
	"slices"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/manifest"
	"github.com/matzehuels/lockstep/pkg/specifier"
)

// Type selects which dependency collections form graph edges.
type Type string

const (
	// TypeAll uses runtime, optional and dev dependencies.
	TypeAll Type = "all"
	// TypeDependencies uses runtime and optional dependencies only.
	TypeDependencies Type = "dependencies"
)

// Options configures graph construction.
type Options struct {
	Type Type

	// ForceLocal resolves every same-named sibling locally, regardless of
	// whether its version satisfies the declared range.
	ForceLocal bool
}

// Node wraps one package and its classified dependencies.
//
// LocalDependencies and ExternalDependencies are keyed by dependency name.
// LocalDependents holds the reverse edges: every node listed there has this
// node in its LocalDependencies.
type Node struct {
	Package *manifest.Package

	LocalDependencies    map[string]specifier.Specifier
	LocalDependents      map[string]*Node
	ExternalDependencies map[string]specifier.Specifier
}

func newNode(pkg *manifest.Package) *Node {
	return &Node{
		Package:              pkg,
		LocalDependencies:    make(map[string]specifier.Specifier),
		LocalDependents:      make(map[string]*Node),
		ExternalDependencies: make(map[string]specifier.Specifier),
	}
}

// Name returns the package name.
func (n *Node) Name() string { return n.Package.Name }

// Version returns the package's current version.
func (n *Node) Version() string { return n.Package.Version }

// Location returns the package directory.
func (n *Node) Location() string { return n.Package.Location }

// DependencyNames returns the sorted names of local dependencies.
func (n *Node) DependencyNames() []string {
	return slices.Sorted(maps.Keys(n.LocalDependencies))
}

// DependentNames returns the sorted names of local dependents.
func (n *Node) DependentNames() []string {
	return slices.Sorted(maps.Keys(n.LocalDependents))
}

// Graph is the package graph. Nodes are keyed by package name; edges are
// explicit name-keyed maps on each node, so cycles never form pointer loops
// that traversal has to guard against beyond a visited set.
type Graph struct {
	nodes map[string]*Node
	opts  Options
}

// New builds the graph for pkgs. It fails with a [errors.DuplicatePackageError]
// when two packages share a name, and with a WORKSPACE error when an
// explicit workspace range does not match the sibling's current version.
func New(pkgs []*manifest.Package, opts Options) (*Graph, error) {
	if opts.Type == "" {
		opts.Type = TypeAll
	}
	g := &Graph{nodes: make(map[string]*Node, len(pkgs)), opts: opts}

	for _, pkg := range pkgs {
		if existing, ok := g.nodes[pkg.Name]; ok {
			return nil, &errors.DuplicatePackageError{
				Name:      pkg.Name,
				Locations: []string{existing.Location(), pkg.Location},
			}
		}
		g.nodes[pkg.Name] = newNode(pkg)
	}

	for _, name := range g.Names() {
		node := g.nodes[name]
		deps := node.Package.GraphDependencies(opts.Type == TypeAll)
		for _, depName := range slices.Sorted(maps.Keys(deps)) {
			if depName == name {
				continue
			}
			spec := specifier.Parse(deps[depName])
			target, ok := g.nodes[depName]
			if !ok {
				node.ExternalDependencies[depName] = spec
				continue
			}
			local, err := g.resolvesLocally(node, target, spec)
			if err != nil {
				return nil, err
			}
			if !local {
				node.ExternalDependencies[depName] = spec
				continue
			}
			node.LocalDependencies[depName] = spec
			target.LocalDependents[name] = node
		}
	}
	return g, nil
}

// resolvesLocally decides whether spec, declared by from, points at the
// sibling target.
func (g *Graph) resolvesLocally(from, target *Node, spec specifier.Specifier) (bool, error) {
	switch spec.Kind {
	case specifier.KindWorkspace:
		if g.opts.ForceLocal || spec.MatchesVersion(target.Version()) {
			return true, nil
		}
		return false, errors.New(errors.ErrCodeWorkspace,
			"package specification %q for %s in %s cannot be satisfied by local version %s",
			spec.Raw, target.Name(), from.Name(), target.Version())

	case specifier.KindFile:
		path := spec.RelativePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(from.Location(), path)
		}
		return filepath.Clean(path) == filepath.Clean(target.Location()), nil

	case specifier.KindRange, specifier.KindExact, specifier.KindGit:
		return g.opts.ForceLocal || spec.MatchesVersion(target.Version()), nil

	case specifier.KindTag:
		return g.opts.ForceLocal, nil

	case specifier.KindOther:
		return false, nil
	}
	return false, nil
}

// Options returns the options the graph was built with.
func (g *Graph) Options() Options { return g.opts }

// Get returns the node named name.
func (g *Graph) Get(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Names returns all node names, sorted.
func (g *Graph) Names() []string {
	return slices.Sorted(maps.Keys(g.nodes))
}

// Nodes returns all nodes sorted by name.
func (g *Graph) Nodes() []*Node {
	names := g.Names()
	out := make([]*Node, len(names))
	for i, name := range names {
		out[i] = g.nodes[name]
	}
	return out
}

// Packages returns the packages of all nodes sorted by name.
func (g *Graph) Packages() []*manifest.Package {
	nodes := g.Nodes()
	out := make([]*manifest.Package, len(nodes))
	for i, n := range nodes {
		out[i] = n.Package
	}
	return out
}

// NodesFor maps packages to their nodes, skipping packages not in the graph.
func (g *Graph) NodesFor(pkgs []*manifest.Package) []*Node {
	out := make([]*Node, 0, len(pkgs))
	for _, p := range pkgs {
		if n, ok := g.nodes[p.Name]; ok {
			out = append(out, n)
		}
	}
	return out
}

// AddDependencies returns nodes plus every node reachable along local
// dependency edges. The input order is kept; discovered nodes follow in
// breadth-first order. Applying it to its own output returns the same set.
func (g *Graph) AddDependencies(nodes []*Node) []*Node {
	return g.closure(nodes, func(n *Node) []string { return n.DependencyNames() })
}

// AddDependents returns nodes plus every node that transitively depends on
// one of them through local edges.
func (g *Graph) AddDependents(nodes []*Node) []*Node {
	return g.closure(nodes, func(n *Node) []string { return n.DependentNames() })
}

func (g *Graph) closure(start []*Node, next func(*Node) []string) []*Node {
	visited := make(map[string]bool, len(start))
	var out, queue []*Node
	for _, n := range start {
		if n == nil || visited[n.Name()] {
			continue
		}
		visited[n.Name()] = true
		out = append(out, n)
		queue = append(queue, n)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, name := range next(cur) {
			if visited[name] {
				continue
			}
			n, ok := g.nodes[name]
			if !ok {
				continue
			}
			visited[name] = true
			out = append(out, n)
			queue = append(queue, n)
		}
	}
	return out
}

// Prune removes nodes from the node set and from every remaining node's
// edge maps. It cannot be undone.
func (g *Graph) Prune(nodes ...*Node) {
	for _, n := range nodes {
		delete(g.nodes, n.Name())
	}
	for _, n := range nodes {
		for _, other := range g.nodes {
			delete(other.LocalDependencies, n.Name())
			delete(other.LocalDependents, n.Name())
		}
	}
}

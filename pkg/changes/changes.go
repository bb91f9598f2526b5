// Package changes decides which packages a release run selects.
//
// [Collect] starts from the files a VCS diff reports as changed since the
// last release reference. Packages whose directory contains a changed,
// non-ignored file are directly changed; force-publish patterns add more;
// the result is then expanded to every transitive local dependent, because
// a dependent's manifest must be rewritten whenever a dependency moves.
//
// [CollectUnpublished] serves "from-package" runs: it selects every package
// whose manifest version is not yet in the registry. [CollectTagged] serves
// "from-git" runs: it selects the packages whose release tag points at HEAD.
package changes

import (
	"context"
	"maps"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/graph"
	"github.com/matzehuels/lockstep/pkg/manifest"
)

// Reason records why a package was selected.
type Reason string

const (
	ReasonDirect      Reason = "directly-changed"
	ReasonDependent   Reason = "dependent-of-changed"
	ReasonForced      Reason = "forced"
	ReasonUnpublished Reason = "unpublished"
	ReasonTagged      Reason = "tagged"
)

// ForceAll is the force-publish pattern selecting every package.
const ForceAll = "*"

// Update is one selected package.
type Update struct {
	Node   *graph.Node
	Reason Reason
}

// UpdateSet is the set of packages selected for one release run.
type UpdateSet struct {
	updates map[string]*Update
}

func newUpdateSet() *UpdateSet {
	return &UpdateSet{updates: make(map[string]*Update)}
}

func (s *UpdateSet) add(n *graph.Node, r Reason) {
	if _, ok := s.updates[n.Name()]; ok {
		return
	}
	s.updates[n.Name()] = &Update{Node: n, Reason: r}
}

// Len returns the number of selected packages.
func (s *UpdateSet) Len() int { return len(s.updates) }

// Has reports whether name is selected.
func (s *UpdateSet) Has(name string) bool {
	_, ok := s.updates[name]
	return ok
}

// Reason returns why name was selected, or "" when it was not.
func (s *UpdateSet) Reason(name string) Reason {
	if u, ok := s.updates[name]; ok {
		return u.Reason
	}
	return ""
}

// Names returns the selected names, sorted.
func (s *UpdateSet) Names() []string {
	return slices.Sorted(maps.Keys(s.updates))
}

// Updates returns the selected updates sorted by name.
func (s *UpdateSet) Updates() []*Update {
	names := s.Names()
	out := make([]*Update, len(names))
	for i, name := range names {
		out[i] = s.updates[name]
	}
	return out
}

// Nodes returns the selected nodes sorted by name.
func (s *UpdateSet) Nodes() []*graph.Node {
	updates := s.Updates()
	out := make([]*graph.Node, len(updates))
	for i, u := range updates {
		out[i] = u.Node
	}
	return out
}

// Packages returns the selected packages sorted by name.
func (s *UpdateSet) Packages() []*manifest.Package {
	nodes := s.Nodes()
	out := make([]*manifest.Package, len(nodes))
	for i, n := range nodes {
		out[i] = n.Package
	}
	return out
}

// Publishable returns the selected packages that are not private.
func (s *UpdateSet) Publishable() []*manifest.Package {
	var out []*manifest.Package
	for _, p := range s.Packages() {
		if !p.Private {
			out = append(out, p)
		}
	}
	return out
}

// Options are the inputs of [Collect].
type Options struct {
	// Root is the repository root that ChangedFiles are relative to.
	Root string

	// Since is the last release reference. Empty means the repository was
	// never tagged, and every package is directly changed.
	Since string

	// ChangedFiles are slash-separated paths relative to Root.
	ChangedFiles []string

	// Ignore globs are matched against paths relative to the package
	// directory. A glob without a slash also matches any base name.
	Ignore []string

	// ForcePublish holds package names, name globs, or [ForceAll].
	ForcePublish []string

	Logger *log.Logger
}

// Collect selects packages from a VCS diff.
func Collect(g *graph.Graph, opts Options) (*UpdateSet, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	ignore, err := compileGlobs(opts.Ignore)
	if err != nil {
		return nil, err
	}
	forced, err := forcedNodes(g, opts.ForcePublish)
	if err != nil {
		return nil, err
	}

	set := newUpdateSet()
	if opts.Since == "" {
		logger.Info("no previous release found, assuming all packages changed")
		for _, n := range g.Nodes() {
			set.add(n, ReasonDirect)
		}
		return set, nil
	}

	for _, n := range g.Nodes() {
		if file, ok := firstChange(opts.Root, n, opts.ChangedFiles, ignore); ok {
			logger.Debug("changed", "package", n.Name(), "file", file)
			set.add(n, ReasonDirect)
		}
	}
	for _, n := range forced {
		set.add(n, ReasonForced)
	}

	for _, n := range g.AddDependents(set.Nodes()) {
		set.add(n, ReasonDependent)
	}
	return set, nil
}

// firstChange returns the first changed file inside n's directory that no
// ignore glob matches.
func firstChange(root string, n *graph.Node, files []string, ignore []compiledGlob) (string, bool) {
	rel, err := filepath.Rel(root, n.Location())
	if err != nil {
		return "", false
	}
	prefix := filepath.ToSlash(rel) + "/"
	if rel == "." {
		prefix = ""
	}
	for _, f := range files {
		f = strings.TrimPrefix(filepath.ToSlash(f), "./")
		if !strings.HasPrefix(f, prefix) {
			continue
		}
		inPkg := strings.TrimPrefix(f, prefix)
		if !ignored(inPkg, ignore) {
			return f, true
		}
	}
	return "", false
}

type compiledGlob struct {
	glob.Glob
	matchBase bool
}

func compileGlobs(patterns []string) ([]compiledGlob, error) {
	out := make([]compiledGlob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid ignore pattern %q", p)
		}
		out = append(out, compiledGlob{Glob: g, matchBase: !strings.Contains(p, "/")})
	}
	return out, nil
}

func ignored(file string, globs []compiledGlob) bool {
	for _, g := range globs {
		if g.Match(file) || (g.matchBase && g.Match(path.Base(file))) {
			return true
		}
	}
	return false
}

// forcedNodes resolves force-publish patterns against the graph.
func forcedNodes(g *graph.Graph, patterns []string) ([]*graph.Node, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	if slices.Contains(patterns, ForceAll) {
		return g.Nodes(), nil
	}
	var matchers []glob.Glob
	for _, p := range patterns {
		m, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid force-publish pattern %q", p)
		}
		matchers = append(matchers, m)
	}
	var out []*graph.Node
	for _, n := range g.Nodes() {
		for _, m := range matchers {
			if m.Match(n.Name()) {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

// PublishedFunc reports whether name@version already exists in the registry.
type PublishedFunc func(ctx context.Context, name, version string) (bool, error)

// CollectUnpublished selects every public package whose current version is
// not yet published. Lookups run concurrently, at most concurrency at a time.
func CollectUnpublished(ctx context.Context, g *graph.Graph, published PublishedFunc, concurrency int) (*UpdateSet, error) {
	set := newUpdateSet()
	var mu sync.Mutex

	eg, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		eg.SetLimit(concurrency)
	}
	for _, n := range g.Nodes() {
		if n.Package.Private {
			continue
		}
		eg.Go(func() error {
			ok, err := published(ctx, n.Name(), n.Version())
			if err != nil {
				return err
			}
			if !ok {
				mu.Lock()
				set.add(n, ReasonUnpublished)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

// CollectTagged selects the public packages released by tags. A tag
// "<tagPrefix><version>" selects every package at that version, which is how
// fixed mode tags; "<name>@<version>" selects that package when its manifest
// is at version.
func CollectTagged(g *graph.Graph, tags []string, tagPrefix string) *UpdateSet {
	set := newUpdateSet()
	for _, tag := range tags {
		if at := strings.LastIndex(tag, "@"); at > 0 {
			if n, ok := g.Get(tag[:at]); ok && n.Version() == tag[at+1:] && !n.Package.Private {
				set.add(n, ReasonTagged)
			}
			continue
		}
		v, ok := strings.CutPrefix(tag, tagPrefix)
		if !ok {
			continue
		}
		for _, n := range g.Nodes() {
			if n.Version() == v && !n.Package.Private {
				set.add(n, ReasonTagged)
			}
		}
	}
	return set
}

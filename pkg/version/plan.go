// Package version computes the next version of every selected package.
//
// Two policies exist. In fixed mode one repository version governs all
// packages; it is bumped once, by the highest-priority increment requested
// anywhere in the update set. In independent mode every package is bumped on
// its own. Canary mode overlays either policy and derives prerelease
// versions from `git describe` output instead of an explicit bump.
//
// The result is a [Plan]: an immutable name to version mapping consumed by
// manifest rewriting and by the publish pipeline.
package version

import (
	"context"
	"maps"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/manifest"
)

// Mode is the release model.
type Mode int

const (
	Fixed Mode = iota
	Independent
)

func (m Mode) String() string {
	if m == Independent {
		return "independent"
	}
	return "fixed"
}

// IndependentKeyword is the config version value selecting independent mode.
const IndependentKeyword = "independent"

// Entry is one planned change.
type Entry struct {
	Name string
	From string
	To   string
}

// Plan maps package names to their next versions. It cannot be changed
// after [Resolve] returns it.
type Plan struct {
	mode        Mode
	canary      bool
	repoVersion string
	next        map[string]string
	prev        map[string]string
}

// Mode returns the release model the plan was built for.
func (p *Plan) Mode() Mode { return p.mode }

// Canary reports whether the plan holds canary versions.
func (p *Plan) Canary() bool { return p.canary }

// RepoVersion returns the new repository version in fixed mode, or "".
func (p *Plan) RepoVersion() string { return p.repoVersion }

// Len returns the number of planned packages.
func (p *Plan) Len() int { return len(p.next) }

// Version returns the planned version of name.
func (p *Plan) Version(name string) (string, bool) {
	v, ok := p.next[name]
	return v, ok
}

// Previous returns the version name had before the plan.
func (p *Plan) Previous(name string) string { return p.prev[name] }

// Names returns the planned names, sorted.
func (p *Plan) Names() []string { return slices.Sorted(maps.Keys(p.next)) }

// Entries returns every planned change sorted by name.
func (p *Plan) Entries() []Entry {
	names := p.Names()
	out := make([]Entry, len(names))
	for i, name := range names {
		out[i] = Entry{Name: name, From: p.prev[name], To: p.next[name]}
	}
	return out
}

// Versions returns a copy of the name to version mapping.
func (p *Plan) Versions() map[string]string { return maps.Clone(p.next) }

// PromptRequest asks the user for a bump. Package is empty in fixed mode,
// where one answer governs the repository.
type PromptRequest struct {
	Package string
	Current string
	PreID   string
}

// PromptFunc returns a bump keyword or an explicit version.
type PromptFunc func(ctx context.Context, req PromptRequest) (string, error)

// DescribeFunc returns the describe output for pkg (nil in fixed mode).
// ok is false when no matching release tag exists yet.
type DescribeFunc func(ctx context.Context, pkg *manifest.Package) (d Descriptor, ok bool, err error)

// CanaryOptions turn a resolve into a canary resolve.
type CanaryOptions struct {
	// Release is the increment applied to the describe base. Default "minor".
	Release string

	Describe DescribeFunc

	// Exists, when set, is consulted so a canary version is never reused.
	Exists ExistsFunc

	// HeadSHA and RefCount seed packages that were never released.
	HeadSHA  string
	RefCount int
}

// Options configures [Resolve].
type Options struct {
	Mode Mode

	// RepoVersion is the current fixed-mode version.
	RepoVersion string

	// Bump applies to every package: a keyword or an explicit version.
	Bump string

	// PerPackage overrides Bump for individual packages in independent mode.
	PerPackage map[string]string

	// Prompt is used when neither Bump nor PerPackage decides.
	Prompt PromptFunc

	PreID  string
	Canary *CanaryOptions
	Logger *log.Logger
}

// Resolve computes the plan for pkgs.
func Resolve(ctx context.Context, pkgs []*manifest.Package, opts Options) (*Plan, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	plan := &Plan{
		mode:   opts.Mode,
		canary: opts.Canary != nil,
		next:   make(map[string]string, len(pkgs)),
		prev:   make(map[string]string, len(pkgs)),
	}
	for _, p := range pkgs {
		plan.prev[p.Name] = p.Version
	}
	if len(pkgs) == 0 {
		return plan, nil
	}

	var err error
	switch {
	case opts.Canary != nil:
		err = resolveCanary(ctx, plan, pkgs, opts)
	case opts.Mode == Fixed:
		err = resolveFixed(ctx, plan, pkgs, opts)
	default:
		err = resolveIndependent(ctx, plan, pkgs, opts)
	}
	if err != nil {
		return nil, err
	}

	for _, e := range plan.Entries() {
		opts.Logger.Debug("planned", "package", e.Name, "from", e.From, "to", e.To)
	}
	return plan, nil
}

func resolveFixed(ctx context.Context, plan *Plan, pkgs []*manifest.Package, opts Options) error {
	if _, err := semver.NewVersion(opts.RepoVersion); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid repository version %q", opts.RepoVersion)
	}

	requested := []string{opts.Bump}
	for _, p := range pkgs {
		requested = append(requested, opts.PerPackage[p.Name])
	}
	bump := Highest(requested)
	if bump == "" {
		if opts.Prompt == nil {
			return errors.New(errors.ErrCodeValidation, "no version bump given")
		}
		answer, err := opts.Prompt(ctx, PromptRequest{Current: opts.RepoVersion, PreID: opts.PreID})
		if err != nil {
			return err
		}
		bump = answer
	}

	next, err := Bump(opts.RepoVersion, bump, opts.PreID)
	if err != nil {
		return err
	}
	if !isGreater(next, opts.RepoVersion) {
		return errors.New(errors.ErrCodeValidation,
			"version %s must be greater than the current version %s", next, opts.RepoVersion)
	}
	for _, p := range pkgs {
		if isGreater(p.Version, next) {
			return errors.New(errors.ErrCodeValidation,
				"%s is already at %s, above the next fixed version %s", p.Name, p.Version, next)
		}
		plan.next[p.Name] = next
	}
	plan.repoVersion = next
	return nil
}

func resolveIndependent(ctx context.Context, plan *Plan, pkgs []*manifest.Package, opts Options) error {
	for _, p := range pkgs {
		bump := opts.PerPackage[p.Name]
		if bump == "" {
			bump = opts.Bump
		}
		if bump == "" {
			if opts.Prompt == nil {
				return errors.New(errors.ErrCodeValidation, "no version bump given for %s", p.Name)
			}
			answer, err := opts.Prompt(ctx, PromptRequest{Package: p.Name, Current: p.Version, PreID: opts.PreID})
			if err != nil {
				return err
			}
			bump = answer
		}
		next, err := Bump(p.Version, bump, opts.PreID)
		if err != nil {
			return errors.Wrap(errors.GetCode(err), err, "%s", p.Name)
		}
		if !isGreater(next, p.Version) {
			return errors.New(errors.ErrCodeValidation,
				"version %s for %s must be greater than the current version %s", next, p.Name, p.Version)
		}
		plan.next[p.Name] = next
	}
	return nil
}

func resolveCanary(ctx context.Context, plan *Plan, pkgs []*manifest.Package, opts Options) error {
	c := opts.Canary
	release := c.Release
	if release == "" {
		release = Minor
	}

	version := func(pkg *manifest.Package, fallback string) (string, error) {
		d, ok, err := c.Describe(ctx, pkg)
		if err != nil {
			return "", err
		}
		if !ok {
			return SeedCanary(fallback, opts.PreID, c.RefCount-1, c.HeadSHA)
		}
		return CanaryVersion(d, release, opts.PreID)
	}

	if opts.Mode == Fixed {
		shared, err := version(nil, opts.RepoVersion)
		if err != nil {
			return err
		}
		shared, err = nextUnusedShared(ctx, pkgs, shared, c.Exists)
		if err != nil {
			return err
		}
		plan.repoVersion = shared
		for _, p := range pkgs {
			plan.next[p.Name] = shared
		}
		return nil
	}

	for _, p := range pkgs {
		v, err := version(p, p.Version)
		if err != nil {
			return err
		}
		if !p.Private {
			if v, err = NextUnused(ctx, p.Name, v, c.Exists); err != nil {
				return err
			}
		}
		plan.next[p.Name] = v
	}
	return nil
}

// nextUnusedShared advances the fixed canary version until no public
// package has it published, so every package keeps the same version.
func nextUnusedShared(ctx context.Context, pkgs []*manifest.Package, version string, exists ExistsFunc) (string, error) {
	if exists == nil {
		return version, nil
	}
	for range maxCanaryAttempts {
		taken, err := anyExists(ctx, pkgs, version, exists)
		if err != nil {
			return "", err
		}
		if !taken {
			return version, nil
		}
		if version, err = advanceCounter(version); err != nil {
			return "", err
		}
	}
	return "", errors.New(errors.ErrCodeValidation, "no unused canary version after %d attempts", maxCanaryAttempts)
}

func anyExists(ctx context.Context, pkgs []*manifest.Package, version string, exists ExistsFunc) (bool, error) {
	for _, p := range pkgs {
		if p.Private {
			continue
		}
		taken, err := exists(ctx, p.Name, version)
		if err != nil || taken {
			return taken, err
		}
	}
	return false, nil
}

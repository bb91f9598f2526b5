// Package release runs a complete release of a monorepo.
//
// A run is a fixed sequence of phases, each returning a typed result that
// the next phase consumes:
//
//  1. checks: allowed branch, clean working tree, not behind upstream
//  2. collect: select packages ([changes.Collect], or the from-git and
//     from-package sources)
//  3. plan: compute next versions ([version.Resolve]) and the topological
//     order, failing early on rejected cycles
//  4. rewrite: bump versions and sibling specifiers in memory ([rewrite.Apply])
//  5. persist: run version lifecycle scripts and write manifests
//  6. commit: one commit, the release tags, and the push
//  7. publish: pack and publish in batches ([publish.Publisher])
//
// Canary runs skip the commit phase; their manifests are written for the
// lifecycle scripts and restored when the run ends. Any failure runs the
// registered cleanup steps before the original error is returned.
//
// # Usage
//
//	runner := release.NewRunner(root, cfg, git, logger)
//	runner.Registry = client
//	runner.Packer = pack.New(dir, logger)
//	runner.Lifecycle = lifecycle.New(root, logger)
//	result, err := runner.Run(ctx, release.Options{Bump: "minor", Publish: true})
package release

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lockstep/pkg/changes"
	"github.com/matzehuels/lockstep/pkg/config"
	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/history"
	"github.com/matzehuels/lockstep/pkg/manifest"
	"github.com/matzehuels/lockstep/pkg/publish"
	"github.com/matzehuels/lockstep/pkg/rewrite"
	"github.com/matzehuels/lockstep/pkg/version"
)

// Phase names, as reported to observability hooks.
const (
	PhaseChecks  = "checks"
	PhaseCollect = "collect"
	PhasePlan    = "plan"
	PhaseRewrite = "rewrite"
	PhasePersist = "persist"
	PhaseCommit  = "commit"
	PhasePublish = "publish"
)

// CanaryDistTag is the default dist-tag for canary releases.
const CanaryDistTag = "canary"

// Source selects how packages are chosen.
type Source string

const (
	// SourceChanges bumps packages changed since the last release.
	SourceChanges Source = ""

	// SourceGit publishes the packages whose release tags point at HEAD.
	SourceGit Source = "from-git"

	// SourcePackage publishes every package whose manifest version is not in
	// the registry yet.
	SourcePackage Source = "from-package"
)

// VCS is the version-control surface a release needs.
type VCS interface {
	ChangedFilesSince(ctx context.Context, ref string) ([]string, error)
	LastTag(ctx context.Context, pattern string) (string, bool, error)
	Describe(ctx context.Context, pattern string) (string, bool, error)
	CurrentTags(ctx context.Context) ([]string, error)
	HeadSHA(ctx context.Context, short bool) (string, error)
	CommitCount(ctx context.Context) (int, error)
	CurrentBranch(ctx context.Context) (string, error)
	IsClean(ctx context.Context) (bool, error)
	IsBehindUpstream(ctx context.Context, remote, branch string) (bool, error)
	HasRemote(ctx context.Context, remote string) bool
	Add(ctx context.Context, files ...string) error
	Commit(ctx context.Context, message string) error
	Tag(ctx context.Context, name, message string) error
	DeleteTag(ctx context.Context, name string) error
	ResetFiles(ctx context.Context, files ...string) error
	Push(ctx context.Context, remote, branch string) error
}

// Registry is the registry surface a release needs.
type Registry interface {
	publish.Registry
	VersionExists(ctx context.Context, name, version string) (bool, error)
}

// Persister writes a mutated package back to disk.
type Persister func(pkg *manifest.Package) error

// ConfirmFunc shows the plan and reports whether to go ahead.
type ConfirmFunc func(ctx context.Context, plan *version.Plan, updates *changes.UpdateSet) (bool, error)

// Options configures one run.
type Options struct {
	// Bump is a keyword or explicit version applied to every package.
	Bump string

	// PerPackage overrides Bump per package name in independent mode.
	PerPackage map[string]string

	// Prompt asks for a bump when neither Bump nor PerPackage decides.
	Prompt version.PromptFunc

	// Confirm is asked before anything is written. Nil means yes.
	Confirm ConfirmFunc

	Canary bool
	PreID  string
	Source Source

	// DistTag overrides the configured dist-tag.
	DistTag string

	// Publish continues into the publish phase.
	Publish bool

	// DryRun computes and packs everything but writes nothing.
	DryRun bool

	// YesUnsafe bypasses working-tree state checks.
	YesUnsafe bool

	// NoGit skips commit and tags; NoPush skips the push only.
	NoGit  bool
	NoPush bool

	// GitHead is recorded as the published commit in from-package runs.
	GitHead string

	// Concurrency overrides the configured publish concurrency.
	Concurrency int
}

func (o *Options) validate() error {
	switch o.Source {
	case SourceChanges, SourceGit, SourcePackage:
	default:
		return errors.New(errors.ErrCodeValidation, "unknown release source %q", o.Source)
	}
	if o.Source != SourceChanges && (o.Canary || o.Bump != "" || len(o.PerPackage) > 0) {
		return errors.New(errors.ErrCodeValidation, "%s cannot be combined with a version bump or --canary", o.Source)
	}
	if o.Source != SourceChanges && !o.Publish {
		return errors.New(errors.ErrCodeValidation, "%s only applies to publishing", o.Source)
	}
	if o.Bump != "" {
		if err := version.ValidateBump(o.Bump); err != nil {
			return err
		}
	}
	for name, b := range o.PerPackage {
		if err := version.ValidateBump(b); err != nil {
			return errors.Wrap(errors.ErrCodeValidation, err, "%s", name)
		}
	}
	return nil
}

func (o *Options) command() string {
	if o.Publish {
		return "publish"
	}
	return "version"
}

// Result is what a run did.
type Result struct {
	RunID   string
	Updates *changes.UpdateSet
	Plan    *version.Plan
	Rewrite *rewrite.Result

	// Written lists the files the persist phase changed.
	Written []string

	Tags      []string
	Pushed    bool
	Published *publish.Result

	// Aborted is set when Confirm declined the plan.
	Aborted bool

	Stats Stats
}

// Stats contains per-phase timings.
type Stats struct {
	Phases map[string]time.Duration
}

// Runner executes release runs against one repository.
type Runner struct {
	Root   string
	Config *config.Config
	VCS    VCS

	// Registry, Packer and Lifecycle are required for publishing and canary
	// uniqueness checks; Lifecycle may be nil to skip scripts.
	Registry  Registry
	Packer    publish.Packer
	Lifecycle publish.Lifecycle

	// Prompter answers one-time-password challenges; OTP seeds the
	// credential cache.
	Prompter publish.Prompter
	OTP      string

	History history.Recorder
	Persist Persister
	Logger  *log.Logger
}

// NewRunner creates a runner with a no-op history and [manifest.Save] as
// persister.
func NewRunner(root string, cfg *config.Config, vcs VCS, logger *log.Logger) *Runner {
	if cfg == nil {
		cfg = (&config.Config{}).WithDefaults()
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Runner{
		Root:    root,
		Config:  cfg,
		VCS:     vcs,
		History: history.NopRecorder{},
		Persist: manifest.Save,
		Logger:  logger,
	}
}

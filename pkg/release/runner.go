package release

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"

	"github.com/matzehuels/lockstep/pkg/batch"
	"github.com/matzehuels/lockstep/pkg/changes"
	"github.com/matzehuels/lockstep/pkg/config"
	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/graph"
	"github.com/matzehuels/lockstep/pkg/history"
	"github.com/matzehuels/lockstep/pkg/lifecycle"
	"github.com/matzehuels/lockstep/pkg/manifest"
	"github.com/matzehuels/lockstep/pkg/observability"
	"github.com/matzehuels/lockstep/pkg/publish"
	"github.com/matzehuels/lockstep/pkg/rewrite"
	"github.com/matzehuels/lockstep/pkg/version"
)

// Run executes one release. Cleanup steps registered by the phases run
// before Run returns, and the run is recorded to History unless it was a
// dry run or the plan was declined.
func (r *Runner) Run(ctx context.Context, opts Options) (res *Result, err error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	run := history.NewRun(opts.command())
	run.Mode = r.Config.Mode().String()
	run.Canary = opts.Canary
	run.DryRun = opts.DryRun
	res = &Result{RunID: run.ID, Stats: Stats{Phases: make(map[string]time.Duration)}}

	cleanup := publish.NewCleanup(r.Logger)
	defer func() {
		err = cleanup.Run(ctx, err)
		if !opts.DryRun && !res.Aborted {
			r.record(ctx, run, res, err)
		}
	}()

	g, err := r.Graph()
	if err != nil {
		return res, err
	}

	if err := r.phase(ctx, res, PhaseChecks, func(ctx context.Context) error {
		return r.checks(ctx, opts)
	}); err != nil {
		return res, err
	}

	if err := r.phase(ctx, res, PhaseCollect, func(ctx context.Context) error {
		var err error
		res.Updates, err = r.collect(ctx, g, opts)
		return err
	}); err != nil {
		return res, err
	}
	if res.Updates.Len() == 0 {
		r.Logger.Info("no changed packages to release")
		return res, nil
	}

	if opts.Source == SourceChanges {
		if err := r.version(ctx, g, res, opts, cleanup); err != nil || res.Aborted {
			return res, err
		}
	}

	if opts.Publish {
		if err := r.phase(ctx, res, PhasePublish, func(ctx context.Context) error {
			var err error
			res.Published, err = r.publish(ctx, g, res.Updates, opts, cleanup)
			return err
		}); err != nil {
			return res, err
		}
	}
	return res, nil
}

// version runs the plan, rewrite, persist and commit phases.
func (r *Runner) version(ctx context.Context, g *graph.Graph, res *Result, opts Options, cleanup *publish.Cleanup) error {
	var order [][]*manifest.Package
	if err := r.phase(ctx, res, PhasePlan, func(ctx context.Context) error {
		var err error
		res.Plan, order, err = r.plan(ctx, g, res.Updates, opts)
		return err
	}); err != nil {
		return err
	}

	if opts.Confirm != nil {
		ok, err := opts.Confirm(ctx, res.Plan, res.Updates)
		if err != nil {
			return err
		}
		if !ok {
			r.Logger.Info("release aborted")
			res.Aborted = true
			return nil
		}
	}
	planned := batch.Flatten(order)

	if err := r.phase(ctx, res, PhaseRewrite, func(ctx context.Context) error {
		if !opts.DryRun {
			if err := r.runScripts(ctx, planned, lifecycle.PreVersion); err != nil {
				return err
			}
		}
		var err error
		res.Rewrite, err = rewrite.Apply(g, res.Plan, r.rewriteOptions())
		return err
	}); err != nil {
		return err
	}
	if opts.DryRun {
		return nil
	}

	if err := r.phase(ctx, res, PhasePersist, func(ctx context.Context) error {
		var err error
		res.Written, err = r.persist(ctx, res.Plan, res.Rewrite, planned, opts, cleanup)
		return err
	}); err != nil {
		return err
	}

	if opts.Canary || opts.NoGit {
		return nil
	}
	return r.phase(ctx, res, PhaseCommit, func(ctx context.Context) error {
		var err error
		res.Tags, res.Pushed, err = r.commit(ctx, res.Plan, res.Written, planned, opts)
		return err
	})
}

// Graph discovers the repository's packages and builds their graph.
func (r *Runner) Graph() (*graph.Graph, error) {
	pkgs, err := manifest.Discover(r.Root, r.Config.Packages)
	if err != nil {
		return nil, err
	}
	return graph.New(pkgs, r.Config.GraphOptions())
}

// Changed reports the packages a release would select from the VCS diff,
// without checks or side effects.
func (r *Runner) Changed(ctx context.Context) (*changes.UpdateSet, *graph.Graph, error) {
	g, err := r.Graph()
	if err != nil {
		return nil, nil, err
	}
	set, err := r.collect(ctx, g, Options{})
	return set, g, err
}

func (r *Runner) phase(ctx context.Context, res *Result, name string, fn func(context.Context) error) error {
	hooks := observability.Release()
	hooks.OnPhaseStart(ctx, name)
	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)
	res.Stats.Phases[name] = d
	hooks.OnPhaseComplete(ctx, name, d, err)
	r.Logger.Debug("phase complete", "phase", name, "duration", d, "ok", err == nil)
	return err
}

func (r *Runner) checks(ctx context.Context, opts Options) error {
	cfg := r.Config
	switch opts.Source {
	case SourcePackage:
		if cfg.Publish.RequireGitHead && opts.GitHead == "" && !opts.YesUnsafe {
			return errors.New(errors.ErrCodeVCSState, "from-package requires --git-head when require_git_head is set")
		}
		return nil
	case SourceGit:
		return nil
	}
	if opts.DryRun {
		return nil
	}

	if len(cfg.Release.AllowBranch) > 0 && !opts.Canary && !opts.NoGit {
		branch, err := r.VCS.CurrentBranch(ctx)
		if err != nil {
			return err
		}
		if !branchAllowed(branch, cfg.Release.AllowBranch) {
			return errors.New(errors.ErrCodeValidation, "branch %q is not allowed to release (allow_branch: %s)",
				branch, strings.Join(cfg.Release.AllowBranch, ", "))
		}
	}
	if opts.YesUnsafe {
		r.Logger.Warn("skipping working tree checks")
		return nil
	}

	clean, err := r.VCS.IsClean(ctx)
	if err != nil {
		return err
	}
	if !clean {
		return errors.New(errors.ErrCodeVCSState, "working tree has uncommitted changes, commit or stash them before releasing")
	}
	if opts.Canary || opts.NoGit || opts.NoPush || !cfg.ShouldPush() {
		return nil
	}

	remote := cfg.Release.Remote
	if !r.VCS.HasRemote(ctx, remote) {
		return nil
	}
	branch, err := r.VCS.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if branch == "HEAD" {
		return errors.New(errors.ErrCodeVCSState, "HEAD is detached, check out a branch before releasing")
	}
	behind, err := r.VCS.IsBehindUpstream(ctx, remote, branch)
	if err != nil {
		return err
	}
	if behind {
		return errors.New(errors.ErrCodeVCSState, "local branch %q is behind %s/%s, pull before releasing", branch, remote, branch)
	}
	return nil
}

func branchAllowed(branch string, patterns []string) bool {
	for _, p := range patterns {
		if m, err := glob.Compile(p, '/'); err == nil && m.Match(branch) {
			return true
		}
	}
	return false
}

func (r *Runner) collect(ctx context.Context, g *graph.Graph, opts Options) (*changes.UpdateSet, error) {
	switch opts.Source {
	case SourcePackage:
		if r.Registry == nil {
			return nil, errors.New(errors.ErrCodeInternal, "from-package needs a registry")
		}
		return changes.CollectUnpublished(ctx, g, r.Registry.VersionExists, r.concurrency(opts))
	case SourceGit:
		tags, err := r.VCS.CurrentTags(ctx)
		if err != nil {
			return nil, err
		}
		return changes.CollectTagged(g, tags, r.Config.TagPrefix()), nil
	}

	since, ok, err := r.VCS.LastTag(ctx, r.tagPattern(nil))
	if err != nil {
		return nil, err
	}
	var files []string
	if ok {
		r.Logger.Debug("last release", "tag", since)
		if files, err = r.VCS.ChangedFilesSince(ctx, since); err != nil {
			return nil, err
		}
	}
	return changes.Collect(g, changes.Options{
		Root:         r.Root,
		Since:        since,
		ChangedFiles: files,
		Ignore:       r.Config.Changes.Ignore,
		ForcePublish: r.Config.Changes.ForcePublish,
		Logger:       r.Logger,
	})
}

// plan resolves versions and orders the selected packages. Ordering first
// makes a rejected cycle fail before anything is asked or written.
func (r *Runner) plan(ctx context.Context, g *graph.Graph, updates *changes.UpdateSet, opts Options) (*version.Plan, [][]*manifest.Package, error) {
	pkgs := updates.Packages()
	order, err := batch.Batch(pkgs, r.batchOptions())
	if err != nil {
		return nil, nil, err
	}

	vopts := version.Options{
		Mode:        r.Config.Mode(),
		RepoVersion: r.repoVersion(g),
		Bump:        opts.Bump,
		PerPackage:  opts.PerPackage,
		Prompt:      opts.Prompt,
		PreID:       r.preID(opts),
		Logger:      r.Logger,
	}
	if opts.Canary {
		if vopts.Canary, err = r.canaryOptions(ctx); err != nil {
			return nil, nil, err
		}
	}
	plan, err := version.Resolve(ctx, pkgs, vopts)
	if err != nil {
		return nil, nil, err
	}
	return plan, order, nil
}

func (r *Runner) canaryOptions(ctx context.Context) (*version.CanaryOptions, error) {
	sha, err := r.VCS.HeadSHA(ctx, true)
	if err != nil {
		return nil, err
	}
	count, err := r.VCS.CommitCount(ctx)
	if err != nil {
		return nil, err
	}
	c := &version.CanaryOptions{
		Release:  r.Config.Release.CanaryRelease,
		HeadSHA:  sha,
		RefCount: count,
		Describe: func(ctx context.Context, pkg *manifest.Package) (version.Descriptor, bool, error) {
			out, ok, err := r.VCS.Describe(ctx, r.tagPattern(pkg))
			if err != nil || !ok {
				return version.Descriptor{}, false, err
			}
			d, err := version.ParseDescriptor(out, r.tagPrefix(pkg))
			if err != nil {
				return version.Descriptor{}, false, err
			}
			return d, true, nil
		},
	}
	if r.Registry != nil {
		c.Exists = r.Registry.VersionExists
	}
	return c, nil
}

// repoVersion is the fixed-mode version: the configured one, else the
// highest package version, else 0.0.0.
func (r *Runner) repoVersion(g *graph.Graph) string {
	if v := r.Config.Version; v != "" && v != version.IndependentKeyword {
		return v
	}
	var best *semver.Version
	for _, n := range g.Nodes() {
		v, err := semver.NewVersion(n.Version())
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	if best == nil {
		return "0.0.0"
	}
	return best.String()
}

// persist writes every rewritten manifest and, in fixed mode, the config
// version. The written files are restored on failure, and always for
// canaries.
func (r *Runner) persist(ctx context.Context, plan *version.Plan, rw *rewrite.Result, planned []*manifest.Package, opts Options, cleanup *publish.Cleanup) ([]string, error) {
	updateConfig := plan.Mode() == version.Fixed && !opts.Canary && r.Config.Path() != ""

	files := make([]string, 0, len(rw.Packages)+1)
	for _, p := range rw.Packages {
		files = append(files, p.ManifestPath())
	}
	if updateConfig {
		files = append(files, r.Config.Path())
	}
	restore := func(ctx context.Context) error { return r.VCS.ResetFiles(ctx, files...) }
	if opts.Canary {
		cleanup.Always("restore manifests", restore)
	} else {
		cleanup.OnFailure("restore manifests", restore)
	}

	for _, p := range rw.Packages {
		if err := r.Persist(p); err != nil {
			return files, errors.Wrap(errors.ErrCodeInternal, err, "write %s", p.ManifestPath())
		}
	}
	if updateConfig {
		if err := config.SetFixedVersion(r.Config.Path(), plan.RepoVersion()); err != nil {
			return files, errors.Wrap(errors.ErrCodeInternal, err, "write %s", r.Config.Path())
		}
	}
	r.Logger.Info("updated manifests", "count", len(rw.Packages), "specifiers", len(rw.Changes))

	if err := r.runScripts(ctx, planned, lifecycle.Version); err != nil {
		return files, err
	}
	return files, nil
}

// commit creates one commit and the release tags, then pushes. Tags created
// by a failed commit phase are deleted again so the run can be repeated.
func (r *Runner) commit(ctx context.Context, plan *version.Plan, files []string, planned []*manifest.Package, opts Options) (tags []string, pushed bool, err error) {
	tags = r.releaseTags(plan)
	if err := r.VCS.Add(ctx, files...); err != nil {
		return nil, false, err
	}
	if err := r.VCS.Commit(ctx, r.commitMessage(plan, tags)); err != nil {
		return nil, false, err
	}

	var created []string
	defer func() {
		if err == nil {
			return
		}
		for _, t := range slices.Backward(created) {
			if derr := r.VCS.DeleteTag(context.WithoutCancel(ctx), t); derr != nil {
				r.Logger.Warn("could not delete tag", "tag", t, "error", derr)
			}
		}
	}()
	for _, t := range tags {
		if err := r.VCS.Tag(ctx, t, t); err != nil {
			return nil, false, err
		}
		created = append(created, t)
	}
	r.Logger.Info("tagged release", "tags", strings.Join(tags, ", "))

	if err := r.runScripts(ctx, planned, lifecycle.PostVersion); err != nil {
		return nil, false, err
	}

	if opts.NoPush || !r.Config.ShouldPush() {
		return tags, false, nil
	}
	remote := r.Config.Release.Remote
	if !r.VCS.HasRemote(ctx, remote) {
		r.Logger.Warn("remote not configured, skipping push", "remote", remote)
		return tags, false, nil
	}
	branch, err := r.VCS.CurrentBranch(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := r.VCS.Push(ctx, remote, branch); err != nil {
		return nil, false, err
	}
	r.Logger.Info("pushed", "remote", remote, "branch", branch)
	return tags, true, nil
}

func (r *Runner) publish(ctx context.Context, g *graph.Graph, updates *changes.UpdateSet, opts Options, cleanup *publish.Cleanup) (*publish.Result, error) {
	if r.Registry == nil || r.Packer == nil {
		return nil, errors.New(errors.ErrCodeInternal, "publishing needs a registry and a packer")
	}
	pkgs := updates.Publishable()
	if len(pkgs) == 0 {
		r.Logger.Info("no public packages to publish")
		return &publish.Result{}, nil
	}
	batches, err := batch.Batch(pkgs, r.batchOptions())
	if err != nil {
		return nil, err
	}

	distTag := opts.DistTag
	if distTag == "" {
		distTag = r.Config.Publish.DistTag
		if opts.Canary {
			distTag = CanaryDistTag
		}
	}
	if err := errors.ValidateDistTag(distTag); err != nil {
		return nil, err
	}

	gitHead := opts.GitHead
	if gitHead == "" && r.VCS != nil {
		if sha, err := r.VCS.HeadSHA(ctx, false); err == nil {
			gitHead = sha
		} else {
			r.Logger.Debug("no git head for publish manifests", "error", err)
		}
	}

	throttle := publish.NewThrottle(r.Config.Publish.ThrottleSize, r.Config.Publish.ThrottleDelay)
	otp := publish.NewOTPContext(r.Prompter, r.OTP, r.Logger)
	p := publish.New(r.Registry, r.Packer, r.Lifecycle, throttle, otp, publish.Options{
		DistTag:     distTag,
		TempTag:     r.Config.Publish.TempTag,
		DryRun:      opts.DryRun,
		Concurrency: r.concurrency(opts),
		Rewrite:     r.rewriteOptions(),
		GitHead:     gitHead,
		Logger:      r.Logger,
	})
	r.Logger.Info("publishing", "packages", len(pkgs), "batches", len(batches), "tag", distTag)
	return p.Publish(ctx, g, batches, cleanup)
}

func (r *Runner) record(ctx context.Context, run *history.Run, res *Result, err error) {
	if res.Plan != nil {
		for _, e := range res.Plan.Entries() {
			run.Packages = append(run.Packages, history.Package{
				Name: e.Name, From: e.From, To: e.To, Reason: string(res.Updates.Reason(e.Name)),
			})
		}
	} else if res.Updates != nil {
		for _, u := range res.Updates.Updates() {
			run.Packages = append(run.Packages, history.Package{
				Name: u.Node.Name(), From: u.Node.Version(), To: u.Node.Version(), Reason: string(u.Reason),
			})
		}
	}
	run.Tags = res.Tags
	if res.Published != nil {
		for _, p := range res.Published.Published {
			run.Published = append(run.Published, history.Published{
				Name: p.Name, Version: p.Version, DistTag: p.DistTag, Shasum: p.Shasum,
			})
		}
	}
	run.Finish(err)
	if rerr := r.History.Record(context.WithoutCancel(ctx), run); rerr != nil {
		r.Logger.Warn("could not record release history", "error", rerr)
	}
}

func (r *Runner) runScripts(ctx context.Context, pkgs []*manifest.Package, stage string) error {
	if r.Lifecycle == nil {
		return nil
	}
	for _, p := range pkgs {
		if err := r.Lifecycle.Run(ctx, p, stage); err != nil {
			return err
		}
	}
	return nil
}

// tagPattern matches release tags: all of them for pkg == nil, else pkg's.
func (r *Runner) tagPattern(pkg *manifest.Package) string {
	if pkg != nil {
		return pkg.Name + "@[0-9]*"
	}
	if r.Config.Mode() == version.Independent {
		return "*@[0-9]*"
	}
	return r.Config.TagPrefix() + "[0-9]*"
}

func (r *Runner) tagPrefix(pkg *manifest.Package) string {
	if pkg != nil {
		return pkg.Name + "@"
	}
	return r.Config.TagPrefix()
}

func (r *Runner) releaseTags(plan *version.Plan) []string {
	if plan.Mode() == version.Fixed {
		return []string{r.Config.TagPrefix() + plan.RepoVersion()}
	}
	entries := plan.Entries()
	tags := make([]string, len(entries))
	for i, e := range entries {
		tags[i] = e.Name + "@" + e.To
	}
	return tags
}

// commitMessage fills the configured message. Fixed mode substitutes the
// tag; independent mode drops the placeholder and lists every release.
func (r *Runner) commitMessage(plan *version.Plan, tags []string) string {
	msg := r.Config.Release.Message
	if plan.Mode() == version.Fixed {
		return strings.Replace(msg, "%s", tags[0], 1)
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(strings.Replace(msg, "%s", "", 1)))
	b.WriteString("\n")
	for _, t := range tags {
		b.WriteString("\n - " + t)
	}
	return b.String()
}

func (r *Runner) rewriteOptions() rewrite.Options {
	return rewrite.Options{
		Exact:          r.Config.Release.Exact,
		ForceLocal:     r.Config.Graph.ForceLocal,
		EraseWorkspace: r.Config.EraseWorkspace(),
		Logger:         r.Logger,
	}
}

func (r *Runner) batchOptions() batch.Options {
	return batch.Options{
		Graph:        r.Config.GraphOptions(),
		RejectCycles: r.Config.Graph.RejectCycles,
		Logger:       r.Logger,
	}
}

func (r *Runner) concurrency(opts Options) int {
	if opts.Concurrency > 0 {
		return opts.Concurrency
	}
	return r.Config.Publish.Concurrency
}

func (r *Runner) preID(opts Options) string {
	if opts.PreID != "" {
		return opts.PreID
	}
	return r.Config.Release.PreID
}

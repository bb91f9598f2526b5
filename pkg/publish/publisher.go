// Package publish pushes packed packages to a registry in topological
// batches.
//
// Every registry call goes through a [Throttle], which bounds the concurrent
// request window, and an [OTPContext], which turns one-time-password
// challenges into a single shared prompt. A [Cleanup] stack undoes local side
// effects when a run fails, without replacing the error that caused it.
package publish

import (
	"context"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lockstep/pkg/batch"
	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/graph"
	"github.com/matzehuels/lockstep/pkg/manifest"
	"github.com/matzehuels/lockstep/pkg/observability"
	"github.com/matzehuels/lockstep/pkg/pack"
	"github.com/matzehuels/lockstep/pkg/rewrite"
)

const (
	// DefaultDistTag is used when neither options nor publishConfig name one.
	DefaultDistTag = "latest"

	// TempDistTag holds packages until every batch succeeded.
	TempDistTag = "lockstep-temp"
)

// Lifecycle stages run around packing and publishing.
const (
	StagePrepublishOnly = "prepublishOnly"
	StagePrepack        = "prepack"
	StagePostpack       = "postpack"
	StagePublish        = "publish"
	StagePostpublish    = "postpublish"
)

// PublishRequest is one registry publish call.
type PublishRequest struct {
	Name     string
	Version  string
	DistTag  string
	Access   string
	Manifest []byte
	Tarball  *pack.Tarball
	OTP      string
}

// Registry is the registry surface the publisher needs.
type Registry interface {
	Publish(ctx context.Context, req PublishRequest) error
	AddDistTag(ctx context.Context, name, version, tag, otp string) error
	RemoveDistTag(ctx context.Context, name, tag, otp string) error
}

// Packer turns a package plus its publish manifest into a tarball.
type Packer interface {
	Pack(ctx context.Context, pkg *manifest.Package, manifestJSON []byte) (*pack.Tarball, error)
}

// Lifecycle runs a package's lifecycle script for a stage. A missing script
// is not an error.
type Lifecycle interface {
	Run(ctx context.Context, pkg *manifest.Package, stage string) error
}

// Options configures a publish run.
type Options struct {
	// DistTag is the tag new versions are published under. A package's
	// publishConfig.tag takes precedence.
	DistTag string

	// TempTag publishes under [TempDistTag] and moves every package to its
	// real dist-tag after all batches succeeded.
	TempTag bool

	// DryRun packs but never calls the registry.
	DryRun bool

	// Concurrency bounds packages in flight per batch; < 1 is unlimited.
	Concurrency int

	// Rewrite configures the transient publish manifest.
	Rewrite rewrite.Options

	// GitHead is written to each publish manifest as "gitHead" when set.
	GitHead string

	Logger *log.Logger
}

// Published records one successful publish.
type Published struct {
	Name     string
	Version  string
	DistTag  string
	Tarball  string
	Shasum   string
	Duration time.Duration
}

// Result summarizes a publish run.
type Result struct {
	Published []Published
	Skipped   []string // private packages
}

// Publisher publishes batches of packages.
type Publisher struct {
	registry  Registry
	packer    Packer
	lifecycle Lifecycle
	throttle  *Throttle
	otp       *OTPContext
	opts      Options
	logger    *log.Logger
}

// New returns a Publisher. throttle and lifecycle may be nil.
func New(registry Registry, packer Packer, lifecycle Lifecycle, throttle *Throttle, otp *OTPContext, opts Options) *Publisher {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if otp == nil {
		otp = NewOTPContext(nil, "", logger)
	}
	return &Publisher{
		registry:  registry,
		packer:    packer,
		lifecycle: lifecycle,
		throttle:  throttle,
		otp:       otp,
		opts:      opts,
		logger:    logger,
	}
}

// DistTagFor returns the dist-tag pkg is published under.
func (p *Publisher) DistTagFor(pkg *manifest.Package) string {
	if pkg.PublishConfig.Tag != "" {
		return pkg.PublishConfig.Tag
	}
	if p.opts.DistTag != "" {
		return p.opts.DistTag
	}
	return DefaultDistTag
}

// Publish publishes batches in order. Tarballs are registered for removal on
// cleanup; cleanup runs before Publish returns and never replaces the
// returned error.
func (p *Publisher) Publish(ctx context.Context, g *graph.Graph, batches [][]*manifest.Package, cleanup *Cleanup) (res *Result, err error) {
	if cleanup == nil {
		cleanup = NewCleanup(p.logger)
	}
	defer func() { err = cleanup.Run(ctx, err) }()

	res = &Result{}
	var mu sync.Mutex

	err = batch.Run(ctx, batches, p.opts.Concurrency, func(ctx context.Context, pkg *manifest.Package) error {
		if pkg.Private {
			p.logger.Debug("skipping private package", "package", pkg.Name)
			mu.Lock()
			res.Skipped = append(res.Skipped, pkg.Name)
			mu.Unlock()
			return nil
		}
		pub, err := p.publishOne(ctx, g, pkg, cleanup)
		if err != nil {
			return err
		}
		mu.Lock()
		res.Published = append(res.Published, *pub)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return res, err
	}

	if p.opts.TempTag && !p.opts.DryRun {
		if err := p.promoteTempTags(ctx, res.Published); err != nil {
			return res, err
		}
	}

	sort.Slice(res.Published, func(i, j int) bool { return res.Published[i].Name < res.Published[j].Name })
	slices.Sort(res.Skipped)
	return res, nil
}

func (p *Publisher) publishOne(ctx context.Context, g *graph.Graph, pkg *manifest.Package, cleanup *Cleanup) (*Published, error) {
	for _, stage := range []string{StagePrepublishOnly, StagePrepack} {
		if err := p.runScript(ctx, pkg, stage); err != nil {
			return nil, err
		}
	}

	out := rewrite.ResolveFileLinks(pkg, g, p.opts.Rewrite)
	if p.opts.GitHead != "" {
		if err := out.SetField("gitHead", p.opts.GitHead); err != nil {
			return nil, err
		}
	}
	data, err := manifest.Marshal(out)
	if err != nil {
		return nil, err
	}
	tb, err := p.packer.Pack(ctx, pkg, data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "pack %s", pkg.Name)
	}
	cleanup.Always("remove tarball "+tb.Path, func(context.Context) error {
		if err := os.Remove(tb.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
	if err := p.runScript(ctx, pkg, StagePostpack); err != nil {
		return nil, err
	}

	tag := p.DistTagFor(pkg)
	publishTag := tag
	if p.opts.TempTag {
		publishTag = TempDistTag
	}
	pub := &Published{Name: pkg.Name, Version: pkg.Version, DistTag: tag, Tarball: tb.Path, Shasum: tb.Shasum}

	if p.opts.DryRun {
		p.logger.Info("would publish", "package", pkg.Name, "version", pkg.Version, "tag", tag)
		return pub, nil
	}

	req := PublishRequest{
		Name:     pkg.Name,
		Version:  pkg.Version,
		DistTag:  publishTag,
		Access:   pkg.PublishConfig.Access,
		Manifest: data,
		Tarball:  tb,
	}
	start := time.Now()
	err = p.call(ctx, func(ctx context.Context, otp string) error {
		req.OTP = otp
		return p.registry.Publish(ctx, req)
	})
	pub.Duration = time.Since(start)
	observability.Release().OnPublish(ctx, pkg.Name, pkg.Version, publishTag, pub.Duration, err)
	if err != nil {
		return nil, wrapRegistry(err, "publish %s@%s", pkg.Name, pkg.Version)
	}
	p.logger.Info("published", "package", pkg.Name, "version", pkg.Version, "tag", publishTag)

	for _, stage := range []string{StagePublish, StagePostpublish} {
		if err := p.runScript(ctx, pkg, stage); err != nil {
			return nil, err
		}
	}
	return pub, nil
}

// promoteTempTags points every published package's real dist-tag at its new
// version and drops the temporary tag.
func (p *Publisher) promoteTempTags(ctx context.Context, published []Published) error {
	batches := [][]*manifest.Package{make([]*manifest.Package, 0, len(published))}
	byName := make(map[string]Published, len(published))
	for _, pub := range published {
		batches[0] = append(batches[0], manifest.New(pub.Name, pub.Version, ""))
		byName[pub.Name] = pub
	}
	return batch.Run(ctx, batches, p.opts.Concurrency, func(ctx context.Context, pkg *manifest.Package) error {
		pub := byName[pkg.Name]
		if err := p.AddDistTag(ctx, pub.Name, pub.Version, pub.DistTag); err != nil {
			return err
		}
		return p.RemoveDistTag(ctx, pub.Name, TempDistTag)
	})
}

// AddDistTag points tag at version through the throttle and OTP flow.
func (p *Publisher) AddDistTag(ctx context.Context, name, version, tag string) error {
	err := p.call(ctx, func(ctx context.Context, otp string) error {
		return p.registry.AddDistTag(ctx, name, version, tag, otp)
	})
	if err != nil {
		return wrapRegistry(err, "add dist-tag %s to %s@%s", tag, name, version)
	}
	p.logger.Debug("dist-tag added", "package", name, "version", version, "tag", tag)
	return nil
}

// RemoveDistTag removes tag through the throttle and OTP flow.
func (p *Publisher) RemoveDistTag(ctx context.Context, name, tag string) error {
	err := p.call(ctx, func(ctx context.Context, otp string) error {
		return p.registry.RemoveDistTag(ctx, name, tag, otp)
	})
	if err != nil {
		return wrapRegistry(err, "remove dist-tag %s from %s", tag, name)
	}
	p.logger.Debug("dist-tag removed", "package", name, "tag", tag)
	return nil
}

// call runs one registry request in a throttle slot. The OTP flow wraps the
// slot so a prompt never holds a slot while the user types.
func (p *Publisher) call(ctx context.Context, fn func(ctx context.Context, otp string) error) error {
	return p.otp.Do(ctx, func(ctx context.Context, otp string) error {
		return p.throttle.Do(ctx, func(ctx context.Context) error {
			return fn(ctx, otp)
		})
	})
}

func (p *Publisher) runScript(ctx context.Context, pkg *manifest.Package, stage string) error {
	if p.lifecycle == nil {
		return nil
	}
	if p.opts.DryRun && stage != StagePrepack && stage != StagePostpack {
		return nil
	}
	return p.lifecycle.Run(ctx, pkg, stage)
}

// wrapRegistry tags err as a registry failure unless it already carries a
// code.
func wrapRegistry(err error, format string, args ...any) error {
	if errors.GetCode(err) != "" {
		return err
	}
	return errors.Wrap(errors.ErrCodeRegistry, err, format, args...)
}

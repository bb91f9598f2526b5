package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/matzehuels/lockstep/pkg/buildinfo"
	"github.com/matzehuels/lockstep/pkg/cache"
	"github.com/matzehuels/lockstep/pkg/config"
	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/history"
	"github.com/matzehuels/lockstep/pkg/lifecycle"
	"github.com/matzehuels/lockstep/pkg/observability"
	"github.com/matzehuels/lockstep/pkg/pack"
	"github.com/matzehuels/lockstep/pkg/registry"
	"github.com/matzehuels/lockstep/pkg/release"
	"github.com/matzehuels/lockstep/pkg/vcs"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "lockstep"

	// redisPrefix namespaces registry metadata in a shared Redis.
	redisPrefix = "lockstep:"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// In and Out are the terminal the prompts talk to.
	In  io.Reader
	Out io.Writer

	// Interactive reports whether prompts may be shown. Defaults to a
	// terminal check on stdin.
	Interactive func() bool

	dir         string
	registryURL string
	noCache     bool
	verbose     bool
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		In:     os.Stdin,
		Out:    os.Stdout,
		Interactive: func() bool {
			return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
		},
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Lockstep versions and publishes the packages of a monorepo",
		Long:          `Lockstep finds the packages of a monorepo that changed since the last release, bumps them and their dependents, rewrites sibling dependency ranges, commits and tags the release, and publishes to an npm-compatible registry in dependency order.`,
		Version:       buildinfo.Resolved(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.verbose {
				c.SetLogLevel(LogDebug)
				observability.SetReleaseHooks(&logHooks{logger: c.Logger})
				observability.SetCacheHooks(&logHooks{logger: c.Logger})
				observability.SetHTTPHooks(&logHooks{logger: c.Logger})
			}
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVarP(&c.dir, "cwd", "C", "", "repository root (default: current directory)")
	root.PersistentFlags().StringVar(&c.registryURL, "registry", "", "registry URL (overrides publish.registry)")
	root.PersistentFlags().BoolVar(&c.noCache, "no-cache", false, "bypass the registry metadata cache")

	// Register all subcommands
	root.AddCommand(c.listCommand())
	root.AddCommand(c.changedCommand())
	root.AddCommand(c.graphCommand())
	root.AddCommand(c.versionCommand())
	root.AddCommand(c.publishCommand())
	root.AddCommand(c.distTagCommand())
	root.AddCommand(c.historyCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Workspace
// =============================================================================

// workspace is the repository a command runs against.
type workspace struct {
	root string
	cfg  *config.Config
}

// openWorkspace loads lockstep.toml from --cwd and applies global flags.
func (c *CLI) openWorkspace() (*workspace, error) {
	dir := c.dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "working directory")
		}
		dir = wd
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", dir)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if c.registryURL != "" {
		if err := errors.ValidateRegistryURL(c.registryURL); err != nil {
			return nil, err
		}
		cfg.Publish.Registry = c.registryURL
	}
	return &workspace{root: root, cfg: cfg}, nil
}

// =============================================================================
// Collaborator Factories
// =============================================================================

// newCache opens the registry metadata cache cfg selects.
func (c *CLI) newCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if c.noCache {
		return cache.NewNullCache(), nil
	}
	switch cfg.Cache.Backend {
	case config.CacheNone:
		return cache.NewNullCache(), nil
	case config.CacheRedis:
		rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL, redisPrefix)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeNetwork, err, "connect to redis cache")
		}
		return rc, nil
	default:
		dir, err := fileCacheDir(cfg)
		if err != nil {
			c.Logger.Debug("no cache directory, caching disabled", "error", err)
			return cache.NewNullCache(), nil
		}
		return cache.NewFileCache(dir)
	}
}

// newRegistry returns a registry client plus the function that releases its
// cache.
func (c *CLI) newRegistry(ctx context.Context, ws *workspace) (*registry.Client, func(), error) {
	cc, err := c.newCache(ctx, ws.cfg)
	if err != nil {
		return nil, nil, err
	}
	token := config.Token()
	client := registry.New(registry.Options{
		URL:      ws.cfg.Publish.Registry,
		Token:    token,
		Cache:    cc,
		Keyer:    registryKeyer(ws.cfg.Publish.Registry, token),
		CacheTTL: ws.cfg.Cache.TTL,
		Logger:   c.Logger,
	})
	return client, func() { _ = cc.Close() }, nil
}

// registryKeyer namespaces cache keys by registry URL and token, so a shared
// cache never serves one account's view of a registry to another.
func registryKeyer(url, token string) cache.Keyer {
	if url == "" {
		url = registry.DefaultURL
	}
	account := "anon"
	if token != "" {
		account = cache.Hash([]byte(token))[:12]
	}
	prefix := "reg:" + cache.Hash([]byte(url))[:12] + ":" + account + ":"
	return cache.NewScopedKeyer(cache.NewDefaultKeyer(), prefix)
}

// runnerOptions are the collaborator choices made by command flags.
type runnerOptions struct {
	registry      bool
	ignoreScripts bool
	otp           string
}

// newRunner wires every collaborator of a release run. The returned function
// releases them and must be called when the run is over.
func (c *CLI) newRunner(ctx context.Context, ws *workspace, opts runnerOptions) (*release.Runner, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	git, err := vcs.New(ws.root, c.Logger)
	if err != nil {
		return nil, nil, err
	}
	runner := release.NewRunner(ws.root, ws.cfg, git, c.Logger)

	scripts := lifecycle.New(ws.root, c.Logger)
	scripts.Skip = opts.ignoreScripts
	runner.Lifecycle = scripts

	if opts.registry {
		client, closeCache, err := c.newRegistry(ctx, ws)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, closeCache)
		runner.Registry = client

		dir, err := os.MkdirTemp("", appName+"-pack-")
		if err != nil {
			closeAll()
			return nil, nil, errors.Wrap(errors.ErrCodeInternal, err, "create pack directory")
		}
		closers = append(closers, func() { _ = os.RemoveAll(dir) })
		runner.Packer = pack.New(dir, c.Logger)
		runner.OTP = opts.otp
		if c.interactive() {
			runner.Prompter = c.otpPrompter()
		}
	}

	rec, err := history.Open(ctx, ws.cfg.History, ws.root)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, func() { _ = rec.Close(context.WithoutCancel(ctx)) })
	runner.History = rec

	return runner, closeAll, nil
}

func (c *CLI) interactive() bool {
	return c.Interactive != nil && c.Interactive()
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/lockstep/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	return cache.DefaultDir()
}

// fileCacheDir is cache.dir from the config, else the XDG cache directory.
func fileCacheDir(cfg *config.Config) (string, error) {
	if cfg.Cache.Dir != "" {
		return cfg.Cache.Dir, nil
	}
	return cacheDir()
}

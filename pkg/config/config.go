// Package config loads lockstep.toml, the repository-level release
// configuration.
//
// [Load] decodes the file, fills defaults and validates the result. Secrets
// are never read from the file: the registry token comes from the
// LOCKSTEP_REGISTRY_TOKEN or NPM_TOKEN environment variables.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/graph"
	"github.com/matzehuels/lockstep/pkg/version"
)

// FileName is the configuration file at the repository root.
const FileName = "lockstep.toml"

// Defaults.
const (
	DefaultPackageGlob   = "packages/*"
	DefaultPreID         = "alpha"
	DefaultMessage       = "chore(release): publish %s"
	DefaultTagPrefix     = "v"
	DefaultRemote        = "origin"
	DefaultConcurrency   = 4
	DefaultCacheTTL      = 5 * time.Minute
	DefaultHistoryDB     = "lockstep"
	DefaultRedisURL      = "redis://localhost:6379/0"
	DefaultHistoryFile   = ".lockstep/history.jsonl"
	DefaultCanaryRelease = version.Minor
)

// Cache backends.
const (
	CacheFile  = "file"
	CacheRedis = "redis"
	CacheNone  = "none"
)

// History backends.
const (
	HistoryNone  = "none"
	HistoryFile  = "file"
	HistoryMongo = "mongo"
)

// Config is the decoded lockstep.toml.
type Config struct {
	// Version is the shared version in fixed mode, or "independent".
	Version  string   `toml:"version"`
	Packages []string `toml:"packages"`

	Graph   GraphConfig   `toml:"graph"`
	Changes ChangesConfig `toml:"changes"`
	Release ReleaseConfig `toml:"release"`
	Publish PublishConfig `toml:"publish"`
	Cache   CacheConfig   `toml:"cache"`
	History HistoryConfig `toml:"history"`

	// path is where the config was loaded from; empty for defaults.
	path string
}

// GraphConfig selects which edges form the package graph.
type GraphConfig struct {
	Type         string `toml:"graph_type"`
	RejectCycles bool   `toml:"reject_cycles"`
	ForceLocal   bool   `toml:"force_local"`
}

// ChangesConfig controls change detection.
type ChangesConfig struct {
	Ignore       []string `toml:"ignore"`
	ForcePublish []string `toml:"force_publish"`
}

// ReleaseConfig controls versioning, committing and tagging.
type ReleaseConfig struct {
	Exact         bool     `toml:"exact"`
	PreID         string   `toml:"preid"`
	AllowBranch   []string `toml:"allow_branch"`
	Message       string   `toml:"message"`
	TagPrefix     *string  `toml:"tag_version_prefix"`
	Remote        string   `toml:"remote"`
	Push          *bool    `toml:"push"`
	CanaryRelease string   `toml:"canary_release"`
}

// PublishConfig controls registry publishing.
type PublishConfig struct {
	Registry             string        `toml:"registry"`
	DistTag              string        `toml:"dist_tag"`
	TempTag              bool          `toml:"temp_tag"`
	Concurrency          int           `toml:"concurrency"`
	ThrottleSize         int           `toml:"throttle_size"`
	ThrottleDelay        time.Duration `toml:"throttle_delay"`
	EraseWorkspacePrefix *bool         `toml:"erase_workspace_prefix"`
	RequireGitHead       bool          `toml:"require_git_head"`
}

// CacheConfig selects the registry metadata cache.
type CacheConfig struct {
	Backend  string        `toml:"backend"`
	Dir      string        `toml:"dir"`
	RedisURL string        `toml:"redis_url"`
	TTL      time.Duration `toml:"ttl"`
}

// HistoryConfig selects where release runs are recorded.
type HistoryConfig struct {
	Backend  string `toml:"backend"`
	File     string `toml:"file"`
	MongoURI string `toml:"mongo_uri"`
	Database string `toml:"database"`
}

// Load reads root/lockstep.toml. A missing file yields the defaults.
func Load(root string) (*Config, error) {
	path := filepath.Join(root, FileName)
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read %s", path)
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse %s", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "%s: unknown key %q", path, undecoded[0].String())
		}
		cfg.path = path
	}

	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string { return c.path }

// WithDefaults fills unset fields in place and returns c.
func (c *Config) WithDefaults() *Config {
	if len(c.Packages) == 0 {
		c.Packages = []string{DefaultPackageGlob}
	}
	if c.Graph.Type == "" {
		c.Graph.Type = string(graph.TypeAll)
	}
	if c.Release.PreID == "" {
		c.Release.PreID = DefaultPreID
	}
	if c.Release.Message == "" {
		c.Release.Message = DefaultMessage
	}
	if c.Release.Remote == "" {
		c.Release.Remote = DefaultRemote
	}
	if c.Release.CanaryRelease == "" {
		c.Release.CanaryRelease = DefaultCanaryRelease
	}
	if c.Release.TagPrefix == nil {
		c.Release.TagPrefix = ptr(DefaultTagPrefix)
	}
	if c.Release.Push == nil {
		c.Release.Push = ptr(true)
	}
	if c.Publish.DistTag == "" {
		c.Publish.DistTag = "latest"
	}
	if c.Publish.Concurrency == 0 {
		c.Publish.Concurrency = DefaultConcurrency
	}
	if c.Publish.EraseWorkspacePrefix == nil {
		c.Publish.EraseWorkspacePrefix = ptr(true)
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheFile
	}
	if c.Cache.RedisURL == "" {
		c.Cache.RedisURL = DefaultRedisURL
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.History.Backend == "" {
		c.History.Backend = HistoryNone
	}
	if c.History.File == "" {
		c.History.File = DefaultHistoryFile
	}
	if c.History.Database == "" {
		c.History.Database = DefaultHistoryDB
	}
	return c
}

func ptr[T any](v T) *T { return &v }

var distTagPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)

// Validate checks field values. It reports the first problem found.
func (c *Config) Validate() error {
	if c.Version != "" && c.Version != version.IndependentKeyword {
		if _, err := semver.StrictNewVersion(c.Version); err != nil {
			return errors.New(errors.ErrCodeInvalidConfig, "version %q is neither a semver version nor %q", c.Version, version.IndependentKeyword)
		}
	}
	switch graph.Type(c.Graph.Type) {
	case graph.TypeAll, graph.TypeDependencies:
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "graph_type must be %q or %q, got %q", graph.TypeAll, graph.TypeDependencies, c.Graph.Type)
	}
	for _, p := range c.Release.AllowBranch {
		if _, err := glob.Compile(p, '/'); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid allow_branch pattern %q", p)
		}
	}
	if !version.IsKeyword(c.Release.CanaryRelease) || c.Release.CanaryRelease == version.PreRelease {
		return errors.New(errors.ErrCodeInvalidConfig, "canary_release must be a release keyword, got %q", c.Release.CanaryRelease)
	}
	if !distTagPattern.MatchString(c.Publish.DistTag) {
		return errors.New(errors.ErrCodeInvalidConfig, "invalid dist_tag %q", c.Publish.DistTag)
	}
	if _, err := semver.NewVersion(c.Publish.DistTag); err == nil {
		return errors.New(errors.ErrCodeInvalidConfig, "dist_tag %q must not be a version", c.Publish.DistTag)
	}
	if c.Publish.Concurrency < 0 || c.Publish.ThrottleSize < 0 || c.Publish.ThrottleDelay < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "publish concurrency, throttle_size and throttle_delay must not be negative")
	}
	if !slices.Contains([]string{CacheFile, CacheRedis, CacheNone}, c.Cache.Backend) {
		return errors.New(errors.ErrCodeInvalidConfig, "unknown cache backend %q", c.Cache.Backend)
	}
	switch c.History.Backend {
	case HistoryNone, HistoryFile:
	case HistoryMongo:
		if c.History.MongoURI == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "history backend %q needs mongo_uri", HistoryMongo)
		}
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown history backend %q", c.History.Backend)
	}
	return nil
}

// Mode returns the release model the config selects.
func (c *Config) Mode() version.Mode {
	if c.Version == version.IndependentKeyword {
		return version.Independent
	}
	return version.Fixed
}

// TagPrefix returns the fixed-mode tag prefix; "" is a valid prefix.
func (c *Config) TagPrefix() string {
	if c.Release.TagPrefix == nil {
		return DefaultTagPrefix
	}
	return *c.Release.TagPrefix
}

// ShouldPush reports whether commits and tags are pushed.
func (c *Config) ShouldPush() bool { return c.Release.Push == nil || *c.Release.Push }

// EraseWorkspace reports whether workspace specifiers are resolved in
// published manifests.
func (c *Config) EraseWorkspace() bool {
	return c.Publish.EraseWorkspacePrefix == nil || *c.Publish.EraseWorkspacePrefix
}

// GraphOptions converts the graph section.
func (c *Config) GraphOptions() graph.Options {
	return graph.Options{Type: graph.Type(c.Graph.Type), ForceLocal: c.Graph.ForceLocal}
}

// Token returns the registry token from the environment.
func Token() string {
	for _, k := range []string{"LOCKSTEP_REGISTRY_TOKEN", "NPM_TOKEN"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

var (
	versionLine = regexp.MustCompile(`(?m)^([ \t]*version[ \t]*=[ \t]*)"[^"]*"`)
	tableHeader = regexp.MustCompile(`(?m)^[ \t]*\[`)
)

// SetFixedVersion rewrites the top-level version key of the config at path,
// leaving every other byte untouched. The key is appended when missing.
func SetFixedVersion(path, v string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return os.WriteFile(path, []byte("version = \""+v+"\"\n"), 0o644)
	}
	if err != nil {
		return err
	}

	// Only the part before the first table header is top level.
	head, tail := data, []byte(nil)
	if loc := tableHeader.FindIndex(data); loc != nil {
		head, tail = data[:loc[0]], data[loc[0]:]
	}
	var out []byte
	if versionLine.Match(head) {
		replaced := false
		out = versionLine.ReplaceAllFunc(head, func(m []byte) []byte {
			if replaced {
				return m
			}
			replaced = true
			sub := versionLine.FindSubmatch(m)
			return append(append([]byte{}, sub[1]...), []byte(`"`+v+`"`)...)
		})
	} else {
		out = append([]byte("version = \""+v+"\"\n"), head...)
	}
	out = append(out, tail...)
	if bytes.Equal(out, data) {
		return nil
	}
	return os.WriteFile(path, out, 0o644)
}

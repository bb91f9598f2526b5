package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/graph"
	"github.com/matzehuels/lockstep/pkg/version"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
	return dir
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, cfg.Path())
	assert.Equal(t, []string{DefaultPackageGlob}, cfg.Packages)
	assert.Equal(t, version.Fixed, cfg.Mode())
	assert.Equal(t, graph.Options{Type: graph.TypeAll}, cfg.GraphOptions())
	assert.Equal(t, "v", cfg.TagPrefix())
	assert.Equal(t, "latest", cfg.Publish.DistTag)
	assert.Equal(t, DefaultConcurrency, cfg.Publish.Concurrency)
	assert.True(t, cfg.EraseWorkspace())
	assert.True(t, cfg.ShouldPush())
	assert.Equal(t, CacheFile, cfg.Cache.Backend)
	assert.Equal(t, HistoryNone, cfg.History.Backend)
}

func TestLoadFull(t *testing.T) {
	dir := writeConfig(t, `
version = "independent"
packages = ["packages/*", "tools/**"]

[graph]
graph_type = "dependencies"
reject_cycles = true

[changes]
ignore = ["*.md"]
force_publish = ["@scope/*"]

[release]
exact = true
tag_version_prefix = ""
allow_branch = ["main", "release/*"]
push = false

[publish]
temp_tag = true
throttle_size = 2
throttle_delay = "250ms"
erase_workspace_prefix = false

[cache]
backend = "redis"
ttl = "1m"

[history]
backend = "mongo"
mongo_uri = "mongodb://localhost:27017"
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, FileName), cfg.Path())
	assert.Equal(t, version.Independent, cfg.Mode())
	assert.Equal(t, graph.TypeDependencies, cfg.GraphOptions().Type)
	assert.True(t, cfg.Graph.RejectCycles)
	assert.Equal(t, []string{"*.md"}, cfg.Changes.Ignore)
	assert.True(t, cfg.Release.Exact)
	assert.Equal(t, "", cfg.TagPrefix())
	assert.False(t, cfg.ShouldPush())
	assert.Equal(t, 250*time.Millisecond, cfg.Publish.ThrottleDelay)
	assert.False(t, cfg.EraseWorkspace())
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, DefaultHistoryDB, cfg.History.Database)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad version", `version = "one"`},
		{"bad graph type", "[graph]\ngraph_type = \"peer\""},
		{"unknown key", `versoin = "1.0.0"`},
		{"version dist tag", "[publish]\ndist_tag = \"1.0.0\""},
		{"negative throttle", "[publish]\nthrottle_size = -1"},
		{"unknown cache", "[cache]\nbackend = \"memcached\""},
		{"mongo without uri", "[history]\nbackend = \"mongo\""},
		{"bad canary release", "[release]\ncanary_release = \"huge\""},
		{"bad branch glob", "[release]\nallow_branch = [\"[\"]"},
		{"syntax", `version = `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidConfig), "got %v", err)
		})
	}
}

func TestSetFixedVersion(t *testing.T) {
	dir := writeConfig(t, `# release config
version = "1.4.0" # shared
packages = ["packages/*"]

[release]
message = "version = \"keep\""
`)
	path := filepath.Join(dir, FileName)
	require.NoError(t, SetFixedVersion(path, "1.5.0"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `# release config
version = "1.5.0" # shared
packages = ["packages/*"]

[release]
message = "version = \"keep\""
`, string(data))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", cfg.Version)
}

func TestSetFixedVersionAddsKey(t *testing.T) {
	dir := writeConfig(t, "[graph]\nreject_cycles = true\n")
	path := filepath.Join(dir, FileName)
	require.NoError(t, SetFixedVersion(path, "0.1.0"))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", cfg.Version)
	assert.True(t, cfg.Graph.RejectCycles)
}

func TestToken(t *testing.T) {
	t.Setenv("LOCKSTEP_REGISTRY_TOKEN", "")
	t.Setenv("NPM_TOKEN", "npm-secret")
	assert.Equal(t, "npm-secret", Token())

	t.Setenv("LOCKSTEP_REGISTRY_TOKEN", "lockstep-secret")
	assert.Equal(t, "lockstep-secret", Token())
}

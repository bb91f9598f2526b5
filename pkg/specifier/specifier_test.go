package specifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Specifier
	}{
		{"^1.0.0", Specifier{Kind: KindRange, Range: "^1.0.0"}},
		{">=1.0.0 <2.0.0", Specifier{Kind: KindRange, Range: ">=1.0.0 <2.0.0"}},
		{"1.x", Specifier{Kind: KindRange, Range: "1.x"}},
		{"", Specifier{Kind: KindRange, Range: "*"}},
		{"1.2.3", Specifier{Kind: KindExact, Range: "1.2.3"}},
		{"=1.2.3", Specifier{Kind: KindExact, Range: "=1.2.3"}},
		{"latest", Specifier{Kind: KindTag}},
		{"workspace:*", Specifier{Kind: KindWorkspace, Alias: "*"}},
		{"workspace:~", Specifier{Kind: KindWorkspace, Alias: "~"}},
		{"workspace:^", Specifier{Kind: KindWorkspace, Alias: "^"}},
		{"workspace:^1.0.0", Specifier{Kind: KindWorkspace, Range: "^1.0.0"}},
		{"file:../lib", Specifier{Kind: KindFile, RelativePath: "../lib"}},
		{"../lib", Specifier{Kind: KindFile, RelativePath: "../lib"}},
		{"github:org/repo#v1.0.0", Specifier{
			Kind: KindGit, GitURL: "github:org/repo", Committish: "v1.0.0", CommittishStyle: CommittishTag,
		}},
		{"git+https://github.com/org/repo.git#semver:^1.0.0", Specifier{
			Kind: KindGit, GitURL: "git+https://github.com/org/repo.git", Committish: "^1.0.0", CommittishStyle: CommittishSemverRange,
		}},
		{"org/repo#release-2.0.0", Specifier{
			Kind: KindGit, GitURL: "org/repo", Committish: "release-2.0.0", CommittishStyle: CommittishTag,
		}},
		{"git@github.com:org/repo.git", Specifier{
			Kind: KindGit, GitURL: "git@github.com:org/repo.git", CommittishStyle: CommittishNone,
		}},
		{"npm:other@^1.0.0", Specifier{Kind: KindOther}},
		{"https://example.com/pkg.tgz", Specifier{Kind: KindOther}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			tt.want.Raw = tt.raw
			assert.Equal(t, tt.want, Parse(tt.raw))
		})
	}
}

func TestWorkspaceSpecAndTagParts(t *testing.T) {
	assert.Equal(t, "workspace:~", Parse("workspace:~").WorkspaceSpec())
	assert.Equal(t, "workspace:^1.0.0", Parse("workspace:^1.0.0").WorkspaceSpec())
	assert.Empty(t, Parse("^1.0.0").WorkspaceSpec())

	s := Parse("github:org/repo#release-v1.2.3")
	assert.Equal(t, "release-v", s.TagPrefix())
	assert.Equal(t, "1.2.3", s.TagVersion())
}

func TestMatchesVersion(t *testing.T) {
	tests := []struct {
		raw     string
		version string
		want    bool
	}{
		{"^1.0.0", "1.4.0", true},
		{"^1.0.0", "2.0.0", false},
		{"1.0.0", "1.0.0", true},
		{"1.0.0", "1.0.1", false},
		{"^1.0.0", "1.0.1-alpha.0", false},
		{"workspace:~", "9.9.9", true},
		{"workspace:^1.0.0", "1.2.0", true},
		{"workspace:^1.0.0", "2.0.0", false},
		{"github:org/repo#v1.0.0", "1.0.0", true},
		{"github:org/repo#v1.0.0", "1.0.1", false},
		{"github:org/repo#semver:^1.0.0", "1.3.0", true},
		{"github:org/repo", "1.0.0", false},
		{"file:../a", "1.0.0", false},
		{"latest", "1.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw+"@"+tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.raw).MatchesVersion(tt.version))
		})
	}
}

func TestRewrite(t *testing.T) {
	retain := RewriteOptions{SavePrefix: "^"}
	erase := RewriteOptions{SavePrefix: "^", EraseWorkspace: true}
	exact := RewriteOptions{SavePrefix: ""}

	tests := []struct {
		name    string
		raw     string
		opts    RewriteOptions
		want    string
		changed bool
	}{
		{"range", "^1.0.0", retain, "^2.0.0", true},
		{"exact save prefix", "^1.0.0", exact, "2.0.0", true},
		{"exact", "1.0.0", retain, "^2.0.0", true},
		{"git tag", "github:org/repo#v1.0.0", retain, "github:org/repo#v2.0.0", true},
		{"git full url", "git+ssh://git@github.com/org/repo.git#release-1.0.0", retain,
			"git+ssh://git@github.com/org/repo.git#release-2.0.0", true},
		{"git semver", "github:org/repo#semver:^1.0.0", retain, "github:org/repo#semver:^2.0.0", true},
		{"git none", "github:org/repo", retain, "github:org/repo", false},
		{"workspace alias kept", "workspace:~", retain, "workspace:~", false},
		{"workspace star erased", "workspace:*", erase, "2.0.0", true},
		{"workspace caret erased", "workspace:^", erase, "^2.0.0", true},
		{"workspace tilde erased", "workspace:~", erase, "~2.0.0", true},
		{"workspace explicit", "workspace:^1.0.0", retain, "workspace:^2.0.0", true},
		{"workspace explicit exact", "workspace:1.0.0", retain, "workspace:2.0.0", true},
		{"workspace explicit erased", "workspace:~1.0.0", erase, "~2.0.0", true},
		{"file untouched", "file:../a", retain, "file:../a", false},
		{"tag untouched", "next", retain, "next", false},
		{"alias untouched", "npm:x@^1.0.0", retain, "npm:x@^1.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := Parse(tt.raw).Rewrite("2.0.0", tt.opts)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

// Package specifier classifies raw dependency specifiers.
//
// A manifest declares each dependency as a raw string ("^1.2.0",
// "workspace:~", "github:org/repo#v1.0.0", "file:../lib"). [Parse] turns the
// string into a [Specifier] exactly once, at graph-build time. Everything
// downstream (local resolution, rewriting) switches over [Kind] instead of
// sniffing the string again.
package specifier

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind is the shape of a dependency specifier.
type Kind int

const (
	// KindRange is a semver range ("^1.0.0", ">=1 <2", "1.x", "*").
	KindRange Kind = iota
	// KindExact is a single version ("1.2.3", "=1.2.3").
	KindExact
	// KindGit is a git-hosted dependency with an optional committish.
	KindGit
	// KindFile is a relative directory link ("file:../lib").
	KindFile
	// KindWorkspace is the workspace protocol ("workspace:*", "workspace:^1.0.0").
	KindWorkspace
	// KindTag is a registry dist-tag ("latest", "next").
	KindTag
	// KindOther covers aliases, tarball URLs and anything unrecognized.
	// Such specifiers never resolve locally and are never rewritten.
	KindOther
)

var kindNames = map[Kind]string{
	KindRange:     "range",
	KindExact:     "exact",
	KindGit:       "git",
	KindFile:      "file",
	KindWorkspace: "workspace",
	KindTag:       "tag",
	KindOther:     "other",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// CommittishStyle distinguishes the two git committish shapes lockstep can rewrite.
type CommittishStyle int

const (
	// CommittishNone means the git specifier has no committish.
	CommittishNone CommittishStyle = iota
	// CommittishTag is a tag-like committish ("v1.2.3", "release-1.2.3").
	CommittishTag
	// CommittishSemverRange is a "semver:<range>" committish.
	CommittishSemverRange
)

// Workspace aliases that carry no explicit version.
const (
	AliasAny   = "*"
	AliasCaret = "^"
	AliasTilde = "~"
)

const (
	workspacePrefix = "workspace:"
	filePrefix      = "file:"
	semverPrefix    = "semver:"
)

// Specifier is a classified dependency specifier. Which fields are set
// depends on Kind; Raw always holds the original text.
type Specifier struct {
	Kind Kind
	Raw  string

	// Range is the semver text for KindRange/KindExact, and the explicit
	// inner range of a non-aliased KindWorkspace.
	Range string

	// Alias is "*", "^" or "~" for an aliased KindWorkspace.
	Alias string

	// GitURL is everything before '#' for KindGit.
	GitURL string
	// Committish is the part after '#' (after "semver:" for range style).
	Committish      string
	CommittishStyle CommittishStyle

	// RelativePath is the link target of KindFile.
	RelativePath string
}

var (
	gitPrefixes   = []string{"git+", "git://", "git@", "github:", "gitlab:", "bitbucket:", "gist:"}
	gitShorthand  = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+(#.*)?$`)
	tagName       = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)
	leadingNonDig = regexp.MustCompile(`^\D*`)
)

// Parse classifies raw. It never fails; unrecognized text is KindOther.
func Parse(raw string) Specifier {
	s := strings.TrimSpace(raw)
	spec := Specifier{Raw: raw}

	switch {
	case strings.HasPrefix(s, workspacePrefix):
		spec.Kind = KindWorkspace
		inner := strings.TrimPrefix(s, workspacePrefix)
		switch inner {
		case "", AliasAny:
			spec.Alias = AliasAny
		case AliasCaret, AliasTilde:
			spec.Alias = inner
		default:
			spec.Range = inner
		}
		return spec

	case strings.HasPrefix(s, filePrefix):
		spec.Kind = KindFile
		spec.RelativePath = strings.TrimPrefix(s, filePrefix)
		return spec

	case strings.HasPrefix(s, "./"), strings.HasPrefix(s, "../"), strings.HasPrefix(s, "/"):
		spec.Kind = KindFile
		spec.RelativePath = s
		return spec

	case isGit(s):
		spec.Kind = KindGit
		spec.GitURL, spec.Committish, _ = strings.Cut(s, "#")
		switch {
		case spec.Committish == "":
			spec.CommittishStyle = CommittishNone
		case strings.HasPrefix(spec.Committish, semverPrefix):
			spec.CommittishStyle = CommittishSemverRange
			spec.Committish = strings.TrimPrefix(spec.Committish, semverPrefix)
		default:
			spec.CommittishStyle = CommittishTag
		}
		return spec

	case strings.HasPrefix(s, "npm:"), strings.Contains(s, "://"):
		spec.Kind = KindOther
		return spec
	}

	if s == "" {
		spec.Kind = KindRange
		spec.Range = "*"
		return spec
	}
	if _, err := semver.StrictNewVersion(strings.TrimPrefix(strings.TrimPrefix(s, "="), "v")); err == nil {
		spec.Kind = KindExact
		spec.Range = s
		return spec
	}
	if _, err := semver.NewConstraint(s); err == nil {
		spec.Kind = KindRange
		spec.Range = s
		return spec
	}
	if tagName.MatchString(s) {
		spec.Kind = KindTag
		return spec
	}
	spec.Kind = KindOther
	return spec
}

func isGit(s string) bool {
	for _, p := range gitPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	if (strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")) &&
		strings.HasSuffix(strings.SplitN(s, "#", 2)[0], ".git") {
		return true
	}
	return !strings.HasPrefix(s, "@") && gitShorthand.MatchString(s)
}

// WorkspaceSpec returns the workspace protocol text without any rewrite:
// "workspace:~" for an alias, "workspace:^1.0.0" for an explicit range.
func (s Specifier) WorkspaceSpec() string {
	if s.Kind != KindWorkspace {
		return ""
	}
	if s.Alias != "" {
		return workspacePrefix + s.Alias
	}
	return workspacePrefix + s.Range
}

// TagPrefix returns the non-numeric prefix of a tag committish ("v" in "v1.2.3").
func (s Specifier) TagPrefix() string {
	return leadingNonDig.FindString(s.Committish)
}

// TagVersion returns the version portion of a tag committish ("1.2.3" in "v1.2.3").
func (s Specifier) TagVersion() string {
	return strings.TrimPrefix(s.Committish, s.TagPrefix())
}

// RangePrefix returns the leading "^" or "~" of a range, if any.
func RangePrefix(r string) string {
	r = strings.TrimSpace(r)
	if strings.HasPrefix(r, "^") || strings.HasPrefix(r, "~") {
		return r[:1]
	}
	return ""
}

// Satisfies reports whether version satisfies rangeText. Unparseable input
// never satisfies.
func Satisfies(version, rangeText string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	c, err := semver.NewConstraint(rangeText)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// MatchesVersion reports whether a sibling at version satisfies s. This is the
// single definition of "the sibling's current version matches the declared
// intent" used by graph construction and by rewriting.
func (s Specifier) MatchesVersion(version string) bool {
	switch s.Kind {
	case KindRange, KindExact:
		return Satisfies(version, s.Range)
	case KindWorkspace:
		return s.Alias != "" || Satisfies(version, s.Range)
	case KindGit:
		switch s.CommittishStyle {
		case CommittishTag:
			return s.TagVersion() == version
		case CommittishSemverRange:
			return Satisfies(version, s.Committish)
		case CommittishNone:
			return false
		}
		return false
	case KindFile, KindTag, KindOther:
		return false
	}
	return false
}

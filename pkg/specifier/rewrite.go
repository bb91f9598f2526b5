package specifier

// RewriteOptions controls how a new version is written into a specifier.
type RewriteOptions struct {
	// SavePrefix is prepended to bare versions: "^", "~" or "" for exact.
	SavePrefix string

	// EraseWorkspace drops the workspace protocol, substituting a concrete
	// version. Used for the transient manifest handed to the registry, which
	// does not understand "workspace:".
	EraseWorkspace bool
}

// Rewrite returns the specifier text pointing at version, preserving the
// original shape. The boolean is false when the shape is never rewritten
// (file links, dist-tags, aliases, git without committish); the returned
// text is then Raw unchanged.
//
// Rewrite does not check whether s currently matches the sibling. Callers
// that must leave diverged ranges alone check [Specifier.MatchesVersion]
// against the old version first.
func (s Specifier) Rewrite(version string, opts RewriteOptions) (string, bool) {
	switch s.Kind {
	case KindRange, KindExact:
		return opts.SavePrefix + version, true

	case KindGit:
		switch s.CommittishStyle {
		case CommittishTag:
			return s.GitURL + "#" + s.TagPrefix() + version, true
		case CommittishSemverRange:
			return s.GitURL + "#" + semverPrefix + opts.SavePrefix + version, true
		case CommittishNone:
			return s.Raw, false
		}
		return s.Raw, false

	case KindWorkspace:
		if s.Alias != "" {
			if !opts.EraseWorkspace {
				return s.Raw, false
			}
			if s.Alias == AliasAny {
				return version, true
			}
			return s.Alias + version, true
		}
		if opts.EraseWorkspace {
			return RangePrefix(s.Range) + version, true
		}
		return workspacePrefix + RangePrefix(s.Range) + version, true

	case KindFile:
		return s.Raw, false

	case KindTag, KindOther:
		return s.Raw, false
	}
	return s.Raw, false
}

// Package vcs drives the git command line for a release: finding what
// changed since the last release tag, describing HEAD for canary versions,
// checking working-tree state, and committing and tagging the result.
package vcs

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lockstep/pkg/errors"
)

// Git runs git commands in one repository.
type Git struct {
	path   string
	dir    string
	logger *log.Logger
}

// New returns a Git bound to dir. It fails when git is not installed.
func New(dir string, logger *log.Logger) (*Git, error) {
	path, err := exec.LookPath("git")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeVCSState, err, "git not found")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Git{path: path, dir: dir, logger: logger}, nil
}

// Dir returns the working directory git runs in.
func (g *Git) Dir() string { return g.dir }

// run executes git and returns trimmed stdout.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.path, args...)
	cmd.Dir = g.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.logger.Debug("git", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &CommandError{Args: args, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CommandError is a failed git invocation.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := "git " + strings.Join(e.Args, " ") + ": " + e.Err.Error()
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ErrorCode returns [errors.ErrCodeVCSState].
func (e *CommandError) ErrorCode() errors.Code { return errors.ErrCodeVCSState }

func lines(out string) []string {
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// Root returns the top-level directory of the repository.
func (g *Git) Root(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--show-toplevel")
}

// ChangedFilesSince lists files changed between ref and HEAD, relative to
// the repository root. An empty ref lists every tracked file, which is how a
// never-tagged repository is treated.
func (g *Git) ChangedFilesSince(ctx context.Context, ref string) ([]string, error) {
	if ref == "" {
		out, err := g.run(ctx, "ls-files", "--full-name")
		return lines(out), err
	}
	out, err := g.run(ctx, "diff", "--name-only", ref+"...HEAD", "--")
	if err != nil {
		return nil, err
	}
	files := lines(out)
	slices.Sort(files)
	return files, nil
}

// LastTag returns the most recent tag reachable from HEAD that matches
// pattern. ok is false when no tag matches.
func (g *Git) LastTag(ctx context.Context, pattern string) (tag string, ok bool, err error) {
	args := []string{"describe", "--tags", "--abbrev=0", "--first-parent"}
	if pattern != "" {
		args = append(args, "--match", pattern)
	}
	out, err := g.run(ctx, args...)
	if err != nil {
		if isNoTagError(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

// Describe returns `git describe --long` output for HEAD, for example
// "v1.0.0-2-gdeadbeef". ok is false when no tag matches pattern.
func (g *Git) Describe(ctx context.Context, pattern string) (string, bool, error) {
	args := []string{"describe", "--tags", "--long", "--dirty", "--first-parent"}
	if pattern != "" {
		args = append(args, "--match", pattern)
	}
	out, err := g.run(ctx, args...)
	if err != nil {
		if isNoTagError(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

func isNoTagError(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	s := strings.ToLower(ce.Stderr)
	return strings.Contains(s, "no names found") ||
		strings.Contains(s, "no tags can describe") ||
		strings.Contains(s, "cannot describe")
}

// CurrentTags lists tags pointing at HEAD.
func (g *Git) CurrentTags(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "tag", "--points-at", "HEAD")
	return lines(out), err
}

// HeadSHA returns the commit SHA of HEAD, abbreviated when short is set.
func (g *Git) HeadSHA(ctx context.Context, short bool) (string, error) {
	if short {
		return g.run(ctx, "rev-parse", "--short", "HEAD")
	}
	return g.run(ctx, "rev-parse", "HEAD")
}

// CommitCount returns the number of commits reachable from HEAD.
func (g *Git) CommitCount(ctx context.Context) (int, error) {
	out, err := g.run(ctx, "rev-list", "--count", "HEAD")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(out)
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when detached.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// IsClean reports whether tracked files have no uncommitted changes.
func (g *Git) IsClean(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain", "--untracked-files=no")
	return out == "", err
}

// IsBehindUpstream fetches remote and reports whether branch lacks commits
// its upstream has.
func (g *Git) IsBehindUpstream(ctx context.Context, remote, branch string) (bool, error) {
	if _, err := g.run(ctx, "fetch", "--no-tags", remote, branch); err != nil {
		return false, err
	}
	out, err := g.run(ctx, "rev-list", "--left-right", "--count", branch+"..."+remote+"/"+branch)
	if err != nil {
		return false, err
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return false, errors.New(errors.ErrCodeVCSState, "unexpected rev-list output %q", out)
	}
	behind, err := strconv.Atoi(fields[1])
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeVCSState, err, "parse rev-list output")
	}
	return behind > 0, nil
}

// HasRemote reports whether remote is configured.
func (g *Git) HasRemote(ctx context.Context, remote string) bool {
	_, err := g.run(ctx, "remote", "get-url", remote)
	return err == nil
}

// Add stages files.
func (g *Git) Add(ctx context.Context, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	_, err := g.run(ctx, append([]string{"add", "--"}, g.relative(files)...)...)
	return err
}

// Commit records staged changes.
func (g *Git) Commit(ctx context.Context, message string) error {
	_, err := g.run(ctx, "commit", "--no-verify", "-m", message)
	return err
}

// Tag creates an annotated tag at HEAD.
func (g *Git) Tag(ctx context.Context, name, message string) error {
	if message == "" {
		message = name
	}
	_, err := g.run(ctx, "tag", "-a", name, "-m", message)
	return err
}

// DeleteTag removes a local tag.
func (g *Git) DeleteTag(ctx context.Context, name string) error {
	_, err := g.run(ctx, "tag", "-d", name)
	return err
}

// ResetFiles discards working-tree changes to files.
func (g *Git) ResetFiles(ctx context.Context, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	_, err := g.run(ctx, append([]string{"checkout", "--"}, g.relative(files)...)...)
	return err
}

// Push pushes branch and its annotated tags to remote.
func (g *Git) Push(ctx context.Context, remote, branch string) error {
	_, err := g.run(ctx, "push", "--follow-tags", "--no-verify", "--atomic", remote, branch)
	return err
}

// relative turns absolute paths under the work dir into relative ones so
// git accepts them regardless of symlinked temp dirs.
func (g *Git) relative(files []string) []string {
	out := make([]string, len(files))
	for i, f := range files {
		if filepath.IsAbs(f) {
			if rel, err := filepath.Rel(g.dir, f); err == nil {
				f = rel
			}
		}
		out[i] = f
	}
	return out
}

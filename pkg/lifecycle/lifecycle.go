// Package lifecycle runs the scripts a package.json declares for release
// stages such as "preversion", "version", "prepublishOnly" and "postpublish".
//
// Scripts run through `sh -c` in the package directory with node_modules/.bin
// prepended to PATH and the npm_lifecycle_* and npm_package_* variables set,
// which is what npm-compatible clients provide. A stage the package does not
// declare is a no-op.
package lifecycle

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/manifest"
)

// Version stages.
const (
	PreVersion  = "preversion"
	Version     = "version"
	PostVersion = "postversion"
)

// Runner executes lifecycle scripts.
type Runner struct {
	// Root is the repository root; its node_modules/.bin is added to PATH
	// after the package's own.
	Root string

	// Shell defaults to "sh".
	Shell string

	// Stdout and Stderr receive script output. Both default to os.Stderr so
	// stdout stays free for command results.
	Stdout io.Writer
	Stderr io.Writer

	// Env is appended to the inherited environment.
	Env []string

	// Skip disables every script, like --ignore-scripts.
	Skip bool

	Logger *log.Logger
}

// New returns a Runner for the repository at root.
func New(root string, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{Root: root, Logger: logger}
}

// Run executes pkg's script for stage. A non-zero exit becomes an
// [errors.LifecycleScriptError] carrying the script's exit code.
func (r *Runner) Run(ctx context.Context, pkg *manifest.Package, stage string) error {
	script, ok := pkg.Scripts[stage]
	if !ok || strings.TrimSpace(script) == "" || r.Skip {
		return nil
	}
	logger := r.logger()
	logger.Info("running lifecycle script", "package", pkg.Name, "stage", stage)
	logger.Debug("script", "package", pkg.Name, "command", script)

	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Dir = pkg.Location
	cmd.Env = r.environ(pkg, stage, script)
	cmd.Stdout = writerOr(r.Stdout, os.Stderr)
	cmd.Stderr = writerOr(r.Stderr, os.Stderr)

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	code := 1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		code = exitErr.ExitCode()
	}
	return &errors.LifecycleScriptError{Package: pkg.Name, Script: stage, ExitCode: code, Cause: err}
}

// RunAll runs stage for each package in order and stops at the first failure.
func (r *Runner) RunAll(ctx context.Context, pkgs []*manifest.Package, stage string) error {
	for _, p := range pkgs {
		if err := r.Run(ctx, p, stage); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) environ(pkg *manifest.Package, stage, script string) []string {
	bins := []string{filepath.Join(pkg.Location, "node_modules", ".bin")}
	if r.Root != "" && r.Root != pkg.Location {
		bins = append(bins, filepath.Join(r.Root, "node_modules", ".bin"))
	}

	env := make([]string, 0, len(os.Environ())+len(r.Env)+5)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "PATH=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		"PATH="+strings.Join(append(bins, os.Getenv("PATH")), string(os.PathListSeparator)),
		"npm_lifecycle_event="+stage,
		"npm_lifecycle_script="+script,
		"npm_package_name="+pkg.Name,
		"npm_package_version="+pkg.Version,
	)
	return append(env, r.Env...)
}

func (r *Runner) logger() *log.Logger {
	if r.Logger == nil {
		return log.Default()
	}
	return r.Logger
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w == nil {
		return fallback
	}
	return w
}

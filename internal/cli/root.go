package cli

import (
	"context"
	"os"

	"github.com/matzehuels/lockstep/pkg/buildinfo"
)

// SetVersion overrides the build information shown by --version. Release
// builds inject it via ldflags on the buildinfo package; this is for
// wrappers that embed the CLI.
func SetVersion(v, c, d string) {
	if v != "" {
		buildinfo.Version = v
	}
	if c != "" {
		buildinfo.Commit = c
	}
	if d != "" {
		buildinfo.Date = d
	}
}

// Execute runs the lockstep CLI against the process arguments.
//
// The logger writes to stderr at info level; --verbose switches it to debug
// and installs the logging observability hooks.
func Execute(ctx context.Context) error {
	return New(os.Stderr, LogInfo).RootCommand().ExecuteContext(ctx)
}

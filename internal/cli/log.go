// Package cli implements the lockstep command-line interface.
//
// The commands discover the packages of a monorepo, report what changed,
// render the package graph, and drive release runs through
// [release.Runner]. The CLI is built using cobra and supports verbose
// logging via the charmbracelet/log library.
//
// # Commands
//
// The main commands are:
//   - list, changed: show packages and the ones a release would select
//   - graph: export the package graph as JSON, DOT or SVG
//   - version: bump, rewrite, commit and tag
//   - publish: version, then publish in dependency order
//   - dist-tag: manage registry dist-tags
//   - history: show recorded release runs
//   - cache: manage the registry metadata cache
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging, which also
// installs logging observability hooks. Loggers are passed through
// context.Context.
//
// # Example
//
//	import "github.com/matzehuels/lockstep/internal/cli"
//
//	func main() {
//	    c := cli.New(os.Stderr, cli.LogInfo)
//	    if err := c.RootCommand().Execute(); err != nil {
//	        os.Exit(errors.ExitCode(err))
//	    }
//	}
package cli

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger creates a new logger with timestamp formatting.
// The logger writes to w and filters messages at the specified level.
// Timestamps are formatted as "HH:MM:SS.ms" (e.g., "14:32:01.45").
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// progress tracks the start time of an operation and logs completion with elapsed duration.
// It is safe for sequential use by a single goroutine; concurrent calls to done will race.
type progress struct {
	logger *log.Logger
	start  time.Time
}

// newProgress creates a progress tracker that captures the current time as start.
func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg along with the elapsed time since progress was created.
// Example output: "Published 4 packages (1.234s)"
func (p *progress) done(msg string) {
	p.logger.Infof("%s (%s)", msg, time.Since(p.start).Round(time.Millisecond))
}

// ctxKey is the type for context keys used in this package.
type ctxKey int

// loggerKey is the context key for storing a logger.
const loggerKey ctxKey = 0

// withLogger returns a new context with the given logger attached.
func withLogger(ctx context.Context, l *log.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, l)
}

// loggerFromContext retrieves the logger from ctx.
// If no logger is attached, it returns log.Default().
func loggerFromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return log.Default()
}

// logHooks reports observability events as debug logs.
type logHooks struct {
	logger *log.Logger
}

func (h *logHooks) OnPhaseStart(_ context.Context, phase string) {
	h.logger.Debug("phase started", "phase", phase)
}

func (h *logHooks) OnPhaseComplete(_ context.Context, phase string, d time.Duration, err error) {
	if err != nil {
		h.logger.Debug("phase failed", "phase", phase, "duration", d.Round(time.Millisecond), "error", err)
		return
	}
	h.logger.Debug("phase finished", "phase", phase, "duration", d.Round(time.Millisecond))
}

func (h *logHooks) OnPublish(_ context.Context, pkg, version, distTag string, d time.Duration, err error) {
	h.logger.Debug("registry publish", "package", pkg, "version", version, "tag", distTag,
		"duration", d.Round(time.Millisecond), "ok", err == nil)
}

func (h *logHooks) OnOTPPrompt(context.Context) {
	h.logger.Debug("one-time password requested")
}

func (h *logHooks) OnCacheHit(_ context.Context, keyType string) {
	h.logger.Debug("cache hit", "type", keyType)
}

func (h *logHooks) OnCacheMiss(_ context.Context, keyType string) {
	h.logger.Debug("cache miss", "type", keyType)
}

func (h *logHooks) OnCacheSet(_ context.Context, keyType string, size int) {
	h.logger.Debug("cache set", "type", keyType, "bytes", size)
}

func (h *logHooks) OnRequest(_ context.Context, method, host, path string) {
	h.logger.Debug("http request", "method", method, "host", host, "path", path)
}

func (h *logHooks) OnResponse(_ context.Context, method, host, path string, status int, d time.Duration) {
	h.logger.Debug("http response", "method", method, "path", path, "status", status, "duration", d.Round(time.Millisecond))
}

func (h *logHooks) OnError(_ context.Context, method, host, path string, err error) {
	h.logger.Debug("http error", "method", method, "host", host, "path", path, "error", err)
}

// Package observability provides hooks for metrics, tracing, and logging.
//
// Libraries emit events through hook interfaces with no-op defaults; main
// registers real implementations at startup. Nothing in the release library
// depends on a particular observability backend.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetReleaseHooks(&myReleaseHooks{})
//	    observability.SetCacheHooks(&myCacheHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Release().OnPhaseStart(ctx, "publish")
//	// ... publish ...
//	observability.Release().OnPhaseComplete(ctx, "publish", duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Release Hooks
// =============================================================================

// ReleaseHooks receives events from a release run.
type ReleaseHooks interface {
	// Phase events (collect, plan, rewrite, persist, commit, publish)
	OnPhaseStart(ctx context.Context, phase string)
	OnPhaseComplete(ctx context.Context, phase string, duration time.Duration, err error)

	// OnPublish records one registry publish call.
	OnPublish(ctx context.Context, pkg, version, distTag string, duration time.Duration, err error)

	// OnOTPPrompt records a one-time password prompt.
	OnOTPPrompt(ctx context.Context)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from HTTP client operations.
type HTTPHooks interface {
	// OnRequest records an outgoing HTTP request.
	OnRequest(ctx context.Context, method, host, path string)

	// OnResponse records an HTTP response.
	OnResponse(ctx context.Context, method, host, path string, statusCode int, duration time.Duration)

	// OnError records an HTTP error (network failure, timeout).
	OnError(ctx context.Context, method, host, path string, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopReleaseHooks is a no-op implementation of ReleaseHooks.
type NoopReleaseHooks struct{}

func (NoopReleaseHooks) OnPhaseStart(context.Context, string)                          {}
func (NoopReleaseHooks) OnPhaseComplete(context.Context, string, time.Duration, error) {}
func (NoopReleaseHooks) OnPublish(context.Context, string, string, string, time.Duration, error) {
}
func (NoopReleaseHooks) OnOTPPrompt(context.Context) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, string, int, time.Duration) {}
func (NoopHTTPHooks) OnError(context.Context, string, string, string, error)                 {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	releaseHooks ReleaseHooks = NoopReleaseHooks{}
	cacheHooks   CacheHooks   = NoopCacheHooks{}
	httpHooks    HTTPHooks    = NoopHTTPHooks{}
	hooksMu      sync.RWMutex
)

// SetReleaseHooks registers custom release hooks.
// This should be called once at application startup before any release runs.
func SetReleaseHooks(h ReleaseHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		releaseHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Release returns the registered release hooks.
func Release() ReleaseHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return releaseHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	releaseHooks = NoopReleaseHooks{}
	cacheHooks = NoopCacheHooks{}
	httpHooks = NoopHTTPHooks{}
}

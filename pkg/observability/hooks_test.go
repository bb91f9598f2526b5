package observability

import (
	"context"
	"testing"
	"time"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	r := NoopReleaseHooks{}
	r.OnPhaseStart(ctx, "collect")
	r.OnPhaseComplete(ctx, "collect", time.Second, nil)
	r.OnPublish(ctx, "@scope/pkg", "1.0.0", "latest", time.Second, nil)
	r.OnOTPPrompt(ctx)

	c := NoopCacheHooks{}
	c.OnCacheHit(ctx, "packument")
	c.OnCacheMiss(ctx, "packument")
	c.OnCacheSet(ctx, "packument", 1024)

	h := NoopHTTPHooks{}
	h.OnRequest(ctx, "GET", "registry.npmjs.org", "/left-pad")
	h.OnResponse(ctx, "GET", "registry.npmjs.org", "/left-pad", 200, time.Second)
	h.OnError(ctx, "GET", "registry.npmjs.org", "/left-pad", nil)
}

func TestGlobalHooksRegistry(t *testing.T) {
	Reset()

	if _, ok := Release().(NoopReleaseHooks); !ok {
		t.Error("Release() should return NoopReleaseHooks by default")
	}
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Cache() should return NoopCacheHooks by default")
	}
	if _, ok := HTTP().(NoopHTTPHooks); !ok {
		t.Error("HTTP() should return NoopHTTPHooks by default")
	}

	customRelease := &testReleaseHooks{}
	SetReleaseHooks(customRelease)
	if Release() != customRelease {
		t.Error("SetReleaseHooks should set custom hooks")
	}

	customCache := &testCacheHooks{}
	SetCacheHooks(customCache)
	if Cache() != customCache {
		t.Error("SetCacheHooks should set custom hooks")
	}

	customHTTP := &testHTTPHooks{}
	SetHTTPHooks(customHTTP)
	if HTTP() != customHTTP {
		t.Error("SetHTTPHooks should set custom hooks")
	}

	Reset()
	if _, ok := Release().(NoopReleaseHooks); !ok {
		t.Error("Reset() should restore NoopReleaseHooks")
	}
}

func TestSetNilHooksIsIgnored(t *testing.T) {
	Reset()

	custom := &testReleaseHooks{}
	SetReleaseHooks(custom)
	SetReleaseHooks(nil)

	if Release() != custom {
		t.Error("SetReleaseHooks(nil) should be ignored")
	}

	Reset()
}

type testReleaseHooks struct{ NoopReleaseHooks }
type testCacheHooks struct{ NoopCacheHooks }
type testHTTPHooks struct{ NoopHTTPHooks }

package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/lockstep/pkg/cache"
	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/pack"
	"github.com/matzehuels/lockstep/pkg/publish"
)

// fakeNPM is an in-memory registry with the routes the client uses.
type fakeNPM struct {
	mu       sync.Mutex
	docs     map[string]*Packument
	otp      string
	gets     atomic.Int32
	failures atomic.Int32 // remaining 503 responses
	bodies   map[string]publishBody
}

func newFakeNPM() *fakeNPM {
	return &fakeNPM{docs: map[string]*Packument{}, bodies: map[string]publishBody{}}
}

func (f *fakeNPM) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if f.failures.Load() > 0 {
				f.failures.Add(-1)
				http.Error(w, `{"error":"try later"}`, http.StatusServiceUnavailable)
				return
			}
			if req.Method != http.MethodGet && f.otp != "" && req.Header.Get("npm-otp") != f.otp {
				w.Header().Set("WWW-Authenticate", "OTP")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"This operation requires a one-time password."}`))
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/{name}", f.getDoc)
	r.Put("/{name}", f.putDoc)
	r.Get("/-/package/{name}/dist-tags", f.listTags)
	r.Put("/-/package/{name}/dist-tags/{tag}", f.putTag)
	r.Delete("/-/package/{name}/dist-tags/{tag}", f.deleteTag)
	return r
}

func unescape(r *http.Request) string {
	// chi hands back the raw segment for %2f-escaped scoped names.
	name := chi.URLParam(r, "name")
	if n, err := url.PathUnescape(name); err == nil {
		return n
	}
	return name
}

func (f *fakeNPM) getDoc(w http.ResponseWriter, r *http.Request) {
	f.gets.Add(1)
	f.mu.Lock()
	doc, ok := f.docs[unescape(r)]
	f.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":"Not found"}`, http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(doc)
}

func (f *fakeNPM) putDoc(w http.ResponseWriter, r *http.Request) {
	var body publishBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[body.Name] = body
	doc, ok := f.docs[body.Name]
	if !ok {
		doc = &Packument{Name: body.Name, DistTags: map[string]string{}, Versions: map[string]json.RawMessage{}}
		f.docs[body.Name] = doc
	}
	for v, raw := range body.Versions {
		if _, dup := doc.Versions[v]; dup {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"cannot publish over previously published version"}`))
			return
		}
		doc.Versions[v] = raw
	}
	for tag, v := range body.DistTags {
		doc.DistTags[tag] = v
	}
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (f *fakeNPM) listTags(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	doc, ok := f.docs[unescape(r)]
	f.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":"Not found"}`, http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(doc.DistTags)
}

func (f *fakeNPM) putTag(w http.ResponseWriter, r *http.Request) {
	var version string
	if err := json.NewDecoder(r.Body).Decode(&version); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[unescape(r)]
	if !ok {
		http.Error(w, `{"error":"Not found"}`, http.StatusNotFound)
		return
	}
	doc.DistTags[chi.URLParam(r, "tag")] = version
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (f *fakeNPM) deleteTag(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[unescape(r)]
	tag := chi.URLParam(r, "tag")
	if !ok || doc.DistTags[tag] == "" {
		http.Error(w, `{"error":"Not found"}`, http.StatusNotFound)
		return
	}
	delete(doc.DistTags, tag)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (f *fakeNPM) seed(name string, versions ...string) {
	doc := &Packument{Name: name, DistTags: map[string]string{}, Versions: map[string]json.RawMessage{}}
	for _, v := range versions {
		doc.Versions[v] = json.RawMessage(`{}`)
		doc.DistTags["latest"] = v
	}
	f.docs[name] = doc
}

func newTestClient(t *testing.T, f *fakeNPM, c cache.Cache) *Client {
	t.Helper()
	srv := httptest.NewServer(f.router())
	t.Cleanup(srv.Close)
	return New(Options{
		URL:        srv.URL,
		Cache:      c,
		RetryDelay: time.Millisecond,
		Logger:     log.New(io.Discard),
	})
}

func TestEscapeName(t *testing.T) {
	assert.Equal(t, "left-pad", EscapeName("left-pad"))
	assert.Equal(t, "@scope%2fcore", EscapeName("@scope/core"))
}

func TestPackument(t *testing.T) {
	f := newFakeNPM()
	f.seed("@scope/core", "1.0.0", "1.2.0", "1.10.0")
	fc, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)
	c := newTestClient(t, f, fc)
	ctx := context.Background()

	doc, err := c.Packument(ctx, "@scope/core", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "1.2.0", "1.10.0"}, doc.SortedVersions())

	_, err = c.Packument(ctx, "@scope/core", false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.gets.Load(), "second read should hit the cache")

	missing, err := c.Packument(ctx, "nope", false)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestVersionExistsRefreshesStaleCache(t *testing.T) {
	f := newFakeNPM()
	f.seed("core", "1.0.0")
	fc, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)
	c := newTestClient(t, f, fc)
	ctx := context.Background()

	ok, err := c.VersionExists(ctx, "core", "1.0.0")
	require.NoError(t, err)
	assert.True(t, ok)

	f.mu.Lock()
	f.docs["core"].Versions["1.1.0"] = json.RawMessage(`{}`)
	f.mu.Unlock()

	ok, err = c.VersionExists(ctx, "core", "1.1.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.VersionExists(ctx, "unknown", "1.0.0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetryOnServerError(t *testing.T) {
	f := newFakeNPM()
	f.seed("core", "1.0.0")
	f.failures.Store(2)
	c := newTestClient(t, f, nil)

	doc, err := c.Packument(context.Background(), "core", false)
	require.NoError(t, err)
	assert.True(t, doc.HasVersion("1.0.0"))
}

func testTarball(t *testing.T) *pack.Tarball {
	t.Helper()
	p := filepath.Join(t.TempDir(), "core-2.0.0.tgz")
	require.NoError(t, os.WriteFile(p, []byte("tarball-bytes"), 0o644))
	return &pack.Tarball{Name: "core", Version: "2.0.0", Path: p, Size: 13, Shasum: "abc", Integrity: "sha512-xyz"}
}

func TestPublish(t *testing.T) {
	f := newFakeNPM()
	c := newTestClient(t, f, nil)

	err := c.Publish(context.Background(), publish.PublishRequest{
		Name:     "core",
		Version:  "2.0.0",
		DistTag:  "next",
		Access:   "public",
		Manifest: []byte(`{"name":"core","version":"2.0.0","dependencies":{"util":"^1.0.0"}}`),
		Tarball:  testTarball(t),
	})
	require.NoError(t, err)

	body := f.bodies["core"]
	assert.Equal(t, map[string]string{"next": "2.0.0"}, body.DistTags)
	assert.Equal(t, "public", body.Access)
	att := body.Attachments["core-2.0.0.tgz"]
	decoded, err := base64.StdEncoding.DecodeString(att.Data)
	require.NoError(t, err)
	assert.Equal(t, "tarball-bytes", string(decoded))

	var version map[string]any
	require.NoError(t, json.Unmarshal(body.Versions["2.0.0"], &version))
	assert.Equal(t, "core@2.0.0", version["_id"])
	assert.Equal(t, map[string]any{"util": "^1.0.0"}, version["dependencies"])
}

func TestPublishRejectedVersionIsRegistryError(t *testing.T) {
	f := newFakeNPM()
	f.seed("core", "2.0.0")
	c := newTestClient(t, f, nil)

	err := c.Publish(context.Background(), publish.PublishRequest{
		Name: "core", Version: "2.0.0", DistTag: "latest",
		Manifest: []byte(`{"name":"core"}`), Tarball: testTarball(t),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeRegistry))
	assert.False(t, errors.IsOTPChallenge(err))
}

func TestOTPChallenge(t *testing.T) {
	f := newFakeNPM()
	f.seed("core", "1.0.0")
	f.otp = "424242"
	c := newTestClient(t, f, nil)
	ctx := context.Background()

	err := c.AddDistTag(ctx, "core", "1.0.0", "beta", "")
	require.Error(t, err)
	assert.True(t, errors.IsOTPChallenge(err))

	require.NoError(t, c.AddDistTag(ctx, "core", "1.0.0", "beta", "424242"))
}

func TestDistTags(t *testing.T) {
	f := newFakeNPM()
	f.seed("@scope/core", "1.0.0")
	c := newTestClient(t, f, nil)
	ctx := context.Background()

	require.NoError(t, c.AddDistTag(ctx, "@scope/core", "1.0.0", "beta", ""))
	tags, err := c.DistTags(ctx, "@scope/core")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"latest": "1.0.0", "beta": "1.0.0"}, tags)

	require.NoError(t, c.RemoveDistTag(ctx, "@scope/core", "beta", ""))
	require.NoError(t, c.RemoveDistTag(ctx, "@scope/core", "beta", ""), "removing a missing tag is not an error")

	tags, err = c.DistTags(ctx, "@scope/core")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"latest": "1.0.0"}, tags)
}

func TestOTPFlowThroughPublisher(t *testing.T) {
	f := newFakeNPM()
	f.seed("core", "1.0.0")
	f.otp = "111111"
	c := newTestClient(t, f, nil)

	var prompts atomic.Int32
	otp := publish.NewOTPContext(publish.PrompterFunc(func(context.Context, string) (string, error) {
		prompts.Add(1)
		return "111111", nil
	}), "", log.New(io.Discard))
	p := publish.New(c, nil, nil, nil, otp, publish.Options{Logger: log.New(io.Discard)})

	var wg sync.WaitGroup
	for _, tag := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.AddDistTag(context.Background(), "core", "1.0.0", tag))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, prompts.Load())
}

// Package registry talks to npm-compatible package registries.
//
// The client covers what a release needs: reading package documents
// ("packuments") to learn which versions exist, publishing a tarball, and
// managing dist-tags. Reads go through a [cache.Cache] and are retried on
// transient failures. Writes are not cached; dist-tag writes are retried
// because they are idempotent, publishes are not.
//
// A registry that wants a one-time password answers 401 with an OTP
// marker. The client reports that as [errors.OTPChallengeError] so the
// publish flow can prompt once and retry.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lockstep/pkg/buildinfo"
	"github.com/matzehuels/lockstep/pkg/cache"
	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/httputil"
	"github.com/matzehuels/lockstep/pkg/observability"
)

// DefaultURL is the public npm registry.
const DefaultURL = "https://registry.npmjs.org"

const (
	httpTimeout     = 30 * time.Second
	defaultCacheTTL = 5 * time.Minute
)

// Options configures a Client.
type Options struct {
	// URL is the registry base URL. Defaults to [DefaultURL].
	URL string

	// Token is sent as a bearer token on every request.
	Token string

	Cache    cache.Cache
	Keyer    cache.Keyer
	CacheTTL time.Duration

	// Retries bounds attempts for retryable calls. Defaults to 3.
	Retries    int
	RetryDelay time.Duration

	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client is an npm registry client. It is safe for concurrent use.
type Client struct {
	base       string
	token      string
	http       *http.Client
	cache      cache.Cache
	keyer      cache.Keyer
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
	logger     *log.Logger
}

// New returns a Client with defaults applied.
func New(opts Options) *Client {
	c := &Client{
		base:       strings.TrimRight(opts.URL, "/"),
		token:      opts.Token,
		http:       opts.HTTPClient,
		cache:      opts.Cache,
		keyer:      opts.Keyer,
		ttl:        opts.CacheTTL,
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger,
	}
	if c.base == "" {
		c.base = DefaultURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: httpTimeout}
	}
	if c.cache == nil {
		c.cache = cache.NewNullCache()
	}
	if c.keyer == nil {
		c.keyer = cache.NewDefaultKeyer()
	}
	if c.ttl == 0 {
		c.ttl = defaultCacheTTL
	}
	if c.retries == 0 {
		c.retries = 3
	}
	if c.retryDelay == 0 {
		c.retryDelay = time.Second
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	return c
}

// URL returns the registry base URL.
func (c *Client) URL() string { return c.base }

// EscapeName encodes a package name for a URL path; the scope separator of
// "@scope/name" becomes "%2f".
func EscapeName(name string) string {
	if strings.HasPrefix(name, "@") {
		if scope, rest, ok := strings.Cut(name, "/"); ok {
			return scope + "%2f" + url.PathEscape(rest)
		}
	}
	return url.PathEscape(name)
}

// request describes one HTTP call.
type request struct {
	method string
	path   string
	body   any
	otp    string
	retry  bool
}

// errorBody is the registry's JSON error shape.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func (b errorBody) text() string {
	for _, s := range []string{b.Error, b.Message, b.Reason} {
		if s != "" {
			return s
		}
	}
	return ""
}

// do sends r and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, r request, out any) error {
	var payload []byte
	if r.body != nil {
		var err error
		if payload, err = json.Marshal(r.body); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "encode %s %s", r.method, r.path)
		}
	}

	attempt := func() error {
		return c.send(ctx, r, payload, out)
	}
	if !r.retry {
		return attempt()
	}
	return httputil.Retry(ctx, c.retries, c.retryDelay, attempt)
}

func (c *Client) send(ctx context.Context, r request, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.base+r.path, body)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if r.otp != "" {
		req.Header.Set("npm-otp", r.otp)
	}

	host := req.URL.Host
	observability.HTTP().OnRequest(ctx, r.method, host, r.path)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.HTTP().OnError(ctx, r.method, host, r.path, err)
		return &httputil.RetryableError{Err: errors.Wrap(errors.ErrCodeNetwork, err, "%s %s", r.method, r.path)}
	}
	defer resp.Body.Close()
	observability.HTTP().OnResponse(ctx, r.method, host, r.path, resp.StatusCode, time.Since(start))
	c.logger.Debug("registry response", "method", r.method, "path", r.path, "status", resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &httputil.RetryableError{Err: errors.Wrap(errors.ErrCodeNetwork, err, "read %s", r.path)}
	}
	if err := checkStatus(resp, data, r); err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(errors.ErrCodeRegistry, err, "decode %s", r.path)
	}
	return nil
}

func checkStatus(resp *http.Response, data []byte, r request) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	msg := eb.text()
	if msg == "" {
		msg = http.StatusText(code)
	}

	switch {
	case isOTPChallenge(resp, msg):
		return &errors.OTPChallengeError{Message: msg}
	case code == http.StatusNotFound:
		return errors.New(errors.ErrCodeNotFound, "%s %s: %s", r.method, r.path, msg)
	case code == http.StatusTooManyRequests || code >= 500:
		return &httputil.RetryableError{
			Err:   errors.New(errors.ErrCodeRegistry, "%s %s: status %d: %s", r.method, r.path, code, msg),
			After: httputil.RetryAfter(resp.Header, time.Now()),
		}
	default:
		return errors.New(errors.ErrCodeRegistry, "%s %s: status %d: %s", r.method, r.path, code, msg)
	}
}

// isOTPChallenge recognizes the registry's one-time-password demand: a 401
// whose www-authenticate header lists "otp", or whose message mentions a
// one-time password.
func isOTPChallenge(resp *http.Response, msg string) bool {
	if resp.StatusCode != http.StatusUnauthorized {
		return false
	}
	for _, h := range resp.Header.Values("Www-Authenticate") {
		for _, part := range strings.Split(h, ",") {
			if strings.EqualFold(strings.TrimSpace(part), "otp") {
				return true
			}
		}
	}
	return strings.Contains(strings.ToLower(msg), "one-time pass")
}

// String implements fmt.Stringer for log output.
func (c *Client) String() string {
	return fmt.Sprintf("registry(%s)", c.base)
}

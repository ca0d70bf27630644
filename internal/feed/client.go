// SPDX-License-Identifier: MPL-2.0

package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/invowk/coreupdater/pkg/manifest"
)

const (
	// DefaultUserAgent is sent when no WithUserAgent option is given.
	DefaultUserAgent = "coreupdater/dev"

	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 60 * time.Second

	// DefaultRetryMax is the number of retries after the first attempt.
	DefaultRetryMax = 3

	// maxDocumentBytes caps index and manifest bodies (8 MB).
	maxDocumentBytes = 8 << 20
)

type (
	// Client fetches indexes, manifests and archives from one feed.
	Client struct {
		http      *retryablehttp.Client
		baseURL   string // always ends with "/"
		userAgent string
	}

	// Option configures a Client during construction.
	Option func(*Client)

	// retryLogger adapts a charmbracelet logger to retryablehttp's
	// leveled logger interface.
	retryLogger struct {
		l *log.Logger
	}
)

// WithHTTPClient replaces the underlying *http.Client, useful for tests or
// proxy configurations. Retries still apply on top of it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http.HTTPClient = hc
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.HTTPClient.Timeout = d
	}
}

// WithRetry sets the retry budget and the backoff bounds between attempts.
func WithRetry(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.http.RetryMax = retryMax
		c.http.RetryWaitMin = waitMin
		c.http.RetryWaitMax = waitMax
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger routes retry diagnostics to l. Without it retries are silent.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.http.Logger = retryLogger{l: l}
		}
	}
}

// New creates a Client for the feed rooted at baseURL. A trailing slash is
// added when missing.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parsing feed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("feed url %q: scheme must be http or https", redactURL(baseURL))
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = DefaultRetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.HTTPClient.Timeout = DefaultTimeout
	rc.Logger = nil
	// Exhausted retries hand back the last response so the status code can
	// be reported instead of a generic "giving up" error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		http:      rc,
		baseURL:   u.String(),
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the feed root, always ending with "/".
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IndexURL returns the location of the package index for iv.
func (c *Client) IndexURL(iv string) string {
	return c.baseURL + url.PathEscape(iv) + "/" + IndexFile
}

// ManifestURL returns the location of a manifest. An empty version selects
// the latest manifest of the package.
func (c *Client) ManifestURL(name, iv, version string) string {
	var sb strings.Builder
	sb.WriteString(c.baseURL)
	sb.WriteString(url.PathEscape(iv))
	sb.WriteByte('/')
	if version != "" {
		sb.WriteString(url.PathEscape(version))
		sb.WriteByte('/')
	}
	sb.WriteString(url.PathEscape(name))
	sb.WriteString(manifest.FileExt)
	return sb.String()
}

// ArchiveURL returns the location of the archive of m.
func (c *Client) ArchiveURL(m *manifest.Manifest) string {
	return c.baseURL + url.PathEscape(m.InterfaceVersion) + "/" + url.PathEscape(m.Version) + "/" + url.PathEscape(m.Name) + ".zip"
}

// FetchIndex retrieves the package names known to the feed at iv together
// with the set of names flagged hidden.
func (c *Client) FetchIndex(ctx context.Context, iv string) ([]string, map[string]bool, error) {
	u := c.IndexURL(iv)
	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &UnavailableError{URL: redactURL(u), Status: resp.StatusCode}
	}

	names, hidden, err := ParseIndex(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, nil, &UnavailableError{URL: redactURL(u), Err: err}
	}
	return names, hidden, nil
}

// FetchManifest retrieves the manifest of name at iv, pinned to version when
// it is not empty.
func (c *Client) FetchManifest(ctx context.Context, name, iv, version string) (*manifest.Manifest, error) {
	u := c.ManifestURL(name, iv, version)
	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		if version != "" {
			return nil, fmt.Errorf("%w: %s version %s", ErrManifestNotFound, name, version)
		}
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, name)
	default:
		return nil, &UnavailableError{URL: redactURL(u), Status: resp.StatusCode}
	}

	m, err := manifest.Parse(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		var invalid *manifest.InvalidManifestError
		if errors.As(err, &invalid) {
			invalid.Source = redactURL(u)
			return nil, invalid
		}
		return nil, err
	}
	return m, nil
}

// FetchArchive streams the archive of m into destPath and returns the number
// of bytes written. The body is written to a temporary file next to destPath
// and renamed into place only once complete, so a failed download never
// leaves a truncated file behind.
func (c *Client) FetchArchive(ctx context.Context, m *manifest.Manifest, destPath string) (_ int64, err error) {
	u := c.ArchiveURL(m)
	resp, err := c.get(ctx, u)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return 0, &UnavailableError{URL: redactURL(u), Status: resp.StatusCode}
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		_ = tmp.Close()
		return 0, &UnavailableError{URL: redactURL(u), Err: fmt.Errorf("reading archive body: %w", err)}
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		_ = tmp.Close()
		return 0, &UnavailableError{URL: redactURL(u), Err: fmt.Errorf("archive truncated after %d of %d bytes", n, resp.ContentLength)}
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return 0, fmt.Errorf("moving archive into cache: %w", err)
	}
	renamed = true

	return n, nil
}

// get issues a GET request. Transport failures are reported as
// *UnavailableError; HTTP statuses are left to the caller.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, &UnavailableError{URL: redactURL(rawURL), Err: err}
	}
	return resp, nil
}

func (r retryLogger) Error(msg string, keysAndValues ...any) { r.l.Error(msg, keysAndValues...) }
func (r retryLogger) Warn(msg string, keysAndValues ...any)  { r.l.Warn(msg, keysAndValues...) }
func (r retryLogger) Info(msg string, keysAndValues ...any)  { r.l.Debug(msg, keysAndValues...) }
func (r retryLogger) Debug(msg string, keysAndValues ...any) { r.l.Debug(msg, keysAndValues...) }

// Package netcache keeps a persistent copy of remote templates and
// revalidates it with ETag/Last-Modified on every fetch.
package netcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/neurodesk/jinja/pkg/jinja2"
)

// Cache stores fetched bodies under Dir, keyed by URL.
type Cache struct {
	Dir    string
	Client *http.Client
	Logger *slog.Logger

	// Attempts is the number of tries for a full fetch. Zero means 3.
	Attempts int
	// Backoff is the wait before retry n (starting at 0).
	Backoff func(n int) time.Duration
}

// New returns a Cache with a reasonable default HTTP client.
func New(dir string) *Cache {
	return &Cache{
		Dir:    dir,
		Client: &http.Client{Timeout: 30 * time.Second},
		Logger: slog.New(slog.DiscardHandler),
		Backoff: func(n int) time.Duration {
			return time.Duration(1<<n) * 500 * time.Millisecond
		},
	}
}

type meta struct {
	URL          string `json:"url"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	DataFile     string `json:"data_file"`
}

// StatusError is a non-2xx answer to a full fetch.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

func (e *StatusError) retryable() bool { return e.Code >= 500 }

func (c *Cache) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

func (c *Cache) client() *http.Client {
	if c.Client == nil {
		return http.DefaultClient
	}
	return c.Client
}

// Get fetches url into the cache and returns the local path of the body.
// A cached copy is revalidated with a conditional GET; when revalidation
// fails for any reason the cached copy is used as is.
func (c *Cache) Get(ctx context.Context, url string) (path string, fromCache bool, err error) {
	key := hash(url)
	mpath := filepath.Join(c.Dir, key+".json")
	if m, ok := c.readMeta(mpath, url); ok {
		cached := filepath.Join(c.Dir, m.DataFile)
		path, fresh, err := c.revalidate(ctx, url, key, m)
		if err == nil {
			if fresh {
				c.logger().Debug("cache revalidated", "url", url)
				return cached, true, nil
			}
			return path, false, nil
		}
		c.logger().Warn("revalidation failed, using cached copy", "url", url, "error", err)
		return cached, true, nil
	}

	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for n := 0; n < attempts; n++ {
		if n > 0 && c.Backoff != nil {
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case <-time.After(c.Backoff(n - 1)):
			}
		}
		path, err := c.fetch(ctx, url, key, nil)
		if err == nil {
			return path, false, nil
		}
		lastErr = err
		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			break
		}
		c.logger().Debug("fetch failed", "url", url, "attempt", n+1, "error", err)
	}
	return "", false, lastErr
}

// Fetch returns the body of url, going through the cache.
func (c *Cache) Fetch(ctx context.Context, url string) ([]byte, error) {
	path, _, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// revalidate issues a conditional GET for a cached entry. fresh reports a
// 304; otherwise the new body has been stored at path.
func (c *Cache) revalidate(ctx context.Context, url, key string, m meta) (path string, fresh bool, err error) {
	h := http.Header{}
	if m.ETag != "" {
		h.Set("If-None-Match", m.ETag)
	}
	if m.LastModified != "" {
		h.Set("If-Modified-Since", m.LastModified)
	}
	path, err = c.fetch(ctx, url, key, h)
	var notModified errNotModified
	if errors.As(err, &notModified) {
		return "", true, nil
	}
	return path, false, err
}

type errNotModified struct{}

func (errNotModified) Error() string { return "not modified" }

func (c *Cache) fetch(ctx context.Context, url, key string, h http.Header) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	for k, vs := range h {
		req.Header[k] = vs
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotModified && h != nil {
		return "", errNotModified{}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &StatusError{URL: url, Code: resp.StatusCode}
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", err
	}
	dataFile := key + ".data"
	path := filepath.Join(c.Dir, dataFile)
	if err := atomic.WriteFile(path, resp.Body); err != nil {
		return "", fmt.Errorf("storing %s: %w", url, err)
	}
	m := meta{
		URL:          url,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		DataFile:     dataFile,
	}
	if err := writeMeta(filepath.Join(c.Dir, key+".json"), m); err != nil {
		return "", err
	}
	c.logger().Debug("fetched", "url", url, "etag", m.ETag)
	return path, nil
}

func (c *Cache) readMeta(path, url string) (meta, bool) {
	var m meta
	b, err := os.ReadFile(path)
	if err != nil {
		return m, false
	}
	if err := json.Unmarshal(b, &m); err != nil || m.URL != url || m.DataFile == "" {
		return m, false
	}
	return m, fileExists(filepath.Join(c.Dir, m.DataFile))
}

func writeMeta(path string, m meta) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, strings.NewReader(string(b)))
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

// Loader serves templates relative to BaseURL through a Cache, so it can
// feed Engine.RegisterFrom. A 404 or 410 is reported as a missing template.
type Loader struct {
	Cache   *Cache
	BaseURL string
	Context context.Context
}

// URL returns the address a template name is fetched from.
func (l Loader) URL(name string) (string, error) {
	base, err := url.Parse(l.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", l.BaseURL, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref, err := url.Parse(name)
	if err != nil || ref.IsAbs() || ref.Host != "" || strings.HasPrefix(ref.Path, "/") {
		return "", fmt.Errorf("template name %q is not a relative path", name)
	}
	return base.ResolveReference(ref).String(), nil
}

func (l Loader) Load(name string) (string, error) {
	u, err := l.URL(name)
	if err != nil {
		return "", err
	}
	ctx := l.Context
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := l.Cache.Fetch(ctx, u)
	var se *StatusError
	if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusGone) {
		return "", &jinja2.Error{Kind: jinja2.KindTemplateNotFound, Template: name, Err: err}
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Package install streams release binaries to the local cache.
//
// The single invariant callers rely on: the destination path never
// holds a partially written file after Download returns, success or
// failure. Bytes are streamed to a temp file in the destination
// directory and renamed into place only once fully written.
package install

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// maxRedirects caps the redirect chain; the index should need at most
// one hop to the CDN.
const maxRedirects = 10

// Installer downloads binaries over HTTP, handling redirects itself so
// each hop can be validated and capped.
type Installer struct {
	client *http.Client
}

// Option configures an Installer.
type Option func(*Installer)

// WithHTTPClient replaces the default HTTP client. The installer
// disables the client's automatic redirect following.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Installer) {
		i.client = c
	}
}

// New creates an Installer.
func New(opts ...Option) *Installer {
	i := &Installer{
		client: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(i)
	}
	// Redirects are followed manually in Download.
	i.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return i
}

// Download streams the artifact at rawURL to dest. 301/302 responses
// are followed up to maxRedirects hops; any other non-success status
// or a transport failure mid-stream fails with *DownloadError and
// leaves nothing at dest.
func (i *Installer) Download(ctx context.Context, rawURL, dest string) error {
	target := rawURL
	for hop := 0; hop <= maxRedirects; hop++ {
		next, err := i.fetch(ctx, target, dest)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		target = next
	}
	return &RedirectLoopError{URL: rawURL, Hops: maxRedirects}
}

// fetch performs one request. It returns a non-empty next URL when the
// response is a redirect, empty when the body was written to dest.
func (i *Installer) fetch(ctx context.Context, target, dest string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", &DownloadError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", "lspherd")

	resp, err := i.client.Do(req)
	if err != nil {
		return "", &DownloadError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return "", &DownloadError{URL: target, Status: resp.StatusCode, Err: fmt.Errorf("redirect without Location header")}
		}
		next, err := resolveLocation(target, loc)
		if err != nil {
			return "", &DownloadError{URL: target, Status: resp.StatusCode, Err: err}
		}
		return next, nil
	case http.StatusOK:
		if err := writeAtomic(dest, resp.Body); err != nil {
			return "", &DownloadError{URL: target, Err: err}
		}
		return "", nil
	default:
		return "", &DownloadError{URL: target, Status: resp.StatusCode}
	}
}

// resolveLocation resolves a possibly relative Location header against
// the request URL.
func resolveLocation(base, loc string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	locURL, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(locURL).String(), nil
}

// writeAtomic streams r to a temp file beside dest and renames it into
// place, so dest either does not exist or is complete.
func writeAtomic(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".lspherd-download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write artifact: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// DownloadError reports a failed artifact download: a non-success,
// non-redirect status or a transport failure mid-stream.
type DownloadError struct {
	URL string
	// Status is the offending HTTP status code; zero for transport
	// failures.
	Status int
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 && e.Err == nil {
		return fmt.Sprintf("download %s: HTTP %d", e.URL, e.Status)
	}
	if e.Status != 0 {
		return fmt.Sprintf("download %s: HTTP %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// RedirectLoopError reports a redirect chain exceeding the hop cap.
type RedirectLoopError struct {
	URL  string
	Hops int
}

func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("download %s: more than %d redirects", e.URL, e.Hops)
}

// Package release queries the remote release index for the managed
// language server and picks the asset matching the host platform.
package release

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/lspherd/internal/platform"
)

// userAgent is sent on every index request; the GitHub API rejects
// requests without one.
const userAgent = "lspherd"

// Release describes one published release. It is fetched on demand and
// never persisted.
type Release struct {
	Tag    string
	Assets []Asset
}

// Asset is one downloadable artifact of a release.
type Asset struct {
	Name        string
	DownloadURL string
}

// Fetcher queries the releases-latest endpoint of one repository.
type Fetcher struct {
	client  *http.Client
	baseURL string
	owner   string
	repo    string
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithBaseURL replaces the API base URL. Used by tests.
func WithBaseURL(u string) FetcherOption {
	return func(f *Fetcher) {
		f.baseURL = u
	}
}

// NewFetcher creates a fetcher for the given repository.
func NewFetcher(owner, repo string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://api.github.com",
		owner:   owner,
		repo:    repo,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchLatest retrieves the latest release descriptor. An unreachable
// index, a non-success status, or a payload without the expected shape
// all fail with *QueryError.
func (f *Fetcher) FetchLatest(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", f.baseURL, f.owner, f.repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &QueryError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &QueryError{Err: err}
	}

	return parseRelease(body)
}

// parseRelease extracts tag_name and the asset list from the index
// payload.
func parseRelease(body []byte) (*Release, error) {
	if !gjson.ValidBytes(body) {
		return nil, &QueryError{Err: fmt.Errorf("invalid JSON in release payload")}
	}

	tag := gjson.GetBytes(body, "tag_name")
	assets := gjson.GetBytes(body, "assets")
	if !tag.Exists() || !assets.IsArray() {
		return nil, &QueryError{Err: fmt.Errorf("release payload missing tag_name or assets")}
	}

	rel := &Release{Tag: tag.String()}
	assets.ForEach(func(_, a gjson.Result) bool {
		rel.Assets = append(rel.Assets, Asset{
			Name:        a.Get("name").String(),
			DownloadURL: a.Get("browser_download_url").String(),
		})
		return true
	})

	return rel, nil
}

// SelectAsset picks the release asset named for the platform. The
// release-asset convention differs from the PATH-lookup convention on
// macOS and Linux; see the platform package.
func SelectAsset(rel *Release, naming platform.Naming, id platform.ID) (Asset, error) {
	want := naming.AssetName(id)
	for _, a := range rel.Assets {
		if a.Name == want {
			return a, nil
		}
	}
	return Asset{}, &AssetNotFoundError{Asset: want, Tag: rel.Tag}
}

// QueryError reports an unreachable or malformed release index.
type QueryError struct {
	// Status is the HTTP status code when the index responded with a
	// non-success status; zero otherwise.
	Status int
	Err    error
}

func (e *QueryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("release index returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("release query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// AssetNotFoundError reports a release without an asset for the
// current platform.
type AssetNotFoundError struct {
	Asset string
	Tag   string
}

func (e *AssetNotFoundError) Error() string {
	return fmt.Sprintf("release %s has no asset named %q", e.Tag, e.Asset)
}

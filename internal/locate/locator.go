// Package locate decides which language-server executable a session
// will launch.
//
// Resolution walks a strict priority order and stops at the first
// success: an explicitly configured path, a PATH probe, the cached
// binary from an earlier download, and finally a fresh download from
// the release index. Only when every fallback fails does Resolve
// return an *AcquisitionError.
package locate

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/dshills/lspherd/internal/platform"
	"github.com/dshills/lspherd/internal/release"
)

// Fetcher queries the release index. Satisfied by *release.Fetcher.
type Fetcher interface {
	FetchLatest(ctx context.Context) (*release.Release, error)
}

// Downloader streams an artifact to a destination path. Satisfied by
// *install.Installer.
type Downloader interface {
	Download(ctx context.Context, url, dest string) error
}

// Locator resolves the server executable for one platform and storage
// scope.
type Locator struct {
	configuredPath string
	naming         platform.Naming
	id             platform.ID
	storageDir     string
	fetcher        Fetcher
	downloader     Downloader

	// lookPath is an injection seam for tests; defaults to exec.LookPath.
	lookPath func(string) (string, error)
	// chmodSkipped mirrors "skip on Windows"; derived from id unless
	// overridden in tests via goos.
	goos string
}

// Options configures a Locator.
type Options struct {
	// ConfiguredPath is the server.path config value; empty means
	// unset.
	ConfiguredPath string
	Naming         platform.Naming
	Platform       platform.ID
	StorageDir     string
	Fetcher        Fetcher
	Downloader     Downloader
}

// New creates a Locator.
func New(opts Options) *Locator {
	return &Locator{
		configuredPath: opts.ConfiguredPath,
		naming:         opts.Naming,
		id:             opts.Platform,
		storageDir:     opts.StorageDir,
		fetcher:        opts.Fetcher,
		downloader:     opts.Downloader,
		lookPath:       exec.LookPath,
		goos:           runtime.GOOS,
	}
}

// CachePath returns where the provisioned binary lives, named by the
// platform's release-asset convention.
func (l *Locator) CachePath() string {
	return filepath.Join(l.storageDir, l.naming.AssetName(l.id))
}

// Resolve returns the executable path to launch. The priority order is
// strict: a step that succeeds short-circuits everything after it.
func (l *Locator) Resolve(ctx context.Context) (string, error) {
	// 1. Explicit configuration wins and is never validated here; a
	// bad path surfaces when the session starts.
	if l.configuredPath != "" {
		return l.configuredPath, nil
	}

	// 2. PATH probe. The bare name is returned so the actual lookup
	// happens again at process launch.
	lookup := l.naming.LookupName(l.id)
	if _, err := l.lookPath(lookup); err == nil {
		return lookup, nil
	}

	if err := os.MkdirAll(l.storageDir, 0o755); err != nil {
		return "", &AcquisitionError{Err: err}
	}

	// 3. Previously cached download.
	cache := l.CachePath()
	if _, err := os.Stat(cache); err == nil {
		if err := l.ensureExecutable(cache); err != nil {
			return "", &AcquisitionError{Err: err}
		}
		return cache, nil
	}

	// 4. Fresh download.
	if _, err := l.Install(ctx); err != nil {
		return "", &AcquisitionError{Err: err}
	}
	return cache, nil
}

// Install downloads the latest release asset into the cache path,
// replacing whatever is there, and returns the release tag. Used both
// as the last Resolve fallback and by the operator update flow.
func (l *Locator) Install(ctx context.Context) (string, error) {
	if err := os.MkdirAll(l.storageDir, 0o755); err != nil {
		return "", err
	}

	rel, err := l.fetcher.FetchLatest(ctx)
	if err != nil {
		return "", err
	}

	asset, err := release.SelectAsset(rel, l.naming, l.id)
	if err != nil {
		return "", err
	}

	cache := l.CachePath()
	if err := l.downloader.Download(ctx, asset.DownloadURL, cache); err != nil {
		return "", err
	}

	if err := l.ensureExecutable(cache); err != nil {
		return "", err
	}
	return rel.Tag, nil
}

// RemoveCached deletes the cached binary. Missing is not an error.
func (l *Locator) RemoveCached() error {
	err := os.Remove(l.CachePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ensureExecutable sets the execute bits on the cached binary. Windows
// has no execute bit, so the step is skipped there.
func (l *Locator) ensureExecutable(path string) error {
	if l.goos == "windows" {
		return nil
	}
	return os.Chmod(path, 0o755)
}

// AcquisitionError reports that no usable executable could be found or
// provisioned by any fallback.
type AcquisitionError struct {
	Err error
}

func (e *AcquisitionError) Error() string {
	return "no usable language server executable: " + e.Err.Error()
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

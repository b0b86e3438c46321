// Package config reads the lspherd configuration surface.
//
// Configuration comes from three layers, lowest priority first:
// built-in defaults, a TOML file, and LSPHERD_* environment variables.
// The surface is deliberately small: where the server binary lives (or
// how to provision it) and what to pass at launch.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the resolved runtime configuration.
type Config struct {
	Server  Server  `toml:"server"`
	Release Release `toml:"release"`
	Storage Storage `toml:"storage"`
}

// Server configures how the language server is located and launched.
type Server struct {
	// Path, when set, overrides all other resolution. It is passed to
	// the session verbatim and never validated up front; a bad path
	// surfaces as a start failure.
	Path string `toml:"path"`

	// Stdlib is forwarded to the server as "--stdlib <path>" when
	// non-empty.
	Stdlib string `toml:"stdlib"`
}

// Release identifies the GitHub repository whose latest release
// provides the server binary.
type Release struct {
	Owner string `toml:"owner"`
	Repo  string `toml:"repo"`
}

// Storage configures where provisioned binaries are cached.
type Storage struct {
	// Dir holds one cached binary per platform. Empty means the
	// user cache directory under "lspherd".
	Dir string `toml:"dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Release: Release{
			Owner: "CWBudde",
			Repo:  "go-dws-lsp",
		},
	}
}

// DefaultPath returns the conventional config file location
// (<user config dir>/lspherd/config.toml).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "lspherd", "config.toml"), nil
}

// Load reads configuration from path, layering it over the defaults and
// under the environment. A missing file is not an error; the defaults
// and environment still apply.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ParseError{Path: path, Err: err}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays LSPHERD_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LSPHERD_SERVER_PATH"); v != "" {
		cfg.Server.Path = v
	}
	if v := os.Getenv("LSPHERD_SERVER_STDLIB"); v != "" {
		cfg.Server.Stdlib = v
	}
	if v := os.Getenv("LSPHERD_RELEASE_OWNER"); v != "" {
		cfg.Release.Owner = v
	}
	if v := os.Getenv("LSPHERD_RELEASE_REPO"); v != "" {
		cfg.Release.Repo = v
	}
	if v := os.Getenv("LSPHERD_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
}

// StorageDir resolves the binary cache directory, falling back to the
// user cache directory when unconfigured.
func (c Config) StorageDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir: %w", err)
	}
	return filepath.Join(dir, "lspherd"), nil
}

// LaunchArgs returns the command-line arguments derived from the
// configuration.
func (c Config) LaunchArgs() []string {
	if c.Server.Stdlib == "" {
		return nil
	}
	return []string{"--stdlib", c.Server.Stdlib}
}

// ParseError reports a malformed configuration file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

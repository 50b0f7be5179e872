// Package config resolves the on-disk locations and environment settings
// that the package manager and project layers consume.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// EnvHome overrides the user-wide dub directory (default ~/.dub).
	EnvHome = "DUB_HOME"

	// EnvPath holds extra package search paths, separated by the
	// platform list separator (colon on POSIX, semicolon on Windows).
	EnvPath = "DUBPATH"

	// EnvDFlags holds extra compiler flags picked up by the $DFLAGS
	// build type.
	EnvDFlags = "DFLAGS"

	// EnvPackagesUsed is the recursive-invocation breadcrumb. Nested
	// builder invocations read and extend this comma-joined list so a
	// package that is already part of an enclosing build refuses to
	// recurse into itself.
	EnvPackagesUsed = "DUB_PACKAGES_USED"
)

// Config carries the resolved directory layout for one process.
type Config struct {
	// HomeDir is the user-wide dub directory (~/.dub or $DUB_HOME).
	HomeDir string

	// SystemDir is the machine-wide package directory.
	SystemDir string
}

// New resolves the configuration from the environment.
func New() (*Config, error) {
	home := os.Getenv(EnvHome)
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		home = filepath.Join(userHome, ".dub")
	}

	system := "/var/lib/dub"
	if runtime.GOOS == "windows" {
		system = filepath.Join(os.Getenv("ProgramData"), "dub")
	}

	return &Config{HomeDir: home, SystemDir: system}, nil
}

// UserPackagesDir returns the user-wide package cache root.
func (c *Config) UserPackagesDir() string {
	return filepath.Join(c.HomeDir, "packages")
}

// SystemPackagesDir returns the machine-wide package cache root.
func (c *Config) SystemPackagesDir() string {
	return filepath.Join(c.SystemDir, "packages")
}

// LocalPackagesDir returns the project-local package cache root for the
// project rooted at dir.
func LocalPackagesDir(dir string) string {
	return filepath.Join(dir, ".dub", "packages")
}

// ProjectCacheDir returns the per-project cache directory for the project
// rooted at dir.
func ProjectCacheDir(dir string) string {
	return filepath.Join(dir, ".dub")
}

// SearchPaths returns the extra package search paths from DUBPATH.
// Empty entries are dropped.
func SearchPaths() []string {
	raw := os.Getenv(EnvPath)
	if raw == "" {
		return nil
	}
	var paths []string
	for _, p := range strings.Split(raw, string(os.PathListSeparator)) {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// ExtraDFlags returns the whitespace-separated flags from DFLAGS.
func ExtraDFlags() []string {
	return strings.Fields(os.Getenv(EnvDFlags))
}

// PackagesUsed returns the breadcrumb list of package names already part
// of an enclosing builder invocation.
func PackagesUsed() []string {
	raw := os.Getenv(EnvPackagesUsed)
	if raw == "" {
		return nil
	}
	var names []string
	for _, n := range strings.Split(raw, ",") {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// MarkPackageUsed extends the breadcrumb with name and returns the value
// that should be placed in the child environment.
func MarkPackageUsed(name string) string {
	used := PackagesUsed()
	for _, u := range used {
		if u == name {
			return strings.Join(used, ",")
		}
	}
	return strings.Join(append(used, name), ",")
}

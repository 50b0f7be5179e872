// Package pkgman maintains the index of locally available packages
// across the search locations and handles fetch-store and removal.
package pkgman

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/pack"
	"github.com/dub-build/dub/internal/version"
)

// Location identifies one of the three package cache roots.
type Location int

const (
	// LocationLocal is the project-local cache (<root>/.dub/packages).
	LocationLocal Location = iota
	// LocationUser is the user-wide cache (~/.dub/packages).
	LocationUser
	// LocationSystem is the machine-wide cache.
	LocationSystem
)

// installLockWait bounds how long a second installer waits for the
// holder of a package's install lock.
const installLockWait = 30 * time.Second

// ConcurrentInstallTimeoutError reports that another process held a
// package's install lock past the bounded wait.
type ConcurrentInstallTimeoutError struct {
	Path string
	Wait time.Duration
}

func (e *ConcurrentInstallTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for install lock %s", e.Wait, e.Path)
}

// Manager indexes the packages available in the search locations plus
// any explicit override paths.
type Manager struct {
	locations [3]string
	overrides []string
	packages  []*pack.Package
	loaded    map[string]*pack.Package // by absolute root path
	logger    log.Logger

	inferVersion func(dir string) (version.Version, error)
}

// Options configure a Manager.
type Options struct {
	// Overrides are extra search paths (e.g. from DUBPATH) whose
	// immediate subdirectories are treated as package roots.
	Overrides []string

	// InferVersion is passed through to package loading for packages
	// without a recorded version.
	InferVersion func(dir string) (version.Version, error)

	Logger log.Logger
}

// New creates a Manager over the three location roots. Location
// directories need not exist yet.
func New(localDir, userDir, systemDir string, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{
		locations:    [3]string{localDir, userDir, systemDir},
		overrides:    opts.Overrides,
		loaded:       make(map[string]*pack.Package),
		logger:       logger,
		inferVersion: opts.InferVersion,
	}
	m.Refresh()
	return m
}

// LocationPath returns the cache root of a location.
func (m *Manager) LocationPath(loc Location) string { return m.locations[loc] }

// Refresh rebuilds the package index from disk.
func (m *Manager) Refresh() {
	m.packages = nil
	m.loaded = make(map[string]*pack.Package)

	for _, dir := range m.overrides {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			m.indexDir(filepath.Join(dir, e.Name()))
		}
	}

	for _, loc := range m.locations {
		entries, err := os.ReadDir(loc)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			// cache layout: <location>/<name>-<version>/<name>/
			verDir := filepath.Join(loc, e.Name())
			subs, err := os.ReadDir(verDir)
			if err != nil {
				continue
			}
			for _, s := range subs {
				if s.IsDir() {
					m.indexDir(filepath.Join(verDir, s.Name()))
				}
			}
		}
	}

	sort.SliceStable(m.packages, func(i, j int) bool {
		if m.packages[i].Name() != m.packages[j].Name() {
			return m.packages[i].Name() < m.packages[j].Name()
		}
		// newer versions first
		return m.packages[i].Version().Compare(m.packages[j].Version()) > 0
	})
}

func (m *Manager) indexDir(dir string) {
	p, err := m.loadDir(dir)
	if err != nil {
		m.logger.Debug("skipping unreadable package candidate", "dir", dir, "error", err)
		return
	}
	m.register(p)
}

func (m *Manager) loadDir(dir string) (*pack.Package, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if p, ok := m.loaded[abs]; ok {
		return p, nil
	}
	p, err := pack.Load(abs, pack.LoadOptions{Logger: m.logger, InferVersion: m.inferVersion})
	if err != nil {
		return nil, err
	}
	m.loaded[abs] = p
	return p, nil
}

func (m *Manager) register(p *pack.Package) {
	for _, existing := range m.packages {
		if existing == p {
			return
		}
	}
	m.packages = append(m.packages, p)
	// inline sub-packages share the parent's root and index alongside it
	for _, sp := range p.Recipe().SubPackages {
		if sp.Recipe == nil {
			continue
		}
		sub, err := pack.FromRecipe(*sp.Recipe, p.Path(), p, m.logger)
		if err != nil {
			m.logger.Warn("failed to load inline sub-package", "package", p.Name(), "error", err)
			continue
		}
		m.packages = append(m.packages, sub)
	}
}

// GetPackage returns the indexed package with the given qualified name
// and exact version, or nil.
func (m *Manager) GetPackage(name string, v version.Version) *pack.Package {
	for _, p := range m.packages {
		if p.Name() == name && p.Version().Equal(v) {
			return p
		}
	}
	return nil
}

// GetBestPackage returns the highest-version indexed package with the
// given name matching the constraint, or nil.
func (m *Manager) GetBestPackage(name string, dep version.Dependency) *pack.Package {
	var best *pack.Package
	for _, p := range m.packages {
		if p.Name() != name || !dep.Matches(p.Version()) {
			continue
		}
		if best == nil || p.Version().Compare(best.Version()) > 0 {
			best = p
		}
	}
	return best
}

// GetOrLoadPackage returns the package rooted at path, loading and
// remembering it if it is not part of the index.
func (m *Manager) GetOrLoadPackage(path string) (*pack.Package, error) {
	return m.loadDir(path)
}

// GetSubPackage resolves a sub-package of base: inline recipes first,
// then a path-declared sub-package on disk.
func (m *Manager) GetSubPackage(base *pack.Package, name string) (*pack.Package, error) {
	for _, sp := range base.Recipe().SubPackages {
		if sp.Recipe != nil && sp.Recipe.Name == name {
			return pack.FromRecipe(*sp.Recipe, base.Path(), base, m.logger)
		}
	}
	for _, sp := range base.Recipe().SubPackages {
		if sp.Recipe != nil {
			continue
		}
		dir := filepath.Join(base.Path(), filepath.FromSlash(sp.Path))
		p, err := pack.Load(dir, pack.LoadOptions{Parent: base, Logger: m.logger})
		if err != nil {
			m.logger.Debug("failed to load path sub-package", "base", base.Name(), "path", sp.Path, "error", err)
			continue
		}
		if p.BaseName() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("package %s has no sub-package %q", base.Name(), name)
}

// Packages iterates the indexed packages in name order (versions
// descending within a name).
func (m *Manager) Packages(fn func(*pack.Package) bool) {
	for _, p := range m.packages {
		if !fn(p) {
			return
		}
	}
}

// Versions returns the indexed versions of a package, descending.
func (m *Manager) Versions(name string) []version.Version {
	var out []version.Version
	for _, p := range m.packages {
		if p.Name() == name {
			out = append(out, p.Version())
		}
	}
	return out
}

// StoreFetchedPackage unpacks a fetched archive into
// <location>/<name>-<version>/<name>/ and refreshes the index. The
// operation is atomic per package: extraction happens under a temporary
// directory which is renamed into place, and an install lock serializes
// concurrent installers of the same package. The loser of an install
// race short-circuits to a cache hit.
func (m *Manager) StoreFetchedPackage(archivePath, name string, v version.Version, loc Location) (*pack.Package, error) {
	locDir := m.locations[loc]
	verDir := filepath.Join(locDir, fmt.Sprintf("%s-%s", name, v))
	dstPath := filepath.Join(verDir, name)

	if err := os.MkdirAll(locDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create package location: %w", err)
	}

	lock, err := acquireLock(verDir+".lock", installLockWait)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.release() }()

	if _, err := os.Stat(dstPath); err == nil {
		m.logger.Debug("package already installed", "package", name, "version", v.String())
		return m.loadDir(dstPath)
	}

	tmp := verDir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return nil, err
	}
	extractDir := filepath.Join(tmp, "extract")
	if err := os.MkdirAll(extractDir, 0755); err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	if err := Unpack(archivePath, extractDir); err != nil {
		return nil, fmt.Errorf("failed to unpack %s %s: %w", name, v, err)
	}

	// Archives commonly wrap their contents in a single top-level
	// directory; the recipe root is what gets installed either way.
	root := extractDir
	if entries, err := os.ReadDir(extractDir); err == nil && len(entries) == 1 && entries[0].IsDir() {
		root = filepath.Join(extractDir, entries[0].Name())
	}

	staged := filepath.Join(tmp, name)
	if err := os.Rename(root, staged); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(verDir, 0755); err != nil {
		return nil, err
	}
	if err := os.Rename(staged, dstPath); err != nil {
		return nil, fmt.Errorf("failed to move package into place: %w", err)
	}

	m.logger.Info("installed package", "package", name, "version", v.String(), "path", dstPath)
	m.Refresh()
	p := m.GetPackage(name, v)
	if p == nil {
		// the archive may carry no version; load directly
		return m.loadDir(dstPath)
	}
	return p, nil
}

// Remove deletes an installed package from its cache location and
// refreshes the index. Only packages inside a managed location can be
// removed.
func (m *Manager) Remove(p *pack.Package) error {
	for _, loc := range m.locations {
		if loc == "" {
			continue
		}
		absLoc, err := filepath.Abs(loc)
		if err != nil {
			continue
		}
		verDir := filepath.Dir(p.Path())
		if filepath.Dir(verDir) != absLoc {
			continue
		}
		if err := os.RemoveAll(verDir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", p.Name(), err)
		}
		os.Remove(verDir + ".lock")
		m.logger.Info("removed package", "package", p.Name(), "version", p.Version().String())
		m.Refresh()
		return nil
	}
	return fmt.Errorf("package %s at %s is not inside a managed location", p.Name(), p.Path())
}

// Package registry defines the package supplier interface the resolver
// queries for candidate versions and recipes, plus the standard
// implementations: an HTTP JSON registry and an in-memory supplier used
// by tests and composed setups.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/dub-build/dub/internal/recipe"
	"github.com/dub-build/dub/internal/version"
)

// UnknownPackageError reports a package name no supplier recognizes.
type UnknownPackageError struct {
	Name string
}

func (e *UnknownPackageError) Error() string {
	return fmt.Sprintf("unknown package %q", e.Name)
}

// PackageSupplier provides candidate versions, recipes and archives for
// packages by base name.
type PackageSupplier interface {
	// Name identifies the supplier in diagnostics.
	Name() string

	// Versions returns the known versions of a package, in any order.
	Versions(ctx context.Context, name string) ([]version.Version, error)

	// FetchRecipe returns the recipe of a specific package version.
	FetchRecipe(ctx context.Context, name string, v version.Version) (recipe.Recipe, error)

	// FetchArchive downloads the package archive into destDir and
	// returns the archive path.
	FetchArchive(ctx context.Context, name string, v version.Version, destDir string) (string, error)
}

// MemorySupplier is an in-memory PackageSupplier.
type MemorySupplier struct {
	name     string
	recipes  map[string]map[string]recipe.Recipe // name -> version string -> recipe
	archives map[string]map[string]string        // name -> version string -> archive path
}

// NewMemorySupplier creates an empty in-memory supplier.
func NewMemorySupplier(name string) *MemorySupplier {
	return &MemorySupplier{
		name:     name,
		recipes:  make(map[string]map[string]recipe.Recipe),
		archives: make(map[string]map[string]string),
	}
}

// Add registers a recipe under its name and version.
func (s *MemorySupplier) Add(r recipe.Recipe) {
	if s.recipes[r.Name] == nil {
		s.recipes[r.Name] = make(map[string]recipe.Recipe)
	}
	s.recipes[r.Name][r.Version] = r
}

// AddArchive registers an archive file for a package version.
func (s *MemorySupplier) AddArchive(name, ver, archivePath string) {
	if s.archives[name] == nil {
		s.archives[name] = make(map[string]string)
	}
	s.archives[name][ver] = archivePath
}

func (s *MemorySupplier) Name() string { return s.name }

func (s *MemorySupplier) Versions(_ context.Context, name string) ([]version.Version, error) {
	byVer, ok := s.recipes[name]
	if !ok {
		return nil, &UnknownPackageError{Name: name}
	}
	keys := make([]string, 0, len(byVer))
	for k := range byVer {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]version.Version, 0, len(keys))
	for _, k := range keys {
		v, err := version.Parse(k)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *MemorySupplier) FetchRecipe(_ context.Context, name string, v version.Version) (recipe.Recipe, error) {
	if byVer, ok := s.recipes[name]; ok {
		if r, ok := byVer[v.String()]; ok {
			return r, nil
		}
	}
	return recipe.Recipe{}, &UnknownPackageError{Name: fmt.Sprintf("%s %s", name, v)}
}

func (s *MemorySupplier) FetchArchive(_ context.Context, name string, v version.Version, _ string) (string, error) {
	if byVer, ok := s.archives[name]; ok {
		if p, ok := byVer[v.String()]; ok {
			return p, nil
		}
	}
	return "", &UnknownPackageError{Name: fmt.Sprintf("%s %s", name, v)}
}

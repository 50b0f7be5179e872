// Package project composes the dependency graph of a root package,
// computes per-package configurations for a target platform and
// aggregates build settings for the compiler driver.
package project

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/pack"
	"github.com/dub-build/dub/internal/pkgman"
	"github.com/dub-build/dub/internal/registry"
	"github.com/dub-build/dub/internal/resolver"
	"github.com/dub-build/dub/internal/version"
)

// PathOutsideWorkspaceError reports a path dependency that cannot be
// expressed relative to the project root.
type PathOutsideWorkspaceError struct {
	Path string
	Root string
}

func (e *PathOutsideWorkspaceError) Error() string {
	return fmt.Sprintf("path dependency %s lies outside the workspace rooted at %s", e.Path, e.Root)
}

// Project is the root package plus its transitively bound dependencies
// and the persisted selection state.
type Project struct {
	mgr  *pkgman.Manager
	root *pack.Package

	dependencies []*pack.Package
	bound        map[string]*pack.Package // qualified name -> package
	missing      []string

	selections     *SelectedVersions
	selectionsRead bool // a selections file existed on disk

	cache  *projectCache
	logger log.Logger
}

// LoadOptions configure project loading.
type LoadOptions struct {
	// RecipeFile overrides recipe discovery for the root package.
	RecipeFile string

	// InferVersion is consulted for the root package version when the
	// recipe records none (SCM inference).
	InferVersion func(dir string) (version.Version, error)

	Logger log.Logger
}

// Load locates and loads the root package at rootPath, reads the
// persisted selections and binds the dependency graph.
func Load(rootPath string, mgr *pkgman.Manager, opts LoadOptions) (*Project, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	root, err := pack.Load(rootPath, pack.LoadOptions{
		RecipeFile:   opts.RecipeFile,
		InferVersion: opts.InferVersion,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	p := &Project{mgr: mgr, root: root, logger: logger}

	selPath := filepath.Join(root.Path(), SelectionsFileName)
	sel, err := LoadSelections(selPath)
	switch err.(type) {
	case nil:
	case *SelectionsVersionMismatchError:
		return nil, err
	default:
		logger.Warn("ignoring malformed selections file", "path", selPath, "error", err)
		sel = NewSelectedVersions()
	}
	p.selections = sel
	p.selectionsRead = fileExists(selPath)

	p.cache = loadProjectCache(root.Path(), logger)

	if err := p.Reinit(); err != nil {
		return nil, err
	}
	return p, nil
}

// Name returns the root package name.
func (p *Project) Name() string { return p.root.Name() }

// RootPackage returns the root package.
func (p *Project) RootPackage() *pack.Package { return p.root }

// Dependencies returns the bound transitive dependencies.
func (p *Project) Dependencies() []*pack.Package { return p.dependencies }

// Missing returns the names of declared dependencies that could not be
// bound; an upgrade run fills these in.
func (p *Project) Missing() []string { return p.missing }

// Selections returns the selection state.
func (p *Project) Selections() *SelectedVersions { return p.selections }

// GetDependency returns a bound dependency by qualified name. The root
// package resolves to itself.
func (p *Project) GetDependency(name string) *pack.Package {
	if name == p.root.Name() {
		return p.root
	}
	return p.bound[name]
}

// HasAllDependencies reports whether every declared dependency is bound.
func (p *Project) HasAllDependencies() bool { return len(p.missing) == 0 }

// Reinit rebinds the dependency graph: a depth-first traversal from the
// root binding every declared dependency to a loaded package.
func (p *Project) Reinit() error {
	p.dependencies = nil
	p.bound = make(map[string]*pack.Package)
	p.missing = nil

	visited := map[string]bool{p.root.Name(): true}
	return p.bindDependencies(p.root, visited)
}

func (p *Project) bindDependencies(pkg *pack.Package, visited map[string]bool) error {
	deps := pkg.Recipe().AllDependencies()
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		dep := deps[name]
		if visited[name] {
			continue
		}
		visited[name] = true

		target, err := p.bindOne(pkg, name, dep)
		if err != nil {
			return err
		}
		if target == nil {
			if !dep.Optional {
				p.missing = append(p.missing, name)
			}
			continue
		}
		p.bound[name] = target
		if target != p.root {
			p.dependencies = append(p.dependencies, target)
		}
		if err := p.bindDependencies(target, visited); err != nil {
			return err
		}
	}
	return nil
}

// bindOne resolves a single dependency name to a loaded package:
// root-family names bind in place, selections pin, path specs load
// relative to the referrer, peers are reused, then the best matching
// installed package is taken; with none of these the dependency is
// missing until the next upgrade.
func (p *Project) bindOne(referrer *pack.Package, name string, dep version.Dependency) (*pack.Package, error) {
	rootBase, _ := pack.SplitName(p.root.Name())
	base, sub := pack.SplitName(name)

	// the root package and its sub-packages bind in place
	if base == rootBase {
		if sub == "" {
			return p.root, nil
		}
		subPkg, err := p.mgr.GetSubPackage(p.root, sub)
		if err != nil {
			return nil, fmt.Errorf("unresolvable reference to root sub-package: %w", err)
		}
		return subPkg, nil
	}

	// a pinned selection overrides the declared spec
	if pinned, ok := p.selections.Selected(base); ok {
		if pinned.IsPath() {
			return p.loadPathPackage(pinned.Path, p.root.Path(), name)
		}
		if v := pinned.ExactVersion(); !v.IsUnknown() {
			if found := p.mgr.GetPackage(name, v); found != nil {
				return found, nil
			}
			if found := p.mgr.GetBestPackage(name, pinned); found != nil {
				return found, nil
			}
		}
		return nil, nil
	}

	// a path spec loads directly, relative to the referrer
	if dep.IsPath() {
		return p.loadPathPackage(dep.Path, referrer.Path(), name)
	}

	// a peer may already have bound the same base package
	for boundName, boundPkg := range p.bound {
		bBase, _ := pack.SplitName(boundName)
		if bBase != base {
			continue
		}
		if sub == "" && boundName == name {
			return boundPkg, nil
		}
		// same base at the same version: reuse it for the sibling
		if found := p.mgr.GetPackage(name, boundPkg.Version()); found != nil {
			return found, nil
		}
	}

	if found := p.mgr.GetBestPackage(name, dep); found != nil {
		return found, nil
	}
	return nil, nil
}

// loadPathPackage loads a path-referenced package, rebinding to the
// sub-package when the path points at a parent that declares it.
func (p *Project) loadPathPackage(path, baseDir, name string) (*pack.Package, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	loaded, err := p.mgr.GetOrLoadPackage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load path dependency %q: %w", name, err)
	}
	base, sub := pack.SplitName(name)
	if sub != "" && loaded.BaseName() == base {
		subPkg, err := p.mgr.GetSubPackage(loaded, sub)
		if err != nil {
			return nil, err
		}
		return subPkg, nil
	}
	return loaded, nil
}

// GetTopologicalPackageList walks the graph from root (default: the
// project root), yielding each package once. Edges follow the
// dependencies enabled in the referrer's active configuration and are
// traversed in sorted name order.
func (p *Project) GetTopologicalPackageList(childrenFirst bool, root *pack.Package, configs map[string]string) []*pack.Package {
	if root == nil {
		root = p.root
	}
	var out []*pack.Package
	visited := make(map[*pack.Package]bool)

	var visit func(pkg *pack.Package)
	visit = func(pkg *pack.Package) {
		if visited[pkg] {
			return
		}
		visited[pkg] = true
		if !childrenFirst {
			out = append(out, pkg)
		}
		deps := pkg.GetDependencies(configs[pkg.Name()])
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if target := p.GetDependency(name); target != nil {
				visit(target)
			}
		}
		if childrenFirst {
			out = append(out, pkg)
		}
	}
	visit(root)
	return out
}

// UpgradeOptions re-exports the resolver options.
type UpgradeOptions = resolver.Options

// Upgrade runs the version resolver and applies the result to the
// selection state. With PrintUpgradesOnly the state is left untouched;
// with Select the selections are persisted.
func (p *Project) Upgrade(ctx context.Context, suppliers []registry.PackageSupplier, opts UpgradeOptions) (map[string]version.Dependency, error) {
	if opts.UseCachedResult && !opts.Upgrade {
		if cached, ok := p.cache.cachedResult(); ok {
			p.logger.Debug("using cached upgrade result")
			return cached, nil
		}
	}

	provider := resolver.NewVersionProvider(ctx, p.root, p.mgr, suppliers,
		p.selections.All(), p.selectionsRead, opts, p.logger)
	result, err := resolver.New(provider).Resolve(provider.RootNode())
	if err != nil {
		return nil, err
	}

	if opts.PrintUpgradesOnly {
		return result, nil
	}

	for name, dep := range result {
		base, sub := pack.SplitName(name)
		if sub != "" {
			// selections pin base packages; the sub-package follows
			name = base
		}
		if dep.IsPath() {
			rel, err := filepath.Rel(p.root.Path(), dep.Path)
			if err != nil {
				return nil, &PathOutsideWorkspaceError{Path: dep.Path, Root: p.root.Path()}
			}
			dep.Path = filepath.ToSlash(rel)
		}
		p.selections.Select(name, dep)
	}

	p.cache.storeResult(result)
	p.cache.save(p.root.Path(), p.logger)

	if opts.Select {
		if err := p.SaveSelections(); err != nil {
			return nil, err
		}
	}
	if err := p.Reinit(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveSelections persists the selection state next to the root recipe.
func (p *Project) SaveSelections() error {
	p.selectionsRead = true
	return p.selections.Save(filepath.Join(p.root.Path(), SelectionsFileName))
}

// LastUpgrade returns the time of the last recorded upgrade run.
func (p *Project) LastUpgrade() time.Time { return p.cache.LastUpgrade }

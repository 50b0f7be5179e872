package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/pack"
	"github.com/dub-build/dub/internal/pkgman"
	"github.com/dub-build/dub/internal/recipe"
	"github.com/dub-build/dub/internal/registry"
	"github.com/dub-build/dub/internal/version"
)

// Options control a resolution run.
type Options struct {
	// Upgrade ignores pinned selections and searches the full candidate
	// sets.
	Upgrade bool

	// PreRelease keeps pre-release versions in their natural position
	// instead of demoting them behind releases.
	PreRelease bool

	// UseCachedResult allows the project layer to reuse a cached
	// upgrade result instead of resolving again.
	UseCachedResult bool

	// PrintUpgradesOnly reports what would change without touching the
	// selection state.
	PrintUpgradesOnly bool

	// Select writes the resolved assignment back to the selections.
	Select bool
}

// VersionProvider implements Provider over the local package manager,
// the configured registries and the prior selection state.
type VersionProvider struct {
	ctx       context.Context
	mgr       *pkgman.Manager
	suppliers []registry.PackageSupplier
	root      *pack.Package

	// prior selection state; pins short-circuit candidate sets unless
	// Upgrade is set, and decide optional-default edges
	selections     map[string]version.Dependency
	selectionsRead bool

	opts   Options
	logger log.Logger

	recipes  map[string]*recipe.Recipe // "name@version" cache
	pathPkgs map[string]*pack.Package
}

// NewVersionProvider assembles a provider for one resolution run.
func NewVersionProvider(ctx context.Context, root *pack.Package, mgr *pkgman.Manager,
	suppliers []registry.PackageSupplier, selections map[string]version.Dependency,
	selectionsRead bool, opts Options, logger log.Logger) *VersionProvider {
	if logger == nil {
		logger = log.Default()
	}
	return &VersionProvider{
		ctx:            ctx,
		mgr:            mgr,
		suppliers:      suppliers,
		root:           root,
		selections:     selections,
		selectionsRead: selectionsRead,
		opts:           opts,
		logger:         logger,
		recipes:        make(map[string]*recipe.Recipe),
		pathPkgs:       make(map[string]*pack.Package),
	}
}

// RootNode returns the search root for the provider's root package.
func (p *VersionProvider) RootNode() TreeNode {
	return TreeNode{Pack: p.root.Name(), Config: version.FromVersion(p.root.Version())}
}

// AllConfigs computes the candidate set of a package: the pinned
// selection when one exists and no upgrade was requested, otherwise the
// merged local and registry versions ordered releases first, then
// pre-releases (unless allowed), then branches, each descending.
func (p *VersionProvider) AllConfigs(name string) ([]version.Dependency, error) {
	base, _ := pack.SplitName(name)
	if sel, ok := p.selections[base]; ok && !p.opts.Upgrade {
		if sel.IsPath() {
			return p.SpecificConfigs(name, sel), nil
		}
		return []version.Dependency{sel}, nil
	}

	seen := make(map[string]bool)
	var all []version.Version
	for _, v := range p.mgr.Versions(name) {
		if !seen[v.String()] {
			seen[v.String()] = true
			all = append(all, v)
		}
	}
	for _, s := range p.suppliers {
		vs, err := s.Versions(p.ctx, base)
		if err != nil {
			p.logger.Debug("supplier has no versions", "supplier", s.Name(), "package", base, "error", err)
			continue
		}
		for _, v := range vs {
			if !seen[v.String()] {
				seen[v.String()] = true
				all = append(all, v)
			}
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Compare(all[j]) > 0 })
	all = orderCandidates(all, p.opts.PreRelease)

	var out []version.Dependency
	for _, v := range all {
		if _, err := p.getRecipe(name, v); err != nil {
			p.logger.Debug("dropping candidate with unloadable recipe",
				"package", name, "version", v.String(), "error", err)
			continue
		}
		out = append(out, version.FromVersion(v))
	}
	return out, nil
}

// orderCandidates partitions a descending version list into releases,
// pre-releases and branches, preserving relative order. With preRelease
// set, pre-releases keep their natural position among the releases.
func orderCandidates(vs []version.Version, preRelease bool) []version.Version {
	var releases, prereleases, branches []version.Version
	for _, v := range vs {
		switch {
		case v.IsBranch():
			branches = append(branches, v)
		case v.IsPreRelease() && !preRelease:
			prereleases = append(prereleases, v)
		default:
			releases = append(releases, v)
		}
	}
	out := append(releases, prereleases...)
	return append(out, branches...)
}

// SpecificConfigs handles path-pinned edges: a loadable package at the
// path yields that single candidate, anything else yields the empty set.
func (p *VersionProvider) SpecificConfigs(name string, dep version.Dependency) []version.Dependency {
	if !dep.IsPath() {
		return nil
	}
	path := dep.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.root.Path(), path)
	}
	if _, err := p.packageAtPath(path, name); err != nil {
		p.logger.Warn("path dependency does not resolve to a package",
			"package", name, "path", dep.Path, "error", err)
		return nil
	}
	return []version.Dependency{version.FromPath(path)}
}

func (p *VersionProvider) packageAtPath(path, name string) (*pack.Package, error) {
	key := path + "#" + name
	if cached, ok := p.pathPkgs[key]; ok {
		return cached, nil
	}
	loaded, err := p.mgr.GetOrLoadPackage(path)
	if err != nil {
		return nil, err
	}
	base, sub := pack.SplitName(name)
	if sub != "" && loaded.BaseName() == base {
		// path points at the base package of a sub-package reference
		loaded, err = p.mgr.GetSubPackage(loaded, sub)
		if err != nil {
			return nil, err
		}
	}
	p.pathPkgs[key] = loaded
	return loaded, nil
}

// Children returns the dependency edges of a node, filtered by the
// optional/default rules and with the root package's own family
// short-circuited (the project binds those in place).
func (p *VersionProvider) Children(node TreeNode) ([]ChildDep, error) {
	r, dir, err := p.nodeRecipe(node)
	if err != nil {
		return nil, err
	}

	deps := r.AllDependencies()
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	rootBase, _ := pack.SplitName(p.root.Name())
	var out []ChildDep
	for _, name := range names {
		dep := deps[name]
		base, _ := pack.SplitName(name)
		if base == rootBase {
			// dependencies back into the root package's namespace are
			// satisfied structurally, not resolved
			continue
		}
		if !p.edgeEnabled(name, dep) {
			continue
		}
		if dep.IsPath() && !filepath.IsAbs(dep.Path) {
			if dir == "" {
				return nil, fmt.Errorf("package %s %s declares relative path dependency %q but has no local directory",
					node.Pack, node.Config, dep.Path)
			}
			dep.Path = filepath.Join(dir, dep.Path)
		}
		out = append(out, ChildDep{Pack: name, Dep: dep})
	}
	return out, nil
}

// edgeEnabled applies the optional/default classification: optional
// dependencies stay unselected unless pinned, except optional-default
// ones, which are selected unless the prior selection state already
// deselected them.
func (p *VersionProvider) edgeEnabled(name string, dep version.Dependency) bool {
	if !dep.Optional {
		return true
	}
	base, _ := pack.SplitName(name)
	if _, pinned := p.selections[base]; pinned {
		return true
	}
	return dep.Default && !p.selectionsRead
}

// nodeRecipe loads the recipe behind a node, along with the package
// directory when one exists locally (for rebasing path dependencies).
func (p *VersionProvider) nodeRecipe(node TreeNode) (*recipe.Recipe, string, error) {
	if node.Pack == p.root.Name() {
		return p.root.Recipe(), p.root.Path(), nil
	}
	if node.Config.IsPath() {
		loaded, err := p.packageAtPath(node.Config.Path, node.Pack)
		if err != nil {
			return nil, "", err
		}
		return loaded.Recipe(), loaded.Path(), nil
	}
	v := node.Config.ExactVersion()
	if local := p.mgr.GetPackage(node.Pack, v); local != nil {
		return local.Recipe(), local.Path(), nil
	}
	r, err := p.getRecipe(node.Pack, v)
	if err != nil {
		return nil, "", err
	}
	return r, "", nil
}

// getRecipe fetches and caches the recipe of a package version,
// resolving sub-packages through their base package.
func (p *VersionProvider) getRecipe(name string, v version.Version) (*recipe.Recipe, error) {
	key := name + "@" + v.String()
	if r, ok := p.recipes[key]; ok {
		return r, nil
	}

	base, sub := pack.SplitName(name)

	if local := p.mgr.GetPackage(name, v); local != nil {
		r := local.Recipe()
		p.recipes[key] = r
		return r, nil
	}

	var baseRecipe *recipe.Recipe
	if local := p.mgr.GetPackage(base, v); local != nil {
		baseRecipe = local.Recipe()
	} else {
		fetched, err := p.fetchRecipe(base, v)
		if err != nil {
			return nil, err
		}
		baseRecipe = fetched
	}

	if sub == "" {
		p.recipes[key] = baseRecipe
		return baseRecipe, nil
	}

	// sub-package: inline in the base recipe, as an on-disk sibling of
	// an installed base, or via a transient fetch of the base archive
	for _, sp := range baseRecipe.SubPackages {
		if sp.Recipe != nil && sp.Recipe.Name == sub {
			p.recipes[key] = sp.Recipe
			return sp.Recipe, nil
		}
	}
	basePkg, err := p.fetchBasePackage(base, v)
	if err != nil {
		return nil, err
	}
	subPkg, err := p.mgr.GetSubPackage(basePkg, sub)
	if err != nil {
		return nil, err
	}
	r := subPkg.Recipe()
	p.recipes[key] = r
	return r, nil
}

func (p *VersionProvider) fetchRecipe(base string, v version.Version) (*recipe.Recipe, error) {
	var lastErr error
	for _, s := range p.suppliers {
		r, err := s.FetchRecipe(p.ctx, base, v)
		if err != nil {
			lastErr = err
			continue
		}
		return &r, nil
	}
	if lastErr == nil {
		lastErr = &registry.UnknownPackageError{Name: base}
	}
	return nil, lastErr
}

// fetchBasePackage materializes a base package locally so a
// path-declared sub-package recipe can be read. The fetch goes through
// the normal store path, so it stays cached.
func (p *VersionProvider) fetchBasePackage(base string, v version.Version) (*pack.Package, error) {
	if local := p.mgr.GetPackage(base, v); local != nil {
		return local, nil
	}
	tmpDir, err := os.MkdirTemp("", "dub-fetch-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)
	var lastErr error
	for _, s := range p.suppliers {
		archive, err := s.FetchArchive(p.ctx, base, v, tmpDir)
		if err != nil {
			lastErr = err
			continue
		}
		return p.mgr.StoreFetchedPackage(archive, base, v, pkgman.LocationUser)
	}
	if lastErr == nil {
		lastErr = &registry.UnknownPackageError{Name: base}
	}
	return nil, lastErr
}

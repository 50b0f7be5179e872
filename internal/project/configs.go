package project

import (
	"fmt"
	"sort"

	"github.com/dub-build/dub/internal/pack"
	"github.com/dub-build/dub/internal/platform"
	"github.com/dub-build/dub/internal/resolver"
)

// NoValidConfigurationError reports that no per-package configuration
// assignment satisfies the platform and sub-configuration constraints.
type NoValidConfigurationError struct {
	Package string
	Config  string
}

func (e *NoValidConfigurationError) Error() string {
	if e.Config != "" {
		return fmt.Sprintf("no valid configuration assignment for package %s with root configuration %q", e.Package, e.Config)
	}
	return fmt.Sprintf("no valid configuration assignment for package %s", e.Package)
}

// configGraph is the candidate graph behind GetPackageConfigs: one
// vertex per (package, configuration) pair, edges from referrers to the
// dependency configurations they permit.
type configGraph struct {
	project *Project
	pl      platform.Platform

	order      []string                 // reachable packages, root first
	pkgs       map[string]*pack.Package // by qualified name
	parents    map[string][]string      // package -> referring packages
	candidates map[string][]string      // package -> remaining configurations
	// allowed[pkg][cfg][dep] lists the configurations of dep permitted
	// when pkg is built as cfg.
	allowed map[string]map[string]map[string][]string
}

// GetPackageConfigs produces a single configuration per reachable
// package such that (a) the configuration admits the platform, (b)
// every referrer agrees, either via a sub-configuration override or the
// dependency's own platform configurations, and (c) the graph is
// acyclic.
func (p *Project) GetPackageConfigs(pl platform.Platform, rootConfig string, allowNonLibrary bool) (map[string]string, error) {
	g := &configGraph{
		project:    p,
		pl:         pl,
		pkgs:       make(map[string]*pack.Package),
		parents:    make(map[string][]string),
		candidates: make(map[string][]string),
		allowed:    make(map[string]map[string]map[string][]string),
	}

	if err := g.discover(); err != nil {
		return nil, err
	}
	g.seed(rootConfig, allowNonLibrary)
	g.computeEdges()

	if err := g.prune(rootConfig); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(g.order))
	for _, name := range g.order {
		cands := g.candidates[name]
		if len(cands) == 0 {
			return nil, &NoValidConfigurationError{Package: name, Config: rootConfig}
		}
		out[name] = cands[0]
	}
	return out, nil
}

// discover collects the reachable packages root first and rejects
// dependency cycles.
func (g *configGraph) discover() error {
	rootName := g.project.root.Name()
	rootBase, _ := pack.SplitName(rootName)
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)

	var visit func(name string, pkg *pack.Package, path []string) error
	visit = func(name string, pkg *pack.Package, path []string) error {
		switch state[name] {
		case visiting:
			return &resolver.DependencyCycleError{Path: append(path, name)}
		case done:
			return nil
		}
		state[name] = visiting
		g.order = append(g.order, name)
		g.pkgs[name] = pkg

		deps := pkg.Recipe().AllDependencies()
		names := make([]string, 0, len(deps))
		for dep := range deps {
			names = append(names, dep)
		}
		sort.Strings(names)
		for _, dep := range names {
			if refBase, _ := pack.SplitName(name); dep == rootName && refBase == rootBase {
				// self-references from the root's own family are short-circuited
				continue
			}
			target := g.project.GetDependency(dep)
			if target == nil {
				continue
			}
			g.parents[dep] = append(g.parents[dep], name)
			if err := visit(dep, target, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}
	return visit(rootName, g.project.root, nil)
}

// seed fills the initial candidate sets: the forced root configuration
// when given, otherwise each package's platform configurations.
func (g *configGraph) seed(rootConfig string, allowNonLibrary bool) {
	rootName := g.project.root.Name()
	for _, name := range g.order {
		pkg := g.pkgs[name]
		if name == rootName {
			if rootConfig != "" {
				g.candidates[name] = []string{rootConfig}
			} else {
				g.candidates[name] = pkg.GetPlatformConfigurations(g.pl, allowNonLibrary)
			}
			continue
		}
		g.candidates[name] = pkg.GetPlatformConfigurations(g.pl, false)
	}
}

// computeEdges records, per (package, configuration) vertex, which
// configurations of each dependency it permits: a sub-configuration
// override narrows to one, otherwise the dependency's own platform
// configurations apply.
func (g *configGraph) computeEdges() {
	for _, name := range g.order {
		pkg := g.pkgs[name]
		g.allowed[name] = make(map[string]map[string][]string)
		for _, cfg := range g.candidates[name] {
			deps := pkg.GetDependencies(cfg)
			edges := make(map[string][]string, len(deps))
			for dep := range deps {
				if _, reachable := g.candidates[dep]; !reachable {
					continue
				}
				if sc := pkg.GetSubConfiguration(cfg, dep, g.pl); sc != "" {
					edges[dep] = []string{sc}
				} else {
					edges[dep] = g.pkgs[dep].GetPlatformConfigurations(g.pl, false)
				}
			}
			g.allowed[name][cfg] = edges
		}
	}
}

// prune deletes candidates until exactly one remains per package:
// repeatedly drop any vertex some referrer cannot reach and any vertex
// whose own edges are unsatisfiable, then break ties topologically.
func (g *configGraph) prune(rootConfig string) error {
	rootName := g.project.root.Name()

	removeUnsupported := func() bool {
		changed := false
		for _, name := range g.order {
			kept := g.candidates[name][:0:0]
			for _, cfg := range g.candidates[name] {
				if name != rootName && !g.everyParentReaches(name, cfg) {
					changed = true
					continue
				}
				if !g.edgesSatisfiable(name, cfg) {
					changed = true
					continue
				}
				kept = append(kept, cfg)
			}
			g.candidates[name] = kept
		}
		return changed
	}

	for {
		for removeUnsupported() {
		}
		name, multiple := g.firstAmbiguous()
		if !multiple {
			return nil
		}
		g.candidates[name] = g.candidates[name][:1]
	}
}

// everyParentReaches reports whether each referrer of pkg keeps at least
// one candidate whose edge set permits (pkg, cfg).
func (g *configGraph) everyParentReaches(pkg, cfg string) bool {
	for _, parent := range g.parents[pkg] {
		ok := false
		for _, pcfg := range g.candidates[parent] {
			edges := g.allowed[parent][pcfg]
			allowedCfgs, depends := edges[pkg]
			if !depends {
				// this parent configuration does not pull the package
				// in at all, so it places no constraint
				ok = true
				break
			}
			if contains(allowedCfgs, cfg) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// edgesSatisfiable reports whether every dependency edge of the vertex
// still has a matching candidate.
func (g *configGraph) edgesSatisfiable(pkg, cfg string) bool {
	for dep, allowedCfgs := range g.allowed[pkg][cfg] {
		ok := false
		for _, dcfg := range g.candidates[dep] {
			if contains(allowedCfgs, dcfg) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// firstAmbiguous returns the topologically first package with more than
// one remaining candidate.
func (g *configGraph) firstAmbiguous() (string, bool) {
	for _, name := range g.order {
		if len(g.candidates[name]) > 1 {
			return name, true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

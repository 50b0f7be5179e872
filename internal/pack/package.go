// Package pack represents a loaded recipe rooted at a directory, with
// derived defaults and per-configuration build settings.
package pack

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/platform"
	"github.com/dub-build/dub/internal/recipe"
	"github.com/dub-build/dub/internal/version"
)

// RecipeFileNames is the discovery precedence for recipe files. The
// first name is also the write target.
var RecipeFileNames = []string{"dub.json", "dub.sdl", "package.json"}

// RecipeNotFoundError reports a directory without any recipe file.
type RecipeNotFoundError struct {
	Dir string
}

func (e *RecipeNotFoundError) Error() string {
	return fmt.Sprintf("no recipe file found in %s (tried %s)", e.Dir, strings.Join(RecipeFileNames, ", "))
}

// UnknownConfigurationError reports a configuration name not declared by
// the package.
type UnknownConfigurationError struct {
	Package string
	Config  string
}

func (e *UnknownConfigurationError) Error() string {
	return fmt.Sprintf("package %s has no configuration %q", e.Package, e.Config)
}

// UnknownBuildTypeError reports a build type that is neither built in
// nor declared by the recipe.
type UnknownBuildTypeError struct {
	Package   string
	BuildType string
}

func (e *UnknownBuildTypeError) Error() string {
	return fmt.Sprintf("package %s has no build type %q", e.Package, e.BuildType)
}

// Package is a loaded recipe rooted at a directory. Sub-packages carry a
// pointer to their parent and inherit its version.
type Package struct {
	recipe     recipe.Recipe
	path       string
	recipeFile string
	parent     *Package
	ver        version.Version

	detectedMain string // main source file found by source-path scanning
}

// LoadOptions control package construction.
type LoadOptions struct {
	// RecipeFile names the recipe file explicitly. When empty the
	// directory is probed using RecipeFileNames.
	RecipeFile string

	// Parent marks the package as a sub-package of Parent.
	Parent *Package

	// VersionOverride forces the package version regardless of the
	// recipe or SCM state.
	VersionOverride version.Version

	// InferVersion is consulted when the recipe records no version and
	// the package has no parent. Leaving it nil skips SCM inference.
	InferVersion func(dir string) (version.Version, error)

	Logger log.Logger
}

// FindRecipeFile probes dir for a recipe file in precedence order.
func FindRecipeFile(dir string) (string, error) {
	for _, name := range RecipeFileNames {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	return "", &RecipeNotFoundError{Dir: dir}
}

// Load constructs a Package from a directory.
func Load(dir string, opts LoadOptions) (*Package, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	recipeFile := opts.RecipeFile
	if recipeFile == "" {
		found, err := FindRecipeFile(dir)
		if err != nil {
			return nil, err
		}
		recipeFile = found
	}

	parentName := ""
	if opts.Parent != nil {
		parentName = opts.Parent.Name()
	}
	r, err := recipe.ParseFile(recipeFile, parentName, logger)
	if err != nil {
		return nil, err
	}
	return build(r, dir, recipeFile, opts, logger)
}

// FromRecipe constructs a Package from an already-decoded recipe, used
// for inline sub-packages which share their parent's directory.
func FromRecipe(r recipe.Recipe, dir string, parent *Package, logger log.Logger) (*Package, error) {
	if logger == nil {
		logger = log.Default()
	}
	return build(r, dir, "", LoadOptions{Parent: parent}, logger)
}

func build(r recipe.Recipe, dir, recipeFile string, opts LoadOptions, logger log.Logger) (*Package, error) {
	p := &Package{recipe: r, path: dir, recipeFile: recipeFile, parent: opts.Parent}

	if r.Name == "" {
		base := strings.ToLower(filepath.Base(dir))
		logger.Warn("recipe has no name, using directory name", "dir", dir, "name", base)
		p.recipe.Name = base
	}
	if err := p.recipe.Validate(); err != nil {
		return nil, err
	}

	if err := p.resolveVersion(opts); err != nil {
		return nil, err
	}
	p.applyDefaultPaths()
	p.detectMainFile()
	p.synthesizeConfigurations()
	p.lint(logger)
	return p, nil
}

func (p *Package) resolveVersion(opts LoadOptions) error {
	if !opts.VersionOverride.IsUnknown() {
		p.ver = opts.VersionOverride
		return nil
	}
	if p.recipe.Version != "" {
		v, err := version.Parse(p.recipe.Version)
		if err != nil {
			return fmt.Errorf("package %s: %w", p.recipe.Name, err)
		}
		p.ver = v
		return nil
	}
	if p.parent != nil {
		// sub-packages inherit the parent version
		p.ver = p.parent.Version()
		return nil
	}
	if opts.InferVersion != nil {
		if v, err := opts.InferVersion(p.path); err == nil && !v.IsUnknown() {
			p.ver = v
			return nil
		}
	}
	p.ver = version.Master
	return nil
}

// applyDefaultPaths fills the conventional directories: views/ becomes a
// string-import folder, source/ or src/ become source and import paths.
func (p *Package) applyDefaultPaths() {
	t := &p.recipe.BuildSettings
	if t.StringImportPaths.IsEmpty() {
		if st, err := os.Stat(filepath.Join(p.path, "views")); err == nil && st.IsDir() {
			t.StringImportPaths.Add("", "views")
		}
	}
	if t.SourcePaths.IsEmpty() {
		for _, cand := range []string{"source", "src"} {
			if st, err := os.Stat(filepath.Join(p.path, cand)); err == nil && st.IsDir() {
				t.SourcePaths.Add("", cand)
				t.ImportPaths.Add("", cand)
				break
			}
		}
	}
}

// detectMainFile scans the declared source paths for an application
// entry point.
func (p *Package) detectMainFile() {
	name := p.recipe.Name
	candidates := []string{
		"app.d",
		"main.d",
		filepath.Join(name, "main.d"),
		filepath.Join(name, "app.d"),
	}
	for _, e := range p.recipe.BuildSettings.SourcePaths.Entries {
		for _, sp := range e.Values {
			for _, cand := range candidates {
				full := filepath.Join(p.path, sp, cand)
				if st, err := os.Stat(full); err == nil && !st.IsDir() {
					p.detectedMain = filepath.ToSlash(filepath.Join(sp, cand))
					return
				}
			}
		}
	}
}

// synthesizeConfigurations provides default configurations when the
// recipe declares none.
func (p *Package) synthesizeConfigurations() {
	if len(p.recipe.Configurations) > 0 {
		return
	}
	tt := p.recipe.BuildSettings.TargetType
	switch {
	case tt == recipe.TargetExecutable:
		app := recipe.Configuration{Name: "application"}
		app.BuildSettings.TargetType = recipe.TargetExecutable
		if p.detectedMain != "" && p.recipe.BuildSettings.MainSourceFile == "" {
			app.BuildSettings.MainSourceFile = p.detectedMain
		}
		p.recipe.Configurations = []recipe.Configuration{app}
	case (tt == recipe.TargetAutodetect || tt == recipe.TargetUnspecified) && p.detectedMain != "":
		app := recipe.Configuration{Name: "application"}
		app.BuildSettings.TargetType = recipe.TargetExecutable
		app.BuildSettings.MainSourceFile = p.detectedMain
		lib := recipe.Configuration{Name: "library"}
		lib.BuildSettings.TargetType = recipe.TargetLibrary
		lib.BuildSettings.ExcludedSourceFiles.Add("", p.detectedMain)
		p.recipe.Configurations = []recipe.Configuration{app, lib}
	default:
		lib := recipe.Configuration{Name: "library"}
		lib.BuildSettings.TargetType = recipe.EffectiveTargetType(recipe.TargetUnspecified, tt)
		p.recipe.Configurations = []recipe.Configuration{lib}
	}
}

func (p *Package) lint(logger log.Logger) {
	if p.parent != nil && p.recipe.License != "" && p.recipe.License != p.parent.recipe.License {
		logger.Warn("sub-package license differs from parent",
			"package", p.Name(), "license", p.recipe.License, "parent", p.parent.recipe.License)
	}
}

// Name returns the qualified package name: parent and child joined by
// ':' for sub-packages.
func (p *Package) Name() string {
	if p.parent != nil {
		return p.parent.Name() + ":" + p.recipe.Name
	}
	return p.recipe.Name
}

// BaseName returns the recipe's own (unqualified) name.
func (p *Package) BaseName() string { return p.recipe.Name }

// Version returns the effective package version, inherited from the
// parent for sub-packages.
func (p *Package) Version() version.Version { return p.ver }

// Path returns the package root directory.
func (p *Package) Path() string { return p.path }

// RecipeFile returns the path of the decoded recipe file, or "" for
// inline sub-packages.
func (p *Package) RecipeFile() string { return p.recipeFile }

// Parent returns the owning package of a sub-package, or nil.
func (p *Package) Parent() *Package { return p.parent }

// Recipe grants access to the parsed recipe.
func (p *Package) Recipe() *recipe.Recipe { return &p.recipe }

// Configurations returns the configuration names in declaration order.
func (p *Package) Configurations() []string {
	return p.recipe.ConfigurationNames()
}

// GetBuildSettings resolves the root template plus the named
// configuration's template through the platform filters. The root
// template applies first, then the configuration overrides and extends.
func (p *Package) GetBuildSettings(pl platform.Platform, config string) (recipe.BuildSettings, error) {
	var bs recipe.BuildSettings
	p.recipe.BuildSettings.ApplyTo(&bs, pl)

	rootTT := p.recipe.BuildSettings.TargetType
	if config != "" {
		cfg := p.recipe.GetConfiguration(config)
		if cfg == nil {
			return recipe.BuildSettings{}, &UnknownConfigurationError{Package: p.Name(), Config: config}
		}
		cfg.BuildSettings.ApplyTo(&bs, pl)
		bs.TargetType = recipe.EffectiveTargetType(cfg.BuildSettings.TargetType, rootTT)
	} else if bs.TargetType == recipe.TargetUnspecified || bs.TargetType == recipe.TargetAutodetect {
		if p.detectedMain != "" {
			bs.TargetType = recipe.TargetExecutable
		} else {
			bs.TargetType = recipe.TargetLibrary
		}
	}

	if bs.MainSourceFile == "" && p.detectedMain != "" && bs.TargetType == recipe.TargetExecutable {
		bs.MainSourceFile = p.detectedMain
	}
	if bs.TargetName == "" {
		bs.TargetName = strings.ReplaceAll(p.Name(), ":", "_")
	}
	return bs, nil
}

// GetDefaultConfiguration returns the first configuration that admits
// the platform and, unless allowNonLibrary is set, does not build an
// executable. Returns "" when none qualifies.
func (p *Package) GetDefaultConfiguration(pl platform.Platform, allowNonLibrary bool) string {
	for _, c := range p.recipe.Configurations {
		if !c.MatchesPlatform(pl) {
			continue
		}
		tt := recipe.EffectiveTargetType(c.BuildSettings.TargetType, p.recipe.BuildSettings.TargetType)
		if !allowNonLibrary && tt == recipe.TargetExecutable {
			continue
		}
		return c.Name
	}
	return ""
}

// GetPlatformConfigurations returns every configuration admitting the
// platform. Unless isMain is set, executable configurations are
// excluded.
func (p *Package) GetPlatformConfigurations(pl platform.Platform, isMain bool) []string {
	var out []string
	for _, c := range p.recipe.Configurations {
		if !c.MatchesPlatform(pl) {
			continue
		}
		tt := recipe.EffectiveTargetType(c.BuildSettings.TargetType, p.recipe.BuildSettings.TargetType)
		if !isMain && tt == recipe.TargetExecutable {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

// GetSubConfiguration resolves a sub-configuration override for dep,
// declared either inside the named configuration or at the recipe root.
// Returns "" when no override exists.
func (p *Package) GetSubConfiguration(config, dep string, pl platform.Platform) string {
	if cfg := p.recipe.GetConfiguration(config); cfg != nil {
		if sc, ok := cfg.BuildSettings.SubConfigurations[dep]; ok {
			return sc
		}
	}
	if sc, ok := p.recipe.BuildSettings.SubConfigurations[dep]; ok {
		return sc
	}
	return ""
}

// HasDependency reports whether the package depends on name in the
// given configuration (or in the root template).
func (p *Package) HasDependency(name, config string) bool {
	_, ok := p.GetDependencies(config)[name]
	return ok
}

// GetDependencies returns the dependency map effective in the given
// configuration: the root template's dependencies merged with the
// configuration's own.
func (p *Package) GetDependencies(config string) map[string]version.Dependency {
	deps := make(map[string]version.Dependency)
	for name, d := range p.recipe.BuildSettings.Dependencies {
		deps[name] = d
	}
	if cfg := p.recipe.GetConfiguration(config); cfg != nil {
		for name, d := range cfg.BuildSettings.Dependencies {
			if existing, ok := deps[name]; ok {
				deps[name] = existing.Merge(d)
			} else {
				deps[name] = d
			}
		}
	}
	return deps
}

// SplitName separates a qualified package name into base package and
// sub-package parts. The sub part is empty for plain names.
func SplitName(name string) (base, sub string) {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

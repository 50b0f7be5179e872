// Package recipe defines the package description model and its two
// textual encodings (JSON and SDL).
//
// A Recipe is the parsed contents of a package description file:
// metadata, a root build-settings template, named configurations, build
// types and sub-packages. Platform-conditional settings keep their
// declaration order and are folded against a concrete platform when the
// project computes flat build settings.
package recipe

import (
	"fmt"
	"regexp"

	"github.com/dub-build/dub/internal/platform"
	"github.com/dub-build/dub/internal/version"
)

// TargetType is the kind of artifact a package or configuration builds.
type TargetType int

const (
	// TargetUnspecified means the recipe did not declare a target type.
	TargetUnspecified TargetType = iota
	TargetAutodetect
	TargetNone
	TargetExecutable
	TargetLibrary
	TargetSourceLibrary
	TargetStaticLibrary
	TargetDynamicLibrary
)

var targetTypeNames = map[TargetType]string{
	TargetAutodetect:     "autodetect",
	TargetNone:           "none",
	TargetExecutable:     "executable",
	TargetLibrary:        "library",
	TargetSourceLibrary:  "sourceLibrary",
	TargetStaticLibrary:  "staticLibrary",
	TargetDynamicLibrary: "dynamicLibrary",
}

func (t TargetType) String() string {
	if s, ok := targetTypeNames[t]; ok {
		return s
	}
	return ""
}

// ParseTargetType maps a textual target type to its enum value.
func ParseTargetType(s string) (TargetType, error) {
	for t, name := range targetTypeNames {
		if name == s {
			return t, nil
		}
	}
	return TargetUnspecified, fmt.Errorf("unknown target type %q", s)
}

// EffectiveTargetType resolves a configuration's target type: an absent
// value inherits the recipe's top-level type, and both an absent and an
// autodetect top level default the configuration to library.
func EffectiveTargetType(cfg, root TargetType) TargetType {
	if cfg != TargetUnspecified {
		return cfg
	}
	if root == TargetUnspecified || root == TargetAutodetect {
		return TargetLibrary
	}
	return root
}

// Recipe is a parsed package description.
type Recipe struct {
	Name    string
	Version string

	Description string
	Homepage    string
	Authors     []string
	Copyright   string
	License     string

	BuildSettings  BuildSettingsTemplate
	Configurations []Configuration
	BuildTypes     map[string]BuildSettingsTemplate
	SubPackages    []SubPackage
}

// Configuration is a named variant of build settings within one recipe.
type Configuration struct {
	Name          string
	Platforms     []string
	BuildSettings BuildSettingsTemplate
}

// MatchesPlatform reports whether the configuration admits the platform.
// An empty platform list admits everything.
func (c Configuration) MatchesPlatform(pl platform.Platform) bool {
	return pl.MatchesAny(c.Platforms)
}

// SubPackage is a package declared inside another package's recipe,
// either inline or by a path relative to the parent's root.
type SubPackage struct {
	Path   string
	Recipe *Recipe
}

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateName checks the package-name charset (lowercase alphanumeric
// plus '-' and '_').
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("invalid package name %q: must be lowercase alphanumeric with '-' or '_'", name)
	}
	return nil
}

// Validate checks the structural invariants: a valid name, unique
// configuration names, valid platform filters, and no nested sub-packages
// inside inline sub-package recipes.
func (r *Recipe) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("recipe has no name")
	}
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	seen := make(map[string]bool, len(r.Configurations))
	for _, c := range r.Configurations {
		if c.Name == "" {
			return fmt.Errorf("package %s: configuration with empty name", r.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("package %s: duplicate configuration %q", r.Name, c.Name)
		}
		seen[c.Name] = true
		for _, f := range c.Platforms {
			if err := platform.ValidateFilter(f); err != nil {
				return fmt.Errorf("package %s, configuration %q: %w", r.Name, c.Name, err)
			}
		}
	}
	for _, sp := range r.SubPackages {
		if sp.Recipe != nil {
			if len(sp.Recipe.SubPackages) > 0 {
				return fmt.Errorf("package %s: sub-package %q must not declare nested sub-packages", r.Name, sp.Recipe.Name)
			}
			if err := sp.Recipe.Validate(); err != nil {
				return err
			}
		} else if sp.Path == "" {
			return fmt.Errorf("package %s: sub-package entry with neither path nor recipe", r.Name)
		}
	}
	return nil
}

// GetConfiguration returns the named configuration or nil.
func (r *Recipe) GetConfiguration(name string) *Configuration {
	for i := range r.Configurations {
		if r.Configurations[i].Name == name {
			return &r.Configurations[i]
		}
	}
	return nil
}

// ConfigurationNames returns the configuration names in declaration
// order.
func (r *Recipe) ConfigurationNames() []string {
	names := make([]string, len(r.Configurations))
	for i, c := range r.Configurations {
		names[i] = c.Name
	}
	return names
}

// AllDependencies returns the union of the root template's dependencies
// and every configuration's dependencies.
func (r *Recipe) AllDependencies() map[string]version.Dependency {
	deps := make(map[string]version.Dependency)
	for name, d := range r.BuildSettings.Dependencies {
		deps[name] = d
	}
	for _, c := range r.Configurations {
		for name, d := range c.BuildSettings.Dependencies {
			if existing, ok := deps[name]; ok {
				deps[name] = existing.Merge(d)
			} else {
				deps[name] = d
			}
		}
	}
	return deps
}

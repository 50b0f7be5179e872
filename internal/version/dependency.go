package version

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Dependency is a constraint on a single package: either a version range
// (which covers exact versions and branch specs) or a filesystem path.
// The two variants are mutually exclusive; Path takes precedence when set.
type Dependency struct {
	Range Range
	Path  string

	// Optional marks a dependency that may remain unselected.
	Optional bool

	// Default marks an optional dependency that is selected unless the
	// prior selection state already deselected it. Only meaningful when
	// Optional is set.
	Default bool
}

// ParseDependency parses a textual dependency spec: any form ParseRange
// accepts, or a path when the spec starts with "./", "../", "/" or "~/".
func ParseDependency(spec string) (Dependency, error) {
	if isPathSpec(spec) {
		return Dependency{Path: spec}, nil
	}
	r, err := ParseRange(spec)
	if err != nil {
		return Dependency{}, err
	}
	return Dependency{Range: r}, nil
}

func isPathSpec(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		strings.HasPrefix(spec, "/") || strings.HasPrefix(spec, "~/")
}

// FromVersion returns an exact dependency on v.
func FromVersion(v Version) Dependency {
	return Dependency{Range: ExactRange(v)}
}

// FromPath returns a path dependency on p.
func FromPath(p string) Dependency {
	return Dependency{Path: p}
}

// AnyDependency matches every release.
func AnyDependency() Dependency {
	return Dependency{Range: AnyRange()}
}

// InvalidDependency matches nothing.
func InvalidDependency() Dependency {
	return Dependency{Range: InvalidRange()}
}

// IsPath reports whether the dependency is a path spec.
func (d Dependency) IsPath() bool { return d.Path != "" }

// IsValid reports whether the dependency can be satisfied at all.
func (d Dependency) IsValid() bool { return d.IsPath() || d.Range.IsValid() }

// IsExact reports whether the dependency names exactly one version.
func (d Dependency) IsExact() bool { return !d.IsPath() && d.Range.IsExact() }

// ExactVersion returns the single version of an exact dependency, or
// Unknown when the dependency is not exact.
func (d Dependency) ExactVersion() Version {
	if !d.IsExact() {
		return Unknown
	}
	return d.Range.Min
}

// Matches reports whether a concrete version satisfies the constraint.
// Path specs match nothing by version; the project layer resolves them
// structurally.
func (d Dependency) Matches(v Version) bool {
	if d.IsPath() {
		return false
	}
	return d.Range.Matches(v)
}

// Merge intersects two constraints on the same package. Mixing a path
// spec with a different path is invalid; a path spec merged with a range
// yields the path spec (path pins win). The optional flag survives only
// when both sides are optional; default survives when either side has it.
func (d Dependency) Merge(o Dependency) Dependency {
	out := Dependency{
		Optional: d.Optional && o.Optional,
		Default:  d.Default || o.Default,
	}
	switch {
	case d.IsPath() && o.IsPath():
		if d.Path != o.Path {
			return InvalidDependency()
		}
		out.Path = d.Path
	case d.IsPath():
		out.Path = d.Path
	case o.IsPath():
		out.Path = o.Path
	default:
		out.Range = d.Range.Merge(o.Range)
	}
	return out
}

// Equal reports whether two dependencies are the same constraint,
// including flags.
func (d Dependency) Equal(o Dependency) bool {
	if d.Optional != o.Optional || d.Default != o.Default || d.Path != o.Path {
		return false
	}
	if d.IsPath() {
		return true
	}
	return d.Range.Equal(o.Range)
}

func (d Dependency) String() string {
	if d.IsPath() {
		return d.Path
	}
	return d.Range.String()
}

// dependencyJSON is the object form of a dependency in recipes and
// selections.
type dependencyJSON struct {
	Version  string `json:"version,omitempty"`
	Path     string `json:"path,omitempty"`
	Optional bool   `json:"optional,omitempty"`
	Default  bool   `json:"default,omitempty"`
}

// MarshalJSON emits the short string form when no flags or path are
// present, and the object form otherwise.
func (d Dependency) MarshalJSON() ([]byte, error) {
	if !d.IsPath() && !d.Optional && !d.Default {
		return json.Marshal(d.String())
	}
	obj := dependencyJSON{Path: d.Path, Optional: d.Optional, Default: d.Default}
	if !d.IsPath() {
		obj.Version = d.Range.String()
	}
	return json.Marshal(obj)
}

// UnmarshalJSON accepts both the short string form and the object form.
func (d *Dependency) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		dep, err := ParseDependency(s)
		if err != nil {
			return err
		}
		*d = dep
		return nil
	}
	var obj dependencyJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Path != "" {
		*d = Dependency{Path: obj.Path, Optional: obj.Optional, Default: obj.Default}
		return nil
	}
	r, err := ParseRange(obj.Version)
	if err != nil {
		return fmt.Errorf("invalid version spec %q: %w", obj.Version, err)
	}
	*d = Dependency{Range: r, Optional: obj.Optional, Default: obj.Default}
	return nil
}

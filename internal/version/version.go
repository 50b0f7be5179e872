// Package version implements the version and dependency model: semantic
// versions with branch and sentinel forms, version ranges, and the tagged
// dependency variant used throughout recipe, resolver and project code.
package version

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a structured package version. It is one of three kinds:
//
//   - a numeric semantic version "MAJOR.MINOR.PATCH[-PRE][+BUILD]"
//   - a branch version "~name" (e.g. "~master")
//   - the Unknown sentinel (zero value), meaning "no version recorded"
//
// The total order places Unknown below everything, numeric versions in
// semver order (pre-releases before their release), and branches after all
// numeric versions, ordered lexicographically among themselves.
type Version struct {
	s   string
	sem *semver.Version // nil for branches and Unknown
}

// Unknown is the "no version recorded" sentinel.
var Unknown = Version{}

// Master is the default branch version "~master".
var Master = Version{s: "~master"}

// Parse parses a version string: a numeric semver or a "~branch" form.
func Parse(s string) (Version, error) {
	if s == "" {
		return Unknown, nil
	}
	if strings.HasPrefix(s, "~") {
		name := s[1:]
		if name == "" {
			return Version{}, fmt.Errorf("empty branch name in version %q", s)
		}
		return Version{s: s}, nil
	}
	sem, err := semver.StrictNewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version{s: s, sem: sem}, nil
}

// MustParse is Parse for statically known inputs; it panics on error.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsUnknown reports whether v is the Unknown sentinel.
func (v Version) IsUnknown() bool { return v.s == "" }

// IsBranch reports whether v is a branch version ("~name").
func (v Version) IsBranch() bool { return strings.HasPrefix(v.s, "~") }

// IsNumeric reports whether v is a numeric semantic version.
func (v Version) IsNumeric() bool { return v.sem != nil }

// IsPreRelease reports whether v is a numeric version with a pre-release
// component.
func (v Version) IsPreRelease() bool {
	return v.sem != nil && v.sem.Prerelease() != ""
}

// Branch returns the branch name without the "~" prefix, or "" if v is
// not a branch.
func (v Version) Branch() string {
	if !v.IsBranch() {
		return ""
	}
	return v.s[1:]
}

// Compare returns -1, 0 or 1 ordering v against o.
func (v Version) Compare(o Version) int {
	vk, ok := v.kind(), o.kind()
	if vk != ok {
		if vk < ok {
			return -1
		}
		return 1
	}
	switch vk {
	case kindUnknown:
		return 0
	case kindNumeric:
		return v.sem.Compare(o.sem)
	default:
		return strings.Compare(v.s, o.s)
	}
}

// Equal reports whether two versions compare equal.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

func (v Version) String() string { return v.s }

type versionKind int

const (
	kindUnknown versionKind = iota
	kindNumeric
	kindBranch
)

func (v Version) kind() versionKind {
	switch {
	case v.IsUnknown():
		return kindUnknown
	case v.IsBranch():
		return kindBranch
	default:
		return kindNumeric
	}
}

// Sort orders a slice of versions ascending in place.
func Sort(vs []Version) {
	slices.SortStableFunc(vs, Version.Compare)
}

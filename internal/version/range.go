package version

import (
	"fmt"
	"strings"
)

// minRelease and maxRelease bound the "match anything" range.
var (
	minRelease = MustParse("0.0.0")
	maxRelease = MustParse("99999.0.0")
)

// Range is an interval of versions with inclusive or exclusive bounds.
// An exact version is a range whose bounds coincide and are both
// inclusive; a branch spec is an exact range on a branch version.
type Range struct {
	Min    Version
	Max    Version
	IncMin bool
	IncMax bool
}

// AnyRange matches every numeric release.
func AnyRange() Range {
	return Range{Min: minRelease, Max: maxRelease, IncMin: true, IncMax: true}
}

// ExactRange matches exactly v.
func ExactRange(v Version) Range {
	return Range{Min: v, Max: v, IncMin: true, IncMax: true}
}

// InvalidRange matches nothing. Merging disjoint ranges produces it.
func InvalidRange() Range {
	return Range{Min: maxRelease, Max: minRelease}
}

// IsValid reports whether the range can match at least one version.
func (r Range) IsValid() bool {
	c := r.Min.Compare(r.Max)
	if c < 0 {
		return true
	}
	return c == 0 && r.IncMin && r.IncMax
}

// IsExact reports whether the range matches exactly one version.
func (r Range) IsExact() bool {
	return r.Min.Equal(r.Max) && r.IncMin && r.IncMax
}

// IsBranch reports whether the range is a branch spec.
func (r Range) IsBranch() bool { return r.Min.IsBranch() }

// IsAny reports whether the range admits every release.
func (r Range) IsAny() bool {
	return r.IncMin && r.IncMax && r.Min.Equal(minRelease) && r.Max.Equal(maxRelease)
}

// Matches reports whether v lies inside the range. Branch versions match
// only a branch spec naming the same branch; numeric bounds never admit a
// branch.
func (r Range) Matches(v Version) bool {
	if v.IsBranch() || r.IsBranch() {
		return r.IsExact() && r.Min.Equal(v)
	}
	if v.IsUnknown() {
		return false
	}
	if c := v.Compare(r.Min); c < 0 || (c == 0 && !r.IncMin) {
		return false
	}
	if c := v.Compare(r.Max); c > 0 || (c == 0 && !r.IncMax) {
		return false
	}
	return true
}

// Merge intersects two ranges. The result is invalid when they are
// disjoint or when exactly one side is a branch spec.
func (r Range) Merge(o Range) Range {
	if r.IsBranch() || o.IsBranch() {
		if r.IsBranch() && o.IsBranch() && r.Min.Equal(o.Min) {
			return r
		}
		return InvalidRange()
	}
	out := r
	if c := o.Min.Compare(out.Min); c > 0 {
		out.Min, out.IncMin = o.Min, o.IncMin
	} else if c == 0 && !o.IncMin {
		out.IncMin = false
	}
	if c := o.Max.Compare(out.Max); c < 0 {
		out.Max, out.IncMax = o.Max, o.IncMax
	} else if c == 0 && !o.IncMax {
		out.IncMax = false
	}
	return out
}

// Equal reports structural equality of two ranges.
func (r Range) Equal(o Range) bool {
	return r.IncMin == o.IncMin && r.IncMax == o.IncMax &&
		r.Min.Equal(o.Min) && r.Max.Equal(o.Max)
}

func (r Range) String() string {
	if !r.IsValid() {
		return "invalid"
	}
	if r.IsBranch() {
		return r.Min.String()
	}
	if r.IsExact() {
		return r.Min.String()
	}
	if r.IsAny() {
		return "*"
	}
	var parts []string
	op := ">"
	if r.IncMin {
		op = ">="
	}
	parts = append(parts, op+r.Min.String())
	if !r.Max.Equal(maxRelease) {
		op = "<"
		if r.IncMax {
			op = "<="
		}
		parts = append(parts, op+r.Max.String())
	}
	return strings.Join(parts, " ")
}

// ParseRange parses a version-range spec:
//
//	"*"                 any release
//	"1.2.3" / "==1.2.3" exact
//	"~branch"           branch spec
//	">=1.2.3 <2.0.0"    bounded (each bound one of >=, >, <=, <)
//	"^1.2.3"            same-major range
//	"~>1.2.3"           approximate: >=1.2.3 <1.3.0 ( "~>1.2" means <2.0.0 )
func ParseRange(spec string) (Range, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == "*":
		return AnyRange(), nil
	case strings.HasPrefix(spec, "~>"):
		return parseApprox(spec[2:])
	case strings.HasPrefix(spec, "^"):
		return parseCaret(spec[1:])
	case strings.HasPrefix(spec, "~"):
		v, err := Parse(spec)
		if err != nil {
			return Range{}, err
		}
		return ExactRange(v), nil
	case strings.HasPrefix(spec, "=="):
		v, err := Parse(strings.TrimSpace(spec[2:]))
		if err != nil {
			return Range{}, err
		}
		return ExactRange(v), nil
	case strings.HasPrefix(spec, ">") || strings.HasPrefix(spec, "<"):
		return parseBounds(spec)
	default:
		v, err := Parse(spec)
		if err != nil {
			return Range{}, err
		}
		return ExactRange(v), nil
	}
}

func parseBounds(spec string) (Range, error) {
	r := AnyRange()
	for _, field := range strings.Fields(spec) {
		var op string
		for _, cand := range []string{">=", "<=", ">", "<"} {
			if strings.HasPrefix(field, cand) {
				op = cand
				break
			}
		}
		if op == "" {
			return Range{}, fmt.Errorf("invalid bound %q in range %q", field, spec)
		}
		v, err := Parse(field[len(op):])
		if err != nil {
			return Range{}, err
		}
		switch op {
		case ">=":
			r.Min, r.IncMin = v, true
		case ">":
			r.Min, r.IncMin = v, false
		case "<=":
			r.Max, r.IncMax = v, true
		case "<":
			r.Max, r.IncMax = v, false
		}
	}
	return r, nil
}

func parseCaret(spec string) (Range, error) {
	major, minor, patch, n, err := parsePartial(spec)
	if err != nil {
		return Range{}, err
	}
	lo := MustParse(fmt.Sprintf("%d.%d.%d", major, minor, patch))
	var hi Version
	if major == 0 && n >= 2 {
		hi = MustParse(fmt.Sprintf("0.%d.0", minor+1))
	} else {
		hi = MustParse(fmt.Sprintf("%d.0.0", major+1))
	}
	return Range{Min: lo, Max: hi, IncMin: true, IncMax: false}, nil
}

func parseApprox(spec string) (Range, error) {
	major, minor, patch, n, err := parsePartial(spec)
	if err != nil {
		return Range{}, err
	}
	lo := MustParse(fmt.Sprintf("%d.%d.%d", major, minor, patch))
	var hi Version
	if n >= 3 {
		hi = MustParse(fmt.Sprintf("%d.%d.0", major, minor+1))
	} else {
		hi = MustParse(fmt.Sprintf("%d.0.0", major+1))
	}
	return Range{Min: lo, Max: hi, IncMin: true, IncMax: false}, nil
}

// parsePartial parses "1", "1.2" or "1.2.3", returning the components and
// how many were present.
func parsePartial(spec string) (major, minor, patch, n int, err error) {
	parts := strings.Split(strings.TrimSpace(spec), ".")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, 0, 0, 0, fmt.Errorf("invalid partial version %q", spec)
	}
	nums := []*int{&major, &minor, &patch}
	for i, p := range parts {
		if _, err := fmt.Sscanf(p, "%d", nums[i]); err != nil {
			return 0, 0, 0, 0, fmt.Errorf("invalid partial version %q", spec)
		}
	}
	return major, minor, patch, len(parts), nil
}

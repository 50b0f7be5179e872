package recipe

import (
	"fmt"
	"strings"

	"github.com/dub-build/dub/internal/platform"
	"github.com/dub-build/dub/internal/version"
)

// BuildOptions is a flag set of compiler behavior switches.
type BuildOptions uint32

const (
	OptionDebugMode BuildOptions = 1 << iota
	OptionReleaseMode
	OptionCoverage
	OptionDebugInfo
	OptionOptimize
	OptionInline
	OptionNoBoundsCheck
	OptionUnittests
	OptionProfile
	OptionProfileGC
	OptionSyntaxOnly
	OptionWarnings
	OptionWarningsAsErrors
	OptionIgnoreDeprecations
	OptionDeprecationWarnings
	OptionDeprecationErrors
	OptionStackStomping
	OptionBetterC
	OptionLowmem
)

var buildOptionNames = []struct {
	bit  BuildOptions
	name string
}{
	{OptionDebugMode, "debugMode"},
	{OptionReleaseMode, "releaseMode"},
	{OptionCoverage, "coverage"},
	{OptionDebugInfo, "debugInfo"},
	{OptionOptimize, "optimize"},
	{OptionInline, "inline"},
	{OptionNoBoundsCheck, "noBoundsCheck"},
	{OptionUnittests, "unittests"},
	{OptionProfile, "profile"},
	{OptionProfileGC, "profileGC"},
	{OptionSyntaxOnly, "syntaxOnly"},
	{OptionWarnings, "warnings"},
	{OptionWarningsAsErrors, "warningsAsErrors"},
	{OptionIgnoreDeprecations, "ignoreDeprecations"},
	{OptionDeprecationWarnings, "deprecationWarnings"},
	{OptionDeprecationErrors, "deprecationErrors"},
	{OptionStackStomping, "stackStomping"},
	{OptionBetterC, "betterC"},
	{OptionLowmem, "lowmem"},
}

// ParseBuildOption maps an option name to its bit.
func ParseBuildOption(name string) (BuildOptions, error) {
	for _, e := range buildOptionNames {
		if e.name == name {
			return e.bit, nil
		}
	}
	return 0, fmt.Errorf("unknown build option %q", name)
}

// Names returns the names of the set bits in declaration order.
func (o BuildOptions) Names() []string {
	var names []string
	for _, e := range buildOptionNames {
		if o&e.bit != 0 {
			names = append(names, e.name)
		}
	}
	return names
}

// BuildRequirements is a flag set of constraints a package places on how
// it may be built.
type BuildRequirements uint32

const (
	RequireAllowWarnings BuildRequirements = 1 << iota
	RequireSilenceWarnings
	RequireDisallowDeprecations
	RequireSilenceDeprecations
	RequireDisallowInlining
	RequireDisallowOptimization
	RequireBoundsCheck
	RequireContracts
	RequireRelaxProperties
	RequireNoDefaultFlags
)

var buildRequirementNames = []struct {
	bit  BuildRequirements
	name string
}{
	{RequireAllowWarnings, "allowWarnings"},
	{RequireSilenceWarnings, "silenceWarnings"},
	{RequireDisallowDeprecations, "disallowDeprecations"},
	{RequireSilenceDeprecations, "silenceDeprecations"},
	{RequireDisallowInlining, "disallowInlining"},
	{RequireDisallowOptimization, "disallowOptimization"},
	{RequireBoundsCheck, "requireBoundsCheck"},
	{RequireContracts, "requireContracts"},
	{RequireRelaxProperties, "relaxProperties"},
	{RequireNoDefaultFlags, "noDefaultFlags"},
}

// ParseBuildRequirement maps a requirement name to its bit.
func ParseBuildRequirement(name string) (BuildRequirements, error) {
	for _, e := range buildRequirementNames {
		if e.name == name {
			return e.bit, nil
		}
	}
	return 0, fmt.Errorf("unknown build requirement %q", name)
}

// Names returns the names of the set bits in declaration order.
func (r BuildRequirements) Names() []string {
	var names []string
	for _, e := range buildRequirementNames {
		if r&e.bit != 0 {
			names = append(names, e.name)
		}
	}
	return names
}

// TaggedStrings is one platform-conditional entry of a list field.
type TaggedStrings struct {
	Filter string
	Values []string
}

// PlatformStrings is a list field whose entries carry platform filters.
// Entries keep declaration order; resolution against a platform is a
// stable fold over the matching entries.
type PlatformStrings struct {
	Entries []TaggedStrings
}

// Add appends values under the given filter. Consecutive additions with
// the same filter collapse into one entry to keep the encoded form
// compact.
func (p *PlatformStrings) Add(filter string, values ...string) {
	if len(values) == 0 {
		return
	}
	if n := len(p.Entries); n > 0 && p.Entries[n-1].Filter == filter {
		p.Entries[n-1].Values = append(p.Entries[n-1].Values, values...)
		return
	}
	p.Entries = append(p.Entries, TaggedStrings{Filter: filter, Values: values})
}

// Get folds the entries matching the platform, preserving declaration
// order.
func (p PlatformStrings) Get(pl platform.Platform) []string {
	var out []string
	for _, e := range p.Entries {
		if pl.Matches(e.Filter) {
			out = append(out, e.Values...)
		}
	}
	return out
}

// IsEmpty reports whether no entry is present.
func (p PlatformStrings) IsEmpty() bool { return len(p.Entries) == 0 }

// TaggedBits is one platform-conditional entry of a flag-set field.
type TaggedBits struct {
	Filter string
	Bits   uint32
}

// PlatformBits is a flag-set field whose entries carry platform filters.
type PlatformBits struct {
	Entries []TaggedBits
}

// Add ORs bits into the entry for the given filter.
func (p *PlatformBits) Add(filter string, bits uint32) {
	for i := range p.Entries {
		if p.Entries[i].Filter == filter {
			p.Entries[i].Bits |= bits
			return
		}
	}
	p.Entries = append(p.Entries, TaggedBits{Filter: filter, Bits: bits})
}

// Get ORs together the bits of all entries matching the platform.
func (p PlatformBits) Get(pl platform.Platform) uint32 {
	var out uint32
	for _, e := range p.Entries {
		if pl.Matches(e.Filter) {
			out |= e.Bits
		}
	}
	return out
}

// IsEmpty reports whether no entry is present.
func (p PlatformBits) IsEmpty() bool { return len(p.Entries) == 0 }

// BuildSettingsTemplate is the pre-platform-filter form of a package's
// build settings, as written in the recipe.
type BuildSettingsTemplate struct {
	TargetType       TargetType
	TargetPath       string
	TargetName       string
	WorkingDirectory string
	MainSourceFile   string

	Dependencies      map[string]version.Dependency
	SubConfigurations map[string]string

	DFlags               PlatformStrings
	LFlags               PlatformStrings
	Libs                 PlatformStrings
	SourceFiles          PlatformStrings
	SourcePaths          PlatformStrings
	ExcludedSourceFiles  PlatformStrings
	ImportPaths          PlatformStrings
	ImportFiles          PlatformStrings
	StringImportPaths    PlatformStrings
	StringImportFiles    PlatformStrings
	Versions             PlatformStrings
	DebugVersions        PlatformStrings
	PreGenerateCommands  PlatformStrings
	PostGenerateCommands PlatformStrings
	PreBuildCommands     PlatformStrings
	PostBuildCommands    PlatformStrings

	BuildRequirements PlatformBits
	BuildOptions      PlatformBits
}

// AddDependency records a dependency, merging with an existing constraint
// on the same name.
func (t *BuildSettingsTemplate) AddDependency(name string, dep version.Dependency) {
	if t.Dependencies == nil {
		t.Dependencies = make(map[string]version.Dependency)
	}
	if existing, ok := t.Dependencies[name]; ok {
		t.Dependencies[name] = existing.Merge(dep)
		return
	}
	t.Dependencies[name] = dep
}

// SetSubConfiguration records a sub-configuration override for dep.
func (t *BuildSettingsTemplate) SetSubConfiguration(dep, config string) {
	if t.SubConfigurations == nil {
		t.SubConfigurations = make(map[string]string)
	}
	t.SubConfigurations[dep] = config
}

// ApplyTo folds the template through the platform filters into flat build
// settings. Scalars override when set; lists append.
func (t BuildSettingsTemplate) ApplyTo(bs *BuildSettings, pl platform.Platform) {
	if t.TargetType != TargetUnspecified {
		bs.TargetType = t.TargetType
	}
	if t.TargetPath != "" {
		bs.TargetPath = t.TargetPath
	}
	if t.TargetName != "" {
		bs.TargetName = t.TargetName
	}
	if t.WorkingDirectory != "" {
		bs.WorkingDirectory = t.WorkingDirectory
	}
	if t.MainSourceFile != "" {
		bs.MainSourceFile = t.MainSourceFile
	}
	bs.AddDFlags(t.DFlags.Get(pl)...)
	bs.AddLFlags(t.LFlags.Get(pl)...)
	bs.AddLibs(t.Libs.Get(pl)...)
	bs.AddSourceFiles(t.SourceFiles.Get(pl)...)
	bs.AddSourcePaths(t.SourcePaths.Get(pl)...)
	bs.AddExcludedSourceFiles(t.ExcludedSourceFiles.Get(pl)...)
	bs.AddImportPaths(t.ImportPaths.Get(pl)...)
	bs.AddImportFiles(t.ImportFiles.Get(pl)...)
	bs.AddStringImportPaths(t.StringImportPaths.Get(pl)...)
	bs.AddStringImportFiles(t.StringImportFiles.Get(pl)...)
	bs.AddVersions(t.Versions.Get(pl)...)
	bs.AddDebugVersions(t.DebugVersions.Get(pl)...)
	bs.PreGenerateCommands = append(bs.PreGenerateCommands, t.PreGenerateCommands.Get(pl)...)
	bs.PostGenerateCommands = append(bs.PostGenerateCommands, t.PostGenerateCommands.Get(pl)...)
	bs.PreBuildCommands = append(bs.PreBuildCommands, t.PreBuildCommands.Get(pl)...)
	bs.PostBuildCommands = append(bs.PostBuildCommands, t.PostBuildCommands.Get(pl)...)
	bs.BuildRequirements |= BuildRequirements(t.BuildRequirements.Get(pl))
	bs.BuildOptions |= BuildOptions(t.BuildOptions.Get(pl))
}

// BuildSettings is the flat, platform-resolved form handed to the
// compiler driver.
type BuildSettings struct {
	TargetType       TargetType
	TargetPath       string
	TargetName       string
	WorkingDirectory string
	MainSourceFile   string

	DFlags               []string
	LFlags               []string
	Libs                 []string
	SourceFiles          []string
	SourcePaths          []string
	ExcludedSourceFiles  []string
	ImportPaths          []string
	ImportFiles          []string
	StringImportPaths    []string
	StringImportFiles    []string
	Versions             []string
	DebugVersions        []string
	PreGenerateCommands  []string
	PostGenerateCommands []string
	PreBuildCommands     []string
	PostBuildCommands    []string

	BuildRequirements BuildRequirements
	BuildOptions      BuildOptions
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

// Flags and commands accumulate verbatim; path-like lists, libraries and
// version identifiers deduplicate.

func (bs *BuildSettings) AddDFlags(v ...string) { bs.DFlags = append(bs.DFlags, v...) }
func (bs *BuildSettings) AddLFlags(v ...string) { bs.LFlags = append(bs.LFlags, v...) }

func (bs *BuildSettings) AddLibs(v ...string) { bs.Libs = appendUnique(bs.Libs, v...) }

func (bs *BuildSettings) AddSourceFiles(v ...string) {
	bs.SourceFiles = appendUnique(bs.SourceFiles, v...)
}

func (bs *BuildSettings) AddSourcePaths(v ...string) {
	bs.SourcePaths = appendUnique(bs.SourcePaths, v...)
}

func (bs *BuildSettings) AddExcludedSourceFiles(v ...string) {
	bs.ExcludedSourceFiles = appendUnique(bs.ExcludedSourceFiles, v...)
}

func (bs *BuildSettings) AddImportPaths(v ...string) {
	bs.ImportPaths = appendUnique(bs.ImportPaths, v...)
}

func (bs *BuildSettings) AddImportFiles(v ...string) {
	bs.ImportFiles = appendUnique(bs.ImportFiles, v...)
}

func (bs *BuildSettings) AddStringImportPaths(v ...string) {
	bs.StringImportPaths = appendUnique(bs.StringImportPaths, v...)
}

func (bs *BuildSettings) AddStringImportFiles(v ...string) {
	bs.StringImportFiles = appendUnique(bs.StringImportFiles, v...)
}

func (bs *BuildSettings) AddVersions(v ...string) {
	bs.Versions = appendUnique(bs.Versions, v...)
}

func (bs *BuildSettings) AddDebugVersions(v ...string) {
	bs.DebugVersions = appendUnique(bs.DebugVersions, v...)
}

// AddOptions sets bits in the option flag set.
func (bs *BuildSettings) AddOptions(o BuildOptions) { bs.BuildOptions |= o }

// RemoveOptions clears bits from the option flag set.
func (bs *BuildSettings) RemoveOptions(o BuildOptions) { bs.BuildOptions &^= o }

// AddRequirements sets bits in the requirement flag set.
func (bs *BuildSettings) AddRequirements(r BuildRequirements) { bs.BuildRequirements |= r }

// SanitizeName converts a qualified package name into an identifier
// usable in a version tag: ':' and '-' become '_'.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '-':
			return '_'
		}
		return r
	}, name)
}

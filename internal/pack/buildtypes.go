package pack

import (
	"github.com/dub-build/dub/internal/config"
	"github.com/dub-build/dub/internal/platform"
	"github.com/dub-build/dub/internal/recipe"
)

// builtinBuildType returns the options and flags a recognized build type
// name mixes in, and false for any other name.
func builtinBuildType(name string) (recipe.BuildSettingsTemplate, bool) {
	var t recipe.BuildSettingsTemplate
	opts := func(o recipe.BuildOptions) recipe.BuildSettingsTemplate {
		t.BuildOptions.Add("", uint32(o))
		return t
	}
	switch name {
	case "plain":
		return t, true
	case "debug":
		return opts(recipe.OptionDebugMode | recipe.OptionDebugInfo), true
	case "release":
		return opts(recipe.OptionReleaseMode | recipe.OptionOptimize | recipe.OptionInline), true
	case "release-debug":
		return opts(recipe.OptionReleaseMode | recipe.OptionOptimize | recipe.OptionInline | recipe.OptionDebugInfo), true
	case "release-nobounds":
		return opts(recipe.OptionReleaseMode | recipe.OptionOptimize | recipe.OptionInline | recipe.OptionNoBoundsCheck), true
	case "unittest":
		return opts(recipe.OptionUnittests | recipe.OptionDebugMode | recipe.OptionDebugInfo), true
	case "profile":
		return opts(recipe.OptionProfile | recipe.OptionOptimize | recipe.OptionInline | recipe.OptionDebugInfo), true
	case "profile-gc":
		return opts(recipe.OptionProfileGC | recipe.OptionDebugInfo), true
	case "cov":
		return opts(recipe.OptionCoverage | recipe.OptionDebugInfo), true
	case "unittest-cov":
		return opts(recipe.OptionUnittests | recipe.OptionCoverage | recipe.OptionDebugMode | recipe.OptionDebugInfo), true
	case "docs":
		t.BuildOptions.Add("", uint32(recipe.OptionSyntaxOnly))
		t.DFlags.Add("", "-Dddocs")
		return t, true
	case "ddox":
		t.BuildOptions.Add("", uint32(recipe.OptionSyntaxOnly))
		t.DFlags.Add("", "-Xfdocs.json", "-Df__dummy.html")
		return t, true
	}
	return t, false
}

// AddBuildTypeSettings mixes the named build type into the settings.
// Build types declared in the recipe override the built-ins; the special
// name "$DFLAGS" pulls flags from the DFLAGS environment variable.
func (p *Package) AddBuildTypeSettings(bs *recipe.BuildSettings, pl platform.Platform, buildType string) error {
	if buildType == "$DFLAGS" {
		bs.AddDFlags(config.ExtraDFlags()...)
		return nil
	}
	if t, ok := p.recipe.BuildTypes[buildType]; ok {
		t.ApplyTo(bs, pl)
		return nil
	}
	if t, ok := builtinBuildType(buildType); ok {
		t.ApplyTo(bs, pl)
		return nil
	}
	return &UnknownBuildTypeError{Package: p.Name(), BuildType: buildType}
}

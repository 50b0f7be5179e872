package recipe

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/platform"
)

func mustParse(t *testing.T, data, filename string) Recipe {
	t.Helper()
	r, err := Parse([]byte(data), filename, "", log.NewNoop())
	if err != nil {
		t.Fatalf("Parse(%s) error = %v", filename, err)
	}
	return r
}

const sampleJSON = `{
	"name": "vibrance",
	"version": "1.4.0",
	"description": "An example",
	"authors": ["Jane Doe"],
	"license": "MIT",
	"targetType": "library",
	"dependencies": {
		"zlib": ">=1.0.0 <2.0.0",
		"local-helper": {"path": "./helper"},
		"extras": {"version": "*", "optional": true, "default": true}
	},
	"dflags": ["-g"],
	"dflags-linux-x86_64": ["-fPIC"],
	"libs-windows": ["ws2_32"],
	"buildOptions": ["debugMode", "debugInfo"],
	"configurations": [
		{"name": "full", "versions": ["Full"]},
		{"name": "lean", "platforms": ["linux"], "subConfigurations": {"zlib": "minimal"}}
	],
	"buildTypes": {
		"asan": {"dflags": ["-fsanitize=address"]}
	},
	"subPackages": [
		"./tools",
		{"name": "runtime", "targetType": "sourceLibrary"}
	]
}`

func TestParseJSON(t *testing.T) {
	r := mustParse(t, sampleJSON, "dub.json")

	if r.Name != "vibrance" || r.Version != "1.4.0" {
		t.Errorf("header = %s %s", r.Name, r.Version)
	}
	if len(r.BuildSettings.Dependencies) != 3 {
		t.Fatalf("dependencies = %d, want 3", len(r.BuildSettings.Dependencies))
	}
	if d := r.BuildSettings.Dependencies["local-helper"]; !d.IsPath() || d.Path != "./helper" {
		t.Errorf("local-helper = %v, want path ./helper", d)
	}
	if d := r.BuildSettings.Dependencies["extras"]; !d.Optional || !d.Default {
		t.Errorf("extras flags = %+v, want optional default", d)
	}

	linux := platform.Host("linux", "x86_64", "dmd")
	windows := platform.Host("windows", "x86_64", "dmd")
	if got := r.BuildSettings.DFlags.Get(linux); len(got) != 2 || got[0] != "-g" || got[1] != "-fPIC" {
		t.Errorf("linux dflags = %v", got)
	}
	if got := r.BuildSettings.DFlags.Get(windows); len(got) != 1 || got[0] != "-g" {
		t.Errorf("windows dflags = %v", got)
	}
	if got := r.BuildSettings.Libs.Get(windows); len(got) != 1 || got[0] != "ws2_32" {
		t.Errorf("windows libs = %v", got)
	}
	if opts := BuildOptions(r.BuildSettings.BuildOptions.Get(linux)); opts != OptionDebugMode|OptionDebugInfo {
		t.Errorf("buildOptions = %v", opts.Names())
	}

	if len(r.Configurations) != 2 {
		t.Fatalf("configurations = %d, want 2", len(r.Configurations))
	}
	if r.Configurations[1].BuildSettings.SubConfigurations["zlib"] != "minimal" {
		t.Error("lean subConfiguration for zlib missing")
	}
	if len(r.SubPackages) != 2 || r.SubPackages[0].Path != "./tools" || r.SubPackages[1].Recipe == nil {
		t.Errorf("subPackages = %+v", r.SubPackages)
	}
	if _, ok := r.BuildTypes["asan"]; !ok {
		t.Error("buildTypes missing asan")
	}
}

const sampleSDL = `name "vibrance"
version "1.4.0"
description "An example"
authors "Jane Doe"
license "MIT"
targetType "library"
dependency "zlib" version=">=1.0.0 <2.0.0"
dependency "local-helper" path="./helper"
dependency "extras" version="*" optional=true default=true
dflags "-g"
dflags "-fPIC" platform="linux-x86_64"
libs "ws2_32" platform="windows"
buildOptions "debugMode" "debugInfo"
configuration "full" {
	versions "Full"
}
configuration "lean" {
	platforms "linux"
	subConfiguration "zlib" "minimal"
}
buildType "asan" {
	dflags "-fsanitize=address"
}
subPackage "./tools"
subPackage {
	name "runtime"
	targetType "sourceLibrary"
}
`

func TestCrossFormatEquivalence(t *testing.T) {
	fromJSON := mustParse(t, sampleJSON, "dub.json")
	fromSDL := mustParse(t, sampleSDL, "dub.sdl")
	if diff := cmp.Diff(fromJSON, fromSDL); diff != "" {
		t.Errorf("JSON and SDL decode differ (-json +sdl):\n%s", diff)
	}
}

func TestRoundTripJSON(t *testing.T) {
	r := mustParse(t, sampleJSON, "dub.json")
	out, err := Encode(r, FormatJSON)
	if err != nil {
		t.Fatalf("Encode error = %v", err)
	}
	r2 := mustParse(t, string(out), "dub.json")
	if diff := cmp.Diff(r, r2); diff != "" {
		t.Errorf("JSON round trip not idempotent (-orig +reparsed):\n%s", diff)
	}
}

func TestRoundTripSDL(t *testing.T) {
	r := mustParse(t, sampleSDL, "dub.sdl")
	out, err := Encode(r, FormatSDL)
	if err != nil {
		t.Fatalf("Encode error = %v", err)
	}
	r2 := mustParse(t, string(out), "dub.sdl")
	if diff := cmp.Diff(r, r2); diff != "" {
		t.Errorf("SDL round trip not idempotent (-orig +reparsed):\n%s", diff)
	}
}

func TestCrossFormatConversion(t *testing.T) {
	r := mustParse(t, sampleSDL, "dub.sdl")
	out, err := Encode(r, FormatJSON)
	if err != nil {
		t.Fatalf("Encode error = %v", err)
	}
	r2 := mustParse(t, string(out), "dub.json")
	if diff := cmp.Diff(r, r2); diff != "" {
		t.Errorf("SDL -> JSON conversion lost data:\n%s", diff)
	}
}

func TestParseBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"name": "bom"}`)...)
	r, err := Parse(data, "dub.json", "", log.NewNoop())
	if err != nil {
		t.Fatalf("Parse with BOM error = %v", err)
	}
	if r.Name != "bom" {
		t.Errorf("Name = %q", r.Name)
	}
}

func TestUnsupportedSuffix(t *testing.T) {
	if _, err := Parse([]byte("{}"), "dub.yaml", "", log.NewNoop()); err == nil {
		t.Error("expected error for unsupported suffix")
	}
}

func TestMalformedInput(t *testing.T) {
	if _, err := Parse([]byte(`{"name": `), "dub.json", "", log.NewNoop()); err == nil {
		t.Error("expected error for truncated JSON")
	}
	if _, err := Parse([]byte("name \"x\nconfiguration {"), "dub.sdl", "", log.NewNoop()); err == nil {
		t.Error("expected error for unterminated SDL string")
	}
	if _, err := Parse([]byte(`{"targetType": 42}`), "dub.json", "", log.NewNoop()); err == nil {
		t.Error("expected InvalidValue for numeric targetType")
	}
}

func TestDefaultTargetType(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  TargetType
	}{
		{
			"absent top level defaults to library",
			"name \"test\"\nconfiguration \"a\" {\n}\n",
			TargetLibrary,
		},
		{
			"autodetect top level defaults to library",
			"name \"test\"\ntargetType \"autodetect\"\nconfiguration \"a\" {\n}\n",
			TargetLibrary,
		},
		{
			"executable top level is inherited",
			"name \"test\"\ntargetType \"executable\"\nconfiguration \"a\" {\n}\n",
			TargetExecutable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustParse(t, tt.input, "dub.sdl")
			if len(r.Configurations) != 1 || r.Configurations[0].Name != "a" {
				t.Fatalf("configurations = %+v", r.Configurations)
			}
			got := EffectiveTargetType(r.Configurations[0].BuildSettings.TargetType, r.BuildSettings.TargetType)
			if got != tt.want {
				t.Errorf("effective target type = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	r := Recipe{Name: "ok", Configurations: []Configuration{{Name: "a"}, {Name: "a"}}}
	if err := r.Validate(); err == nil {
		t.Error("duplicate configuration names should fail validation")
	}

	nested := Recipe{Name: "outer", SubPackages: []SubPackage{{
		Recipe: &Recipe{Name: "inner", SubPackages: []SubPackage{{Path: "./deep"}}},
	}}}
	if err := nested.Validate(); err == nil {
		t.Error("nested inline sub-packages should fail validation")
	}

	bad := Recipe{Name: "Has Uppercase"}
	if err := bad.Validate(); err == nil {
		t.Error("invalid name charset should fail validation")
	}
}

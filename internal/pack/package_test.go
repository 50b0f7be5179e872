package pack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/platform"
	"github.com/dub-build/dub/internal/recipe"
	"github.com/dub-build/dub/internal/version"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func loadDir(t *testing.T, dir string) *Package {
	t.Helper()
	p, err := Load(dir, LoadOptions{Logger: log.NewNoop()})
	if err != nil {
		t.Fatalf("Load(%s) error = %v", dir, err)
	}
	return p
}

func TestLoadDiscoversRecipeFile(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"dub.sdl": "name \"disco\"\nversion \"1.0.0\"\n",
	})
	p := loadDir(t, dir)
	if p.Name() != "disco" {
		t.Errorf("Name = %q", p.Name())
	}
	if got := p.Version().String(); got != "1.0.0" {
		t.Errorf("Version = %s", got)
	}
}

func TestLoadPrecedenceJSONBeforeSDL(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"dub.json": `{"name": "fromjson", "version": "1.0.0"}`,
		"dub.sdl":  "name \"fromsdl\"\nversion \"2.0.0\"\n",
	})
	p := loadDir(t, dir)
	if p.Name() != "fromjson" {
		t.Errorf("Name = %q, want fromjson (dub.json has precedence)", p.Name())
	}
}

func TestLoadMissingRecipe(t *testing.T) {
	_, err := Load(t.TempDir(), LoadOptions{Logger: log.NewNoop()})
	if _, ok := err.(*RecipeNotFoundError); !ok {
		t.Errorf("error = %v, want RecipeNotFoundError", err)
	}
}

func TestVersionFallsBackToMaster(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"dub.json": `{"name": "nover"}`,
	})
	p := loadDir(t, dir)
	if !p.Version().Equal(version.Master) {
		t.Errorf("Version = %v, want ~master", p.Version())
	}
}

func TestVersionInference(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"dub.json": `{"name": "scmver"}`,
	})
	p, err := Load(dir, LoadOptions{
		Logger: log.NewNoop(),
		InferVersion: func(string) (version.Version, error) {
			return version.MustParse("2.5.0"), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Version().String(); got != "2.5.0" {
		t.Errorf("Version = %s, want 2.5.0", got)
	}
}

func TestDefaultPathsAndMainDetection(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"dub.json":     `{"name": "appish"}`,
		"source/app.d": "void main() {}\n",
		"views/page":   "x",
	})
	p := loadDir(t, dir)

	linux := platform.Host("linux", "x86_64", "dmd")
	bs, err := p.GetBuildSettings(linux, "application")
	if err != nil {
		t.Fatal(err)
	}
	if len(bs.SourcePaths) != 1 || bs.SourcePaths[0] != "source" {
		t.Errorf("SourcePaths = %v", bs.SourcePaths)
	}
	if len(bs.ImportPaths) != 1 || bs.ImportPaths[0] != "source" {
		t.Errorf("ImportPaths = %v", bs.ImportPaths)
	}
	if len(bs.StringImportPaths) != 1 || bs.StringImportPaths[0] != "views" {
		t.Errorf("StringImportPaths = %v", bs.StringImportPaths)
	}
	if bs.MainSourceFile != "source/app.d" {
		t.Errorf("MainSourceFile = %q", bs.MainSourceFile)
	}

	// A detected main file with no declared configurations synthesizes
	// application + library, the latter excluding the main file.
	cfgs := p.Configurations()
	if len(cfgs) != 2 || cfgs[0] != "application" || cfgs[1] != "library" {
		t.Fatalf("Configurations = %v", cfgs)
	}
	lib, err := p.GetBuildSettings(linux, "library")
	if err != nil {
		t.Fatal(err)
	}
	if lib.TargetType != recipe.TargetLibrary {
		t.Errorf("library target type = %v", lib.TargetType)
	}
	if len(lib.ExcludedSourceFiles) != 1 || lib.ExcludedSourceFiles[0] != "source/app.d" {
		t.Errorf("library ExcludedSourceFiles = %v", lib.ExcludedSourceFiles)
	}
}

func TestSynthesizedLibraryConfiguration(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"dub.json":     `{"name": "libonly"}`,
		"src/libmod.d": "module libmod;\n",
	})
	p := loadDir(t, dir)
	cfgs := p.Configurations()
	if len(cfgs) != 1 || cfgs[0] != "library" {
		t.Fatalf("Configurations = %v", cfgs)
	}
	bs, err := p.GetBuildSettings(platform.Host("linux", "x86_64", "dmd"), "library")
	if err != nil {
		t.Fatal(err)
	}
	if bs.TargetType != recipe.TargetLibrary {
		t.Errorf("TargetType = %v", bs.TargetType)
	}
	if len(bs.SourcePaths) != 1 || bs.SourcePaths[0] != "src" {
		t.Errorf("SourcePaths = %v", bs.SourcePaths)
	}
}

func TestTargetNameDefaultsToQualifiedName(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"dub.json": `{"name": "parent", "version": "1.0.0", "subPackages": [{"name": "child"}]}`,
	})
	p := loadDir(t, dir)
	sub, err := FromRecipe(*p.Recipe().SubPackages[0].Recipe, dir, p, log.NewNoop())
	if err != nil {
		t.Fatal(err)
	}
	if sub.Name() != "parent:child" {
		t.Errorf("sub name = %q", sub.Name())
	}
	if !sub.Version().Equal(p.Version()) {
		t.Errorf("sub version = %v, want parent's %v", sub.Version(), p.Version())
	}
	bs, err := sub.GetBuildSettings(platform.Host("linux", "x86_64", "dmd"), "library")
	if err != nil {
		t.Fatal(err)
	}
	if bs.TargetName != "parent_child" {
		t.Errorf("TargetName = %q, want parent_child", bs.TargetName)
	}
}

func TestConfigurationPlatformFilters(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"dub.json": `{
			"name": "filtered",
			"version": "1.0.0",
			"configurations": [
				{"name": "winapp", "platforms": ["windows"], "targetType": "executable"},
				{"name": "lib", "targetType": "library"}
			]
		}`,
	})
	p := loadDir(t, dir)
	linux := platform.Host("linux", "x86_64", "dmd")
	windows := platform.Host("windows", "x86_64", "dmd")

	if got := p.GetDefaultConfiguration(linux, false); got != "lib" {
		t.Errorf("linux default = %q, want lib", got)
	}
	if got := p.GetDefaultConfiguration(windows, true); got != "winapp" {
		t.Errorf("windows default (allow non-library) = %q, want winapp", got)
	}
	if got := p.GetDefaultConfiguration(windows, false); got != "lib" {
		t.Errorf("windows default (library only) = %q, want lib", got)
	}

	if got := p.GetPlatformConfigurations(windows, true); len(got) != 2 {
		t.Errorf("windows configurations (main) = %v", got)
	}
	if got := p.GetPlatformConfigurations(linux, true); len(got) != 1 || got[0] != "lib" {
		t.Errorf("linux configurations = %v", got)
	}
}

func TestRootThenConfigurationSettingsOrder(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"dub.json": `{
			"name": "ordered",
			"version": "1.0.0",
			"dflags": ["-root"],
			"configurations": [
				{"name": "a", "dflags": ["-config"]}
			]
		}`,
	})
	p := loadDir(t, dir)
	bs, err := p.GetBuildSettings(platform.Host("linux", "x86_64", "dmd"), "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(bs.DFlags) != 2 || bs.DFlags[0] != "-root" || bs.DFlags[1] != "-config" {
		t.Errorf("DFlags = %v, want root flags before configuration flags", bs.DFlags)
	}
}

func TestGetSubConfiguration(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"dub.json": `{
			"name": "overrider",
			"version": "1.0.0",
			"dependencies": {"dep": "*"},
			"subConfigurations": {"dep": "rootchoice"},
			"configurations": [
				{"name": "special", "subConfigurations": {"dep": "specialchoice"}},
				{"name": "plainc"}
			]
		}`,
	})
	p := loadDir(t, dir)
	pl := platform.Host("linux", "x86_64", "dmd")
	if got := p.GetSubConfiguration("special", "dep", pl); got != "specialchoice" {
		t.Errorf("special override = %q", got)
	}
	if got := p.GetSubConfiguration("plainc", "dep", pl); got != "rootchoice" {
		t.Errorf("root override = %q", got)
	}
	if got := p.GetSubConfiguration("plainc", "other", pl); got != "" {
		t.Errorf("missing override = %q", got)
	}
}

func TestBuildTypes(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"dub.json": `{
			"name": "typed",
			"version": "1.0.0",
			"buildTypes": {
				"release": {"buildOptions": ["releaseMode"]}
			}
		}`,
	})
	p := loadDir(t, dir)
	pl := platform.Host("linux", "x86_64", "dmd")

	var bs recipe.BuildSettings
	if err := p.AddBuildTypeSettings(&bs, pl, "debug"); err != nil {
		t.Fatal(err)
	}
	if bs.BuildOptions != recipe.OptionDebugMode|recipe.OptionDebugInfo {
		t.Errorf("debug options = %v", bs.BuildOptions.Names())
	}

	// The user-declared release build type overrides the built-in.
	var rel recipe.BuildSettings
	if err := p.AddBuildTypeSettings(&rel, pl, "release"); err != nil {
		t.Fatal(err)
	}
	if rel.BuildOptions != recipe.OptionReleaseMode {
		t.Errorf("overridden release options = %v", rel.BuildOptions.Names())
	}

	if err := p.AddBuildTypeSettings(&bs, pl, "no-such-type"); err == nil {
		t.Error("unknown build type should error")
	}

	t.Setenv("DFLAGS", "-preview=dip1000 -lowmem")
	var env recipe.BuildSettings
	if err := p.AddBuildTypeSettings(&env, pl, "$DFLAGS"); err != nil {
		t.Fatal(err)
	}
	if len(env.DFlags) != 2 || env.DFlags[0] != "-preview=dip1000" {
		t.Errorf("$DFLAGS flags = %v", env.DFlags)
	}
}

func TestDependencies(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"dub.json": `{
			"name": "depful",
			"version": "1.0.0",
			"dependencies": {"base": ">=1.0.0"},
			"configurations": [
				{"name": "extra", "dependencies": {"more": "*"}},
				{"name": "bare"}
			]
		}`,
	})
	p := loadDir(t, dir)
	if !p.HasDependency("base", "bare") {
		t.Error("root dependency should be visible in every configuration")
	}
	if !p.HasDependency("more", "extra") {
		t.Error("configuration dependency should be visible in its configuration")
	}
	if p.HasDependency("more", "bare") {
		t.Error("configuration dependency must not leak into other configurations")
	}
}

func TestSplitName(t *testing.T) {
	base, sub := SplitName("parent:child")
	if base != "parent" || sub != "child" {
		t.Errorf("SplitName = %q %q", base, sub)
	}
	base, sub = SplitName("plain")
	if base != "plain" || sub != "" {
		t.Errorf("SplitName = %q %q", base, sub)
	}
}

package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/pack"
	"github.com/dub-build/dub/internal/pkgman"
	"github.com/dub-build/dub/internal/recipe"
	"github.com/dub-build/dub/internal/registry"
	"github.com/dub-build/dub/internal/version"
)

func writeRoot(t *testing.T, files map[string]string) *pack.Package {
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
	p, err := pack.Load(dir, pack.LoadOptions{Logger: log.NewNoop()})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func emptyManager(t *testing.T) *pkgman.Manager {
	t.Helper()
	base := t.TempDir()
	return pkgman.New(filepath.Join(base, "local"), filepath.Join(base, "user"),
		filepath.Join(base, "system"), pkgman.Options{Logger: log.NewNoop()})
}

func depRecipe(name, ver string, deps map[string]string) recipe.Recipe {
	r := recipe.Recipe{Name: name, Version: ver}
	for dep, spec := range deps {
		d, err := version.ParseDependency(spec)
		if err != nil {
			panic(err)
		}
		r.BuildSettings.AddDependency(dep, d)
	}
	return r
}

func resolveWith(t *testing.T, root *pack.Package, reg *registry.MemorySupplier,
	selections map[string]version.Dependency, selectionsRead bool, opts Options) (map[string]version.Dependency, error) {
	t.Helper()
	provider := NewVersionProvider(context.Background(), root, emptyManager(t),
		[]registry.PackageSupplier{reg}, selections, selectionsRead, opts, log.NewNoop())
	return New(provider).Resolve(provider.RootNode())
}

func TestSelectionsOverrideResolver(t *testing.T) {
	root := writeRoot(t, map[string]string{
		"dub.json": `{"name": "rootpkg", "version": "1.0.0", "dependencies": {"x": "^1.0.0"}}`,
	})
	reg := registry.NewMemorySupplier("test")
	reg.Add(depRecipe("x", "1.0.0", nil))
	reg.Add(depRecipe("x", "1.2.0", nil))

	pinned := map[string]version.Dependency{
		"x": version.FromVersion(version.MustParse("1.0.0")),
	}

	got, err := resolveWith(t, root, reg, pinned, true, Options{})
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if got["x"].String() != "1.0.0" {
		t.Errorf("without upgrade x = %v, want pinned 1.0.0", got["x"])
	}

	got, err = resolveWith(t, root, reg, pinned, true, Options{Upgrade: true})
	if err != nil {
		t.Fatalf("Resolve with upgrade error = %v", err)
	}
	if got["x"].String() != "1.2.0" {
		t.Errorf("with upgrade x = %v, want 1.2.0", got["x"])
	}
}

func TestTransitiveResolution(t *testing.T) {
	root := writeRoot(t, map[string]string{
		"dub.json": `{"name": "rootpkg", "version": "1.0.0", "dependencies": {"mid": "*"}}`,
	})
	reg := registry.NewMemorySupplier("test")
	reg.Add(depRecipe("mid", "1.0.0", map[string]string{"leaf": ">=2.0.0"}))
	reg.Add(depRecipe("leaf", "2.0.0", nil))
	reg.Add(depRecipe("leaf", "2.5.0", nil))
	reg.Add(depRecipe("leaf", "1.0.0", nil))

	got, err := resolveWith(t, root, reg, nil, false, Options{})
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if got["mid"].String() != "1.0.0" || got["leaf"].String() != "2.5.0" {
		t.Errorf("resolved = %v", got)
	}
}

func TestPreReleaseDemoted(t *testing.T) {
	root := writeRoot(t, map[string]string{
		"dub.json": `{"name": "rootpkg", "version": "1.0.0", "dependencies": {"y": "*"}}`,
	})
	reg := registry.NewMemorySupplier("test")
	reg.Add(depRecipe("y", "1.0.0", nil))
	reg.Add(depRecipe("y", "2.0.0-beta.1", nil))

	got, err := resolveWith(t, root, reg, nil, false, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got["y"].String() != "1.0.0" {
		t.Errorf("y = %v, want release preferred over pre-release", got["y"])
	}

	got, err = resolveWith(t, root, reg, nil, false, Options{PreRelease: true})
	if err != nil {
		t.Fatal(err)
	}
	if got["y"].String() != "2.0.0-beta.1" {
		t.Errorf("y = %v, want pre-release allowed", got["y"])
	}
}

func TestOptionalDependencies(t *testing.T) {
	root := writeRoot(t, map[string]string{
		"dub.json": `{"name": "rootpkg", "version": "1.0.0", "dependencies": {
			"plain-opt": {"version": "*", "optional": true},
			"def-opt": {"version": "*", "optional": true, "default": true}
		}}`,
	})
	reg := registry.NewMemorySupplier("test")
	reg.Add(depRecipe("plain-opt", "1.0.0", nil))
	reg.Add(depRecipe("def-opt", "1.0.0", nil))

	// No prior selection state: only the optional-default edge is taken.
	got, err := resolveWith(t, root, reg, nil, false, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["plain-opt"]; ok {
		t.Error("plain optional dependency should stay unselected")
	}
	if _, ok := got["def-opt"]; !ok {
		t.Error("optional-default dependency should be selected")
	}

	// Prior selections exist and do not pin def-opt: it stays
	// deselected.
	got, err = resolveWith(t, root, reg, map[string]version.Dependency{}, true, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["def-opt"]; ok {
		t.Error("previously deselected optional-default dependency should stay out")
	}

	// A pinned optional dependency is honored.
	pinned := map[string]version.Dependency{
		"plain-opt": version.FromVersion(version.MustParse("1.0.0")),
	}
	got, err = resolveWith(t, root, reg, pinned, true, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["plain-opt"]; !ok {
		t.Error("pinned optional dependency should be selected")
	}
}

func TestSubPackageViaBase(t *testing.T) {
	root := writeRoot(t, map[string]string{
		"dub.json": `{"name": "rootpkg", "version": "1.0.0", "dependencies": {"huge:core": "*"}}`,
	})
	huge := depRecipe("huge", "1.0.0", nil)
	core := depRecipe("core", "", nil)
	core.Version = "1.0.0"
	huge.SubPackages = []recipe.SubPackage{{Recipe: &core}}
	reg := registry.NewMemorySupplier("test")
	reg.Add(huge)

	got, err := resolveWith(t, root, reg, nil, false, Options{})
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if got["huge:core"].String() != "1.0.0" {
		t.Errorf("huge:core = %v", got["huge:core"])
	}
}

func TestUnknownPackageConflict(t *testing.T) {
	root := writeRoot(t, map[string]string{
		"dub.json": `{"name": "rootpkg", "version": "1.0.0", "dependencies": {"ghost": "*"}}`,
	})
	reg := registry.NewMemorySupplier("test")
	_, err := resolveWith(t, root, reg, nil, false, Options{})
	if err == nil {
		t.Fatal("expected failure for unknown required dependency")
	}
}

package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/pkgman"
	"github.com/dub-build/dub/internal/recipe"
	"github.com/dub-build/dub/internal/registry"
	"github.com/dub-build/dub/internal/version"
)

func writeFiles(t *testing.T, base string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(base, name)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func newManager(t *testing.T) *pkgman.Manager {
	t.Helper()
	base := t.TempDir()
	return pkgman.New(filepath.Join(base, "local"), filepath.Join(base, "user"),
		filepath.Join(base, "system"), pkgman.Options{Logger: log.NewNoop()})
}

func loadProject(t *testing.T, rootDir string, mgr *pkgman.Manager) *Project {
	t.Helper()
	p, err := Load(rootDir, mgr, LoadOptions{Logger: log.NewNoop()})
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	return p
}

func TestLoadBindsPathDependencies(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"app/dub.json": `{"name": "app", "version": "1.0.0",
			"dependencies": {"helper": {"path": "../helper"}}}`,
		"helper/dub.json": `{"name": "helper", "version": "0.3.0"}`,
	})
	p := loadProject(t, filepath.Join(base, "app"), newManager(t))

	if !p.HasAllDependencies() {
		t.Fatalf("missing = %v", p.Missing())
	}
	dep := p.GetDependency("helper")
	if dep == nil || dep.Name() != "helper" {
		t.Fatalf("helper not bound: %v", dep)
	}
	if len(p.Dependencies()) != 1 {
		t.Errorf("Dependencies = %d", len(p.Dependencies()))
	}
}

func TestLoadBindsRootSubPackage(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"app/dub.json": `{"name": "app", "version": "1.0.0",
			"dependencies": {"app:common": "*"},
			"subPackages": [{"name": "common"}]}`,
	})
	p := loadProject(t, filepath.Join(base, "app"), newManager(t))
	dep := p.GetDependency("app:common")
	if dep == nil || dep.Name() != "app:common" {
		t.Fatalf("root sub-package not bound: %v", dep)
	}
}

func TestPathToParentRebindsSubPackage(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"app/dub.json": `{"name": "app", "version": "1.0.0",
			"dependencies": {"multi:piece": {"path": "../multi"}}}`,
		"multi/dub.json": `{"name": "multi", "version": "2.0.0",
			"subPackages": [{"name": "piece"}]}`,
	})
	p := loadProject(t, filepath.Join(base, "app"), newManager(t))
	dep := p.GetDependency("multi:piece")
	if dep == nil || dep.Name() != "multi:piece" {
		t.Fatalf("sub-package via parent path not bound: %v", dep)
	}
	if dep.Parent() == nil || dep.Parent().BaseName() != "multi" {
		t.Error("sub-package should be rebound to its parent")
	}
}

func TestSelectionsPinPathDependency(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"app/dub.json": `{"name": "app", "version": "1.0.0",
			"dependencies": {"pinned": ">=1.0.0"}}`,
		"app/dub.selections.json": `{"fileVersion": 1,
			"versions": {"pinned": {"path": "../pinned"}}}`,
		"pinned/dub.json": `{"name": "pinned", "version": "1.5.0"}`,
	})
	p := loadProject(t, filepath.Join(base, "app"), newManager(t))
	dep := p.GetDependency("pinned")
	if dep == nil {
		t.Fatalf("path-pinned dependency not bound, missing = %v", p.Missing())
	}
	if dep.Version().String() != "1.5.0" {
		t.Errorf("pinned version = %v", dep.Version())
	}
}

func TestSelectionsVersionMismatchRejected(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"app/dub.json":            `{"name": "app", "version": "1.0.0"}`,
		"app/dub.selections.json": `{"fileVersion": 2, "versions": {}}`,
	})
	_, err := Load(filepath.Join(base, "app"), newManager(t), LoadOptions{Logger: log.NewNoop()})
	if _, ok := err.(*SelectionsVersionMismatchError); !ok {
		t.Errorf("error = %v, want SelectionsVersionMismatchError", err)
	}
}

func TestMalformedSelectionsDegrade(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"app/dub.json":            `{"name": "app", "version": "1.0.0"}`,
		"app/dub.selections.json": `{not json`,
	})
	p := loadProject(t, filepath.Join(base, "app"), newManager(t))
	if len(p.Selections().Names()) != 0 {
		t.Error("malformed selections should degrade to empty")
	}
}

func TestSelectionsSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewSelectedVersions()
	s.Select("alpha", version.FromVersion(version.MustParse("1.2.3")))
	s.Select("beta", version.FromPath("../beta"))
	if !s.Dirty() {
		t.Fatal("selections should be dirty after Select")
	}
	path := filepath.Join(dir, SelectionsFileName)
	if err := s.Save(path); err != nil {
		t.Fatalf("Save error = %v", err)
	}
	if s.Dirty() {
		t.Error("Save should clear the dirty flag")
	}
	loaded, err := LoadSelections(path)
	if err != nil {
		t.Fatalf("LoadSelections error = %v", err)
	}
	a, _ := loaded.Selected("alpha")
	b, _ := loaded.Selected("beta")
	if a.String() != "1.2.3" || !b.IsPath() || b.Path != "../beta" {
		t.Errorf("round trip = %v %v", a, b)
	}
}

func TestUpgradeAppliesSelections(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"app/dub.json": `{"name": "app", "version": "1.0.0",
			"dependencies": {"x": "^1.0.0"}}`,
		"app/dub.selections.json": `{"fileVersion": 1, "versions": {"x": "1.0.0"}}`,
	})
	reg := registry.NewMemorySupplier("test")
	reg.Add(recipe.Recipe{Name: "x", Version: "1.0.0"})
	reg.Add(recipe.Recipe{Name: "x", Version: "1.2.0"})

	p := loadProject(t, filepath.Join(base, "app"), newManager(t))
	suppliers := []registry.PackageSupplier{reg}

	// Without upgrade the pin is honored.
	res, err := p.Upgrade(context.Background(), suppliers, UpgradeOptions{})
	if err != nil {
		t.Fatalf("Upgrade error = %v", err)
	}
	if res["x"].String() != "1.0.0" {
		t.Errorf("without upgrade x = %v", res["x"])
	}

	// With upgrade the newer version is selected and recorded.
	res, err = p.Upgrade(context.Background(), suppliers, UpgradeOptions{Upgrade: true, Select: true})
	if err != nil {
		t.Fatalf("Upgrade error = %v", err)
	}
	if res["x"].String() != "1.2.0" {
		t.Errorf("with upgrade x = %v", res["x"])
	}
	sel, _ := p.Selections().Selected("x")
	if sel.String() != "1.2.0" {
		t.Errorf("selection after upgrade = %v", sel)
	}

	// The selections file was rewritten and loads back.
	loaded, err := LoadSelections(filepath.Join(base, "app", SelectionsFileName))
	if err != nil {
		t.Fatal(err)
	}
	got, _ := loaded.Selected("x")
	if got.String() != "1.2.0" {
		t.Errorf("persisted selection = %v", got)
	}
}

package project

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/dub-build/dub/internal/pack"
	"github.com/dub-build/dub/internal/platform"
	"github.com/dub-build/dub/internal/resolver"
)

func linuxPlatform() platform.Platform {
	return platform.Host("linux", "x86_64", "dmd")
}

func TestSubConfigurationPinsDependency(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"a/dub.json": `{"name": "a", "version": "1.0.0",
			"dependencies": {"b": {"path": "../b"}},
			"subConfigurations": {"b": "c1"},
			"configurations": [{"name": "c1"}, {"name": "c2"}]}`,
		"b/dub.json": `{"name": "b", "version": "1.0.0",
			"configurations": [{"name": "c1"}, {"name": "c2"}]}`,
	})
	p := loadProject(t, filepath.Join(base, "a"), newManager(t))

	configs, err := p.GetPackageConfigs(linuxPlatform(), "", true)
	if err != nil {
		t.Fatalf("GetPackageConfigs error = %v", err)
	}
	if configs["b"] != "c1" {
		t.Errorf("b resolved to %q, want the sub-configuration override c1", configs["b"])
	}
	if configs["a"] == "" {
		t.Error("a has no chosen configuration")
	}
}

func TestConfigsRespectPlatformFilters(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"a/dub.json": `{"name": "a", "version": "1.0.0",
			"dependencies": {"b": {"path": "../b"}}}`,
		"b/dub.json": `{"name": "b", "version": "1.0.0",
			"configurations": [
				{"name": "winonly", "platforms": ["windows"]},
				{"name": "generic"}
			]}`,
	})
	p := loadProject(t, filepath.Join(base, "a"), newManager(t))

	configs, err := p.GetPackageConfigs(linuxPlatform(), "", true)
	if err != nil {
		t.Fatal(err)
	}
	if configs["b"] != "generic" {
		t.Errorf("b = %q, want generic on linux", configs["b"])
	}

	winConfigs, err := p.GetPackageConfigs(platform.Host("windows", "x86_64", "dmd"), "", true)
	if err != nil {
		t.Fatal(err)
	}
	if winConfigs["b"] != "winonly" {
		t.Errorf("b = %q, want winonly (declaration order) on windows", winConfigs["b"])
	}
}

func TestDependencyCycleDetected(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"p/dub.json": `{"name": "p", "version": "1.0.0",
			"dependencies": {"q": {"path": "../q"}}}`,
		"q/dub.json": `{"name": "q", "version": "1.0.0",
			"dependencies": {"p": {"path": "../p"}}}`,
	})
	p := loadProject(t, filepath.Join(base, "p"), newManager(t))

	_, err := p.GetPackageConfigs(linuxPlatform(), "", true)
	var cycle *resolver.DependencyCycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("error = %v, want DependencyCycleError", err)
	}
	if len(cycle.Path) < 2 {
		t.Errorf("cycle path = %v, want both packages", cycle.Path)
	}
}

func TestNoValidConfiguration(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"a/dub.json": `{"name": "a", "version": "1.0.0",
			"dependencies": {"b": {"path": "../b"}},
			"subConfigurations": {"b": "nonexistent"},
			"configurations": [{"name": "only"}]}`,
		"b/dub.json": `{"name": "b", "version": "1.0.0",
			"configurations": [{"name": "real"}]}`,
	})
	p := loadProject(t, filepath.Join(base, "a"), newManager(t))

	_, err := p.GetPackageConfigs(linuxPlatform(), "only", true)
	var nvc *NoValidConfigurationError
	if !errors.As(err, &nvc) {
		t.Fatalf("error = %v, want NoValidConfigurationError", err)
	}
}

func TestTopologicalOrder(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"a/dub.json": `{"name": "a", "version": "1.0.0",
			"dependencies": {"b": {"path": "../b"}, "c": {"path": "../c"}}}`,
		"b/dub.json": `{"name": "b", "version": "1.0.0",
			"dependencies": {"c": {"path": "../c"}}}`,
		"c/dub.json": `{"name": "c", "version": "1.0.0"}`,
	})
	p := loadProject(t, filepath.Join(base, "a"), newManager(t))
	configs, err := p.GetPackageConfigs(linuxPlatform(), "", true)
	if err != nil {
		t.Fatal(err)
	}

	parentsFirst := p.GetTopologicalPackageList(false, nil, configs)
	if len(parentsFirst) != 3 || parentsFirst[0].Name() != "a" {
		t.Fatalf("parents-first order = %v", names(parentsFirst))
	}
	childrenFirst := p.GetTopologicalPackageList(true, nil, configs)
	if childrenFirst[len(childrenFirst)-1].Name() != "a" {
		t.Errorf("children-first order = %v, want a last", names(childrenFirst))
	}
	// c must come after b in parents-first order since b depends on it
	// and edges traverse in sorted name order from a.
	posB, posC := -1, -1
	for i, pkg := range parentsFirst {
		switch pkg.Name() {
		case "b":
			posB = i
		case "c":
			posC = i
		}
	}
	if posB == -1 || posC == -1 || posC < posB {
		t.Errorf("order = %v, want b before c", names(parentsFirst))
	}
}

func names(pkgs []*pack.Package) []string {
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.Name()
	}
	return out
}

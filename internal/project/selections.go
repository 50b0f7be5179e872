package project

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/dub-build/dub/internal/version"
)

// SelectionsFileName is the persisted pin set next to the root recipe.
const SelectionsFileName = "dub.selections.json"

// selectionsFileVersion is the only accepted file format version.
const selectionsFileVersion = 1

// SelectionsVersionMismatchError reports a selections file with an
// unsupported fileVersion.
type SelectionsVersionMismatchError struct {
	Path        string
	FileVersion int
}

func (e *SelectionsVersionMismatchError) Error() string {
	return fmt.Sprintf("%s: unsupported fileVersion %d (expected %d)",
		e.Path, e.FileVersion, selectionsFileVersion)
}

// SelectedVersions is the persisted mapping from package name to pinned
// dependency (a version or a path).
type SelectedVersions struct {
	versions map[string]version.Dependency
	dirty    bool
}

// NewSelectedVersions returns an empty, clean selection set.
func NewSelectedVersions() *SelectedVersions {
	return &SelectedVersions{versions: make(map[string]version.Dependency)}
}

type selectionsJSON struct {
	FileVersion int                           `json:"fileVersion"`
	Versions    map[string]version.Dependency `json:"versions"`
}

// LoadSelections reads a selections file. A missing file yields an empty
// set; a wrong fileVersion is rejected with
// SelectionsVersionMismatchError.
func LoadSelections(path string) (*SelectedVersions, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewSelectedVersions(), nil
	}
	if err != nil {
		return nil, err
	}
	var raw selectionsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if raw.FileVersion != selectionsFileVersion {
		return nil, &SelectionsVersionMismatchError{Path: path, FileVersion: raw.FileVersion}
	}
	s := NewSelectedVersions()
	for name, dep := range raw.Versions {
		s.versions[name] = dep
	}
	return s, nil
}

// Save writes the selections with a temporary-then-rename and clears the
// dirty flag.
func (s *SelectedVersions) Save(path string) error {
	names := s.Names()
	ordered := make(map[string]json.RawMessage, len(names))
	for _, name := range names {
		raw, err := json.Marshal(s.versions[name])
		if err != nil {
			return err
		}
		ordered[name] = raw
	}
	data, err := json.MarshalIndent(selectionsRawJSON{
		FileVersion: selectionsFileVersion,
		Versions:    ordered,
	}, "", "\t")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write selections: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename selections into place: %w", err)
	}
	s.dirty = false
	return nil
}

type selectionsRawJSON struct {
	FileVersion int                        `json:"fileVersion"`
	Versions    map[string]json.RawMessage `json:"versions"`
}

// Select pins a package to a dependency.
func (s *SelectedVersions) Select(name string, dep version.Dependency) {
	if existing, ok := s.versions[name]; ok && existing.Equal(dep) {
		return
	}
	s.versions[name] = dep
	s.dirty = true
}

// Deselect removes a pin.
func (s *SelectedVersions) Deselect(name string) {
	if _, ok := s.versions[name]; !ok {
		return
	}
	delete(s.versions, name)
	s.dirty = true
}

// Selected returns the pin for name.
func (s *SelectedVersions) Selected(name string) (version.Dependency, bool) {
	dep, ok := s.versions[name]
	return dep, ok
}

// Has reports whether name is pinned.
func (s *SelectedVersions) Has(name string) bool {
	_, ok := s.versions[name]
	return ok
}

// Names returns the pinned package names, sorted.
func (s *SelectedVersions) Names() []string {
	names := make([]string, 0, len(s.versions))
	for name := range s.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of the pin map.
func (s *SelectedVersions) All() map[string]version.Dependency {
	out := make(map[string]version.Dependency, len(s.versions))
	for name, dep := range s.versions {
		out[name] = dep
	}
	return out
}

// Dirty reports whether the set changed since the last save or load.
func (s *SelectedVersions) Dirty() bool { return s.dirty }

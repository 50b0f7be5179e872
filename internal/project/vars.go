package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dub-build/dub/internal/pack"
	"github.com/dub-build/dub/internal/recipe"
)

// UnknownVariableError reports a $NAME reference with no binding.
type UnknownVariableError struct {
	Name    string
	Package string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown variable $%s in settings of package %s", e.Name, e.Package)
}

// varLookup resolves variable names for one referring package:
// PACKAGE_DIR, ROOT_PACKAGE_DIR, <PKG>_PACKAGE_DIR for every known
// package, then the environment.
func (p *Project) varLookup(referrer *pack.Package) func(string) (string, bool) {
	return func(name string) (string, bool) {
		switch name {
		case "PACKAGE_DIR":
			return referrer.Path(), true
		case "ROOT_PACKAGE_DIR":
			return p.root.Path(), true
		}
		if strings.HasSuffix(name, "_PACKAGE_DIR") {
			want := strings.TrimSuffix(name, "_PACKAGE_DIR")
			if pkg := p.findPackageByVarName(want); pkg != nil {
				return pkg.Path(), true
			}
		}
		return os.LookupEnv(name)
	}
}

func (p *Project) findPackageByVarName(want string) *pack.Package {
	matches := func(pkg *pack.Package) bool {
		return strings.ToUpper(recipe.SanitizeName(pkg.Name())) == want
	}
	if matches(p.root) {
		return p.root
	}
	for _, pkg := range p.dependencies {
		if matches(pkg) {
			return pkg
		}
	}
	return nil
}

// expandVars substitutes $NAME references in s. "$$" escapes a literal
// dollar; an unknown name is fatal.
func expandVars(s string, pkgName string, lookup func(string) (string, bool)) (string, error) {
	if !strings.ContainsRune(s, '$') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c != '$' {
			b.WriteByte(c)
			i++
			continue
		}
		i++
		if i < len(s) && s[i] == '$' {
			b.WriteByte('$')
			i++
			continue
		}
		start := i
		for i < len(s) && isVarChar(s[i]) {
			i++
		}
		name := s[start:i]
		if name == "" {
			b.WriteByte('$')
			continue
		}
		val, ok := lookup(name)
		if !ok {
			return "", &UnknownVariableError{Name: name, Package: pkgName}
		}
		b.WriteString(val)
	}
	return b.String(), nil
}

func isVarChar(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// expandSettings expands every string value of the settings in place.
// Values tagged as paths are additionally rebased onto the referring
// package root when the expansion yields a relative path.
func (p *Project) expandSettings(bs *recipe.BuildSettings, referrer *pack.Package) error {
	lookup := p.varLookup(referrer)
	name := referrer.Name()

	expandList := func(list []string, isPath bool) error {
		for i, v := range list {
			out, err := expandVars(v, name, lookup)
			if err != nil {
				return err
			}
			if isPath && out != "" && !filepath.IsAbs(out) {
				out = filepath.Join(referrer.Path(), out)
			}
			list[i] = out
		}
		return nil
	}
	expandScalar := func(v *string, isPath bool) error {
		out, err := expandVars(*v, name, lookup)
		if err != nil {
			return err
		}
		if isPath && out != "" && !filepath.IsAbs(out) {
			out = filepath.Join(referrer.Path(), out)
		}
		*v = out
		return nil
	}

	pathLists := [][]string{
		bs.SourceFiles, bs.SourcePaths, bs.ExcludedSourceFiles,
		bs.ImportPaths, bs.ImportFiles, bs.StringImportPaths, bs.StringImportFiles,
	}
	for _, list := range pathLists {
		if err := expandList(list, true); err != nil {
			return err
		}
	}
	plainLists := [][]string{
		bs.DFlags, bs.LFlags, bs.Libs, bs.Versions, bs.DebugVersions,
		bs.PreGenerateCommands, bs.PostGenerateCommands,
		bs.PreBuildCommands, bs.PostBuildCommands,
	}
	for _, list := range plainLists {
		if err := expandList(list, false); err != nil {
			return err
		}
	}

	if err := expandScalar(&bs.MainSourceFile, true); err != nil {
		return err
	}
	if err := expandScalar(&bs.TargetPath, true); err != nil {
		return err
	}
	if err := expandScalar(&bs.WorkingDirectory, true); err != nil {
		return err
	}
	return expandScalar(&bs.TargetName, false)
}

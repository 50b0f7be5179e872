package project

import (
	"fmt"
	"strings"

	"github.com/dub-build/dub/internal/config"
	"github.com/dub-build/dub/internal/platform"
	"github.com/dub-build/dub/internal/recipe"
)

// AddBuildSettings aggregates the per-platform build settings of every
// package in the configuration map into dst, walking parents first.
// Variable references are expanded and path values rebased onto each
// package's root. The root package contributes the target and working
// directory settings and every traversed package adds a
// Have_<sanitized-name> version identifier. In shallow mode, non-root
// source files are skipped and the root-target buildability check is
// waived.
func (p *Project) AddBuildSettings(dst *recipe.BuildSettings, pl platform.Platform, configs map[string]string, shallow bool) error {
	if used := config.PackagesUsed(); contains(used, p.root.Name()) {
		return fmt.Errorf("package %s is already part of an enclosing build (%s=%s)",
			p.root.Name(), config.EnvPackagesUsed, strings.Join(used, ","))
	}

	list := p.GetTopologicalPackageList(false, nil, configs)
	for _, pkg := range list {
		cfg, ok := configs[pkg.Name()]
		if !ok {
			continue
		}
		bs, err := pkg.GetBuildSettings(pl, cfg)
		if err != nil {
			return err
		}
		if err := p.expandSettings(&bs, pkg); err != nil {
			return err
		}

		isRoot := pkg == p.root
		if isRoot {
			dst.TargetType = bs.TargetType
			dst.TargetPath = bs.TargetPath
			dst.TargetName = bs.TargetName
			dst.WorkingDirectory = bs.WorkingDirectory
			dst.MainSourceFile = bs.MainSourceFile
			if !shallow && bs.TargetType == recipe.TargetNone {
				return fmt.Errorf("root package %s has target type none and cannot be built", pkg.Name())
			}
		}

		dst.AddVersions("Have_" + recipe.SanitizeName(pkg.Name()))

		if shallow && !isRoot {
			// settings other than sources still propagate
			dst.AddImportPaths(bs.ImportPaths...)
			dst.AddStringImportPaths(bs.StringImportPaths...)
			dst.AddVersions(bs.Versions...)
			dst.AddDebugVersions(bs.DebugVersions...)
			dst.AddDFlags(bs.DFlags...)
			dst.AddLFlags(bs.LFlags...)
			dst.AddLibs(bs.Libs...)
			continue
		}

		dst.AddDFlags(bs.DFlags...)
		dst.AddLFlags(bs.LFlags...)
		dst.AddLibs(bs.Libs...)
		dst.AddSourceFiles(bs.SourceFiles...)
		dst.AddSourcePaths(bs.SourcePaths...)
		dst.AddExcludedSourceFiles(bs.ExcludedSourceFiles...)
		dst.AddImportPaths(bs.ImportPaths...)
		dst.AddImportFiles(bs.ImportFiles...)
		dst.AddStringImportPaths(bs.StringImportPaths...)
		dst.AddStringImportFiles(bs.StringImportFiles...)
		dst.AddVersions(bs.Versions...)
		dst.AddDebugVersions(bs.DebugVersions...)
		dst.PreGenerateCommands = append(dst.PreGenerateCommands, bs.PreGenerateCommands...)
		dst.PostGenerateCommands = append(dst.PostGenerateCommands, bs.PostGenerateCommands...)
		dst.PreBuildCommands = append(dst.PreBuildCommands, bs.PreBuildCommands...)
		dst.PostBuildCommands = append(dst.PostBuildCommands, bs.PostBuildCommands...)
		dst.BuildRequirements |= bs.BuildRequirements
		dst.BuildOptions |= bs.BuildOptions
	}
	return nil
}

// CommandEnvironment returns the environment additions for pre/post
// build commands, extending the recursive-invocation breadcrumb with the
// root package.
func (p *Project) CommandEnvironment() map[string]string {
	return map[string]string{
		config.EnvPackagesUsed: config.MarkPackageUsed(p.root.Name()),
	}
}

// ListBuildSettings resolves the full settings for one platform,
// configuration set and build type, as handed to the compiler driver.
func (p *Project) ListBuildSettings(pl platform.Platform, rootConfig, buildType string) (recipe.BuildSettings, error) {
	configs, err := p.GetPackageConfigs(pl, rootConfig, true)
	if err != nil {
		return recipe.BuildSettings{}, err
	}
	var bs recipe.BuildSettings
	if err := p.AddBuildSettings(&bs, pl, configs, false); err != nil {
		return recipe.BuildSettings{}, err
	}
	if buildType != "" {
		if err := p.root.AddBuildTypeSettings(&bs, pl, buildType); err != nil {
			return recipe.BuildSettings{}, err
		}
	}
	return bs, nil
}

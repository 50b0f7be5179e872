package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newDescribeCmd(flags *rootFlags) *cobra.Command {
	var configName, buildType string
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print the resolved build settings of the root package",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := flags.project()
			if err != nil {
				return err
			}
			if !p.HasAllDependencies() {
				return fmt.Errorf("missing dependencies: %v (run 'dub upgrade' first)", p.Missing())
			}
			bs, err := p.ListBuildSettings(flags.platform(), configName, buildType)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "\t")
			return enc.Encode(describeOutput{
				Package:  p.Name(),
				Version:  p.RootPackage().Version().String(),
				Platform: flags.platform().String(),
				Settings: describeSettings{
					TargetType:        bs.TargetType.String(),
					TargetName:        bs.TargetName,
					TargetPath:        bs.TargetPath,
					WorkingDirectory:  bs.WorkingDirectory,
					MainSourceFile:    bs.MainSourceFile,
					DFlags:            bs.DFlags,
					LFlags:            bs.LFlags,
					Libs:              bs.Libs,
					SourceFiles:       bs.SourceFiles,
					SourcePaths:       bs.SourcePaths,
					ImportPaths:       bs.ImportPaths,
					StringImportPaths: bs.StringImportPaths,
					Versions:          bs.Versions,
					BuildOptions:      bs.BuildOptions.Names(),
					BuildRequirements: bs.BuildRequirements.Names(),
				},
			})
		},
	}
	cmd.Flags().StringVarP(&configName, "config", "c", "", "root configuration to describe")
	cmd.Flags().StringVarP(&buildType, "build", "b", "", "build type to mix in")
	return cmd
}

type describeOutput struct {
	Package  string           `json:"package"`
	Version  string           `json:"version"`
	Platform string           `json:"platform"`
	Settings describeSettings `json:"settings"`
}

type describeSettings struct {
	TargetType        string   `json:"targetType"`
	TargetName        string   `json:"targetName"`
	TargetPath        string   `json:"targetPath,omitempty"`
	WorkingDirectory  string   `json:"workingDirectory,omitempty"`
	MainSourceFile    string   `json:"mainSourceFile,omitempty"`
	DFlags            []string `json:"dflags,omitempty"`
	LFlags            []string `json:"lflags,omitempty"`
	Libs              []string `json:"libs,omitempty"`
	SourceFiles       []string `json:"sourceFiles,omitempty"`
	SourcePaths       []string `json:"sourcePaths,omitempty"`
	ImportPaths       []string `json:"importPaths,omitempty"`
	StringImportPaths []string `json:"stringImportPaths,omitempty"`
	Versions          []string `json:"versions,omitempty"`
	BuildOptions      []string `json:"buildOptions,omitempty"`
	BuildRequirements []string `json:"buildRequirements,omitempty"`
}

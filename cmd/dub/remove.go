package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dub-build/dub/internal/version"
)

func newRemoveCmd(flags *rootFlags) *cobra.Command {
	var verSpec string
	cmd := &cobra.Command{
		Use:   "remove <package>",
		Short: "Remove an installed package from the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			mgr, err := flags.manager()
			if err != nil {
				return err
			}
			spec := version.AnyDependency()
			if verSpec != "" {
				spec, err = version.ParseDependency(verSpec)
				if err != nil {
					return err
				}
			}
			pkg := mgr.GetBestPackage(name, spec)
			if pkg == nil {
				return fmt.Errorf("package %q is not installed", name)
			}
			if err := mgr.Remove(pkg); err != nil {
				return err
			}
			fmt.Printf("Removed %s %s\n", pkg.Name(), pkg.Version())
			return nil
		},
	}
	cmd.Flags().StringVar(&verSpec, "version", "", "version of the package to remove")
	return cmd
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dub-build/dub/internal/pkgman"
	"github.com/dub-build/dub/internal/version"
)

func newFetchCmd(flags *rootFlags) *cobra.Command {
	var verSpec string
	cmd := &cobra.Command{
		Use:   "fetch <package>",
		Short: "Download and unpack a package into the user cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			mgr, err := flags.manager()
			if err != nil {
				return err
			}
			suppliers, err := flags.suppliers()
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

			ctx := cmd.Context()
			for _, s := range suppliers {
				versions, err := s.Versions(ctx, name)
				if err != nil {
					continue
				}
				var best version.Version
				for _, v := range versions {
					if spec.Matches(v) && v.Compare(best) > 0 {
						best = v
					}
				}
				if best.IsUnknown() {
					continue
				}
				tmpDir, err := os.MkdirTemp("", "dub-fetch-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(tmpDir)
				archive, err := s.FetchArchive(ctx, name, best, tmpDir)
				if err != nil {
					return err
				}
				pkg, err := mgr.StoreFetchedPackage(archive, name, best, pkgman.LocationUser)
				if err != nil {
					return err
				}
				fmt.Printf("Fetched %s %s to %s\n", pkg.Name(), pkg.Version(), pkg.Path())
				return nil
			}
			return fmt.Errorf("package %q not found in any registry", name)
		},
	}
	cmd.Flags().StringVar(&verSpec, "version", "", "version constraint to fetch (default: latest)")
	return cmd
}

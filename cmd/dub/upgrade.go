package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dub-build/dub/internal/project"
)

func newUpgradeCmd(flags *rootFlags) *cobra.Command {
	var opts project.UpgradeOptions
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Resolve dependency versions and update the selections",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := flags.project()
			if err != nil {
				return err
			}
			suppliers, err := flags.suppliers()
			if err != nil {
				return err
			}
			opts.Upgrade = true
			opts.Select = !opts.PrintUpgradesOnly
			result, err := p.Upgrade(cmd.Context(), suppliers, opts)
			if err != nil {
				return err
			}
			for name, dep := range result {
				fmt.Printf("%s %s\n", name, dep)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.PreRelease, "prerelease", false, "consider pre-release versions")
	cmd.Flags().BoolVar(&opts.PrintUpgradesOnly, "dry-run", false, "print upgrades without changing the selections")
	cmd.Flags().BoolVar(&opts.UseCachedResult, "cached", false, "reuse a recent cached resolution result")
	return cmd
}

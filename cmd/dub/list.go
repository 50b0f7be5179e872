package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dub-build/dub/internal/pack"
)

func newListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the locally available packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := flags.manager()
			if err != nil {
				return err
			}
			count := 0
			mgr.Packages(func(p *pack.Package) bool {
				fmt.Printf("%s %s: %s\n", p.Name(), p.Version(), p.Path())
				count++
				return true
			})
			if count == 0 {
				fmt.Println("No packages installed.")
			}
			return nil
		},
	}
}

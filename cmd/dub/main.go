// Command dub is the thin front-end over the package manager and build
// driver core: it wires the configuration, package manager, registries
// and project layers together and exposes them as subcommands.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

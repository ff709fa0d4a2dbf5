// Command vpcctl is the CLI entry point for the control plane (spec
// §6.1). It dispatches to the Reconciler; the argument parsing itself
// is a thin, boundary-level concern (spec §1 "out of scope").
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}

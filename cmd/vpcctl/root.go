package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vpcctl",
	Short: "Host-local control plane reproducing VPC semantics with network namespaces",
}

func init() {
	bindPersistentFlags(rootCmd)
	rootCmd.AddCommand(createVPCCmd)
	rootCmd.AddCommand(deleteVPCCmd)
	rootCmd.AddCommand(createSubnetCmd)
	rootCmd.AddCommand(deleteSubnetCmd)
	rootCmd.AddCommand(peerCmd)
	rootCmd.AddCommand(applyFirewallCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(listCmd)
}

// Execute runs the root cobra command.
func Execute() error {
	return rootCmd.Execute()
}

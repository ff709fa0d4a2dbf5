package main

import (
	"github.com/spf13/cobra"
)

var createVPCOpts struct {
	name string
	cidr string
}

var createVPCCmd = &cobra.Command{
	Use:   "create-vpc",
	Short: "Create a VPC (bridge, gateway address, Store record)",
	Run: func(cmd *cobra.Command, args []string) {
		r, release, err := mutatingContext()
		if err != nil {
			exitWith(err)
		}
		defer release()
		exitWith(r.CreateVPC(createVPCOpts.name, createVPCOpts.cidr))
	},
}

var deleteVPCOpts struct {
	name string
}

var deleteVPCCmd = &cobra.Command{
	Use:   "delete-vpc",
	Short: "Delete a VPC and cascade its subnets and peerings",
	Run: func(cmd *cobra.Command, args []string) {
		r, release, err := mutatingContext()
		if err != nil {
			exitWith(err)
		}
		defer release()
		exitWith(r.DeleteVPC(deleteVPCOpts.name))
	},
}

func init() {
	createVPCCmd.Flags().StringVar(&createVPCOpts.name, "name", "", "VPC name")
	createVPCCmd.Flags().StringVar(&createVPCOpts.cidr, "cidr", "", "VPC CIDR block (IPv4, prefix <= 24)")
	_ = createVPCCmd.MarkFlagRequired("name")
	_ = createVPCCmd.MarkFlagRequired("cidr")

	deleteVPCCmd.Flags().StringVar(&deleteVPCOpts.name, "name", "", "VPC name")
	_ = deleteVPCCmd.MarkFlagRequired("name")
}

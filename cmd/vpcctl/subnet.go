package main

import (
	"github.com/spf13/cobra"

	"github.com/vpcctl/vpcctl/internal/model"
)

var createSubnetOpts struct {
	vpc  string
	name string
	cidr string
	typ  string
}

var createSubnetCmd = &cobra.Command{
	Use:   "create-subnet",
	Short: "Create a subnet (namespace, veth pair, routes, optional NAT)",
	Run: func(cmd *cobra.Command, args []string) {
		r, release, err := mutatingContext()
		if err != nil {
			exitWith(err)
		}
		defer release()
		exitWith(r.CreateSubnet(createSubnetOpts.vpc, createSubnetOpts.name, createSubnetOpts.cidr, model.SubnetType(createSubnetOpts.typ)))
	},
}

var deleteSubnetOpts struct {
	vpc  string
	name string
}

var deleteSubnetCmd = &cobra.Command{
	Use:   "delete-subnet",
	Short: "Delete a subnet and reverse its create-subnet steps",
	Run: func(cmd *cobra.Command, args []string) {
		r, release, err := mutatingContext()
		if err != nil {
			exitWith(err)
		}
		defer release()
		exitWith(r.DeleteSubnet(deleteSubnetOpts.vpc, deleteSubnetOpts.name))
	},
}

func init() {
	createSubnetCmd.Flags().StringVar(&createSubnetOpts.vpc, "vpc", "", "parent VPC name")
	createSubnetCmd.Flags().StringVar(&createSubnetOpts.name, "name", "", "subnet name")
	createSubnetCmd.Flags().StringVar(&createSubnetOpts.cidr, "cidr", "", "subnet CIDR (must be contained in the VPC CIDR)")
	createSubnetCmd.Flags().StringVar(&createSubnetOpts.typ, "type", "", "subnet type: public or private")
	for _, f := range []string{"vpc", "name", "cidr", "type"} {
		_ = createSubnetCmd.MarkFlagRequired(f)
	}

	deleteSubnetCmd.Flags().StringVar(&deleteSubnetOpts.vpc, "vpc", "", "parent VPC name")
	deleteSubnetCmd.Flags().StringVar(&deleteSubnetOpts.name, "name", "", "subnet name")
	_ = deleteSubnetCmd.MarkFlagRequired("vpc")
	_ = deleteSubnetCmd.MarkFlagRequired("name")
}

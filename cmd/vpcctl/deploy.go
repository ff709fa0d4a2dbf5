package main

import (
	"github.com/spf13/cobra"
)

var deployOpts struct {
	vpc    string
	subnet string
	typ    string
	port   uint16
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Launch a canned nginx/python workload inside a subnet's namespace",
	Run: func(cmd *cobra.Command, args []string) {
		r, release, err := mutatingContext()
		if err != nil {
			exitWith(err)
		}
		defer release()

		exitWith(r.DeploySubnetWorkload(deployOpts.vpc, deployOpts.subnet, deployOpts.port, deployOpts.typ))
	},
}

func init() {
	deployCmd.Flags().StringVar(&deployOpts.vpc, "vpc", "", "target VPC name")
	deployCmd.Flags().StringVar(&deployOpts.subnet, "subnet", "", "target subnet name")
	deployCmd.Flags().StringVar(&deployOpts.typ, "type", "", "workload type: nginx or python")
	deployCmd.Flags().Uint16Var(&deployOpts.port, "port", 0, "port for the workload to listen on")
	for _, f := range []string{"vpc", "subnet", "type", "port"} {
		_ = deployCmd.MarkFlagRequired(f)
	}
}

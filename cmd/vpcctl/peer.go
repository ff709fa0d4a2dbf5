package main

import (
	"github.com/spf13/cobra"
)

var peerOpts struct {
	vpc1 string
	vpc2 string
}

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Peer two VPCs: veth link, endpoint addresses, routes, forwarding-allow",
	Run: func(cmd *cobra.Command, args []string) {
		r, release, err := mutatingContext()
		if err != nil {
			exitWith(err)
		}
		defer release()
		exitWith(r.Peer(peerOpts.vpc1, peerOpts.vpc2))
	},
}

func init() {
	peerCmd.Flags().StringVar(&peerOpts.vpc1, "vpc1", "", "first VPC name")
	peerCmd.Flags().StringVar(&peerOpts.vpc2, "vpc2", "", "second VPC name")
	_ = peerCmd.MarkFlagRequired("vpc1")
	_ = peerCmd.MarkFlagRequired("vpc2")
}

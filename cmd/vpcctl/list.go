package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var listOpts struct {
	json bool
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every VPC, its CIDR, subnets, and peerings",
	Run: func(cmd *cobra.Command, args []string) {
		r := readOnlyContext()
		vpcs, err := r.List()
		if err != nil {
			exitWith(err)
		}
		if listOpts.json {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			exitWith(enc.Encode(vpcs))
			return
		}
		for _, v := range vpcs {
			fmt.Printf("vpc %s (%s) bridge=%s gateway=%s\n", v.Name, v.CIDR, v.Bridge, v.Gateway)
			for _, s := range v.Subnets {
				fmt.Printf("  subnet %s (%s) type=%s gateway=%s endpoint=%s\n", s.Name, s.CIDR, s.Type, s.Gateway, s.Endpoint)
			}
			for _, p := range v.Peerings {
				fmt.Printf("  peer %s via %s\n", p.Peer, p.Block)
			}
		}
	},
}

func init() {
	listCmd.Flags().BoolVar(&listOpts.json, "json", false, "emit machine-readable JSON instead of text")
}

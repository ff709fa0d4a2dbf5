package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vpcctl/vpcctl/internal/vpcerr"
)

var applyFirewallOpts struct {
	vpc    string
	subnet string
	policy string
}

var applyFirewallCmd = &cobra.Command{
	Use:   "apply-firewall",
	Short: "Replace a subnet's firewall policy (last-write-wins)",
	Run: func(cmd *cobra.Command, args []string) {
		doc, err := os.ReadFile(applyFirewallOpts.policy)
		if err != nil {
			exitWith(vpcerr.IOf(err, "failed to read policy file %s", applyFirewallOpts.policy))
		}
		r, release, err := mutatingContext()
		if err != nil {
			exitWith(err)
		}
		defer release()
		exitWith(r.ApplyFirewall(applyFirewallOpts.vpc, applyFirewallOpts.subnet, doc))
	},
}

func init() {
	applyFirewallCmd.Flags().StringVar(&applyFirewallOpts.vpc, "vpc", "", "VPC name")
	applyFirewallCmd.Flags().StringVar(&applyFirewallOpts.subnet, "subnet", "", "subnet name")
	applyFirewallCmd.Flags().StringVar(&applyFirewallOpts.policy, "policy", "", "path to the JSON policy document")
	for _, f := range []string{"vpc", "subnet", "policy"} {
		_ = applyFirewallCmd.MarkFlagRequired(f)
	}
}

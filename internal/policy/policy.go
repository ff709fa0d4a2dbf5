// Package policy compiles a subnet's FirewallPolicy (spec §3, §6.3)
// into the ordered sequence of driver.FilterRule values that realize
// it, and parses the policy document format accepted by "apply-firewall".
package policy

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/vpcctl/vpcctl/internal/driver"
	"github.com/vpcctl/vpcctl/internal/model"
	"github.com/vpcctl/vpcctl/internal/vpcerr"
)

// Tag returns the iptables comment tag scoping every rule this tool
// installs for (vpc, subnet), so a later reapply or delete can clear
// exactly its own rules and nothing else (§9 open question #1).
func Tag(vpc, subnet string) string {
	return fmt.Sprintf("%s/%s", vpc, subnet)
}

// Compile translates a subnet's FirewallPolicy into the ordered list of
// FilterRule values the driver should install, scoped to subnetCIDR.
//
// Ingress rules match traffic destined to the subnet; egress rules
// match traffic sourced from it. If any ingress rule is present, a
// trailing default-DROP is appended scoped to the subnet CIDR as
// destination; symmetrically, if any egress rule is present, a
// trailing default-DROP is appended scoped to the subnet CIDR as
// source. A direction with no rules at all keeps the implicit allow
// from InstallForwardAllow and is not default-denied (§4.6, §8 S5/S6).
func Compile(vpc, subnet string, cidrStr string, p model.FirewallPolicy) ([]driver.FilterRule, error) {
	_, subnetCIDR, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return nil, vpcerr.Validationf("invalid subnet cidr %q: %v", cidrStr, err)
	}
	tag := Tag(vpc, subnet)

	var rules []driver.FilterRule
	for _, r := range p.Ingress {
		fr, err := compileRule(tag, driver.DirIngress, subnetCIDR, r)
		if err != nil {
			return nil, err
		}
		rules = append(rules, fr)
	}
	for _, r := range p.Egress {
		fr, err := compileRule(tag, driver.DirEgress, subnetCIDR, r)
		if err != nil {
			return nil, err
		}
		rules = append(rules, fr)
	}
	if len(p.Ingress) > 0 {
		rules = append(rules, driver.FilterRule{
			Tag:       tag,
			Direction: driver.DirIngress,
			CIDR:      subnetCIDR,
			Action:    driver.Drop,
		})
	}
	if len(p.Egress) > 0 {
		rules = append(rules, driver.FilterRule{
			Tag:       tag,
			Direction: driver.DirEgress,
			CIDR:      subnetCIDR,
			Action:    driver.Drop,
		})
	}
	return rules, nil
}

func compileRule(tag string, dir driver.FilterDirection, subnetCIDR *net.IPNet, r model.FirewallRule) (driver.FilterRule, error) {
	proto, err := compileProtocol(r.Protocol)
	if err != nil {
		return driver.FilterRule{}, err
	}
	action, err := compileAction(r.Action)
	if err != nil {
		return driver.FilterRule{}, err
	}
	return driver.FilterRule{
		Tag:       tag,
		Direction: dir,
		CIDR:      subnetCIDR,
		Protocol:  proto,
		Port:      r.Port,
		Action:    action,
	}, nil
}

func compileProtocol(p model.Protocol) (driver.Protocol, error) {
	switch p {
	case "", model.ProtoTCP:
		return driver.TCP, nil
	case model.ProtoUDP:
		return driver.UDP, nil
	default:
		return "", vpcerr.Validationf("unknown protocol %q", p)
	}
}

func compileAction(a model.Action) (driver.FilterAction, error) {
	switch a {
	case "", model.ActionAllow:
		return driver.Accept, nil
	case model.ActionDeny:
		return driver.Drop, nil
	default:
		return "", vpcerr.Validationf("unknown action %q", a)
	}
}

// ParseDocument parses the JSON policy document format accepted by the
// "apply-firewall" CLI command (§6.3): a top-level object with "ingress"
// and "egress" arrays of {port, protocol, action}.
func ParseDocument(data []byte) (model.FirewallPolicy, error) {
	var p model.FirewallPolicy
	if err := json.Unmarshal(data, &p); err != nil {
		return model.FirewallPolicy{}, vpcerr.Validationf("invalid firewall policy document: %v", err)
	}
	for _, r := range append(append([]model.FirewallRule{}, p.Ingress...), p.Egress...) {
		if _, err := compileProtocol(r.Protocol); err != nil {
			return model.FirewallPolicy{}, err
		}
		if _, err := compileAction(r.Action); err != nil {
			return model.FirewallPolicy{}, err
		}
		if r.Port < 0 || r.Port > 65535 {
			return model.FirewallPolicy{}, vpcerr.Validationf("port %d out of range", r.Port)
		}
	}
	return p, nil
}

// Package model defines the persistent data types for VPCs, subnets,
// peerings, and firewall policies (see spec §3).
package model

// SubnetType is the kind of a Subnet (public or private, §3).
type SubnetType string

const (
	// SubnetPublic subnets get a source-NAT rule for Internet egress.
	SubnetPublic SubnetType = "public"
	// SubnetPrivate subnets have no NAT rule.
	SubnetPrivate SubnetType = "private"
)

// Protocol is an L4 protocol recognized by the policy compiler.
type Protocol string

const (
	// ProtoTCP is TCP.
	ProtoTCP Protocol = "tcp"
	// ProtoUDP is UDP.
	ProtoUDP Protocol = "udp"
)

// Action is the outcome a firewall rule applies to matching traffic.
type Action string

const (
	// ActionAllow compiles to an ACCEPT rule.
	ActionAllow Action = "allow"
	// ActionDeny compiles to a DROP rule.
	ActionDeny Action = "deny"
)

// FirewallRule is one ingress or egress entry (§3, §6.3).
type FirewallRule struct {
	Port     int      `json:"port,omitempty"`
	Protocol Protocol `json:"protocol,omitempty"`
	Action   Action   `json:"action"`
}

// FirewallPolicy is the last-write-wins policy document applied to one subnet.
type FirewallPolicy struct {
	Ingress []FirewallRule `json:"ingress,omitempty"`
	Egress  []FirewallRule `json:"egress,omitempty"`
}

// SubnetRecord is the persisted representation of a Subnet (§3).
type SubnetRecord struct {
	Name      string     `json:"name"`
	CIDR      string     `json:"cidr"`
	Type      SubnetType `json:"type"`
	Gateway   string     `json:"gateway"`
	Endpoint  string     `json:"endpoint"`
	Namespace string     `json:"namespace"`
	VethHost  string     `json:"vethHost"`
	VethNs    string     `json:"vethNs"`
}

// PeeringRecord is one VPC's half of a peering (§3). Each peering is
// stored twice, once per side (§9 "cyclic ownership").
type PeeringRecord struct {
	Peer           string `json:"peer"`
	Block          string `json:"block"`
	LocalEndpoint  string `json:"localEndpoint"`
	RemoteEndpoint string `json:"remoteEndpoint"`
	VethLocal      string `json:"vethLocal"`
	VethRemote     string `json:"vethRemote"`
}

// VPCRecord is the full persisted document for one VPC (§6.2).
type VPCRecord struct {
	Name     string                    `json:"name"`
	CIDR     string                    `json:"cidr"`
	Gateway  string                    `json:"gateway"`
	Bridge   string                    `json:"bridge"`
	Subnets  []SubnetRecord            `json:"subnets"`
	Peerings []PeeringRecord           `json:"peerings"`
	Policies map[string]FirewallPolicy `json:"policies"`
}

// Subnet looks up a subnet by name within this VPC record.
func (v *VPCRecord) Subnet(name string) (*SubnetRecord, bool) {
	for i := range v.Subnets {
		if v.Subnets[i].Name == name {
			return &v.Subnets[i], true
		}
	}
	return nil, false
}

// Peering looks up the local half of a peering with the named partner.
func (v *VPCRecord) Peering(peer string) (*PeeringRecord, bool) {
	for i := range v.Peerings {
		if v.Peerings[i].Peer == peer {
			return &v.Peerings[i], true
		}
	}
	return nil, false
}

// RemoveSubnet deletes the subnet with the given name, if present.
func (v *VPCRecord) RemoveSubnet(name string) {
	out := v.Subnets[:0]
	for _, s := range v.Subnets {
		if s.Name != name {
			out = append(out, s)
		}
	}
	v.Subnets = out
}

// RemovePeering deletes the local half of a peering with the named partner.
func (v *VPCRecord) RemovePeering(peer string) {
	out := v.Peerings[:0]
	for _, p := range v.Peerings {
		if p.Peer != peer {
			out = append(out, p)
		}
	}
	v.Peerings = out
}

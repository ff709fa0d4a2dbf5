// Package driver defines the narrow, verb-level kernel-networking
// primitives the Reconciler composes into plans (spec §4.3). All host
// side effects flow through this interface; concrete implementations
// live in netlinkdriver (the real kernel driver) and faketest (an
// in-memory recorder used by unit tests).
package driver

import "net"

// RouteSpec describes a single route to add or remove inside a namespace.
type RouteSpec struct {
	// Dst is the destination network. A nil Dst means the default route.
	Dst *net.IPNet
	// Via is the next-hop gateway address.
	Via net.IP
}

// Protocol is the L4 protocol a filter rule matches on.
type Protocol string

// Recognized protocol values (§4.6).
const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// FilterAction is the action a filter rule applies.
type FilterAction string

// Recognized filter actions.
const (
	Accept FilterAction = "ACCEPT"
	Drop   FilterAction = "DROP"
)

// FilterDirection says whether a filter rule matches on source or
// destination CIDR (ingress scopes by destination, egress by source —
// spec §4.4.4).
type FilterDirection string

// Recognized filter directions.
const (
	DirIngress FilterDirection = "ingress"
	DirEgress  FilterDirection = "egress"
)

// FilterRule is one packet-filter entry at the host forwarding hook,
// scoped by source/destination CIDR, L4 protocol, and port (§4.3, §4.6).
// Tag identifies the (VPC, subnet) this rule belongs to so a later bulk
// removal can target only tool-installed rules (§9).
type FilterRule struct {
	Tag       string
	Direction FilterDirection
	CIDR      *net.IPNet
	Protocol  Protocol
	Port      int
	Action    FilterAction
}

// Driver is the abstract kernel-networking surface spec §4.3 describes.
// Every primitive MUST succeed ("was already so") when invoked with the
// same arguments as an already-applied state; only genuinely unexpected
// failures should be returned as errors.
type Driver interface {
	// EnsureIPForwarding enables IP forwarding on the host.
	EnsureIPForwarding() error

	// CreateBridge creates (if absent) and brings up a bridge interface.
	CreateBridge(name string) error
	// DeleteBridge removes a bridge interface.
	DeleteBridge(name string) error
	// AssignBridgeAddr assigns an additional IP address to a bridge.
	AssignBridgeAddr(bridge string, addr *net.IPNet) error
	// UnassignBridgeAddr removes a previously assigned bridge address.
	UnassignBridgeAddr(bridge string, addr *net.IPNet) error

	// CreateNamespace creates a named network namespace and brings its
	// loopback interface up.
	CreateNamespace(name string) error
	// DeleteNamespace removes a named network namespace.
	DeleteNamespace(name string) error
	// ListNamespaces returns the names of all existing vpcctl-managed
	// network namespaces (those matching "ns-*").
	ListNamespaces() ([]string, error)

	// CreateVeth creates a veth pair, attaches hostSide to the named
	// bridge (brought up), and moves nsSide into namespace ns where it
	// is renamed to eth0 and brought up.
	CreateVeth(hostSide, bridge, nsSide, ns string) error
	// DeleteVeth removes a veth pair by its host-side name.
	DeleteVeth(hostSide string) error

	// CreatePeeringVeth creates a veth pair whose two ends are attached
	// to bridgeA and bridgeB respectively (both brought up), without
	// entering any namespace.
	CreatePeeringVeth(legA, bridgeA, legB, bridgeB string) error
	// DeletePeeringVeth removes a peering veth pair by one leg's name.
	DeletePeeringVeth(leg string) error

	// AssignAddr assigns addr to an interface living on the host (when
	// ns is empty) or inside namespace ns.
	AssignAddr(ifName, ns string, addr *net.IPNet) error
	// UnassignAddr removes addr from an interface.
	UnassignAddr(ifName, ns string, addr *net.IPNet) error

	// AddRoute adds a route inside namespace ns.
	AddRoute(ns string, route RouteSpec) error
	// DelRoute removes a route inside namespace ns.
	DelRoute(ns string, route RouteSpec) error
	// ListRoutes lists the routes with a next-hop gateway currently
	// installed in namespace ns, including the default route; connected
	// routes are not listed.
	ListRoutes(ns string) ([]RouteSpec, error)

	// AddHostRoute adds a route in the host's own (root) routing table —
	// used for cross-VPC peering, where the route's next hop is a
	// peering veth endpoint address living in the root namespace rather
	// than inside any subnet namespace (§4.4.3, §4.5). Unlike AddRoute,
	// this never enters a namespace or assumes an "eth0" device: the
	// outgoing device is whatever already carries a connected route to
	// route.Via (the peering veth leg assigned that address).
	AddHostRoute(route RouteSpec) error
	// DelHostRoute removes a route previously added with AddHostRoute.
	DelHostRoute(route RouteSpec) error
	// ListHostRoutes lists the host-table routes that have both a
	// destination and a next-hop gateway, which includes every route
	// installed by AddHostRoute (used by the routing planner's diff).
	ListHostRoutes() ([]RouteSpec, error)

	// DefaultEgressInterface returns the name of the host's
	// default-route interface (§5 "shared resources").
	DefaultEgressInterface() (string, error)

	// InstallSNAT installs a source-NAT (masquerade) rule for cidr
	// egressing via iface.
	InstallSNAT(cidr *net.IPNet, iface string) error
	// RemoveSNAT removes a previously installed source-NAT rule.
	RemoveSNAT(cidr *net.IPNet, iface string) error

	// InstallFilterRule installs one packet-filter rule at the host
	// forwarding hook.
	InstallFilterRule(rule FilterRule) error
	// RemoveFilterRulesByTag removes every filter rule previously
	// installed with the given tag.
	RemoveFilterRulesByTag(tag string) error
	// InstallForwardAllow installs a bidirectional forwarding-allow
	// rule between two CIDRs (§4.4.3 step 5), tagged for later removal.
	InstallForwardAllow(tag string, a, b *net.IPNet) error
	// RemoveForwardAllowByTag removes forwarding-allow rules with tag.
	RemoveForwardAllowByTag(tag string) error

	// Exec runs argv inside namespace ns, detached, for use by the
	// workload deployer (§1, §4.7). It does not wait for completion.
	Exec(ns string, argv []string) error
}

// Package faketest provides an in-memory, recording implementation of
// driver.Driver for unit tests, per spec §9 ("a mock driver enables
// fast property tests"). It answers idempotently just like the real
// driver: creating something that already exists, or deleting something
// already absent, both succeed without recording a change.
package faketest

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/vpcctl/vpcctl/internal/driver"
)

// Call records one invocation of a Driver method, for test assertions
// about plan ordering and rollback.
type Call struct {
	Verb string
	Args []string
}

// Driver is the fake.
type Driver struct {
	mu sync.Mutex

	Calls []Call

	bridges    map[string]bool
	bridgeAddr map[string]map[string]bool // bridge -> addr string -> present
	namespaces map[string]bool
	veths      map[string]string // hostSide -> ns it feeds
	peerVeths  map[string]bool
	ifAddrs    map[string]map[string]bool // "if@ns" -> addr string -> present
	routes     map[string][]driver.RouteSpec
	hostRoutes []driver.RouteSpec
	snat       map[string]bool // cidr|iface
	filters    map[string][]driver.FilterRule
	fwdAllow   map[string]bool

	// DefaultIface is returned by DefaultEgressInterface.
	DefaultIface string

	// FailOn, if set, makes the named verb return an injected error on
	// the call whose count for that verb equals FailAt (1-indexed); the
	// calls before and after it succeed. Used by reconciler tests to
	// exercise rollback.
	FailOn string
	FailAt int
	callCt map[string]int
}

// New returns a ready-to-use fake driver.
func New() *Driver {
	return &Driver{
		bridges:    map[string]bool{},
		bridgeAddr: map[string]map[string]bool{},
		namespaces: map[string]bool{},
		veths:      map[string]string{},
		peerVeths:  map[string]bool{},
		ifAddrs:    map[string]map[string]bool{},
		routes:     map[string][]driver.RouteSpec{},
		snat:       map[string]bool{},
		filters:    map[string][]driver.FilterRule{},
		fwdAllow:   map[string]bool{},
		callCt:     map[string]int{},

		DefaultIface: "eth0",
	}
}

func (d *Driver) record(verb string, args ...string) error {
	d.Calls = append(d.Calls, Call{Verb: verb, Args: args})
	d.callCt[verb]++
	if d.FailOn == verb && d.callCt[verb] == d.FailAt {
		return fmt.Errorf("fake driver: injected failure on %s", verb)
	}
	return nil
}

func routeKey(r driver.RouteSpec) string {
	dst := "default"
	if r.Dst != nil {
		dst = r.Dst.String()
	}
	return dst + "|" + r.Via.String()
}

// EnsureIPForwarding implements driver.Driver.
func (d *Driver) EnsureIPForwarding() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("EnsureIPForwarding")
}

// CreateBridge implements driver.Driver.
func (d *Driver) CreateBridge(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("CreateBridge", name); err != nil {
		return err
	}
	d.bridges[name] = true
	return nil
}

// DeleteBridge implements driver.Driver.
func (d *Driver) DeleteBridge(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("DeleteBridge", name); err != nil {
		return err
	}
	delete(d.bridges, name)
	delete(d.bridgeAddr, name)
	return nil
}

// AssignBridgeAddr implements driver.Driver.
func (d *Driver) AssignBridgeAddr(bridge string, addr *net.IPNet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("AssignBridgeAddr", bridge, addr.String()); err != nil {
		return err
	}
	if d.bridgeAddr[bridge] == nil {
		d.bridgeAddr[bridge] = map[string]bool{}
	}
	d.bridgeAddr[bridge][addr.String()] = true
	return nil
}

// UnassignBridgeAddr implements driver.Driver.
func (d *Driver) UnassignBridgeAddr(bridge string, addr *net.IPNet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("UnassignBridgeAddr", bridge, addr.String()); err != nil {
		return err
	}
	delete(d.bridgeAddr[bridge], addr.String())
	return nil
}

// CreateNamespace implements driver.Driver.
func (d *Driver) CreateNamespace(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("CreateNamespace", name); err != nil {
		return err
	}
	d.namespaces[name] = true
	return nil
}

// DeleteNamespace implements driver.Driver.
func (d *Driver) DeleteNamespace(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("DeleteNamespace", name); err != nil {
		return err
	}
	delete(d.namespaces, name)
	for k := range d.routes {
		if k == name {
			delete(d.routes, k)
		}
	}
	return nil
}

// ListNamespaces implements driver.Driver.
func (d *Driver) ListNamespaces() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for ns := range d.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

// CreateVeth implements driver.Driver.
func (d *Driver) CreateVeth(hostSide, bridge, nsSide, ns string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("CreateVeth", hostSide, bridge, nsSide, ns); err != nil {
		return err
	}
	d.veths[hostSide] = ns
	return nil
}

// DeleteVeth implements driver.Driver.
func (d *Driver) DeleteVeth(hostSide string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("DeleteVeth", hostSide); err != nil {
		return err
	}
	delete(d.veths, hostSide)
	return nil
}

// CreatePeeringVeth implements driver.Driver.
func (d *Driver) CreatePeeringVeth(legA, bridgeA, legB, bridgeB string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("CreatePeeringVeth", legA, bridgeA, legB, bridgeB); err != nil {
		return err
	}
	d.peerVeths[legA] = true
	d.peerVeths[legB] = true
	return nil
}

// DeletePeeringVeth implements driver.Driver.
func (d *Driver) DeletePeeringVeth(leg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("DeletePeeringVeth", leg); err != nil {
		return err
	}
	delete(d.peerVeths, leg)
	return nil
}

// AssignAddr implements driver.Driver.
func (d *Driver) AssignAddr(ifName, ns string, addr *net.IPNet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("AssignAddr", ifName, ns, addr.String()); err != nil {
		return err
	}
	key := ifName + "@" + ns
	if d.ifAddrs[key] == nil {
		d.ifAddrs[key] = map[string]bool{}
	}
	d.ifAddrs[key][addr.String()] = true
	return nil
}

// UnassignAddr implements driver.Driver.
func (d *Driver) UnassignAddr(ifName, ns string, addr *net.IPNet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("UnassignAddr", ifName, ns, addr.String()); err != nil {
		return err
	}
	delete(d.ifAddrs[ifName+"@"+ns], addr.String())
	return nil
}

// AddRoute implements driver.Driver.
func (d *Driver) AddRoute(ns string, route driver.RouteSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dst := "default"
	if route.Dst != nil {
		dst = route.Dst.String()
	}
	if err := d.record("AddRoute", ns, dst, route.Via.String()); err != nil {
		return err
	}
	for _, r := range d.routes[ns] {
		if routeKey(r) == routeKey(route) {
			return nil
		}
	}
	d.routes[ns] = append(d.routes[ns], route)
	return nil
}

// DelRoute implements driver.Driver.
func (d *Driver) DelRoute(ns string, route driver.RouteSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dst := "default"
	if route.Dst != nil {
		dst = route.Dst.String()
	}
	if err := d.record("DelRoute", ns, dst, route.Via.String()); err != nil {
		return err
	}
	out := d.routes[ns][:0]
	for _, r := range d.routes[ns] {
		if routeKey(r) != routeKey(route) {
			out = append(out, r)
		}
	}
	d.routes[ns] = out
	return nil
}

// ListRoutes implements driver.Driver.
func (d *Driver) ListRoutes(ns string) ([]driver.RouteSpec, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]driver.RouteSpec, len(d.routes[ns]))
	copy(out, d.routes[ns])
	return out, nil
}

// AddHostRoute implements driver.Driver.
func (d *Driver) AddHostRoute(route driver.RouteSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dst := "default"
	if route.Dst != nil {
		dst = route.Dst.String()
	}
	if err := d.record("AddHostRoute", dst, route.Via.String()); err != nil {
		return err
	}
	for _, r := range d.hostRoutes {
		if routeKey(r) == routeKey(route) {
			return nil
		}
	}
	d.hostRoutes = append(d.hostRoutes, route)
	return nil
}

// DelHostRoute implements driver.Driver.
func (d *Driver) DelHostRoute(route driver.RouteSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dst := "default"
	if route.Dst != nil {
		dst = route.Dst.String()
	}
	if err := d.record("DelHostRoute", dst, route.Via.String()); err != nil {
		return err
	}
	out := d.hostRoutes[:0]
	for _, r := range d.hostRoutes {
		if routeKey(r) != routeKey(route) {
			out = append(out, r)
		}
	}
	d.hostRoutes = out
	return nil
}

// ListHostRoutes implements driver.Driver.
func (d *Driver) ListHostRoutes() ([]driver.RouteSpec, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]driver.RouteSpec, len(d.hostRoutes))
	copy(out, d.hostRoutes)
	return out, nil
}

// HasHostRoute reports whether a host-table route to dst via via is installed.
func (d *Driver) HasHostRoute(dst *net.IPNet, via net.IP) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.hostRoutes {
		if r.Dst != nil && dst != nil && r.Dst.String() == dst.String() && r.Via.Equal(via) {
			return true
		}
	}
	return false
}

// DefaultEgressInterface implements driver.Driver.
func (d *Driver) DefaultEgressInterface() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DefaultIface, nil
}

// InstallSNAT implements driver.Driver.
func (d *Driver) InstallSNAT(c *net.IPNet, iface string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("InstallSNAT", c.String(), iface); err != nil {
		return err
	}
	d.snat[c.String()+"|"+iface] = true
	return nil
}

// RemoveSNAT implements driver.Driver.
func (d *Driver) RemoveSNAT(c *net.IPNet, iface string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("RemoveSNAT", c.String(), iface); err != nil {
		return err
	}
	delete(d.snat, c.String()+"|"+iface)
	return nil
}

// HasSNAT reports whether a masquerade rule for cidr is currently installed.
func (d *Driver) HasSNAT(c *net.IPNet) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.snat {
		if len(k) >= len(c.String()) && k[:len(c.String())] == c.String() {
			return true
		}
	}
	return false
}

// InstallFilterRule implements driver.Driver.
func (d *Driver) InstallFilterRule(rule driver.FilterRule) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("InstallFilterRule", rule.Tag, string(rule.Direction), rule.CIDR.String(), string(rule.Action)); err != nil {
		return err
	}
	d.filters[rule.Tag] = append(d.filters[rule.Tag], rule)
	return nil
}

// RemoveFilterRulesByTag implements driver.Driver.
func (d *Driver) RemoveFilterRulesByTag(tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("RemoveFilterRulesByTag", tag); err != nil {
		return err
	}
	delete(d.filters, tag)
	return nil
}

// InstallForwardAllow implements driver.Driver.
func (d *Driver) InstallForwardAllow(tag string, a, b *net.IPNet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("InstallForwardAllow", tag, a.String(), b.String()); err != nil {
		return err
	}
	d.fwdAllow[tag] = true
	return nil
}

// RemoveForwardAllowByTag implements driver.Driver.
func (d *Driver) RemoveForwardAllowByTag(tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("RemoveForwardAllowByTag", tag); err != nil {
		return err
	}
	delete(d.fwdAllow, tag)
	return nil
}

// Exec implements driver.Driver.
func (d *Driver) Exec(ns string, argv []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("Exec", append([]string{ns}, argv...)...)
}

// FilterRules returns the currently installed filter rules for tag, in
// install order, for test assertions.
func (d *Driver) FilterRules(tag string) []driver.FilterRule {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]driver.FilterRule, len(d.filters[tag]))
	copy(out, d.filters[tag])
	return out
}

// HasForwardAllow reports whether a forwarding-allow rule exists for tag.
func (d *Driver) HasForwardAllow(tag string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fwdAllow[tag]
}

// HasBridge reports whether a bridge with the given name exists.
func (d *Driver) HasBridge(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bridges[name]
}

// HasNamespace reports whether a namespace with the given name exists.
func (d *Driver) HasNamespace(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.namespaces[name]
}

// HasVeth reports whether a subnet veth with the given host-side name exists.
func (d *Driver) HasVeth(hostSide string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.veths[hostSide]
	return ok
}

// HasPeeringVeth reports whether a peering veth leg with this name exists.
func (d *Driver) HasPeeringVeth(leg string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peerVeths[leg]
}

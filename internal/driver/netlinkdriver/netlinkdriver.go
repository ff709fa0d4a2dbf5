// Package netlinkdriver is the real kernel-networking implementation of
// driver.Driver (spec §4.3), built directly on the same libraries and
// call patterns as the reference sdn/pkg/configitems configurators:
// github.com/vishvananda/netlink for links/bridges/veths/addresses/
// routes, github.com/vishvananda/netns for namespace switching,
// os/exec "ip netns"/"sysctl" for the handful of operations netlink
// does not cover end to end, and github.com/coreos/go-iptables for
// NAT/filter rules.
package netlinkdriver

import (
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/coreos/go-iptables/iptables"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"github.com/vpcctl/vpcctl/internal/driver"
	"github.com/vpcctl/vpcctl/internal/vpcerr"
)

// filterTable/chain mirror the reference tree's habit of naming the
// exact table/chain a rule targets rather than hiding it behind a
// constant with no context.
const (
	natTable      = "nat"
	natChain      = "POSTROUTING"
	filterTable   = "filter"
	forwardChain  = "FORWARD"
	commentPrefix = "vpcctl:"
)

// Driver is the netlink/iptables-backed kernel driver.
type Driver struct {
	ipt *iptables.IPTables
}

// New builds a Driver, initializing the underlying go-iptables handle.
func New() (*Driver, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, vpcerr.Driverf(err, "failed to initialize iptables")
	}
	return &Driver{ipt: ipt}, nil
}

var _ driver.Driver = (*Driver)(nil)

// EnsureIPForwarding implements driver.Driver.
func (d *Driver) EnsureIPForwarding() error {
	out, err := exec.Command("sysctl", "-w", "net.ipv4.ip_forward=1").CombinedOutput()
	if err != nil {
		return vpcerr.Driverf(err, "failed to enable ip forwarding: %s", out)
	}
	return nil
}

// CreateBridge implements driver.Driver.
func (d *Driver) CreateBridge(name string) error {
	if _, err := netlink.LinkByName(name); err == nil {
		log.Debugf("bridge %s already exists", name)
		return bringUp(name)
	}
	attrs := netlink.NewLinkAttrs()
	attrs.Name = name
	br := &netlink.Bridge{LinkAttrs: attrs}
	if err := netlink.LinkAdd(br); err != nil && !isExists(err) {
		return vpcerr.Driverf(err, "failed to create bridge %s", name)
	}
	return bringUp(name)
}

// DeleteBridge implements driver.Driver.
func (d *Driver) DeleteBridge(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return vpcerr.Driverf(err, "failed to look up bridge %s", name)
	}
	if err := netlink.LinkDel(link); err != nil && !isNotExist(err) {
		return vpcerr.Driverf(err, "failed to delete bridge %s", name)
	}
	return nil
}

// AssignBridgeAddr implements driver.Driver.
func (d *Driver) AssignBridgeAddr(bridge string, addr *net.IPNet) error {
	return d.assignAddrOnHost(bridge, addr)
}

// UnassignBridgeAddr implements driver.Driver.
func (d *Driver) UnassignBridgeAddr(bridge string, addr *net.IPNet) error {
	return d.unassignAddrOnHost(bridge, addr)
}

// CreateNamespace implements driver.Driver.
//
// Mirrors sdn/pkg/configitems/netNamespace.go's NetNamespaceConfigurator.Create:
// "ip netns add" followed by bringing the namespace's loopback up, since
// vishvananda/netlink has no direct equivalent of named-namespace creation.
func (d *Driver) CreateNamespace(name string) error {
	out, err := exec.Command("ip", "netns", "add", name).CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "File exists") {
			log.Debugf("namespace %s already exists", name)
		} else {
			return vpcerr.Driverf(err, "failed to create namespace %s: %s", name, out)
		}
	}
	out, err = exec.Command("ip", "netns", "exec", name, "ip", "link", "set", "dev", "lo", "up").CombinedOutput()
	if err != nil {
		return vpcerr.Driverf(err, "failed to bring up loopback in namespace %s: %s", name, out)
	}
	return nil
}

// DeleteNamespace implements driver.Driver.
func (d *Driver) DeleteNamespace(name string) error {
	out, err := exec.Command("ip", "netns", "del", name).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such file") {
		return vpcerr.Driverf(err, "failed to delete namespace %s: %s", name, out)
	}
	return nil
}

// ListNamespaces implements driver.Driver.
func (d *Driver) ListNamespaces() ([]string, error) {
	out, err := exec.Command("ip", "-j", "netns", "list").CombinedOutput()
	if err != nil {
		// Older iproute2 lacks -j; fall back to plain text.
		out, err = exec.Command("ip", "netns", "list").CombinedOutput()
		if err != nil {
			return nil, vpcerr.Driverf(err, "failed to list namespaces: %s", out)
		}
		var names []string
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if name := strings.Fields(line)[0]; strings.HasPrefix(name, "ns-") {
				names = append(names, name)
			}
		}
		return names, nil
	}
	var names []string
	for _, part := range strings.Split(string(out), `"name":"`)[1:] {
		if end := strings.Index(part, `"`); end > 0 && strings.HasPrefix(part[:end], "ns-") {
			names = append(names, part[:end])
		}
	}
	return names, nil
}

// CreateVeth implements driver.Driver.
//
// Mirrors sdn/pkg/configitems/veth.go's VethConfigurator.Create: create
// the pair, attach the host side to the bridge, move the namespace side
// into ns and rename it to eth0.
func (d *Driver) CreateVeth(hostSide, bridge, nsSide, ns string) error {
	if _, err := netlink.LinkByName(hostSide); err == nil {
		log.Debugf("veth %s already exists", hostSide)
		return nil
	}
	attrs := netlink.NewLinkAttrs()
	attrs.Name = hostSide
	veth := &netlink.Veth{LinkAttrs: attrs, PeerName: nsSide}
	if err := netlink.LinkAdd(veth); err != nil && !isExists(err) {
		return vpcerr.Driverf(err, "failed to create veth pair %s/%s", hostSide, nsSide)
	}

	hostLink, err := netlink.LinkByName(hostSide)
	if err != nil {
		return vpcerr.Driverf(err, "failed to look up veth host side %s", hostSide)
	}
	brLink, err := netlink.LinkByName(bridge)
	if err != nil {
		return vpcerr.Driverf(err, "failed to look up bridge %s", bridge)
	}
	if err := netlink.LinkSetMaster(hostLink, brLink); err != nil {
		return vpcerr.Driverf(err, "failed to attach %s to bridge %s", hostSide, bridge)
	}
	if err := netlink.LinkSetUp(hostLink); err != nil {
		return vpcerr.Driverf(err, "failed to bring up %s", hostSide)
	}

	nsLink, err := netlink.LinkByName(nsSide)
	if err != nil {
		return vpcerr.Driverf(err, "failed to look up veth ns side %s", nsSide)
	}
	nsHandle, err := netns.GetFromName(ns)
	if err != nil {
		return vpcerr.Driverf(err, "failed to open namespace %s", ns)
	}
	defer nsHandle.Close()
	if err := netlink.LinkSetNsFd(nsLink, int(nsHandle)); err != nil {
		return vpcerr.Driverf(err, "failed to move %s into namespace %s", nsSide, ns)
	}

	return inNamespace(ns, func() error {
		link, err := netlink.LinkByName(nsSide)
		if err != nil {
			return vpcerr.Driverf(err, "failed to look up %s inside namespace %s", nsSide, ns)
		}
		if err := netlink.LinkSetName(link, "eth0"); err != nil {
			return vpcerr.Driverf(err, "failed to rename %s to eth0 in namespace %s", nsSide, ns)
		}
		link, err = netlink.LinkByName("eth0")
		if err != nil {
			return vpcerr.Driverf(err, "failed to look up eth0 inside namespace %s", ns)
		}
		if err := netlink.LinkSetUp(link); err != nil {
			return vpcerr.Driverf(err, "failed to bring up eth0 in namespace %s", ns)
		}
		return nil
	})
}

// DeleteVeth implements driver.Driver.
func (d *Driver) DeleteVeth(hostSide string) error {
	link, err := netlink.LinkByName(hostSide)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return vpcerr.Driverf(err, "failed to look up veth %s", hostSide)
	}
	if err := netlink.LinkDel(link); err != nil && !isNotExist(err) {
		return vpcerr.Driverf(err, "failed to delete veth %s", hostSide)
	}
	return nil
}

// CreatePeeringVeth implements driver.Driver (§4.4.3 step 2-3).
func (d *Driver) CreatePeeringVeth(legA, bridgeA, legB, bridgeB string) error {
	if _, err := netlink.LinkByName(legA); err == nil {
		log.Debugf("peering veth %s already exists", legA)
		return nil
	}
	attrs := netlink.NewLinkAttrs()
	attrs.Name = legA
	veth := &netlink.Veth{LinkAttrs: attrs, PeerName: legB}
	if err := netlink.LinkAdd(veth); err != nil && !isExists(err) {
		return vpcerr.Driverf(err, "failed to create peering veth %s/%s", legA, legB)
	}
	if err := d.attachToBridge(legA, bridgeA); err != nil {
		return err
	}
	if err := d.attachToBridge(legB, bridgeB); err != nil {
		return err
	}
	return nil
}

func (d *Driver) attachToBridge(ifName, bridge string) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return vpcerr.Driverf(err, "failed to look up %s", ifName)
	}
	brLink, err := netlink.LinkByName(bridge)
	if err != nil {
		return vpcerr.Driverf(err, "failed to look up bridge %s", bridge)
	}
	if err := netlink.LinkSetMaster(link, brLink); err != nil {
		return vpcerr.Driverf(err, "failed to attach %s to bridge %s", ifName, bridge)
	}
	return netlink.LinkSetUp(link)
}

// DeletePeeringVeth implements driver.Driver.
func (d *Driver) DeletePeeringVeth(leg string) error {
	return d.DeleteVeth(leg)
}

// AssignAddr implements driver.Driver.
func (d *Driver) AssignAddr(ifName, ns string, addr *net.IPNet) error {
	if ns == "" {
		return d.assignAddrOnHost(ifName, addr)
	}
	return inNamespace(ns, func() error { return d.assignAddrOnHost(ifName, addr) })
}

// UnassignAddr implements driver.Driver.
func (d *Driver) UnassignAddr(ifName, ns string, addr *net.IPNet) error {
	if ns == "" {
		return d.unassignAddrOnHost(ifName, addr)
	}
	return inNamespace(ns, func() error { return d.unassignAddrOnHost(ifName, addr) })
}

func (d *Driver) assignAddrOnHost(ifName string, addr *net.IPNet) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return vpcerr.Driverf(err, "failed to look up %s", ifName)
	}
	if err := netlink.AddrAdd(link, &netlink.Addr{IPNet: addr}); err != nil && !isExists(err) {
		return vpcerr.Driverf(err, "failed to assign %s to %s", addr, ifName)
	}
	return netlink.LinkSetUp(link)
}

func (d *Driver) unassignAddrOnHost(ifName string, addr *net.IPNet) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return vpcerr.Driverf(err, "failed to look up %s", ifName)
	}
	if err := netlink.AddrDel(link, &netlink.Addr{IPNet: addr}); err != nil && !isNotExist(err) {
		return vpcerr.Driverf(err, "failed to remove %s from %s", addr, ifName)
	}
	return nil
}

// AddRoute implements driver.Driver.
func (d *Driver) AddRoute(ns string, r driver.RouteSpec) error {
	return inNamespace(ns, func() error {
		link, err := netlink.LinkByName("eth0")
		if err != nil {
			return vpcerr.Driverf(err, "failed to look up eth0 in namespace %s", ns)
		}
		route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: r.Dst, Gw: r.Via}
		if err := netlink.RouteAdd(route); err != nil && !isExists(err) {
			return vpcerr.Driverf(err, "failed to add route %+v in namespace %s", r, ns)
		}
		return nil
	})
}

// DelRoute implements driver.Driver.
func (d *Driver) DelRoute(ns string, r driver.RouteSpec) error {
	return inNamespace(ns, func() error {
		link, err := netlink.LinkByName("eth0")
		if err != nil {
			if isNotExist(err) {
				return nil
			}
			return vpcerr.Driverf(err, "failed to look up eth0 in namespace %s", ns)
		}
		route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: r.Dst, Gw: r.Via}
		if err := netlink.RouteDel(route); err != nil && !isNotExist(err) {
			return vpcerr.Driverf(err, "failed to remove route %+v in namespace %s", r, ns)
		}
		return nil
	})
}

// ListRoutes implements driver.Driver.
func (d *Driver) ListRoutes(ns string) ([]driver.RouteSpec, error) {
	var out []driver.RouteSpec
	err := inNamespace(ns, func() error {
		link, err := netlink.LinkByName("eth0")
		if err != nil {
			return vpcerr.Driverf(err, "failed to look up eth0 in namespace %s", ns)
		}
		routes, err := netlink.RouteList(link, netlink.FAMILY_V4)
		if err != nil {
			return vpcerr.Driverf(err, "failed to list routes in namespace %s", ns)
		}
		for _, r := range routes {
			if r.Gw == nil {
				continue // connected/link-scope route, not one we installed
			}
			out = append(out, driver.RouteSpec{Dst: r.Dst, Via: r.Gw})
		}
		return nil
	})
	return out, err
}

// AddHostRoute implements driver.Driver (§4.4.3 step 4, host side). No
// namespace switch and no "eth0" assumption: route.Via is a peering
// veth endpoint address already assigned in the root namespace, so the
// kernel resolves the outgoing device itself from the connected route
// that address already carries.
func (d *Driver) AddHostRoute(r driver.RouteSpec) error {
	route := &netlink.Route{Dst: r.Dst, Gw: r.Via}
	if err := netlink.RouteAdd(route); err != nil && !isExists(err) {
		return vpcerr.Driverf(err, "failed to add host route %+v", r)
	}
	return nil
}

// DelHostRoute implements driver.Driver.
func (d *Driver) DelHostRoute(r driver.RouteSpec) error {
	route := &netlink.Route{Dst: r.Dst, Gw: r.Via}
	if err := netlink.RouteDel(route); err != nil && !isNotExist(err) {
		return vpcerr.Driverf(err, "failed to remove host route %+v", r)
	}
	return nil
}

// ListHostRoutes implements driver.Driver.
func (d *Driver) ListHostRoutes() ([]driver.RouteSpec, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, vpcerr.Driverf(err, "failed to list host routes")
	}
	var out []driver.RouteSpec
	for _, r := range routes {
		if r.Dst == nil || r.Gw == nil {
			continue // default route and connected/link-scope routes aren't ours
		}
		out = append(out, driver.RouteSpec{Dst: r.Dst, Via: r.Gw})
	}
	return out, nil
}

// DefaultEgressInterface implements driver.Driver (§5 "shared resources").
func (d *Driver) DefaultEgressInterface() (string, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return "", vpcerr.Driverf(err, "failed to list host routes")
	}
	for _, r := range routes {
		if r.Dst == nil {
			link, err := netlink.LinkByIndex(r.LinkIndex)
			if err != nil {
				continue
			}
			return link.Attrs().Name, nil
		}
	}
	return "", vpcerr.Driverf(nil, "no default route found on host")
}

// InstallSNAT implements driver.Driver (§4.4.2 step 7).
func (d *Driver) InstallSNAT(c *net.IPNet, iface string) error {
	err := d.ipt.AppendUnique(natTable, natChain, "-s", c.String(), "-o", iface, "-j", "MASQUERADE")
	if err != nil {
		return vpcerr.Driverf(err, "failed to install masquerade rule for %s via %s", c, iface)
	}
	return nil
}

// RemoveSNAT implements driver.Driver.
func (d *Driver) RemoveSNAT(c *net.IPNet, iface string) error {
	err := d.ipt.DeleteIfExists(natTable, natChain, "-s", c.String(), "-o", iface, "-j", "MASQUERADE")
	if err != nil {
		return vpcerr.Driverf(err, "failed to remove masquerade rule for %s via %s", c, iface)
	}
	return nil
}

// InstallFilterRule implements driver.Driver (§4.4.4, §4.6).
func (d *Driver) InstallFilterRule(rule driver.FilterRule) error {
	spec := filterRuleSpec(rule)
	if err := d.ipt.AppendUnique(filterTable, forwardChain, spec...); err != nil {
		return vpcerr.Driverf(err, "failed to install filter rule %+v", rule)
	}
	return nil
}

// RemoveFilterRulesByTag implements driver.Driver, removing only
// rules this tool installed under the given tag (§9 open question #1).
func (d *Driver) RemoveFilterRulesByTag(tag string) error {
	return d.removeRulesMatchingComment(filterTable, forwardChain, commentPrefix+tag)
}

// InstallForwardAllow implements driver.Driver (§4.4.3 step 5).
func (d *Driver) InstallForwardAllow(tag string, a, b *net.IPNet) error {
	comment := commentPrefix + tag
	if err := d.ipt.AppendUnique(filterTable, forwardChain,
		"-s", a.String(), "-d", b.String(), "-j", "ACCEPT", "-m", "comment", "--comment", comment); err != nil {
		return vpcerr.Driverf(err, "failed to install forward-allow %s -> %s", a, b)
	}
	if err := d.ipt.AppendUnique(filterTable, forwardChain,
		"-s", b.String(), "-d", a.String(), "-j", "ACCEPT", "-m", "comment", "--comment", comment); err != nil {
		return vpcerr.Driverf(err, "failed to install forward-allow %s -> %s", b, a)
	}
	return nil
}

// RemoveForwardAllowByTag implements driver.Driver.
func (d *Driver) RemoveForwardAllowByTag(tag string) error {
	return d.removeRulesMatchingComment(filterTable, forwardChain, commentPrefix+tag)
}

func (d *Driver) removeRulesMatchingComment(table, chain, comment string) error {
	rules, err := d.ipt.List(table, chain)
	if err != nil {
		return vpcerr.Driverf(err, "failed to list rules in %s/%s", table, chain)
	}
	for _, rule := range rules {
		spec := parseRuleSpec(rule)
		tagged := false
		for _, f := range spec {
			tagged = tagged || f == comment
		}
		if !tagged {
			continue
		}
		if err := d.ipt.DeleteIfExists(table, chain, spec...); err != nil {
			return vpcerr.Driverf(err, "failed to remove tagged rule %q", rule)
		}
	}
	return nil
}

// Exec implements driver.Driver (§1, §4.7): launch argv detached inside
// namespace ns, the same "ip netns exec" shape as the reference tree's
// namespacedCmd.
func (d *Driver) Exec(ns string, argv []string) error {
	if len(argv) == 0 {
		return vpcerr.Validationf("Exec requires a non-empty argv")
	}
	args := append([]string{"netns", "exec", ns}, argv...)
	cmd := exec.Command("ip", args...)
	if err := cmd.Start(); err != nil {
		return vpcerr.Driverf(err, "failed to launch %v in namespace %s", argv, ns)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func filterRuleSpec(rule driver.FilterRule) []string {
	spec := []string{}
	if rule.Direction == driver.DirIngress {
		spec = append(spec, "-d", rule.CIDR.String())
	} else {
		spec = append(spec, "-s", rule.CIDR.String())
	}
	if rule.Protocol != "" {
		spec = append(spec, "-p", string(rule.Protocol))
	}
	if rule.Port != 0 {
		portFlag := "--dport"
		if rule.Direction == driver.DirEgress {
			portFlag = "--sport"
		}
		spec = append(spec, portFlag, strconv.Itoa(rule.Port))
	}
	spec = append(spec, "-j", string(rule.Action))
	spec = append(spec, "-m", "comment", "--comment", commentPrefix+rule.Tag)
	return spec
}

// parseRuleSpec turns one line of "iptables -S"-style output (as
// returned by go-iptables' List) back into a rulespec usable with
// Delete/DeleteIfExists, by dropping the leading "-A <chain>" token and
// the double quotes the save format puts around values such as comments.
func parseRuleSpec(rule string) []string {
	fields := strings.Fields(rule)
	for i, f := range fields {
		fields[i] = strings.Trim(f, `"`)
	}
	if len(fields) >= 2 && fields[0] == "-A" {
		return fields[2:]
	}
	return fields
}

func bringUp(ifName string) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return vpcerr.Driverf(err, "failed to look up %s", ifName)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return vpcerr.Driverf(err, "failed to bring up %s", ifName)
	}
	return nil
}

// inNamespace runs fn with the calling goroutine's OS thread switched
// into namespace ns, restoring the original namespace afterward.
// Mirrors sdn/pkg/configitems/netNamespace.go's switchToNamespace.
func inNamespace(ns string, fn func() error) error {
	origNs, err := netns.Get()
	if err != nil {
		return vpcerr.Driverf(err, "failed to get current namespace")
	}
	defer origNs.Close()

	nsHandle, err := netns.GetFromName(ns)
	if err != nil {
		return vpcerr.Driverf(err, "failed to open namespace %s", ns)
	}
	defer nsHandle.Close()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := netns.Set(nsHandle); err != nil {
		return vpcerr.Driverf(err, "failed to switch into namespace %s", ns)
	}
	defer func() {
		if err := netns.Set(origNs); err != nil {
			log.Errorf("failed to switch back to original namespace: %v", err)
		}
	}()

	return fn()
}

func isExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "exist")
}

func isNotExist(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such") || strings.Contains(msg, "not exist") || strings.Contains(msg, "link not found")
}

// Package reconciler is the heart of the system (spec §4.4): it turns
// a typed intent into an ordered plan of Driver calls, executes the
// plan against the Store and the kernel, and — on failure part way
// through — reverses exactly the steps it already performed, in
// reverse order, before propagating the original error.
//
// This is deliberately NOT the generic dependency-graph reconciler the
// teacher tree ships (lf-edge/eve/libs/depgraph+reconciler): every plan
// here is a short, fixed, hand-ordered sequence, and undo is a literal
// stack of closures rather than a graph walk. See DESIGN.md.
package reconciler

import (
	"encoding/json"
	"fmt"
	"net"
	"regexp"

	log "github.com/sirupsen/logrus"

	"github.com/vpcctl/vpcctl/internal/allocator"
	"github.com/vpcctl/vpcctl/internal/deploy"
	"github.com/vpcctl/vpcctl/internal/driver"
	"github.com/vpcctl/vpcctl/internal/model"
	"github.com/vpcctl/vpcctl/internal/policy"
	"github.com/vpcctl/vpcctl/internal/routing"
	"github.com/vpcctl/vpcctl/internal/store"
	"github.com/vpcctl/vpcctl/internal/vpcerr"
)

var nameRe = regexp.MustCompile(`^[a-z0-9-]{1,30}$`)

// Reconciler wires the Store and Driver together to execute intents.
type Reconciler struct {
	store  *store.Store
	driver driver.Driver
	log    *log.Logger
	// workloadConfigDir is where DeploySubnetWorkload writes the config
	// files cmd/vpcctl-workload reads on launch (§4.7).
	workloadConfigDir string
}

// New returns a Reconciler over st, driving kernel changes through d
// and logging each step (and outcome) to logger. workloadConfigDir is
// only consulted by DeploySubnetWorkload.
func New(st *store.Store, d driver.Driver, logger *log.Logger, workloadConfigDir string) *Reconciler {
	return &Reconciler{store: st, driver: d, log: logger, workloadConfigDir: workloadConfigDir}
}

// plan is a sequence of already-applied undo closures, built up as
// steps succeed so a later failure can reverse them in order.
type plan struct {
	undo []func()
}

func (p *plan) record(undo func()) {
	p.undo = append(p.undo, undo)
}

// rollback runs every recorded undo closure in reverse order. The undo
// closures discard their own errors, so a failed undo step is not
// logged and never overrides the original failure (§4.4.7).
func (r *Reconciler) rollback(p *plan) {
	for i := len(p.undo) - 1; i >= 0; i-- {
		p.undo[i]()
	}
}

func validateName(kind, name string) error {
	if !nameRe.MatchString(name) {
		return vpcerr.Validationf("%s name %q must match [a-z0-9-]{1,30}", kind, name)
	}
	return nil
}

// CreateVPC implements §4.4.1.
func (r *Reconciler) CreateVPC(name, cidrStr string) error {
	if err := validateName("vpc", name); err != nil {
		return err
	}
	if _, err := r.store.Load(name); err == nil {
		return vpcerr.Conflictf("vpc %q already exists", name)
	} else if !vpcerr.IsNotFound(err) {
		return err
	}

	network, err := allocator.ParseCIDR(cidrStr)
	if err != nil {
		return err
	}
	ones, _ := network.Mask.Size()
	if ones > 24 {
		return vpcerr.Validationf("vpc cidr %s prefix must be /24 or shorter", network)
	}
	if err := r.checkNoVPCOverlap(network, ""); err != nil {
		return err
	}
	gw, err := allocator.Gateway(network)
	if err != nil {
		return err
	}

	bridge := allocator.BridgeName(name)
	p := &plan{}

	if err := r.step("ensure-ip-forwarding", func() error { return r.driver.EnsureIPForwarding() }); err != nil {
		return err
	}

	if err := r.step("create-bridge", func() error { return r.driver.CreateBridge(bridge) }); err != nil {
		r.rollback(p)
		return err
	}
	p.record(func() { _ = r.driver.DeleteBridge(bridge) })

	gwNet := &net.IPNet{IP: gw, Mask: network.Mask}
	if err := r.step("assign-bridge-gateway", func() error { return r.driver.AssignBridgeAddr(bridge, gwNet) }); err != nil {
		r.rollback(p)
		return err
	}
	p.record(func() { _ = r.driver.UnassignBridgeAddr(bridge, gwNet) })

	rec := &model.VPCRecord{
		Name:     name,
		CIDR:     network.String(),
		Gateway:  gw.String(),
		Bridge:   bridge,
		Policies: map[string]model.FirewallPolicy{},
	}
	if err := r.store.Save(rec); err != nil {
		r.rollback(p)
		return err
	}
	r.log.Infof("create-vpc %s cidr=%s gateway=%s bridge=%s: ok", name, rec.CIDR, rec.Gateway, bridge)
	return nil
}

// step executes a single driver call and logs the outcome. Callers
// decide separately whether to record an undo closure on the plan,
// since some steps (EnsureIPForwarding) have none.
func (r *Reconciler) step(name string, do func() error) error {
	if err := do(); err != nil {
		r.log.Errorf("%s: %v", name, err)
		return vpcerr.Driverf(err, "step %s failed", name)
	}
	r.log.Infof("%s: ok", name)
	return nil
}

func (r *Reconciler) checkNoVPCOverlap(network *net.IPNet, except string) error {
	all, err := r.store.List()
	if err != nil {
		return err
	}
	for _, v := range all {
		if v.Name == except {
			continue
		}
		_, other, err := net.ParseCIDR(v.CIDR)
		if err != nil {
			continue
		}
		if allocator.Overlaps(network, other) {
			return vpcerr.Validationf("cidr %s overlaps existing vpc %q (%s)", network, v.Name, other)
		}
	}
	return nil
}

// CreateSubnet implements §4.4.2.
func (r *Reconciler) CreateSubnet(vpcName, subName, cidrStr string, typ model.SubnetType) error {
	if err := validateName("subnet", subName); err != nil {
		return err
	}
	if typ != model.SubnetPublic && typ != model.SubnetPrivate {
		return vpcerr.Validationf("unknown subnet type %q", typ)
	}
	vpc, err := r.store.Load(vpcName)
	if err != nil {
		return err
	}
	if _, ok := vpc.Subnet(subName); ok {
		return vpcerr.Conflictf("subnet %q already exists in vpc %q", subName, vpcName)
	}
	_, vpcNet, err := net.ParseCIDR(vpc.CIDR)
	if err != nil {
		return vpcerr.IOf(err, "corrupt vpc cidr for %q", vpcName)
	}
	subNet, err := allocator.ParseCIDR(cidrStr)
	if err != nil {
		return err
	}
	if !allocator.Contains(vpcNet, subNet) {
		return vpcerr.Validationf("subnet cidr %s is not contained in vpc cidr %s", subNet, vpcNet)
	}
	for _, s := range vpc.Subnets {
		_, sibNet, err := net.ParseCIDR(s.CIDR)
		if err != nil {
			continue
		}
		if allocator.Overlaps(subNet, sibNet) {
			return vpcerr.Validationf("subnet cidr %s overlaps sibling subnet %q (%s)", subNet, s.Name, sibNet)
		}
	}

	gw, err := allocator.Gateway(subNet)
	if err != nil {
		return err
	}
	ep, err := allocator.Endpoint(subNet)
	if err != nil {
		return err
	}
	ns := allocator.NamespaceName(vpcName, subName)
	hostVeth, nsVeth := allocator.SubnetVethNames(vpcName, subName)

	p := &plan{}

	if err := r.step("create-namespace", func() error { return r.driver.CreateNamespace(ns) }); err != nil {
		r.rollback(p)
		return err
	}
	p.record(func() { _ = r.driver.DeleteNamespace(ns) })

	if err := r.step("create-veth", func() error {
		return r.driver.CreateVeth(hostVeth, vpc.Bridge, nsVeth, ns)
	}); err != nil {
		r.rollback(p)
		return err
	}
	p.record(func() { _ = r.driver.DeleteVeth(hostVeth) })

	gwNet := &net.IPNet{IP: gw, Mask: subNet.Mask}
	if err := r.step("assign-subnet-gateway", func() error {
		return r.driver.AssignBridgeAddr(vpc.Bridge, gwNet)
	}); err != nil {
		r.rollback(p)
		return err
	}
	p.record(func() { _ = r.driver.UnassignBridgeAddr(vpc.Bridge, gwNet) })

	epNet := &net.IPNet{IP: ep, Mask: subNet.Mask}
	if err := r.step("assign-endpoint", func() error {
		return r.driver.AssignAddr("eth0", ns, epNet)
	}); err != nil {
		r.rollback(p)
		return err
	}
	p.record(func() { _ = r.driver.UnassignAddr("eth0", ns, epNet) })

	defRoute := driver.RouteSpec{Dst: nil, Via: gw}
	if err := r.step("add-default-route", func() error {
		return r.driver.AddRoute(ns, defRoute)
	}); err != nil {
		r.rollback(p)
		return err
	}
	p.record(func() { _ = r.driver.DelRoute(ns, defRoute) })

	if typ == model.SubnetPublic {
		iface, err := r.driver.DefaultEgressInterface()
		if err != nil {
			r.rollback(p)
			return vpcerr.Driverf(err, "failed to discover default egress interface")
		}
		if err := r.step("install-snat", func() error {
			return r.driver.InstallSNAT(subNet, iface)
		}); err != nil {
			r.rollback(p)
			return err
		}
		p.record(func() { _ = r.driver.RemoveSNAT(subNet, iface) })
	}

	subRec := model.SubnetRecord{
		Name:      subName,
		CIDR:      subNet.String(),
		Type:      typ,
		Gateway:   gw.String(),
		Endpoint:  ep.String(),
		Namespace: ns,
		VethHost:  hostVeth,
		VethNs:    nsVeth,
	}

	peers, err := r.store.ForEachPeered(vpcName)
	if err != nil {
		r.rollback(p)
		return err
	}
	if len(peers) > 0 {
		desired, err := RoutingPlan(vpc, &subRec, peers)
		if err != nil {
			r.rollback(p)
			return err
		}
		for _, route := range desired {
			if route.Dst == nil {
				continue // default route already installed above
			}
			route := route
			if err := r.step(fmt.Sprintf("route-%s-to-peer", ns), func() error {
				return r.driver.AddRoute(ns, route)
			}); err != nil {
				r.rollback(p)
				return err
			}
			p.record(func() { _ = r.driver.DelRoute(ns, route) })
		}
	}

	vpc.Subnets = append(vpc.Subnets, subRec)
	if err := r.store.Save(vpc); err != nil {
		r.rollback(p)
		return err
	}
	r.log.Infof("create-subnet %s/%s cidr=%s type=%s: ok", vpcName, subName, subNet, typ)
	return nil
}

// Peer implements §4.4.3.
func (r *Reconciler) Peer(vpc1Name, vpc2Name string) error {
	if vpc1Name == vpc2Name {
		return vpcerr.Validationf("cannot peer a vpc with itself")
	}
	v1, err := r.store.Load(vpc1Name)
	if err != nil {
		return err
	}
	v2, err := r.store.Load(vpc2Name)
	if err != nil {
		return err
	}
	if _, ok := v1.Peering(vpc2Name); ok {
		return vpcerr.Conflictf("vpcs %q and %q are already peered", vpc1Name, vpc2Name)
	}

	used := make([]string, 0)
	all, err := r.store.List()
	if err != nil {
		return err
	}
	for _, v := range all {
		for _, pr := range v.Peerings {
			used = append(used, pr.Block)
		}
	}
	block, err := allocator.NextPeeringBlock(used)
	if err != nil {
		return err
	}
	epA, epB, err := allocator.PeeringEndpoints(block)
	if err != nil {
		return err
	}
	lo, _ := allocator.OrderPair(vpc1Name, vpc2Name)
	legLo, legHi := allocator.PeeringVethNames(vpc1Name, vpc2Name)

	var loVPC, hiVPC *model.VPCRecord
	var loEp, hiEp net.IP
	if lo == vpc1Name {
		loVPC, hiVPC = v1, v2
	} else {
		loVPC, hiVPC = v2, v1
	}
	loEp, hiEp = epA, epB

	p := &plan{}
	if err := r.step("create-peering-veth", func() error {
		return r.driver.CreatePeeringVeth(legLo, loVPC.Bridge, legHi, hiVPC.Bridge)
	}); err != nil {
		r.rollback(p)
		return err
	}
	p.record(func() { _ = r.driver.DeletePeeringVeth(legLo) })

	_, block30, _ := net.ParseCIDR(block.String())
	loEpNet := &net.IPNet{IP: loEp, Mask: block30.Mask}
	hiEpNet := &net.IPNet{IP: hiEp, Mask: block30.Mask}
	if err := r.step("assign-peering-endpoint-a", func() error {
		return r.driver.AssignAddr(legLo, "", loEpNet)
	}); err != nil {
		r.rollback(p)
		return err
	}
	p.record(func() { _ = r.driver.UnassignAddr(legLo, "", loEpNet) })
	if err := r.step("assign-peering-endpoint-b", func() error {
		return r.driver.AssignAddr(legHi, "", hiEpNet)
	}); err != nil {
		r.rollback(p)
		return err
	}
	p.record(func() { _ = r.driver.UnassignAddr(legHi, "", hiEpNet) })

	_, v1Net, _ := net.ParseCIDR(v1.CIDR)
	_, v2Net, _ := net.ParseCIDR(v2.CIDR)

	if err := r.routeVPCToPeer(p, v1, v2Net); err != nil {
		r.rollback(p)
		return err
	}
	if err := r.routeVPCToPeer(p, v2, v1Net); err != nil {
		r.rollback(p)
		return err
	}

	v1Peering := model.PeeringRecord{
		Peer: vpc2Name, Block: block.String(),
		LocalEndpoint:  v1LocalEndpoint(lo, vpc1Name, loEp, hiEp),
		RemoteEndpoint: v1RemoteEndpoint(lo, vpc1Name, loEp, hiEp),
		VethLocal:      legFor(lo, vpc1Name, legLo, legHi),
		VethRemote:     legFor(lo, vpc1Name, legHi, legLo),
	}
	v2Peering := model.PeeringRecord{
		Peer: vpc1Name, Block: block.String(),
		LocalEndpoint:  v1LocalEndpoint(lo, vpc2Name, loEp, hiEp),
		RemoteEndpoint: v1RemoteEndpoint(lo, vpc2Name, loEp, hiEp),
		VethLocal:      legFor(lo, vpc2Name, legLo, legHi),
		VethRemote:     legFor(lo, vpc2Name, legHi, legLo),
	}

	// Host-table routes: once the bridge/namespace routes above get a
	// packet as far as the root namespace, the root namespace itself
	// needs to know the peer's CIDR is reachable across the peering
	// veth, via the remote endpoint address (§4.4.3 step 4, §4.5).
	v1Synthetic := &model.VPCRecord{Name: v1.Name, CIDR: v1.CIDR, Peerings: []model.PeeringRecord{v1Peering}}
	v2Synthetic := &model.VPCRecord{Name: v2.Name, CIDR: v2.CIDR, Peerings: []model.PeeringRecord{v2Peering}}
	v1HostRoutes, err := routing.DesiredBridgeRoutes(v1Synthetic, []*model.VPCRecord{v2})
	if err != nil {
		r.rollback(p)
		return err
	}
	v2HostRoutes, err := routing.DesiredBridgeRoutes(v2Synthetic, []*model.VPCRecord{v1})
	if err != nil {
		r.rollback(p)
		return err
	}
	currentHostRoutes, err := r.driver.ListHostRoutes()
	if err != nil {
		r.rollback(p)
		return vpcerr.Driverf(err, "failed to list host routes")
	}
	toAdd, _ := routing.Diff(append(append([]driver.RouteSpec{}, v1HostRoutes...), v2HostRoutes...), currentHostRoutes)
	for _, route := range toAdd {
		route := route
		if err := r.step("install-host-route", func() error { return r.driver.AddHostRoute(route) }); err != nil {
			r.rollback(p)
			return err
		}
		p.record(func() { _ = r.driver.DelHostRoute(route) })
	}

	tag := peeringTag(vpc1Name, vpc2Name)
	if err := r.step("install-forward-allow", func() error {
		return r.driver.InstallForwardAllow(tag, v1Net, v2Net)
	}); err != nil {
		r.rollback(p)
		return err
	}
	p.record(func() { _ = r.driver.RemoveForwardAllowByTag(tag) })

	v1.Peerings = append(v1.Peerings, v1Peering)
	v2.Peerings = append(v2.Peerings, v2Peering)

	if err := r.store.Save(v1); err != nil {
		r.rollback(p)
		return err
	}
	if err := r.store.Save(v2); err != nil {
		// v1 already persisted; best effort — log and surface, no kernel rollback
		// since kernel state is correct and matches v1's view (§9 unilateral copy).
		r.log.Errorf("failed to persist peer record for %s after %s succeeded: %v", vpc2Name, vpc1Name, err)
		return err
	}
	r.log.Infof("peer %s %s: ok", vpc1Name, vpc2Name)
	return nil
}

func v1LocalEndpoint(lo, who string, loEp, hiEp net.IP) string {
	if who == lo {
		return loEp.String()
	}
	return hiEp.String()
}

func v1RemoteEndpoint(lo, who string, loEp, hiEp net.IP) string {
	if who == lo {
		return hiEp.String()
	}
	return loEp.String()
}

func legFor(lo, who, legLo, legHi string) string {
	if who == lo {
		return legLo
	}
	return legHi
}

func peeringTag(a, b string) string {
	lo, hi := allocator.OrderPair(a, b)
	return fmt.Sprintf("peer:%s-%s", lo, hi)
}

// routeVPCToPeer adds, in every namespace of vpc, a route to peerNet via
// vpc's own subnet gateways (§4.4.3 step 4), recording an undo for each
// namespace as soon as that namespace's route succeeds — so a failure
// partway through the loop only rolls back the namespaces already done,
// not the whole VPC, matching the per-step undo pattern used everywhere
// else in the Reconciler.
func (r *Reconciler) routeVPCToPeer(p *plan, vpc *model.VPCRecord, peerNet *net.IPNet) error {
	for _, s := range vpc.Subnets {
		ns := s.Namespace
		gw := net.ParseIP(s.Gateway)
		route := driver.RouteSpec{Dst: peerNet, Via: gw}
		if err := r.step(fmt.Sprintf("route-%s-to-peer", ns), func() error {
			return r.driver.AddRoute(ns, route)
		}); err != nil {
			return err
		}
		p.record(func() { _ = r.driver.DelRoute(ns, route) })
	}
	return nil
}

func (r *Reconciler) unrouteVPCFromPeer(vpc *model.VPCRecord, peerNet *net.IPNet) error {
	var first error
	for _, s := range vpc.Subnets {
		gw := net.ParseIP(s.Gateway)
		route := driver.RouteSpec{Dst: peerNet, Via: gw}
		if err := r.driver.DelRoute(s.Namespace, route); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ApplyFirewall implements §4.4.4.
func (r *Reconciler) ApplyFirewall(vpcName, subName string, doc []byte) error {
	vpc, err := r.store.Load(vpcName)
	if err != nil {
		return err
	}
	sub, ok := vpc.Subnet(subName)
	if !ok {
		return vpcerr.NotFoundf("subnet %q not found in vpc %q", subName, vpcName)
	}

	var raw struct {
		Subnet  string               `json:"subnet"`
		Ingress []model.FirewallRule `json:"ingress"`
		Egress  []model.FirewallRule `json:"egress"`
	}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return vpcerr.Validationf("invalid firewall policy document: %v", err)
	}
	if raw.Subnet != "" && raw.Subnet != sub.CIDR {
		return vpcerr.Validationf("policy subnet %q does not match target subnet cidr %q", raw.Subnet, sub.CIDR)
	}
	pol, err := policy.ParseDocument(doc)
	if err != nil {
		return err
	}

	tag := policy.Tag(vpcName, subName)
	if err := r.step("clear-tagged-filter-rules", func() error {
		return r.driver.RemoveFilterRulesByTag(tag)
	}); err != nil {
		return err
	}

	rules, err := policy.Compile(vpcName, subName, sub.CIDR, pol)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if err := r.step("install-filter-rule", func() error {
			return r.driver.InstallFilterRule(rule)
		}); err != nil {
			// best-effort: clear whatever we just installed under this tag
			_ = r.driver.RemoveFilterRulesByTag(tag)
			return err
		}
	}

	vpc.Policies[subName] = pol
	if err := r.store.Save(vpc); err != nil {
		return err
	}
	r.log.Infof("apply-firewall %s/%s: ok", vpcName, subName)
	return nil
}

// DeleteSubnet implements §4.4.5. Tolerates a missing VPC/subnet (exit 0).
func (r *Reconciler) DeleteSubnet(vpcName, subName string) error {
	vpc, err := r.store.Load(vpcName)
	if err != nil {
		if vpcerr.IsNotFound(err) {
			return nil
		}
		return err
	}
	sub, ok := vpc.Subnet(subName)
	if !ok {
		return nil
	}

	_, subNet, err := net.ParseCIDR(sub.CIDR)
	if err != nil {
		return vpcerr.IOf(err, "corrupt subnet cidr for %s/%s", vpcName, subName)
	}

	if sub.Type == model.SubnetPublic {
		if iface, err := r.driver.DefaultEgressInterface(); err == nil {
			if err := r.driver.RemoveSNAT(subNet, iface); err != nil {
				return vpcerr.Driverf(err, "failed to remove snat for %s/%s", vpcName, subName)
			}
		}
	}
	if err := r.driver.RemoveFilterRulesByTag(policy.Tag(vpcName, subName)); err != nil {
		return vpcerr.Driverf(err, "failed to clear filter rules for %s/%s", vpcName, subName)
	}
	for _, peer := range vpc.Peerings {
		_, peerNet, err := net.ParseCIDR(mustPeerCIDR(r, peer.Peer))
		if err == nil {
			gw := net.ParseIP(sub.Gateway)
			_ = r.driver.DelRoute(sub.Namespace, driver.RouteSpec{Dst: peerNet, Via: gw})
		}
	}
	if err := r.driver.DeleteNamespace(sub.Namespace); err != nil {
		return vpcerr.Driverf(err, "failed to delete namespace %s", sub.Namespace)
	}
	if err := r.driver.DeleteVeth(sub.VethHost); err != nil {
		return vpcerr.Driverf(err, "failed to delete veth %s", sub.VethHost)
	}
	gwNet := &net.IPNet{IP: net.ParseIP(sub.Gateway), Mask: subNet.Mask}
	if err := r.driver.UnassignBridgeAddr(vpc.Bridge, gwNet); err != nil {
		return vpcerr.Driverf(err, "failed to unassign gateway %s from bridge %s", gwNet, vpc.Bridge)
	}

	vpc.RemoveSubnet(subName)
	delete(vpc.Policies, subName)
	if err := r.store.Save(vpc); err != nil {
		return err
	}
	r.log.Infof("delete-subnet %s/%s: ok", vpcName, subName)
	return nil
}

func mustPeerCIDR(r *Reconciler, peer string) string {
	v, err := r.store.Load(peer)
	if err != nil {
		return ""
	}
	return v.CIDR
}

// DeleteVPC implements §4.4.6. Tolerates a missing VPC (exit 0).
func (r *Reconciler) DeleteVPC(name string) error {
	vpc, err := r.store.Load(name)
	if err != nil {
		if vpcerr.IsNotFound(err) {
			return nil
		}
		return err
	}

	for _, s := range append([]model.SubnetRecord{}, vpc.Subnets...) {
		if err := r.DeleteSubnet(name, s.Name); err != nil {
			return err
		}
	}
	// re-load: DeleteSubnet persisted changes out from under our copy.
	vpc, err = r.store.Load(name)
	if err != nil {
		return err
	}

	for _, p := range append([]model.PeeringRecord{}, vpc.Peerings...) {
		if err := r.unpeer(vpc, p); err != nil {
			return err
		}
	}

	if err := r.driver.DeleteBridge(vpc.Bridge); err != nil {
		return vpcerr.Driverf(err, "failed to delete bridge %s", vpc.Bridge)
	}
	if err := r.store.Delete(name); err != nil {
		return err
	}
	r.log.Infof("delete-vpc %s: ok", name)
	return nil
}

func (r *Reconciler) unpeer(vpc *model.VPCRecord, p model.PeeringRecord) error {
	if err := r.driver.DeletePeeringVeth(p.VethLocal); err != nil {
		return vpcerr.Driverf(err, "failed to delete peering veth %s", p.VethLocal)
	}
	tag := peeringTag(vpc.Name, p.Peer)
	if err := r.driver.RemoveForwardAllowByTag(tag); err != nil {
		return vpcerr.Driverf(err, "failed to remove forward-allow rules for %s", tag)
	}

	peer, err := r.store.Load(p.Peer)
	if err == nil {
		vpcSynthetic := &model.VPCRecord{Name: vpc.Name, CIDR: vpc.CIDR, Peerings: []model.PeeringRecord{p}}
		if routes, rerr := routing.DesiredBridgeRoutes(vpcSynthetic, []*model.VPCRecord{peer}); rerr == nil {
			for _, route := range routes {
				if err := r.driver.DelHostRoute(route); err != nil {
					r.log.Errorf("failed to remove host route %+v for unpeer %s/%s: %v", route, vpc.Name, p.Peer, err)
				}
			}
		}
		if peerSide, ok := peer.Peering(vpc.Name); ok {
			peerSynthetic := &model.VPCRecord{Name: peer.Name, CIDR: peer.CIDR, Peerings: []model.PeeringRecord{*peerSide}}
			if routes, rerr := routing.DesiredBridgeRoutes(peerSynthetic, []*model.VPCRecord{vpc}); rerr == nil {
				for _, route := range routes {
					if err := r.driver.DelHostRoute(route); err != nil {
						r.log.Errorf("failed to remove host route %+v for unpeer %s/%s: %v", route, p.Peer, vpc.Name, err)
					}
				}
			}
		}

		_, vpcNet, _ := net.ParseCIDR(vpc.CIDR)
		if vpcNet != nil {
			_ = r.unrouteVPCFromPeer(peer, vpcNet)
		}
		peer.RemovePeering(vpc.Name)
		if err := r.store.Save(peer); err != nil {
			r.log.Errorf("failed to persist unpeer on partner %s: %v", p.Peer, err)
		}
	} else if !vpcerr.IsNotFound(err) {
		return err
	}

	vpc.RemovePeering(p.Peer)
	return nil
}

// DeploySubnetWorkload resolves subnetName inside vpcName's subnet list
// and launches the canned workload effector inside its namespace
// (§4.7). It is the Reconciler-level counterpart of the CLI's "deploy"
// command, keeping the VPC/subnet lookup alongside every other command
// that needs to turn (vpc, subnet) into a namespace name.
func (r *Reconciler) DeploySubnetWorkload(vpcName, subnetName string, port uint16, kind string) error {
	vpc, err := r.store.Load(vpcName)
	if err != nil {
		return err
	}
	sub, ok := vpc.Subnet(subnetName)
	if !ok {
		return vpcerr.NotFoundf("subnet %q not found in vpc %q", subnetName, vpcName)
	}
	return deploy.Deploy(r.driver, r.workloadConfigDir, sub.Namespace, port, kind)
}

// List implements the read side of §6.1 "list".
func (r *Reconciler) List() ([]*model.VPCRecord, error) {
	return r.store.List()
}

// RoutingPlan exposes the routing planner (§4.5) for a given VPC plus
// its currently-peered VPC records. CreateSubnet uses it to compute the
// peer-CIDR routes a new subnet's namespace needs when its VPC already
// has peerings.
func RoutingPlan(vpc *model.VPCRecord, subnet *model.SubnetRecord, peers []*model.VPCRecord) ([]driver.RouteSpec, error) {
	return routing.DesiredSubnetRoutes(vpc, subnet, peers)
}

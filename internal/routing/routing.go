// Package routing computes the route set each subnet namespace and each
// VPC bridge should carry, given a VPC's own subnets/peerings and the
// peer VPCs' records (spec §4.5). It is a pure function over the data
// model: no driver calls, no I/O, so it can be exhaustively unit tested
// without a kernel.
package routing

import (
	"net"

	"github.com/vpcctl/vpcctl/internal/allocator"
	"github.com/vpcctl/vpcctl/internal/driver"
	"github.com/vpcctl/vpcctl/internal/model"
)

// DesiredSubnetRoutes returns the routes that should exist inside the
// namespace for subnet, given the owning vpc record and the records of
// every VPC it currently peers with (§4.5):
//
//   - a default route via the subnet's gateway (egress to the bridge,
//     which in turn masquerades out the host's default interface for
//     public subnets);
//   - one route per peered VPC's aggregate CIDR, via the subnet's
//     gateway (the bridge forwards it across the peering veth).
func DesiredSubnetRoutes(vpc *model.VPCRecord, subnet *model.SubnetRecord, peers []*model.VPCRecord) ([]driver.RouteSpec, error) {
	gw := net.ParseIP(subnet.Gateway)
	routes := []driver.RouteSpec{
		{Dst: nil, Via: gw},
	}
	for _, peer := range peers {
		_, peerNet, err := net.ParseCIDR(peer.CIDR)
		if err != nil {
			return nil, err
		}
		routes = append(routes, driver.RouteSpec{Dst: peerNet, Via: gw})
	}
	return routes, nil
}

// DesiredBridgeRoutes returns the host-side routes this VPC's peerings
// require: one route to each peer's aggregate CIDR via the remote
// peering endpoint address, so traffic from this VPC's bridge reaches
// the peer across the peering veth (§4.4.3, §4.5).
func DesiredBridgeRoutes(vpc *model.VPCRecord, peers []*model.VPCRecord) ([]driver.RouteSpec, error) {
	peerCIDR := make(map[string]*net.IPNet, len(peers))
	for _, p := range peers {
		_, n, err := net.ParseCIDR(p.CIDR)
		if err != nil {
			return nil, err
		}
		peerCIDR[p.Name] = n
	}

	var routes []driver.RouteSpec
	for _, p := range vpc.Peerings {
		dst, ok := peerCIDR[p.Peer]
		if !ok {
			continue // peer record not supplied; caller didn't ask us to route it
		}
		_, block, err := net.ParseCIDR(p.Block)
		if err != nil {
			return nil, err
		}
		a, b, err := allocator.PeeringEndpoints(block)
		if err != nil {
			return nil, err
		}
		remote := b
		if lo, _ := allocator.OrderPair(vpc.Name, p.Peer); lo != vpc.Name {
			remote = a
		}
		routes = append(routes, driver.RouteSpec{Dst: dst, Via: remote})
	}
	return routes, nil
}

// Diff compares the desired and current route sets and returns the
// routes to add and the routes to remove so that, after applying both,
// the namespace carries exactly the desired set (§4.5, §8 convergence).
func Diff(desired, current []driver.RouteSpec) (toAdd, toRemove []driver.RouteSpec) {
	has := func(set []driver.RouteSpec, r driver.RouteSpec) bool {
		for _, s := range set {
			if sameRoute(s, r) {
				return true
			}
		}
		return false
	}
	for _, d := range desired {
		if !has(current, d) {
			toAdd = append(toAdd, d)
		}
	}
	for _, c := range current {
		if !has(desired, c) {
			toRemove = append(toRemove, c)
		}
	}
	return toAdd, toRemove
}

func sameRoute(a, b driver.RouteSpec) bool {
	if !a.Via.Equal(b.Via) {
		return false
	}
	if (a.Dst == nil) != (b.Dst == nil) {
		return false
	}
	if a.Dst == nil {
		return true
	}
	return a.Dst.String() == b.Dst.String()
}

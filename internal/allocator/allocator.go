// Package allocator computes IP addresses and the fixed naming scheme
// used for bridges, namespaces, and veth endpoints (spec §4.2).
//
// Every function here is deterministic and pure: given a CIDR (and, for
// peering blocks, the set of already-allocated blocks), it returns the
// same answer every time. The CIDR math itself is delegated to
// github.com/apparentlymart/go-cidr/cidr, the same library the
// contiv-vpp IPAM plugin in this tool family uses for gateway/pod-IP
// math.
package allocator

import (
	"fmt"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"

	"github.com/vpcctl/vpcctl/internal/vpcerr"
)

// maxPeeringBlocks bounds the reserved 192.168.<k>.0/30 peering pool (§4.2).
const maxPeeringBlocks = 256

// Gateway returns the first usable address in network (§3, §4.2).
func Gateway(network *net.IPNet) (net.IP, error) {
	if cidr.AddressCount(network) < 3 {
		return nil, vpcerr.Validationf("cidr %s has no usable host addresses", network)
	}
	first, _ := cidr.AddressRange(network)
	return cidr.Inc(first), nil
}

// Endpoint returns the second usable address in network (§3, §4.2).
func Endpoint(network *net.IPNet) (net.IP, error) {
	first, _ := cidr.AddressRange(network)
	if cidr.AddressCount(network) < 3 {
		return nil, vpcerr.Validationf("cidr %s has no usable endpoint address", network)
	}
	return cidr.Inc(cidr.Inc(first)), nil
}

// ParseCIDR validates and parses a CIDR string, requiring it be given in
// canonical network form (IP equals the masked network address).
func ParseCIDR(s string) (*net.IPNet, error) {
	ip, network, err := net.ParseCIDR(s)
	if err != nil {
		return nil, vpcerr.Validationf("invalid cidr %q: %v", s, err)
	}
	if network.IP.String() != ip.String() {
		return nil, vpcerr.Validationf("cidr %q is not in canonical network form (did you mean %s?)", s, network)
	}
	if network.IP.To4() == nil {
		return nil, vpcerr.Validationf("cidr %q is not IPv4 (IPv6 is out of scope)", s)
	}
	return network, nil
}

// Contains reports whether outer fully contains inner.
func Contains(outer, inner *net.IPNet) bool {
	outerOnes, outerBits := outer.Mask.Size()
	innerOnes, innerBits := inner.Mask.Size()
	if outerBits != innerBits || innerOnes < outerOnes {
		return false
	}
	return outer.Contains(inner.IP)
}

// Overlaps reports whether a and b share any address.
func Overlaps(a, b *net.IPNet) bool {
	return a.Contains(b.IP) || b.Contains(a.IP)
}

// NextPeeringBlock scans the /30 blocks already allocated (given as
// "192.168.<k>.0/30" CIDR strings pulled from every VPC's Store record,
// per §4.2) and returns the lowest-numbered unused block.
func NextPeeringBlock(used []string) (*net.IPNet, error) {
	taken := make(map[int]bool, len(used))
	for _, s := range used {
		var k int
		if _, err := fmt.Sscanf(s, "192.168.%d.0/30", &k); err == nil {
			taken[k] = true
		}
	}
	for k := 0; k < maxPeeringBlocks; k++ {
		if !taken[k] {
			_, block, err := net.ParseCIDR(fmt.Sprintf("192.168.%d.0/30", k))
			if err != nil {
				return nil, vpcerr.IOf(err, "failed to build peering block %d", k)
			}
			return block, nil
		}
	}
	return nil, vpcerr.Validationf("peering address space exhausted (all /30 blocks in 192.168.0.0/16 are in use)")
}

// PeeringEndpoints returns the two usable addresses of a /30 peering
// block: the first usable (endpoint A) and the second usable (endpoint B).
func PeeringEndpoints(block *net.IPNet) (a, b net.IP, err error) {
	first, _ := cidr.AddressRange(block)
	a = cidr.Inc(first)
	b = cidr.Inc(a)
	return a, b, nil
}

// BridgeName derives the VPC bridge interface name (§4.2).
func BridgeName(vpc string) string {
	return "br-" + vpc
}

// NamespaceName derives a subnet's network namespace name (§4.2).
func NamespaceName(vpc, subnet string) string {
	return fmt.Sprintf("ns-%s-%s", vpc, subnet)
}

// SubnetVethNames derives the host-side and namespace-side veth
// interface names for a subnet (§4.2).
func SubnetVethNames(vpc, subnet string) (host, ns string) {
	return fmt.Sprintf("veth-%s-%s-h", vpc, subnet), fmt.Sprintf("veth-%s-%s-n", vpc, subnet)
}

// PeeringVethNames derives the two veth leg names for a peering between
// a and b, always lexicographically ordered regardless of call order
// (§4.2).
func PeeringVethNames(a, b string) (legA, legB string) {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("veth-peer-%s-%s-a", lo, hi), fmt.Sprintf("veth-peer-%s-%s-b", lo, hi)
}

// OrderPair returns a, b in lexicographic order, matching the a < b
// convention required by the peering veth naming scheme (§4.2).
func OrderPair(a, b string) (lo, hi string) {
	if a > b {
		return b, a
	}
	return a, b
}

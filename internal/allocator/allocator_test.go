package allocator

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayAndEndpoint(t *testing.T) {
	_, network, err := net.ParseCIDR("10.0.1.0/24")
	require.NoError(t, err)

	gw, err := Gateway(network)
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.1", gw.String())

	ep, err := Endpoint(network)
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.2", ep.String())
}

func TestGatewayRejectsTinyCIDR(t *testing.T) {
	_, network, err := net.ParseCIDR("10.0.1.0/31")
	require.NoError(t, err)
	_, err = Gateway(network)
	assert.Error(t, err)
}

func TestParseCIDRRequiresCanonicalForm(t *testing.T) {
	_, err := ParseCIDR("10.0.1.5/24")
	assert.Error(t, err)

	n, err := ParseCIDR("10.0.1.0/24")
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.0/24", n.String())
}

func TestParseCIDRRejectsIPv6(t *testing.T) {
	_, err := ParseCIDR("2001:db8::/32")
	assert.Error(t, err)
}

func TestContainsAndOverlaps(t *testing.T) {
	_, outer, _ := net.ParseCIDR("10.0.0.0/16")
	_, inner, _ := net.ParseCIDR("10.0.1.0/24")
	_, sibling, _ := net.ParseCIDR("10.0.2.0/24")
	_, other, _ := net.ParseCIDR("10.1.0.0/16")

	assert.True(t, Contains(outer, inner))
	assert.False(t, Contains(inner, outer))
	assert.False(t, Overlaps(inner, sibling))
	assert.False(t, Overlaps(outer, other))
	assert.True(t, Overlaps(outer, inner))
}

func TestNextPeeringBlock(t *testing.T) {
	block, err := NextPeeringBlock(nil)
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.0/30", block.String())

	block, err = NextPeeringBlock([]string{"192.168.0.0/30", "192.168.1.0/30"})
	require.NoError(t, err)
	assert.Equal(t, "192.168.2.0/30", block.String())
}

func TestPeeringEndpoints(t *testing.T) {
	_, block, _ := net.ParseCIDR("192.168.0.0/30")
	a, b, err := PeeringEndpoints(block)
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.1", a.String())
	assert.Equal(t, "192.168.0.2", b.String())
}

func TestNamingScheme(t *testing.T) {
	assert.Equal(t, "br-v", BridgeName("v"))
	assert.Equal(t, "ns-v-a", NamespaceName("v", "a"))

	host, ns := SubnetVethNames("v", "a")
	assert.Equal(t, "veth-v-a-h", host)
	assert.Equal(t, "veth-v-a-n", ns)

	legA, legB := PeeringVethNames("w", "v")
	assert.Equal(t, "veth-peer-v-w-a", legA)
	assert.Equal(t, "veth-peer-v-w-b", legB)
}

func TestOrderPair(t *testing.T) {
	lo, hi := OrderPair("w", "v")
	assert.Equal(t, "v", lo)
	assert.Equal(t, "w", hi)
}

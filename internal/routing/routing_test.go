package routing

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpcctl/vpcctl/internal/driver"
	"github.com/vpcctl/vpcctl/internal/model"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return n
}

func TestDesiredSubnetRoutes(t *testing.T) {
	vpc := &model.VPCRecord{Name: "alpha", CIDR: "10.0.0.0/16"}
	subnet := &model.SubnetRecord{Name: "web", CIDR: "10.0.1.0/24", Gateway: "10.0.1.1"}
	peer := &model.VPCRecord{Name: "beta", CIDR: "10.1.0.0/16"}

	routes, err := DesiredSubnetRoutes(vpc, subnet, []*model.VPCRecord{peer})
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Nil(t, routes[0].Dst)
	assert.Equal(t, "10.0.1.1", routes[0].Via.String())
	assert.Equal(t, "10.1.0.0/16", routes[1].Dst.String())
	assert.Equal(t, "10.0.1.1", routes[1].Via.String())
}

func TestDesiredBridgeRoutes(t *testing.T) {
	vpc := &model.VPCRecord{
		Name: "alpha",
		CIDR: "10.0.0.0/16",
		Peerings: []model.PeeringRecord{
			{Peer: "beta", Block: "192.168.0.0/30"},
		},
	}
	peer := &model.VPCRecord{Name: "beta", CIDR: "10.1.0.0/16"}

	routes, err := DesiredBridgeRoutes(vpc, []*model.VPCRecord{peer})
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "10.1.0.0/16", routes[0].Dst.String())
	assert.Equal(t, "192.168.0.2", routes[0].Via.String()) // alpha < beta, so alpha uses the second usable addr
}

func TestDesiredBridgeRoutesSkipsUnknownPeer(t *testing.T) {
	vpc := &model.VPCRecord{
		Name:     "alpha",
		Peerings: []model.PeeringRecord{{Peer: "gamma", Block: "192.168.0.0/30"}},
	}
	routes, err := DesiredBridgeRoutes(vpc, nil)
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestDiff(t *testing.T) {
	defaultVia1 := driver.RouteSpec{Dst: nil, Via: net.ParseIP("10.0.1.1")}
	peerRoute := driver.RouteSpec{Dst: mustCIDR(t, "10.1.0.0/16"), Via: net.ParseIP("10.0.1.1")}
	staleRoute := driver.RouteSpec{Dst: mustCIDR(t, "10.2.0.0/16"), Via: net.ParseIP("10.0.1.1")}

	desired := []driver.RouteSpec{defaultVia1, peerRoute}
	current := []driver.RouteSpec{defaultVia1, staleRoute}

	toAdd, toRemove := Diff(desired, current)
	require.Len(t, toAdd, 1)
	assert.Equal(t, "10.1.0.0/16", toAdd[0].Dst.String())
	require.Len(t, toRemove, 1)
	assert.Equal(t, "10.2.0.0/16", toRemove[0].Dst.String())
}

func TestDiffEmptyWhenConverged(t *testing.T) {
	routes := []driver.RouteSpec{{Dst: nil, Via: net.ParseIP("10.0.1.1")}}
	toAdd, toRemove := Diff(routes, routes)
	assert.Empty(t, toAdd)
	assert.Empty(t, toRemove)
}

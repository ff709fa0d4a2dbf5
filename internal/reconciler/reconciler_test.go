package reconciler

import (
	"io"
	"net"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpcctl/vpcctl/internal/driver/faketest"
	"github.com/vpcctl/vpcctl/internal/model"
	"github.com/vpcctl/vpcctl/internal/store"
)

func newTestReconciler(t *testing.T) (*Reconciler, *faketest.Driver) {
	logger := log.New()
	logger.SetOutput(io.Discard)
	d := faketest.New()
	r := New(store.New(t.TempDir()), d, logger, t.TempDir())
	return r, d
}

func TestCreateVPC(t *testing.T) {
	r, d := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))

	assert.True(t, d.HasBridge("br-alpha"))
	recs, err := r.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "10.0.0.1", recs[0].Gateway)
}

func TestCreateVPCRejectsDuplicateName(t *testing.T) {
	r, _ := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	err := r.CreateVPC("alpha", "10.1.0.0/16")
	assert.Error(t, err)
}

func TestCreateVPCRejectsOverlap(t *testing.T) {
	r, _ := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	err := r.CreateVPC("beta", "10.0.128.0/20")
	assert.Error(t, err)
}

func TestCreateVPCRejectsPrefixLongerThan24(t *testing.T) {
	r, _ := newTestReconciler(t)
	err := r.CreateVPC("alpha", "10.0.0.0/25")
	assert.Error(t, err)
}

func TestCreateSubnetPublicInstallsSNAT(t *testing.T) {
	r, d := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateSubnet("alpha", "web", "10.0.1.0/24", model.SubnetPublic))

	assert.True(t, d.HasNamespace("ns-alpha-web"))
	assert.True(t, d.HasVeth("veth-alpha-web-h"))
	assert.True(t, d.HasSNAT(cidrOf(t, "10.0.1.0/24")))
}

func TestCreateSubnetPrivateHasNoSNAT(t *testing.T) {
	r, d := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateSubnet("alpha", "db", "10.0.2.0/24", model.SubnetPrivate))
	assert.False(t, d.HasSNAT(cidrOf(t, "10.0.2.0/24")))
}

func TestCreateSubnetRejectsOutsideVPCCIDR(t *testing.T) {
	r, _ := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	err := r.CreateSubnet("alpha", "bad", "10.1.1.0/24", model.SubnetPrivate)
	assert.Error(t, err)
}

func TestCreateSubnetRejectsSiblingOverlap(t *testing.T) {
	r, _ := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateSubnet("alpha", "a", "10.0.1.0/24", model.SubnetPrivate))
	err := r.CreateSubnet("alpha", "b", "10.0.1.128/25", model.SubnetPrivate)
	assert.Error(t, err)
}

func TestCreateSubnetRoutesToExistingPeers(t *testing.T) {
	r, d := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateVPC("beta", "10.1.0.0/16"))
	require.NoError(t, r.CreateSubnet("alpha", "a", "10.0.1.0/24", model.SubnetPrivate))
	require.NoError(t, r.Peer("alpha", "beta"))

	require.NoError(t, r.CreateSubnet("alpha", "b", "10.0.2.0/24", model.SubnetPrivate))

	routes, err := d.ListRoutes("ns-alpha-b")
	require.NoError(t, err)
	var toPeer bool
	for _, rt := range routes {
		if rt.Dst != nil && rt.Dst.String() == "10.1.0.0/16" {
			toPeer = true
		}
	}
	assert.True(t, toPeer, "expected ns-alpha-b to carry a route to beta's CIDR, got %+v", routes)
}

func TestCreateSubnetRollsBackOnDriverFailure(t *testing.T) {
	r, d := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))

	d.FailOn = "AddRoute"
	d.FailAt = 1
	err := r.CreateSubnet("alpha", "web", "10.0.1.0/24", model.SubnetPrivate)
	require.Error(t, err)

	// every step before the injected failure must have been undone
	assert.False(t, d.HasNamespace("ns-alpha-web"))
	assert.False(t, d.HasVeth("veth-alpha-web-h"))

	vpc, err := r.List()
	require.NoError(t, err)
	require.Len(t, vpc, 1)
	assert.Empty(t, vpc[0].Subnets)
}

func TestPeerInstallsRoutesAndForwardAllow(t *testing.T) {
	r, d := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateVPC("beta", "10.1.0.0/16"))
	require.NoError(t, r.CreateSubnet("alpha", "a", "10.0.1.0/24", model.SubnetPrivate))
	require.NoError(t, r.CreateSubnet("beta", "a", "10.1.1.0/24", model.SubnetPrivate))

	require.NoError(t, r.Peer("alpha", "beta"))

	routes, err := d.ListRoutes("ns-alpha-a")
	require.NoError(t, err)
	found := false
	for _, rt := range routes {
		if rt.Dst != nil && rt.Dst.String() == "10.1.0.0/16" {
			found = true
		}
	}
	assert.True(t, found, "expected a route to beta's CIDR from alpha's subnet")
	assert.True(t, d.HasForwardAllow("peer:alpha-beta"))

	hostRoutes, err := d.ListHostRoutes()
	require.NoError(t, err)
	var toBeta, toAlpha bool
	for _, rt := range hostRoutes {
		if rt.Dst == nil {
			continue
		}
		switch rt.Dst.String() {
		case "10.1.0.0/16":
			toBeta = true
		case "10.0.0.0/16":
			toAlpha = true
		}
	}
	assert.True(t, toBeta, "expected a host-table route to beta's CIDR across the peering link")
	assert.True(t, toAlpha, "expected a host-table route to alpha's CIDR across the peering link")
}

func TestPeerRollsBackPerNamespaceOnPartialRouteFailure(t *testing.T) {
	r, d := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateVPC("beta", "10.1.0.0/16"))
	require.NoError(t, r.CreateSubnet("alpha", "a", "10.0.1.0/24", model.SubnetPrivate))
	require.NoError(t, r.CreateSubnet("alpha", "b", "10.0.2.0/24", model.SubnetPrivate))
	require.NoError(t, r.CreateSubnet("beta", "x", "10.1.1.0/24", model.SubnetPrivate))

	// 3 AddRoute calls already happened during subnet creation (one
	// default route per subnet); Peer's first routeVPCToPeer call adds
	// a 4th (alpha/a), so failing at 5 hits alpha/b mid-loop, after
	// alpha/a's route (and its undo) was already recorded.
	d.FailOn = "AddRoute"
	d.FailAt = 5

	err := r.Peer("alpha", "beta")
	require.Error(t, err)

	routesA, err := d.ListRoutes("ns-alpha-a")
	require.NoError(t, err)
	for _, rt := range routesA {
		assert.NotEqual(t, "10.1.0.0/16", safeDstString(rt.Dst), "alpha/a's peer route should have been rolled back")
	}
	assert.False(t, d.HasForwardAllow("peer:alpha-beta"))
	assert.False(t, d.HasPeeringVeth("veth-peer-alpha-beta-a"))
}

func safeDstString(n *net.IPNet) string {
	if n == nil {
		return ""
	}
	return n.String()
}

func TestPeerRejectsDuplicate(t *testing.T) {
	r, _ := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateVPC("beta", "10.1.0.0/16"))
	require.NoError(t, r.Peer("alpha", "beta"))
	assert.Error(t, r.Peer("alpha", "beta"))
	assert.Error(t, r.Peer("beta", "alpha"))
}

func TestApplyFirewallAppendsDefaultDropWithIngress(t *testing.T) {
	r, d := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateSubnet("alpha", "web", "10.0.1.0/24", model.SubnetPublic))

	doc := []byte(`{"subnet":"10.0.1.0/24","ingress":[{"port":80,"protocol":"tcp","action":"allow"}]}`)
	require.NoError(t, r.ApplyFirewall("alpha", "web", doc))

	rules := d.FilterRules("alpha/web")
	require.Len(t, rules, 2)
	assert.Equal(t, 80, rules[0].Port)
}

func TestApplyFirewallRejectsSubnetMismatch(t *testing.T) {
	r, _ := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateSubnet("alpha", "web", "10.0.1.0/24", model.SubnetPublic))

	doc := []byte(`{"subnet":"10.0.2.0/24","ingress":[]}`)
	assert.Error(t, r.ApplyFirewall("alpha", "web", doc))
}

func TestApplyFirewallIsLastWriteWins(t *testing.T) {
	r, d := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateSubnet("alpha", "web", "10.0.1.0/24", model.SubnetPublic))

	doc1 := []byte(`{"ingress":[{"port":80,"action":"allow"},{"port":22,"action":"deny"}]}`)
	require.NoError(t, r.ApplyFirewall("alpha", "web", doc1))
	doc2 := []byte(`{"ingress":[{"port":443,"action":"allow"}]}`)
	require.NoError(t, r.ApplyFirewall("alpha", "web", doc2))

	rules := d.FilterRules("alpha/web")
	require.Len(t, rules, 2)
	assert.Equal(t, 443, rules[0].Port)
}

func TestDeploySubnetWorkloadLaunchesInNamespace(t *testing.T) {
	r, d := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateSubnet("alpha", "web", "10.0.1.0/24", model.SubnetPublic))

	require.NoError(t, r.DeploySubnetWorkload("alpha", "web", 8080, "nginx"))

	var launched bool
	for _, c := range d.Calls {
		if c.Verb == "Exec" && len(c.Args) > 0 && c.Args[0] == "ns-alpha-web" {
			launched = true
		}
	}
	assert.True(t, launched, "expected Exec into ns-alpha-web, got calls %+v", d.Calls)
}

func TestDeploySubnetWorkloadRejectsUnknownSubnet(t *testing.T) {
	r, _ := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))

	assert.Error(t, r.DeploySubnetWorkload("alpha", "missing", 8080, "nginx"))
}

func TestDeploySubnetWorkloadRejectsUnknownVPC(t *testing.T) {
	r, _ := newTestReconciler(t)
	assert.Error(t, r.DeploySubnetWorkload("ghost", "web", 8080, "nginx"))
}

func TestDeleteSubnetTearsDownEverything(t *testing.T) {
	r, d := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateSubnet("alpha", "web", "10.0.1.0/24", model.SubnetPublic))

	require.NoError(t, r.DeleteSubnet("alpha", "web"))

	assert.False(t, d.HasNamespace("ns-alpha-web"))
	assert.False(t, d.HasVeth("veth-alpha-web-h"))
	assert.False(t, d.HasSNAT(cidrOf(t, "10.0.1.0/24")))

	vpcs, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, vpcs[0].Subnets)
}

func TestDeleteSubnetToleratesMissing(t *testing.T) {
	r, _ := newTestReconciler(t)
	assert.NoError(t, r.DeleteSubnet("missing-vpc", "missing-subnet"))

	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	assert.NoError(t, r.DeleteSubnet("alpha", "missing-subnet"))
}

func TestDeleteVPCCascadesSubnetsAndPeerings(t *testing.T) {
	r, d := newTestReconciler(t)
	require.NoError(t, r.CreateVPC("alpha", "10.0.0.0/16"))
	require.NoError(t, r.CreateVPC("beta", "10.1.0.0/16"))
	require.NoError(t, r.CreateSubnet("alpha", "a", "10.0.1.0/24", model.SubnetPublic))
	require.NoError(t, r.Peer("alpha", "beta"))

	require.NoError(t, r.DeleteVPC("alpha"))

	assert.False(t, d.HasBridge("br-alpha"))
	assert.False(t, d.HasNamespace("ns-alpha-a"))
	assert.False(t, d.HasForwardAllow("peer:alpha-beta"))

	_, err := r.List()
	require.NoError(t, err)
	betaRecs, err := r.List()
	require.NoError(t, err)
	require.Len(t, betaRecs, 1)
	assert.Equal(t, "beta", betaRecs[0].Name)
	assert.Empty(t, betaRecs[0].Peerings)
}

func TestDeleteVPCToleratesMissing(t *testing.T) {
	r, _ := newTestReconciler(t)
	assert.NoError(t, r.DeleteVPC("never-existed"))
}

func cidrOf(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return n
}

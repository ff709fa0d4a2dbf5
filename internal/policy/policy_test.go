package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpcctl/vpcctl/internal/driver"
	"github.com/vpcctl/vpcctl/internal/model"
)

func TestCompileAppendsDefaultDropOnlyWithIngress(t *testing.T) {
	p := model.FirewallPolicy{
		Ingress: []model.FirewallRule{{Port: 443, Protocol: model.ProtoTCP, Action: model.ActionAllow}},
	}
	rules, err := Compile("alpha", "web", "10.0.1.0/24", p)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, driver.Accept, rules[0].Action)
	assert.Equal(t, 443, rules[0].Port)
	assert.Equal(t, driver.Drop, rules[1].Action)
	assert.Equal(t, driver.DirIngress, rules[1].Direction)
	assert.Equal(t, "alpha/web", rules[1].Tag)
}

func TestCompileAppendsDefaultDropOnlyWithEgress(t *testing.T) {
	p := model.FirewallPolicy{
		Egress: []model.FirewallRule{{Port: 80, Protocol: model.ProtoTCP, Action: model.ActionAllow}},
	}
	rules, err := Compile("alpha", "web", "10.0.1.0/24", p)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, driver.Accept, rules[0].Action)
	assert.Equal(t, driver.DirEgress, rules[0].Direction)
	assert.Equal(t, driver.Drop, rules[1].Action)
	assert.Equal(t, driver.DirEgress, rules[1].Direction)
	assert.Equal(t, "alpha/web", rules[1].Tag)
}

func TestCompileNoDropWithoutAnyRules(t *testing.T) {
	rules, err := Compile("alpha", "web", "10.0.1.0/24", model.FirewallPolicy{})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestCompileRejectsUnknownProtocol(t *testing.T) {
	p := model.FirewallPolicy{Ingress: []model.FirewallRule{{Port: 1, Protocol: "sctp"}}}
	_, err := Compile("alpha", "web", "10.0.1.0/24", p)
	assert.Error(t, err)
}

func TestCompileRejectsBadCIDR(t *testing.T) {
	_, err := Compile("alpha", "web", "not-a-cidr", model.FirewallPolicy{})
	assert.Error(t, err)
}

func TestParseDocument(t *testing.T) {
	doc := []byte(`{"ingress":[{"port":22,"protocol":"tcp","action":"allow"}],"egress":[]}`)
	p, err := ParseDocument(doc)
	require.NoError(t, err)
	require.Len(t, p.Ingress, 1)
	assert.Equal(t, 22, p.Ingress[0].Port)
}

func TestParseDocumentRejectsBadPort(t *testing.T) {
	doc := []byte(`{"ingress":[{"port":99999}]}`)
	_, err := ParseDocument(doc)
	assert.Error(t, err)
}

func TestTag(t *testing.T) {
	assert.Equal(t, "alpha/web", Tag("alpha", "web"))
}

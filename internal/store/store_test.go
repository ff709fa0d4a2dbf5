package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpcctl/vpcctl/internal/model"
	"github.com/vpcctl/vpcctl/internal/vpcerr"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	rec := &model.VPCRecord{Name: "alpha", CIDR: "10.0.0.0/16", Gateway: "10.0.0.1", Bridge: "br-alpha"}
	require.NoError(t, s.Save(rec))

	got, err := s.Load("alpha")
	require.NoError(t, err)
	assert.Equal(t, rec.CIDR, got.CIDR)
	assert.Equal(t, rec.Gateway, got.Gateway)
}

func TestLoadMissingIsNotFound(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Load("missing")
	assert.True(t, vpcerr.IsNotFound(err))
}

func TestDeleteToleratesAbsence(t *testing.T) {
	s := New(t.TempDir())
	assert.NoError(t, s.Delete("never-existed"))
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Save(&model.VPCRecord{Name: "b", CIDR: "10.1.0.0/16"}))
	require.NoError(t, s.Save(&model.VPCRecord{Name: "a", CIDR: "10.0.0.0/16"}))

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "b", all[1].Name)
}

func TestForEachPeered(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Save(&model.VPCRecord{
		Name: "a", CIDR: "10.0.0.0/16",
		Peerings: []model.PeeringRecord{{Peer: "b"}},
	}))
	require.NoError(t, s.Save(&model.VPCRecord{Name: "b", CIDR: "10.1.0.0/16"}))
	require.NoError(t, s.Save(&model.VPCRecord{Name: "c", CIDR: "10.2.0.0/16"}))

	peered, err := s.ForEachPeered("b")
	require.NoError(t, err)
	require.Len(t, peered, 1)
	assert.Equal(t, "a", peered[0].Name)
}

package noded

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleHasAndRuns(t *testing.T) {
	r := RoleCore | RoleAccess
	assert.True(t, r.Has(RoleCore))
	assert.True(t, r.Has(RoleAccess))
	assert.False(t, r.Has(RoleDistribution))
	assert.True(t, r.RunsDownstream())
	assert.True(t, r.RunsAccess())

	consumer := RoleConsumer
	assert.False(t, consumer.RunsDownstream())
	assert.False(t, consumer.RunsAccess())
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "none", Role(0).String())
	assert.Equal(t, "core", RoleCore.String())
	assert.Equal(t, "core+access", (RoleCore | RoleAccess).String())
}

func TestPortStateRefreshAndSnapshot(t *testing.T) {
	p := &PortState{}
	p.Refresh(7, 1, [16]byte{0xaa})

	lid, sl, gid := p.Snapshot()
	assert.Equal(t, LID(7), lid)
	assert.Equal(t, uint8(1), sl)
	assert.Equal(t, byte(0xaa), gid[0])
}

func TestPortStateAddAndLookupService(t *testing.T) {
	p := &PortState{}
	svc := &Service{}
	idx := p.AddService(svc)
	require.Equal(t, 0, idx)

	assert.Same(t, svc, p.ServiceAt(0))
	assert.Nil(t, p.ServiceAt(1))
	assert.Nil(t, p.ServiceAt(-1))
	assert.Len(t, p.AllServices(), 1)
}

package smdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalSMDB builds the scenario from §8 S1: one switch at LID 1
// (is-switch=1), one host at LID 2, a link from switch port 3 to host port
// 0, one LFT top for LID 1, and one LFT block covering destination LID 2.
func minimalSMDB(epoch Epoch) *Database {
	return &Database{
		Def: Dataset{Epoch: epoch},
		GUID2LID: []GUID2LIDRecord{
			{GUID: 0x1, LID: 1, IsSwitch: 1},
			{GUID: 0x2, LID: 2, IsSwitch: 0},
		},
		Port: []PortRecord{
			{PortLID: 1, PortNum: 3, Rate: SSADBPortIsSwitchMask},
			{PortLID: 2, PortNum: 0, Rate: 0},
		},
		Link: []LinkRecord{
			{FromLID: 1, FromPortNum: 3, ToLID: 2, ToPortNum: 0},
		},
		LFTTop: []LFTTopRecord{
			{LID: 1, LFTTop: 2},
		},
		LFTBlock: []LFTBlockRecord{
			{LID: 1, BlockNum: 0, Block: func() [SMPDataLen]uint8 {
				var b [SMPDataLen]uint8
				b[2] = 3
				return b
			}()},
		},
	}
}

func TestBuildIndexS1(t *testing.T) {
	d := minimalSMDB(1)
	idx, err := Build(d)
	require.NoError(t, err)

	port, err := idx.LookupForwarding(d, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, port)

	_, err = idx.LookupForwarding(d, 1, 3)
	assert.Error(t, err)
	var routeErr *RouteError
	assert.ErrorAs(t, err, &routeErr)
}

func TestBuildEmptyTable(t *testing.T) {
	d := minimalSMDB(1)
	d.Port = nil

	_, err := Build(d)
	require.Error(t, err)
	var emptyErr *EmptyTableError
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, TableIDPort, emptyErr.Table)
}

func TestFindByGUIDFirstMatch(t *testing.T) {
	d := &Database{
		GUID2LID: []GUID2LIDRecord{
			{GUID: 0x42, LID: 5},
			{GUID: 0x42, LID: 6}, // duplicate guid, later in table order
		},
	}

	r, err := FindByGUID(d, 0x42)
	require.NoError(t, err)
	assert.Equal(t, LID(5), r.LID)

	_, err = FindByGUID(d, 0x99)
	assert.Error(t, err)
}

func TestRebuildIsNoOpWhenEpochMatches(t *testing.T) {
	d := minimalSMDB(7)
	idx, err := Build(d)
	require.NoError(t, err)

	same, err := Rebuild(idx, d)
	require.NoError(t, err)
	assert.Same(t, idx, same)
}

func TestRebuildReplacesOnEpochChange(t *testing.T) {
	d1 := minimalSMDB(1)
	idx, err := Build(d1)
	require.NoError(t, err)

	d2 := minimalSMDB(2)
	d2.LFTTop[0].LFTTop = 10
	rebuilt, err := Rebuild(idx, d2)
	require.NoError(t, err)

	assert.NotSame(t, idx, rebuilt)
	assert.Equal(t, Epoch(2), rebuilt.Epoch())

	fromScratch, err := Build(d2)
	require.NoError(t, err)
	assert.Equal(t, fromScratch.lftTop, rebuilt.lftTop)
}

func TestLookupPortIgnoresPortNumForHostAdaptor(t *testing.T) {
	d := minimalSMDB(1)
	idx, err := Build(d)
	require.NoError(t, err)

	p1, err := idx.LookupPort(d, 2, 0)
	require.NoError(t, err)
	p2, err := idx.LookupPort(d, 2, 200)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestLookupForwardingRejectsUnassignedEntry(t *testing.T) {
	d := minimalSMDB(1)
	d.LFTTop[0].LFTTop = 3
	d.LFTBlock[0].Block[3] = LFTUnassignedEntry

	idx, err := Build(d)
	require.NoError(t, err)

	_, err = idx.LookupForwarding(d, 1, 3)
	require.Error(t, err)
	var routeErr *RouteError
	require.ErrorAs(t, err, &routeErr)
	assert.Equal(t, "lft entry unassigned", routeErr.Reason)
}

func TestLookupForwardingRejectsZeroLID(t *testing.T) {
	d := minimalSMDB(1)
	idx, err := Build(d)
	require.NoError(t, err)

	_, err = idx.LookupForwarding(d, 0, 2)
	assert.Error(t, err)
}

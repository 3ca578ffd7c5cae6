package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	// P5: parse(serialise(h)) == h for every well-formed h.
	cases := []Header{
		{Version: ProtocolVersion, Class: ProtocolClass, Op: OpQueryDBDef, Length: HeaderSize, ID: 7},
		{Version: ProtocolVersion, Class: ProtocolClass, Op: OpQueryDataDataset, Length: 1024, Flags: FlagEND | FlagRESP, Status: 0, ID: 42, RDMALength: 16, RDMAAddr: 0xdeadbeef},
	}

	for _, h := range cases {
		buf := h.Encode()
		got, err := DecodeHeader(buf[:])
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestReadHeaderFromStream(t *testing.T) {
	h := Header{Version: ProtocolVersion, Class: ProtocolClass, Op: OpQueryTblDef, Length: HeaderSize, ID: 3}
	buf := h.Encode()

	got, err := ReadHeader(bytes.NewReader(buf[:]))
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestValidateRejectsBadVersionClassOp(t *testing.T) {
	base := Header{Version: ProtocolVersion, Class: ProtocolClass, Op: OpQueryDBDef}
	require.NoError(t, base.Validate())

	badVersion := base
	badVersion.Version = 9
	assert.Error(t, badVersion.Validate())

	badClass := base
	badClass.Class = 9
	assert.Error(t, badClass.Validate())

	badOp := base
	badOp.Op = 99
	assert.Error(t, badOp.Validate())
}

func TestOpImplemented(t *testing.T) {
	assert.True(t, OpQueryDBDef.Implemented())
	assert.False(t, OpPublishEpochBuf.Implemented())
	assert.True(t, OpPublishEpochBuf.Valid())
}

func TestFlagsHelpers(t *testing.T) {
	h := Header{Flags: FlagEND}
	assert.True(t, h.HasEnd())
	assert.False(t, h.IsResponse())
}

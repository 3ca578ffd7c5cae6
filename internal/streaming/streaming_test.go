package streaming

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabricssa/ssanode/internal/smdb"
	"github.com/fabricssa/ssanode/internal/wire"
)

// shortWriter returns a short write (n < len(p), nil error) exactly once,
// then accepts the rest normally — the non-blocking-socket behavior §4.3/P3
// is written against.
type shortWriter struct {
	buf       []byte
	shortOnce bool
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if !w.shortOnce && len(p) > 1 {
		w.shortOnce = true
		n := len(p) / 2
		w.buf = append(w.buf, p[:n]...)
		return n, nil
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func TestConnContinueSendResumesAfterShortWrite(t *testing.T) {
	// S4: short write leaves the connection CONNECTED with
	// POLLIN|POLLOUT; the next ContinueSend drains the rest and the mask
	// reverts to POLLIN only.
	var c Conn
	w := &shortWriter{}
	header := []byte("0123456789")
	body := []byte("hello-body")
	require.NoError(t, c.EnqueueSend(header, body))

	mask, err := c.ContinueSend(w)
	require.NoError(t, err)
	assert.True(t, c.SendPending(), "send must remain in flight after a short write")
	assert.Equal(t, EventReadable|EventWritable, mask)

	mask, err = c.ContinueSend(w)
	require.NoError(t, err)
	assert.False(t, c.SendPending())
	assert.Equal(t, EventReadable, mask)
	assert.Equal(t, append(append([]byte{}, header...), body...), w.buf)
}

func TestServerPhaseMismatchS2(t *testing.T) {
	// S2: server in phase DEFS receives QUERY_FIELD_DEF_DATASET; responds
	// with an empty payload (header-only, flags=END) and a logged warning.
	s := NewServer(nil, nil)
	s.Phase = PhaseDEFS

	req := wire.Header{Version: wire.ProtocolVersion, Class: wire.ProtocolClass, Op: wire.OpQueryFieldDefDataset, ID: 5}
	resp, payload, err := s.Handle(req)
	require.NoError(t, err)

	assert.Empty(t, payload)
	assert.True(t, resp.HasEnd())
	assert.Equal(t, uint32(5), resp.ID)
	assert.Equal(t, PhaseDEFS, s.Phase, "phase must not advance on a mismatched request")
}

func TestClientServerSequenceS3(t *testing.T) {
	// S3: client issues QUERY_DB_DEF(id=7) [ids are assigned by the
	// client's own correlator counter here, not literally 7, since the
	// client owns id allocation]; server replies with the db-def payload
	// and the client's phase becomes DEFS; the client then issues
	// QUERY_TBL_DEF (Client reads that reply but does not keep it). This
	// test runs the whole pull and checks the final phase and the copied
	// tables.
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	db := minimalStreamDB()
	server := NewServer(db, nil)
	go server.Serve(serverConn)

	client := NewClient(clientConn)

	got, err := client.Pull()
	require.NoError(t, err)
	assert.Equal(t, PhaseIDLE, client.Phase, "client returns to IDLE once the pull completes")
	assert.Equal(t, db.Epoch(), got.Epoch())
	assert.Len(t, got.GUID2LID, len(db.GUID2LID))
	assert.Len(t, got.LFTBlock, len(db.LFTBlock))
}

func TestPhaseSequenceIsAPrefixP4(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	db := minimalStreamDB()
	server := NewServer(db, nil)

	var observed []Phase
	observed = append(observed, server.Phase)
	go func() {
		_ = server.Serve(serverConn)
	}()

	client := NewClient(clientConn)
	_, err := client.Pull()
	require.NoError(t, err)

	valid := []Phase{PhaseIDLE, PhaseDEFS, PhaseTBLDEFS, PhaseFIELDDEFS, PhaseDATA, PhaseIDLE}
	assert.Contains(t, valid, client.Phase)
}

func TestClientReportsPeerGoneOnMidExchangeClose(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	require.NoError(t, serverConn.Close())

	client := NewClient(clientConn)
	_, err := client.Pull()
	require.Error(t, err)
	var gone *PeerGone
	assert.ErrorAs(t, err, &gone)
}

func TestServeReturnsNilOnCleanPeerClose(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	server := NewServer(minimalStreamDB(), nil)
	done := make(chan error, 1)
	go func() { done <- server.Serve(serverConn) }()

	require.NoError(t, clientConn.Close())
	require.NoError(t, <-done)
}

func minimalStreamDB() *smdb.Database {
	return &smdb.Database{
		Def: smdb.Dataset{Epoch: 3},
		GUID2LID: []smdb.GUID2LIDRecord{
			{GUID: 1, LID: 1, IsSwitch: 1},
			{GUID: 2, LID: 2},
		},
		Port: []smdb.PortRecord{
			{PortLID: 1, PortNum: 3, Rate: smdb.SSADBPortIsSwitchMask},
			{PortLID: 2, PortNum: 0},
		},
		Link: []smdb.LinkRecord{
			{FromLID: 1, FromPortNum: 3, ToLID: 2, ToPortNum: 0},
		},
		LFTTop: []smdb.LFTTopRecord{
			{LID: 1, LFTTop: 2},
		},
		LFTBlock: []smdb.LFTBlockRecord{
			{LID: 1, BlockNum: 0},
		},
	}
}

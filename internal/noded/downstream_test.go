package noded

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabricssa/ssanode/internal/smdb"
)

// chanListener is an in-memory transport.StreamListener fed by a channel,
// standing in for a real bound socket in tests.
type chanListener struct {
	conns  chan net.Conn
	closed chan struct{}
}

func newChanListener() *chanListener {
	return &chanListener{conns: make(chan net.Conn, 4), closed: make(chan struct{})}
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *chanListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func TestCurrentDBForPrefersConnSlotOverFallback(t *testing.T) {
	port := &PortState{}
	svc := NewService(port, 0, 1, RoleCore, nil)
	defer svc.Stop()

	state := &downstreamState{}
	fallback := &smdb.Database{Def: smdb.Dataset{Epoch: 1}}
	state.fallback.Store(fallback)

	assert.Same(t, fallback, currentDBFor(svc, state, 1))

	derived := &smdb.Database{Def: smdb.Dataset{Epoch: 2}}
	svc.ConnSlotFor(1).DB = derived
	assert.Same(t, derived, currentDBFor(svc, state, 1))
}

func TestAcceptLoopAssignsFDAndNotifiesAccess(t *testing.T) {
	port := &PortState{}
	svc := NewService(port, 0, 1, RoleAccess, nil)
	defer svc.Stop()

	state := &downstreamState{}
	ln := newChanListener()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	ln.conns <- serverConn

	go acceptLoop(svc, state, ln, nil)

	msg, err := recvWithTimeout(t, svc.accessDownA)
	require.NoError(t, err)
	assert.Equal(t, MsgConnDone, msg.Type)

	var p ConnDonePayload
	require.NoError(t, msg.Decode(&p))
	assert.Equal(t, 1, p.FD)
	assert.Equal(t, "downstream", p.Direction)

	ln.Close()
}

func TestDownstreamUpstreamLoopUpdatesFallback(t *testing.T) {
	state := &downstreamState{}
	a, b := NewBusPair()
	defer a.Close()
	defer b.Close()

	go downstreamUpstreamLoop(state, b)

	db := &smdb.Database{Def: smdb.Dataset{Epoch: 9}}
	require.NoError(t, a.Send(NewDBUpdate(DBUpdatePayload{DB: db, ForFD: -1})))

	require.Eventually(t, func() bool {
		got := state.fallback.Load()
		return got != nil && got.Epoch() == 9
	}, time.Second, 10*time.Millisecond)
}

func TestDownstreamAccessLoopAttachesPerConnectionDB(t *testing.T) {
	port := &PortState{}
	svc := NewService(port, 0, 1, RoleAccess, nil)
	defer svc.Stop()

	state := &downstreamState{}
	go downstreamAccessLoop(svc, state, svc.accessDownB)

	db := &smdb.Database{Def: smdb.Dataset{Epoch: 4}}
	require.NoError(t, svc.accessDownA.Send(NewDBUpdate(DBUpdatePayload{DB: db, ForFD: 7, Derived: true})))

	require.Eventually(t, func() bool {
		slot := svc.ConnSlotFor(7)
		return slot.DB != nil && slot.DB.Epoch() == 4 && slot.Derived
	}, time.Second, 10*time.Millisecond)
}

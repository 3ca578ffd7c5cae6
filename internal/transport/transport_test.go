package transport

import (
	"bufio"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPort WellKnownPort = 17875

func TestTCPDialerAndListenerRoundTrip(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1", testPort)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "hello\n", line)
		close(accepted)
	}()

	dialer := TCPDialer{Resolve: func(gid [16]byte) (string, error) { return "127.0.0.1", nil }}
	conn, err := dialer.Dial([16]byte{}, testPort)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
}

func TestTCPDialerRequiresResolver(t *testing.T) {
	dialer := TCPDialer{}
	_, err := dialer.Dial([16]byte{}, testPort)
	require.Error(t, err)
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
}

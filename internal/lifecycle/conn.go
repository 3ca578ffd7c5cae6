// Package lifecycle implements connection-state transitions (§4.4) and the
// fabric join protocol's exponential-backoff retry (§4.4, §8 S6).
package lifecycle

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ConnState is a connection's lifecycle state (§4.4).
type ConnState int

const (
	ConnIDLE ConnState = iota
	ConnLISTENING
	ConnCONNECTING
	ConnCONNECTED
	ConnCLOSED
)

func (s ConnState) String() string {
	switch s {
	case ConnIDLE:
		return "IDLE"
	case ConnLISTENING:
		return "LISTENING"
	case ConnCONNECTING:
		return "CONNECTING"
	case ConnCONNECTED:
		return "CONNECTED"
	case ConnCLOSED:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// tuneSocket applies the socket options §4.4 calls out for both the
// listening and the connecting path: address reuse and the Nagle-disabling
// NO-DELAY analogue, beneath stdlib's non-blocking-by-default net.Conn.
// net.TCPConn doesn't expose SO_REUSEADDR, so this drops to the raw fd via
// syscall.RawConn — the same escape hatch the corpus's own low-level
// networking code (see DESIGN.md) reaches for when net's portable surface
// falls short.
func tuneSocket(rc syscall.RawConn, reuseAddr bool) error {
	var sockErr error
	err := rc.Control(func(fd uintptr) {
		if reuseAddr {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if sockErr != nil {
				return
			}
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
	if err != nil {
		return fmt.Errorf("lifecycle: control raw conn: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("lifecycle: set socket options: %w", sockErr)
	}
	return nil
}

// Listener wraps a *net.TCPListener with the LISTENING-state socket
// options applied at bind time (§4.4 LISTENING transition).
type Listener struct {
	ln    *net.TCPListener
	State ConnState
}

// Listen creates a byte-stream listener on addr with address reuse enabled
// (the corresponding NO-DELAY option is set per-connection in Accept,
// since it's a per-socket option that only applies once a stream exists).
func Listen(addr string) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: resolve %s: %w", addr, err)
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return tuneSocket(c, true)
		},
	}
	pln, err := lc.Listen(nil, "tcp", tcpAddr.String())
	if err != nil {
		return nil, fmt.Errorf("lifecycle: listen %s: %w", addr, err)
	}
	ln := pln.(*net.TCPListener)
	return &Listener{ln: ln, State: ConnLISTENING}, nil
}

// Accept blocks for the next inbound connection and applies the
// NO-DELAY-analogue option before returning, matching the CONNECTED
// (server accept) transition (§4.4).
func (l *Listener) Accept() (*net.TCPConn, error) {
	conn, err := l.ln.AcceptTCP()
	if err != nil {
		return nil, fmt.Errorf("lifecycle: accept: %w", err)
	}
	if err := conn.SetNoDelay(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("lifecycle: set no-delay: %w", err)
	}
	return conn, nil
}

// Close transitions the listener to CLOSED.
func (l *Listener) Close() error {
	l.State = ConnCLOSED
	return l.ln.Close()
}

// Dial opens the client side of a connection (§4.4 CONNECTING): create
// socket, set non-blocking (handled transparently by net's runtime
// poller), apply NO-DELAY to the new socket before it connects, then
// connect.
func Dial(addr string) (*net.TCPConn, error) {
	d := net.Dialer{
		Control: func(network, address string, c syscall.RawConn) error {
			return tuneSocket(c, false)
		},
	}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: dial %s: %w", addr, err)
	}
	tcpConn := conn.(*net.TCPConn)
	return tcpConn, nil
}

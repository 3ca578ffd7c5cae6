// Package transport defines the two external collaborators §6 names as
// out-of-scope for this specification — the reliable byte-stream socket
// API and the fabric management-datagram channel — as Go interfaces, plus
// a real net.TCPConn-backed implementation of the former and in-memory
// fakes of both for tests. Nothing in this package performs RDMA; §1 is
// explicit that the byte-stream transport is "treated as a reliable
// connection-oriented socket API" by the rest of the node.
package transport

import (
	"fmt"
	"net"

	"github.com/fabricssa/ssanode/internal/lifecycle"
)

// WellKnownPort identifies one of the two fixed destination ports the
// streaming protocol listens on (§6): the parent-to-child full-database
// stream, or the access-to-consumer derived-database stream.
type WellKnownPort int

const (
	PortParentChild WellKnownPort = 7870
	PortAccessConsumer WellKnownPort = 7871
)

// StreamDialer opens the client side of a byte-stream connection (§4.4
// CONNECTING). Implementations must return a connection with non-blocking
// semantics already applied — net.TCPConn is non-blocking under the Go
// runtime poller by default, so TCPDialer's Dial satisfies this trivially.
type StreamDialer interface {
	Dial(gid [16]byte, port WellKnownPort) (net.Conn, error)
}

// StreamListener opens the server side (§4.4 LISTENING/CONNECTED-accept).
type StreamListener interface {
	Accept() (net.Conn, error)
	Close() error
}

// TCPDialer implements StreamDialer against a real TCP stack. GID-to-
// address resolution is out of scope (§1: the fabric management-datagram
// transport is the collaborator that supplies route/address metadata);
// callers that have a real fabric stack provide an AddressResolver.
type TCPDialer struct {
	Resolve AddressResolver
}

// AddressResolver maps a fabric GID to a dialable network address. The
// fabric management-datagram transport (§1 out of scope) is the real
// source of this mapping; tests supply a static map.
type AddressResolver func(gid [16]byte) (string, error)

func (d TCPDialer) Dial(gid [16]byte, port WellKnownPort) (net.Conn, error) {
	if d.Resolve == nil {
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("no address resolver configured")}
	}
	host, err := d.Resolve(gid)
	if err != nil {
		return nil, &TransportError{Op: fmt.Sprintf("resolve gid %x", gid), Err: err}
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := lifecycle.Dial(addr)
	if err != nil {
		return nil, &TransportError{Op: fmt.Sprintf("dial %s", addr), Err: err}
	}
	return conn, nil
}

// TCPListener implements StreamListener against a real TCP stack, with
// the LISTENING-state socket options from §4.4 applied at bind time via
// lifecycle.Listen.
type TCPListener struct {
	ln *lifecycle.Listener
}

// ListenTCP binds a listener for well-known port on addr (fabric address
// substitutes for a real GID-bound device in this collaborator boundary).
func ListenTCP(addr string, port WellKnownPort) (*TCPListener, error) {
	ln, err := lifecycle.Listen(fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Accept() (net.Conn, error) {
	return l.ln.Accept()
}

func (l *TCPListener) Close() error {
	return l.ln.Close()
}

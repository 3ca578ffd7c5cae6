package transport

import (
	"fmt"
	"sync"

	"github.com/fabricssa/ssanode/internal/lifecycle"
)

// Method codes shared by both MAD classes used here (§6).
type Method uint8

const (
	MethodSet     Method = 0x01
	MethodGet     Method = 0x01 << 1 // distinct from Set in the real UMAD encoding; kept abstract here
	MethodGetResp Method = 0x81
)

// Class identifies which MAD class a header belongs to: the node-to-node
// administrative class this system defines, or the fabric-wide Subnet
// Administrator class (§6).
type Class uint8

const (
	ClassNodeToNode Class = iota
	ClassSubnetAdmin
)

// Attribute identifies the MAD attribute carried by a request/response.
type Attribute uint16

const (
	AttrMemberRecord Attribute = 1
	AttrInfoRecord   Attribute = 2
	AttrPathRecord   Attribute = 3
)

// MADHeader is the management-datagram header this node constructs,
// mirroring ssa_init_mad_hdr (node-to-node class) and sa_init_mad_hdr (SA
// class) from the reference implementation: same shape, different
// class/version constants per §6.
type MADHeader struct {
	Class     Class
	Method    Method
	Attribute Attribute
	TID       uint64 // transaction id; upper 16 bits encode the service index (§4.6)
}

// NewNodeToNodeHeader builds a header for this system's own administrative
// class (SET MemberRecord, GET_RESP acking a solicited InfoRecord).
func NewNodeToNodeHeader(method Method, attr Attribute, tid uint64) MADHeader {
	return MADHeader{Class: ClassNodeToNode, Method: method, Attribute: attr, TID: tid}
}

// NewSubnetAdminHeader builds a header for the fabric-wide Subnet
// Administrator class (GET PathRecord only, per §6).
func NewSubnetAdminHeader(method Method, attr Attribute, tid uint64) MADHeader {
	return MADHeader{Class: ClassSubnetAdmin, Method: method, Attribute: attr, TID: tid}
}

// ServiceIndex extracts the upper-16-bit service index ctrl uses to route
// an incoming response to the owning service (§4.6).
func (h MADHeader) ServiceIndex() uint16 {
	return uint16(h.TID >> 48)
}

// MemberRecord is the payload of a SET sent to the subnet administrator
// during join (§4.4).
type MemberRecord struct {
	PortGUID uint64
	NodeGUID uint64
}

// InfoRecord carries the parent's path record, delivered as a solicited
// response during join (§4.4).
type InfoRecord struct {
	Parent lifecycle.PathRecord
}

// Datagram is one MAD request or response: header plus typed payload. The
// payload is carried as `any` here because the three attributes in scope
// (MemberRecord, InfoRecord, PathRecord) have incompatible shapes and this
// collaborator boundary never needs to serialise them to real wire bytes
// (§1: the MAD transport itself is out of scope; only its request/response
// semantics are emulated for tests).
type Datagram struct {
	Header  MADHeader
	Payload any
}

// MADTransport is the request/response datagram channel addressable by
// (port LID, SL, QKEY) that §6 names as an external collaborator. Send
// is synchronous with an explicit timeout, matching "Fabric-management
// sends have an explicit timeout argument and are serviced synchronously
// from the ctrl worker" (§5).
type MADTransport interface {
	Send(dg Datagram, timeoutMS int) error
	Recv() (<-chan Datagram, error)
}

// FakeMADTransport is an in-memory MADTransport for tests and the demo
// entrypoint: Send records each datagram (read back with Sent), and
// Inject delivers a reply onto the buffered channel Recv returns.
type FakeMADTransport struct {
	mu      sync.Mutex
	sent    []Datagram
	inbound chan Datagram

	// FailSends, when true, makes every Send fail — used to drive the
	// join-retry backoff scenario (§8 S6) without a real dropped packet.
	FailSends bool
}

// NewFakeMADTransport creates a FakeMADTransport with a buffered inbound
// channel.
func NewFakeMADTransport() *FakeMADTransport {
	return &FakeMADTransport{inbound: make(chan Datagram, 16)}
}

func (f *FakeMADTransport) Send(dg Datagram, timeoutMS int) error {
	if f.FailSends {
		return &TransportError{Op: "mad send", Err: fmt.Errorf("timed out after %dms", timeoutMS)}
	}
	f.mu.Lock()
	f.sent = append(f.sent, dg)
	f.mu.Unlock()
	return nil
}

func (f *FakeMADTransport) Recv() (<-chan Datagram, error) {
	return f.inbound, nil
}

// Sent returns every datagram accepted by Send, in order, for assertions.
func (f *FakeMADTransport) Sent() []Datagram {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Datagram, len(f.sent))
	copy(out, f.sent)
	return out
}

// Inject delivers dg to Recv's channel, simulating a solicited response or
// an unsolicited notification arriving from the fabric.
func (f *FakeMADTransport) Inject(dg Datagram) {
	f.inbound <- dg
}

package noded

import (
	"encoding/json"
	"fmt"

	"github.com/fabricssa/ssanode/internal/lifecycle"
	"github.com/fabricssa/ssanode/internal/smdb"
)

// MsgType is the inter-worker message sum type's discriminant (§4.5,
// §9 "Socketpair message types": "Define a single sum type over all
// inter-worker messages ... Each variant carries its own payload; the
// wire form is length-prefixed.").
type MsgType string

const (
	MsgCtrlAck      MsgType = "CTRL_ACK"
	MsgCtrlExit     MsgType = "CTRL_EXIT"
	MsgCtrlDevEvent MsgType = "CTRL_DEV_EVENT"
	MsgCtrlMAD      MsgType = "CTRL_MAD"
	MsgSAMAD        MsgType = "SA_MAD"
	MsgConnReq      MsgType = "CONN_REQ"
	MsgConnDone     MsgType = "CONN_DONE"
	MsgListen       MsgType = "LISTEN"
	MsgDBUpdate     MsgType = "DB_UPDATE"
)

// Message is the envelope every socketpair send carries: a type tag plus
// its JSON-encoded payload, following the same header+typed-payload shape
// as the fabric wire protocol (§4.2) but at inter-worker scope.
type Message struct {
	Type    MsgType         `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func encode(t MsgType, payload any) Message {
	b, err := json.Marshal(payload)
	if err != nil {
		// Every payload type below is a plain struct of JSON-marshalable
		// fields; a marshal failure here means a payload type was added
		// without a matching struct, which is a programming error, not a
		// runtime condition callers can recover from.
		panic(fmt.Sprintf("noded: marshal %s payload: %v", t, err))
	}
	return Message{Type: t, Payload: b}
}

// CtrlAckPayload acknowledges a worker's startup, unblocking the
// launcher's ordered-start sequence (§4.5).
type CtrlAckPayload struct {
	Worker string
}

func NewCtrlAck(worker string) Message { return encode(MsgCtrlAck, CtrlAckPayload{Worker: worker}) }

// CtrlExitPayload requests a worker drain pending state, close
// connections, and return from its loop (§5).
type CtrlExitPayload struct {
	Reason string
}

func NewCtrlExit(reason string) Message {
	return encode(MsgCtrlExit, CtrlExitPayload{Reason: reason})
}

// DevEventKind is the fabric-port async event kind (§4.6).
type DevEventKind string

const (
	DevEventPortActive     DevEventKind = "PORT_ACTIVE"
	DevEventPortErr        DevEventKind = "PORT_ERR"
	DevEventClientReregister DevEventKind = "CLIENT_REREGISTER"
)

// CtrlDevEventPayload carries a fabric-port async event fan-out from ctrl
// to every service on that port (§4.6).
type CtrlDevEventPayload struct {
	Kind  DevEventKind
	SMLID lifecycle.LID
	SMSL  uint8
	SMGID [16]byte
}

func NewCtrlDevEvent(p CtrlDevEventPayload) Message { return encode(MsgCtrlDevEvent, p) }

// MADPayload carries an inbound management datagram from ctrl to the
// worker that owns the service it was routed to (§4.6 transaction-id
// routing).
type MADPayload struct {
	Attribute  string
	MemberGUID uint64
	Parent     *lifecycle.PathRecord
}

func NewCtrlMAD(p MADPayload) Message { return encode(MsgCtrlMAD, p) }
func NewSAMAD(p MADPayload) Message   { return encode(MsgSAMAD, p) }

// ConnReqPayload requests the upstream worker begin the client side of the
// streaming protocol (§4.4: "Once HAVE_PARENT, ctrl sends a CONN_REQ to
// upstream").
type ConnReqPayload struct {
	Parent lifecycle.PathRecord
}

func NewConnReq(p ConnReqPayload) Message { return encode(MsgConnReq, p) }

// ConnDonePayload reports a connection has reached CONNECTED (§4.4): from
// upstream to ctrl on a successful parent connect, or from downstream to
// access on a child accept.
type ConnDonePayload struct {
	PeerGID   [16]byte
	Direction string // "upstream" | "downstream"
	FD        int    // opaque per-connection identity for the fd-to-conn slot
}

func NewConnDone(p ConnDonePayload) Message { return encode(MsgConnDone, p) }

// ListenPayload tells downstream to begin accepting on both well-known
// ports (§4.6: "additionally cause the ctrl worker to send a LISTEN to
// the downstream worker so servers begin accepting before children
// arrive").
type ListenPayload struct{}

func NewListen() Message { return encode(MsgListen, ListenPayload{}) }

// DBUpdatePayload publishes a new database across a worker edge: upstream
// to access/downstream (parent pull), or access to downstream (derived
// database for one consumer). The database travels in the message itself
// — every smdb.Database field is a plain JSON-marshalable struct/slice —
// so the receiving worker takes ownership of a fully-formed value with no
// second round-trip to fetch it (§3 Lifecycle: "published to exactly one
// subsequent stage via a message; the receiver takes ownership").
type DBUpdatePayload struct {
	DB      *smdb.Database
	ForFD   int  // -1 for the process-wide fallback publication (§5)
	Derived bool // true if this is a per-consumer derived database
}

func NewDBUpdate(p DBUpdatePayload) Message { return encode(MsgDBUpdate, p) }

// Decode unmarshals msg's payload into v, which must match the struct
// registered for msg.Type.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("noded: decode %s payload: %w", m.Type, err)
	}
	return nil
}

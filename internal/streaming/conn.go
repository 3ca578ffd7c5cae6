package streaming

import (
	"fmt"
	"io"

	"github.com/fabricssa/ssanode/internal/wire"
)

// PeerGone reports that the remote end closed the connection while a
// request was in flight — the clean-disconnect case §7 distinguishes
// from a framing error or a harder transport failure: the bytes sent so
// far were well-formed, the peer is simply no longer there to answer.
type PeerGone struct {
	Op string
}

func (e *PeerGone) Error() string {
	return fmt.Sprintf("streaming: peer gone during %s", e.Op)
}

// EventMask is the poll event set a connection wants for its next
// iteration: POLLIN only, or POLLIN|POLLOUT while a send is in flight
// (§4.3: "the event mask returned from these helpers ... is what the
// caller sets for the next poll iteration. This is the only backpressure
// mechanism; there is no application-layer credit.").
type EventMask int

const (
	EventReadable EventMask = 1 << iota
	EventWritable
)

// Conn holds one streaming connection's phase and its partial-send/receive
// buffers (§4.3). The header and body travel in two chunks
// (SendBuf/SendBuf2) so a short write never requires reassembling a single
// contiguous buffer; ContinueSend/ContinueReceive are the resumption
// points a non-blocking event loop calls on every POLLOUT/POLLIN.
type Conn struct {
	Phase Phase

	sendBuf    []byte
	sendOffset int
	sendBuf2   []byte
	sendOffset2 int
	sending    bool

	recvBuf    []byte
	recvOffset int
	recvDone   bool
}

// EnqueueSend stages a header+body message for transmission. It must only
// be called when no send is already in flight (§8 P3: send-offset ==
// send-size and the buffer released before the next message is enqueued).
func (c *Conn) EnqueueSend(header []byte, body []byte) error {
	if c.sending {
		return fmt.Errorf("streaming: send already in flight")
	}
	c.sendBuf = header
	c.sendOffset = 0
	c.sendBuf2 = body
	c.sendOffset2 = 0
	c.sending = true
	return nil
}

// SendPending reports whether a send is in flight.
func (c *Conn) SendPending() bool { return c.sending }

// ContinueSend writes as much of the staged message as w accepts without
// blocking, resuming at send-offset. Non-blocking transports return short
// writes (io.Writer here stands in for a non-blocking socket handle); the
// returned EventMask tells the caller whether to keep waiting on
// POLLIN|POLLOUT or revert to POLLIN alone (§8 P3, S4).
func (c *Conn) ContinueSend(w io.Writer) (EventMask, error) {
	if !c.sending {
		return EventReadable, nil
	}

	for c.sendOffset < len(c.sendBuf) {
		want := len(c.sendBuf) - c.sendOffset
		n, err := w.Write(c.sendBuf[c.sendOffset:])
		c.sendOffset += n
		if err != nil {
			return 0, fmt.Errorf("streaming: send header: %w", err)
		}
		if n < want {
			return EventReadable | EventWritable, nil
		}
	}

	for c.sendOffset2 < len(c.sendBuf2) {
		want := len(c.sendBuf2) - c.sendOffset2
		n, err := w.Write(c.sendBuf2[c.sendOffset2:])
		c.sendOffset2 += n
		if err != nil {
			return 0, fmt.Errorf("streaming: send body: %w", err)
		}
		if n < want {
			return EventReadable | EventWritable, nil
		}
	}

	c.sending = false
	c.sendBuf, c.sendBuf2 = nil, nil
	c.sendOffset, c.sendOffset2 = 0, 0
	return EventReadable, nil
}

// BeginReceive allocates the receive buffer for the next expected message
// of size n bytes.
func (c *Conn) BeginReceive(n int) {
	c.recvBuf = make([]byte, n)
	c.recvOffset = 0
	c.recvDone = false
}

// ReceivePending reports whether a receive is in flight.
func (c *Conn) ReceivePending() bool {
	return c.recvBuf != nil && !c.recvDone
}

// ContinueReceive reads as much of the staged receive buffer as r has
// ready, resuming at recv-offset. It mirrors ContinueSend for the read
// side.
func (c *Conn) ContinueReceive(r io.Reader) (EventMask, error) {
	if c.recvDone || c.recvBuf == nil {
		return EventReadable, nil
	}

	for c.recvOffset < len(c.recvBuf) {
		n, err := r.Read(c.recvBuf[c.recvOffset:])
		c.recvOffset += n
		if err != nil {
			return 0, fmt.Errorf("streaming: receive: %w", err)
		}
		if n == 0 {
			return EventReadable, nil
		}
	}

	c.recvDone = true
	return EventReadable, nil
}

// ReceivedBuffer returns the completed receive buffer. Callers must check
// ReceivePending/recvDone semantics via Conn methods before calling this.
func (c *Conn) ReceivedBuffer() []byte {
	return c.recvBuf
}

// SendFrame stages header+body and drives ContinueSend to completion
// against w. It is the blocking-transport entry point: callers that hold
// a real net.Conn rather than a non-blocking handle drive the same
// send-offset state machine a poll loop would, one synchronous call per
// message instead of one call per POLLOUT (§4.3, §8 P3).
func (c *Conn) SendFrame(w io.Writer, header, body []byte) error {
	if err := c.EnqueueSend(header, body); err != nil {
		return err
	}
	for c.SendPending() {
		if _, err := c.ContinueSend(w); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveFrame stages a receive of n bytes and drives ContinueReceive to
// completion against r, returning the filled buffer. The blocking-reader
// counterpart to SendFrame.
func (c *Conn) ReceiveFrame(r io.Reader, n int) ([]byte, error) {
	c.BeginReceive(n)
	for c.ReceivePending() {
		if _, err := c.ContinueReceive(r); err != nil {
			return nil, err
		}
	}
	return c.ReceivedBuffer(), nil
}

// Transition moves the connection to phase p.
func (c *Conn) Transition(p Phase) {
	c.Phase = p
}

// EncodeFrame builds a header+payload pair ready for EnqueueSend.
func EncodeFrame(h wire.Header, payload []byte) ([]byte, []byte) {
	h.Length = wire.HeaderSize + uint32(len(payload))
	buf := h.Encode()
	return buf[:], payload
}

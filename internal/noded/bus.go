// Package noded composes one service's four workers (ctrl, upstream,
// downstream, access) over the socketpair topology of §4.5, and runs
// their event loops (§4.6 for ctrl; §4.3/§4.4 driven from upstream and
// downstream).
package noded

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Bus is one end of an inter-worker socketpair (§4.5: "sixteen possible
// endpoints ... AF_UNIX stream pairs. Messages are length-prefixed
// headers followed by a typed payload"). Each end wraps one fd of a real
// AF_UNIX stream socketpair(2) as a net.Conn, so a Send completes once the
// kernel has buffered it, without waiting for the peer to read, and it
// gets the same length-prefixed framing used for fabric-facing wire
// messages.
type Bus struct {
	conn net.Conn
}

// NewBusPair creates two connected Bus endpoints from one AF_UNIX
// socketpair(2) call. It panics if the socketpair cannot be created.
func NewBusPair() (*Bus, *Bus) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		panic(fmt.Sprintf("noded: socketpair: %v", err))
	}
	var ends [2]*Bus
	for i, fd := range fds {
		f := os.NewFile(uintptr(fd), "noded-bus")
		c, err := net.FileConn(f)
		f.Close()
		if err != nil {
			panic(fmt.Sprintf("noded: socketpair conn: %v", err))
		}
		ends[i] = &Bus{conn: c}
	}
	return ends[0], ends[1]
}

// Send encodes msg as JSON and writes it as a 4-byte-length-prefixed
// frame, mirroring the fabric wire framing's "length-prefixed headers
// followed by a typed payload" discipline (§4.2, §4.5) at inter-worker
// scope instead of inter-node scope.
func (b *Bus) Send(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("noded: marshal message: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := b.conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("noded: write length prefix: %w", err)
	}
	if _, err := b.conn.Write(payload); err != nil {
		return fmt.Errorf("noded: write message: %w", err)
	}
	return nil
}

// Recv blocks for the next message. It returns io.EOF when the peer has
// closed its end (§5 CTRL_EXIT drains and closes).
func (b *Bus) Recv() (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(b.conn, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Message{}, io.EOF
		}
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(b.conn, payload); err != nil {
		return Message{}, fmt.Errorf("noded: read message body: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("noded: unmarshal message: %w", err)
	}
	return msg, nil
}

// Close closes this end of the pair.
func (b *Bus) Close() error {
	return b.conn.Close()
}

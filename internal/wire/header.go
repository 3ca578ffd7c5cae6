// Package wire implements the streaming-protocol frame header: a fixed
// big-endian header followed by an optional payload (§4.2). Deliberately
// plain encoding/binary rather than the corpus's own JSON framing
// (services/mesh/internal/transport/ws/frame.go carries a literal
// "TODO: Implement more efficient binary serialization" that was never
// delivered) — this is the one place the teacher's own framing fell short
// of what the wire format actually needs.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the fixed, on-the-wire byte length of a Header.
const HeaderSize = 32

// Flag bits recognised in Header.Flags.
const (
	FlagEND  uint16 = 1 << 0 // no payload follows for this op-phase
	FlagRESP uint16 = 1 << 1 // marks a response
	// FlagRDMAHint is reserved by the protocol and never set by this
	// implementation.
	FlagRDMAHint uint16 = 1 << 2
)

// ProtocolVersion and ProtocolClass are the fixed constants every header
// must carry; any other value is a framing error (§4.2).
const (
	ProtocolVersion uint8 = 1
	ProtocolClass   uint8 = 1
)

// Header is the fixed frame header prefixing every streaming-protocol
// message. All fields are big-endian on the wire.
type Header struct {
	Version    uint8
	Class      uint8
	Op         Op
	Length     uint32 // total frame length in bytes, including the header
	Flags      uint16
	Status     uint16
	ID         uint32 // request correlator
	Reserved   uint32
	RDMALength uint32
	RDMAAddr   uint64
}

// Encode serialises h into its fixed 32-byte wire form.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = h.Version
	buf[1] = h.Class
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Op))
	binary.BigEndian.PutUint32(buf[4:8], h.Length)
	binary.BigEndian.PutUint16(buf[8:10], h.Flags)
	binary.BigEndian.PutUint16(buf[10:12], h.Status)
	binary.BigEndian.PutUint32(buf[12:16], h.ID)
	binary.BigEndian.PutUint32(buf[16:20], h.Reserved)
	binary.BigEndian.PutUint32(buf[20:24], h.RDMALength)
	binary.BigEndian.PutUint64(buf[24:32], h.RDMAAddr)
	return buf
}

// DecodeHeader parses a 32-byte wire header. It validates neither version,
// class, nor op — callers run those checks explicitly (see Validate) so a
// caller can choose to log-and-close rather than error out mid-read.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: short header: %d bytes", len(buf))
	}
	return Header{
		Version:    buf[0],
		Class:      buf[1],
		Op:         Op(binary.BigEndian.Uint16(buf[2:4])),
		Length:     binary.BigEndian.Uint32(buf[4:8]),
		Flags:      binary.BigEndian.Uint16(buf[8:10]),
		Status:     binary.BigEndian.Uint16(buf[10:12]),
		ID:         binary.BigEndian.Uint32(buf[12:16]),
		Reserved:   binary.BigEndian.Uint32(buf[16:20]),
		RDMALength: binary.BigEndian.Uint32(buf[20:24]),
		RDMAAddr:   binary.BigEndian.Uint64(buf[24:32]),
	}, nil
}

// ReadHeader reads exactly HeaderSize bytes from r and decodes them.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("wire: read header: %w", err)
	}
	return DecodeHeader(buf[:])
}

// FramingError reports a header that failed protocol validation: bad
// version/class, or an op outside the enumerated set (§4.2, §7).
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("wire: framing error: %s", e.Reason)
}

// Validate checks the fixed version/class constants and that Op is one of
// the enumerated operations. Any other combination is a FramingError and
// the connection must be closed (§4.2, §7).
func (h Header) Validate() error {
	if h.Version != ProtocolVersion {
		return &FramingError{Reason: fmt.Sprintf("unexpected version %d", h.Version)}
	}
	if h.Class != ProtocolClass {
		return &FramingError{Reason: fmt.Sprintf("unexpected class %d", h.Class)}
	}
	if !h.Op.Valid() {
		return &FramingError{Reason: fmt.Sprintf("unrecognised op %d", h.Op)}
	}
	return nil
}

// HasEnd reports whether the END flag is set.
func (h Header) HasEnd() bool { return h.Flags&FlagEND != 0 }

// IsResponse reports whether the RESP flag is set.
func (h Header) IsResponse() bool { return h.Flags&FlagRESP != 0 }

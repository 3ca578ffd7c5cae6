package streaming

import (
	"errors"
	"fmt"
	"io"

	"github.com/fabricssa/ssanode/internal/smdb"
	"github.com/fabricssa/ssanode/internal/wire"
)

// peerGoneOrWrap reports err as a *PeerGone when it is (or wraps) a clean
// disconnect, so callers expecting a reply mid-exchange can errors.As on
// the §7 PeerGone kind instead of a transport-specific error string.
func peerGoneOrWrap(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &PeerGone{Op: op}
	}
	return fmt.Errorf("streaming: client %s: %w", op, err)
}

// Client drives the upstream (client) side of the streaming protocol
// against one parent connection (§4.3 "Client (upstream) sequence").
type Client struct {
	rw     io.ReadWriter
	conn   *Conn
	Phase  Phase
	nextID uint32
}

// NewClient wraps an established, already-CONNECTED transport.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw, conn: &Conn{}, Phase: PhaseIDLE}
}

func (c *Client) issue(op wire.Op, payload []byte) (wire.Header, []byte, error) {
	c.nextID++
	id := c.nextID
	h := wire.Header{Version: wire.ProtocolVersion, Class: wire.ProtocolClass, Op: op, ID: id}
	h.Length = wire.HeaderSize + uint32(len(payload))
	hdr := h.Encode()

	// NOTE on the "temporary workaround" 10ms inter-message pause named in
	// the original source: not reproduced here. It was undocumented and
	// the spec calls preserving it conditional on empirical need that
	// doesn't exist in this environment.
	if err := c.conn.SendFrame(c.rw, hdr[:], payload); err != nil {
		return wire.Header{}, nil, peerGoneOrWrap("send", err)
	}

	respBuf, err := c.conn.ReceiveFrame(c.rw, wire.HeaderSize)
	if err != nil {
		return wire.Header{}, nil, peerGoneOrWrap("read response header", err)
	}
	respHdr, err := wire.DecodeHeader(respBuf)
	if err != nil {
		return wire.Header{}, nil, err
	}
	if err := respHdr.Validate(); err != nil {
		return wire.Header{}, nil, err
	}
	if respHdr.ID != id {
		return wire.Header{}, nil, fmt.Errorf("streaming: client response id %d does not match request %d", respHdr.ID, id)
	}

	bodyLen := int(respHdr.Length) - wire.HeaderSize
	if bodyLen < 0 {
		return wire.Header{}, nil, fmt.Errorf("streaming: client response length %d shorter than header", respHdr.Length)
	}
	var body []byte
	if bodyLen > 0 {
		body, err = c.conn.ReceiveFrame(c.rw, bodyLen)
		if err != nil {
			return wire.Header{}, nil, peerGoneOrWrap("read response body", err)
		}
	}
	return respHdr, body, nil
}

// Pull runs the full client sequence (§4.3 steps 1-4) and returns the
// assembled database, ready to be published to the access and/or
// downstream worker depending on node role.
func (c *Client) Pull() (*smdb.Database, error) {
	// Step 1: IDLE -> QUERY_DB_DEF -> DEFS.
	_, body, err := c.issue(wire.OpQueryDBDef, nil)
	if err != nil {
		return nil, err
	}
	def, err := DecodeDbDef(body)
	if err != nil {
		return nil, err
	}
	c.Phase = PhaseDEFS

	// Step 2: DEFS -> QUERY_TBL_DEF (internal sub-step, phase unchanged)
	// -> QUERY_TBL_DEF_DATASET -> TBL_DEFS.
	if _, _, err := c.issue(wire.OpQueryTblDef, nil); err != nil {
		return nil, err
	}
	_, tblDefPayload, err := c.issue(wire.OpQueryTblDefDataset, nil)
	if err != nil {
		return nil, err
	}
	_ = tblDefPayload // the static catalogue is authoritative; the payload is not checked against it.
	c.Phase = PhaseTBLDEFS

	// Step 3: TBL_DEFS -> repeated QUERY_FIELD_DEF_DATASET -> FIELD_DEFS -> DATA on END.
	dataCount := DataTableCount()
	fieldDatasets := make([][]byte, 0, dataCount)
	for {
		hdr, payload, err := c.issue(wire.OpQueryFieldDefDataset, nil)
		if err != nil {
			return nil, err
		}
		if len(fieldDatasets) == 0 {
			c.Phase = PhaseFIELDDEFS
		}
		if hdr.HasEnd() {
			c.Phase = PhaseDATA
			break
		}
		fieldDatasets = append(fieldDatasets, payload)
		if len(fieldDatasets) >= dataCount {
			// Server still must send the END frame; loop continues until
			// it does, matching "the server signals completion by
			// sending a header-only frame with flags=END."
			continue
		}
	}

	// Step 4: DATA -> repeated QUERY_DATA_DATASET, indexed analogously.
	db := &smdb.Database{Def: smdb.Dataset{Epoch: def.Epoch}}
	tableIdx := 0
	for {
		hdr, payload, err := c.issue(wire.OpQueryDataDataset, nil)
		if err != nil {
			return nil, err
		}
		if hdr.HasEnd() {
			break
		}
		if tableIdx >= len(DataTableOrder) {
			return nil, fmt.Errorf("streaming: server sent more data tables than expected")
		}
		id := DataTableOrder[tableIdx]
		if err := ApplyDataset(db, id, payload); err != nil {
			return nil, err
		}
		tableIdx++
	}
	c.Phase = PhaseIDLE

	return db, nil
}

package streaming

import (
	"errors"
	"fmt"
	"io"

	"github.com/fabricssa/ssanode/internal/smdb"
	"github.com/fabricssa/ssanode/internal/wire"
	"github.com/fabricssa/ssanode/pkg/logger"
)

// Server drives the downstream (server) side of the streaming protocol for
// one child connection (§4.3 "Server (downstream) sequence mirrors the
// client"). It tracks a send-index: which per-table payload to transmit
// next, so repeated QUERY_FIELD_DEF_DATASET/QUERY_DATA_DATASET requests
// are served in table order without the client naming a table explicitly.
type Server struct {
	Phase Phase
	DB    *smdb.Database // nil until a database is available to serve

	sendIndex int
	log       *logger.Logger
	conn      *Conn
}

// NewServer creates a server-side session. db may be nil; requests made
// before a database is published are answered with empty responses rather
// than erroring, matching "an empty response (when no database is yet
// available)" (§4.3).
func NewServer(db *smdb.Database, log *logger.Logger) *Server {
	return &Server{Phase: PhaseIDLE, DB: db, log: log, conn: &Conn{}}
}

func (s *Server) warnPhaseMismatch(hdr wire.Header) (wire.Header, []byte) {
	if s.log != nil {
		s.log.Warnf("streaming: phase mismatch: op %s received in phase %s", hdr.Op, s.Phase)
	}
	resp := wire.Header{
		Version: wire.ProtocolVersion,
		Class:   wire.ProtocolClass,
		Op:      hdr.Op,
		ID:      hdr.ID,
		Flags:   wire.FlagEND | wire.FlagRESP,
		Length:  wire.HeaderSize,
	}
	return resp, nil
}

// dataTableIDAt maps the server's field/data send-index to the concrete
// table id, in the fixed table order (§4.2 "indexed analogously").
func dataTableIDAt(i int) (smdb.TableID, bool) {
	if i < 0 || i >= len(DataTableOrder) {
		return 0, false
	}
	return DataTableOrder[i], true
}

// Handle processes one request header (these ops carry no request
// payload) and returns the response header and payload. It is a pure
// function of server state, making phase-mismatch and end-of-sequence
// behavior directly testable (§8 S2, S3) without standing up a real
// transport.
func (s *Server) Handle(hdr wire.Header) (wire.Header, []byte, error) {
	if err := hdr.Validate(); err != nil {
		return wire.Header{}, nil, err
	}
	if !hdr.Op.Implemented() {
		if s.log != nil {
			s.log.Warnf("streaming: %s", (&wire.ProtocolWarning{Op: hdr.Op}).Error())
		}
		h, p := s.warnPhaseMismatch(hdr)
		return h, p, nil
	}

	switch hdr.Op {
	case wire.OpQueryDBDef:
		if s.Phase != PhaseIDLE {
			h, p := s.warnPhaseMismatch(hdr)
			return h, p, nil
		}
		def := smdb.DbDef{Name: "SMDB", DBID: 12}
		if s.DB != nil {
			def.Epoch = s.DB.Epoch()
		} else {
			def.Epoch = smdb.EpochInvalid
		}
		s.Phase = PhaseDEFS
		payload := EncodeDbDef(def)
		return s.response(hdr, payload, false), payload, nil

	case wire.OpQueryTblDef:
		if s.Phase != PhaseDEFS {
			h, p := s.warnPhaseMismatch(hdr)
			return h, p, nil
		}
		epoch := smdb.EpochInvalid
		if s.DB != nil {
			epoch = s.DB.Epoch()
		}
		payload := EncodeTableDefDataset(epoch)
		return s.response(hdr, payload, false), payload, nil

	case wire.OpQueryTblDefDataset:
		if s.Phase != PhaseDEFS {
			h, p := s.warnPhaseMismatch(hdr)
			return h, p, nil
		}
		s.Phase = PhaseTBLDEFS
		s.sendIndex = 0
		payload := EncodeTableDefs()
		return s.response(hdr, payload, false), payload, nil

	case wire.OpQueryFieldDefDataset:
		if s.Phase != PhaseTBLDEFS && s.Phase != PhaseFIELDDEFS {
			h, p := s.warnPhaseMismatch(hdr)
			return h, p, nil
		}
		if s.Phase == PhaseTBLDEFS {
			s.Phase = PhaseFIELDDEFS
			s.sendIndex = 0
		}
		id, ok := dataTableIDAt(s.sendIndex)
		if !ok {
			s.Phase = PhaseDATA
			s.sendIndex = 0
			return s.response(hdr, nil, true), nil, nil
		}
		s.sendIndex++
		payload := EncodeFieldDefs(id)
		return s.response(hdr, payload, false), payload, nil

	case wire.OpQueryDataDataset:
		if s.Phase != PhaseDATA {
			h, p := s.warnPhaseMismatch(hdr)
			return h, p, nil
		}
		id, ok := dataTableIDAt(s.sendIndex)
		if !ok || s.DB == nil {
			s.Phase = PhaseIDLE
			s.sendIndex = 0
			return s.response(hdr, nil, true), nil, nil
		}
		s.sendIndex++
		payload, err := EncodeDataset(s.DB, id)
		if err != nil {
			return wire.Header{}, nil, err
		}
		return s.response(hdr, payload, false), payload, nil

	default:
		h, p := s.warnPhaseMismatch(hdr)
		return h, p, nil
	}
}

func (s *Server) response(req wire.Header, payload []byte, end bool) wire.Header {
	h := wire.Header{
		Version: wire.ProtocolVersion,
		Class:   wire.ProtocolClass,
		Op:      req.Op,
		ID:      req.ID,
		Flags:   wire.FlagRESP,
		Length:  wire.HeaderSize + uint32(len(payload)),
	}
	if end {
		h.Flags |= wire.FlagEND
	}
	return h
}

// Serve runs Handle in a loop over rw until the peer closes the
// connection or a framing error occurs (§7: framing errors close the
// connection).
func (s *Server) Serve(rw io.ReadWriter) error {
	for {
		hdrBuf, err := s.conn.ReceiveFrame(rw, wire.HeaderSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("streaming: server read request: %w", err)
		}
		hdr, err := wire.DecodeHeader(hdrBuf)
		if err != nil {
			return fmt.Errorf("streaming: server decode request: %w", err)
		}
		respHdr, payload, err := s.Handle(hdr)
		if err != nil {
			return err
		}
		buf := respHdr.Encode()
		if err := s.conn.SendFrame(rw, buf[:], payload); err != nil {
			return fmt.Errorf("streaming: server write response: %w", err)
		}
	}
}

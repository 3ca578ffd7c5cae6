package streaming

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fabricssa/ssanode/internal/smdb"
)

// EncodeDbDef serialises the top-level database descriptor as the payload
// of a QUERY_DB_DEF response.
func EncodeDbDef(def smdb.DbDef) []byte {
	var buf bytes.Buffer
	nameLen := uint16(len(def.Name))
	binary.Write(&buf, binary.BigEndian, nameLen)
	buf.WriteString(def.Name)
	binary.Write(&buf, binary.BigEndian, def.DBID)
	binary.Write(&buf, binary.BigEndian, uint64(def.Epoch))
	return buf.Bytes()
}

// DecodeDbDef is the inverse of EncodeDbDef.
func DecodeDbDef(payload []byte) (smdb.DbDef, error) {
	r := bytes.NewReader(payload)
	var nameLen uint16
	if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
		return smdb.DbDef{}, fmt.Errorf("streaming: decode dbdef name length: %w", err)
	}
	name := make([]byte, nameLen)
	if _, err := r.Read(name); err != nil {
		return smdb.DbDef{}, fmt.Errorf("streaming: decode dbdef name: %w", err)
	}
	var dbid, epoch uint64
	if err := binary.Read(r, binary.BigEndian, &dbid); err != nil {
		return smdb.DbDef{}, fmt.Errorf("streaming: decode dbdef dbid: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &epoch); err != nil {
		return smdb.DbDef{}, fmt.Errorf("streaming: decode dbdef epoch: %w", err)
	}
	return smdb.DbDef{Name: string(name), DBID: dbid, Epoch: smdb.Epoch(epoch)}, nil
}

// DataTableCount is the number of DATA-type table descriptors (§3 I1): the
// count the client allocates its per-table field-dataset/data-dataset
// arrays against on the first QUERY_FIELD_DEF_DATASET/QUERY_DATA_DATASET
// response.
func DataTableCount() int {
	n := 0
	for _, td := range smdb.TableDefs {
		if td.Type == smdb.TableTypeData {
			n++
		}
	}
	return n
}

// EncodeTableDefs serialises the full table-descriptor dataset, the
// QUERY_TBL_DEF_DATASET response payload.
func EncodeTableDefs() []byte {
	var buf bytes.Buffer
	for _, td := range smdb.TableDefs {
		binary.Write(&buf, binary.BigEndian, uint32(td.ID))
		binary.Write(&buf, binary.BigEndian, uint8(td.Type))
		binary.Write(&buf, binary.BigEndian, td.RecordSize)
	}
	return buf.Bytes()
}

// EncodeTableDefDataset serialises the Dataset header describing the
// table-descriptor dataset itself (record count, epoch) — the response to
// the QUERY_TBL_DEF internal sub-step (§4.3 step 2).
func EncodeTableDefDataset(epoch smdb.Epoch) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint64(len(smdb.TableDefs)))
	binary.Write(&buf, binary.BigEndian, uint64(epoch))
	return buf.Bytes()
}

// EncodeFieldDefs serialises the field-descriptor dataset for one table id.
// PKey has no field descriptors ("no field table for pkey record" in the
// reference plugin) and encodes as zero entries.
func EncodeFieldDefs(id smdb.TableID) []byte {
	var buf bytes.Buffer
	fields := smdb.FieldDefs[id]
	binary.Write(&buf, binary.BigEndian, uint32(len(fields)))
	for _, f := range fields {
		nameLen := uint16(len(f.Name))
		binary.Write(&buf, binary.BigEndian, nameLen)
		buf.WriteString(f.Name)
		binary.Write(&buf, binary.BigEndian, uint8(f.Type))
		binary.Write(&buf, binary.BigEndian, f.BitWidth)
		binary.Write(&buf, binary.BigEndian, f.BitOffset)
	}
	return buf.Bytes()
}

// DataTable is one table's worth of fixed-size records, tagged by id, used
// on both the QUERY_DATA_DATASET response path and the published Database
// assembly step.
type DataTable struct {
	ID      smdb.TableID
	Records []byte // records in on-wire record order, concatenated
}

// encodeFixed serialises one table's records (verbatim, per §6:
// "payload layout is table-type dependent and carried verbatim").
func encodeFixed[T any](records []T) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		binary.Write(&buf, binary.BigEndian, r)
	}
	return buf.Bytes()
}

// EncodeDataset encodes the data records for a single table id, dispatched
// from the live Database. PKey is variable-size and uses a bare uint16
// element rather than a struct.
func EncodeDataset(d *smdb.Database, id smdb.TableID) ([]byte, error) {
	switch id {
	case smdb.TableIDSubnetOpts:
		return encodeFixed(d.SubnetOpts), nil
	case smdb.TableIDGUID2LID:
		return encodeFixed(d.GUID2LID), nil
	case smdb.TableIDNode:
		return encodeFixed(d.Node), nil
	case smdb.TableIDLink:
		return encodeFixed(d.Link), nil
	case smdb.TableIDPort:
		return encodeFixed(d.Port), nil
	case smdb.TableIDPKey:
		return encodeFixed(d.PKey), nil
	case smdb.TableIDLFTTop:
		return encodeFixed(d.LFTTop), nil
	case smdb.TableIDLFTBlock:
		return encodeFixed(d.LFTBlock), nil
	default:
		return nil, fmt.Errorf("streaming: unknown table id %s", id)
	}
}

// DataTableOrder is the fixed order tables are requested/delivered in
// during the DATA phase.
var DataTableOrder = []smdb.TableID{
	smdb.TableIDSubnetOpts,
	smdb.TableIDGUID2LID,
	smdb.TableIDNode,
	smdb.TableIDLink,
	smdb.TableIDPort,
	smdb.TableIDPKey,
	smdb.TableIDLFTTop,
	smdb.TableIDLFTBlock,
}

func decodeFixed[T any](payload []byte) ([]T, error) {
	var zero T
	recSize := binary.Size(zero)
	if recSize <= 0 {
		return nil, fmt.Errorf("streaming: record type has no fixed binary size")
	}
	if len(payload)%recSize != 0 {
		return nil, fmt.Errorf("streaming: payload length %d not a multiple of record size %d", len(payload), recSize)
	}
	r := bytes.NewReader(payload)
	out := make([]T, 0, len(payload)/recSize)
	for r.Len() > 0 {
		var rec T
		if err := binary.Read(r, binary.BigEndian, &rec); err != nil {
			return nil, fmt.Errorf("streaming: decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ApplyDataset decodes payload for table id and stores it on d.
func ApplyDataset(d *smdb.Database, id smdb.TableID, payload []byte) error {
	var err error
	switch id {
	case smdb.TableIDSubnetOpts:
		d.SubnetOpts, err = decodeFixed[smdb.SubnetOptsRecord](payload)
	case smdb.TableIDGUID2LID:
		d.GUID2LID, err = decodeFixed[smdb.GUID2LIDRecord](payload)
	case smdb.TableIDNode:
		d.Node, err = decodeFixed[smdb.NodeRecord](payload)
	case smdb.TableIDLink:
		d.Link, err = decodeFixed[smdb.LinkRecord](payload)
	case smdb.TableIDPort:
		d.Port, err = decodeFixed[smdb.PortRecord](payload)
	case smdb.TableIDPKey:
		d.PKey, err = decodeFixed[uint16](payload)
	case smdb.TableIDLFTTop:
		d.LFTTop, err = decodeFixed[smdb.LFTTopRecord](payload)
	case smdb.TableIDLFTBlock:
		d.LFTBlock, err = decodeFixed[smdb.LFTBlockRecord](payload)
	default:
		return fmt.Errorf("streaming: unknown table id %s", id)
	}
	if err != nil {
		return fmt.Errorf("streaming: apply dataset %s: %w", id, err)
	}
	return nil
}

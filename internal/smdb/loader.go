package smdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// LoadFromFile loads a Database from the fixed on-disk layout described in
// §6: "the same as the wire format of the data datasets plus their
// descriptors, written sequentially." The file is memory-mapped rather
// than read into a second heap copy — this is the same "flat array of
// fixed-size records on disk" situation the corpus already reaches for
// mmap-go to solve, just with a subnet topology payload instead of a
// table engine's page file.
//
// Layout: [epoch u64][dbid u64], then for each table in TableID order, a
// record count (u64) followed by that many fixed-size big-endian records
// (the PKey table's records are bare u16 values rather than a struct).
func LoadFromFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("smdb: open %s: %w", path, err)
	}
	defer f.Close()

	region, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("smdb: mmap %s: %w", path, err)
	}
	defer region.Unmap()

	r := bytes.NewReader(region)

	var epoch, dbid uint64
	if err := binary.Read(r, binary.BigEndian, &epoch); err != nil {
		return nil, fmt.Errorf("smdb: read epoch: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &dbid); err != nil {
		return nil, fmt.Errorf("smdb: read dbid: %w", err)
	}

	d := &Database{Def: Dataset{Epoch: Epoch(epoch)}}

	var derr error
	d.SubnetOpts, derr = readRecords(r, func() (SubnetOptsRecord, error) {
		var rec SubnetOptsRecord
		err := binary.Read(r, binary.BigEndian, &rec)
		return rec, err
	})
	if derr != nil {
		return nil, fmt.Errorf("smdb: read %s: %w", TableIDSubnetOpts, derr)
	}

	d.GUID2LID, derr = readRecords(r, func() (GUID2LIDRecord, error) {
		var rec GUID2LIDRecord
		err := binary.Read(r, binary.BigEndian, &rec)
		return rec, err
	})
	if derr != nil {
		return nil, fmt.Errorf("smdb: read %s: %w", TableIDGUID2LID, derr)
	}

	d.Node, derr = readRecords(r, func() (NodeRecord, error) {
		var rec NodeRecord
		err := binary.Read(r, binary.BigEndian, &rec)
		return rec, err
	})
	if derr != nil {
		return nil, fmt.Errorf("smdb: read %s: %w", TableIDNode, derr)
	}

	d.Link, derr = readRecords(r, func() (LinkRecord, error) {
		var rec LinkRecord
		err := binary.Read(r, binary.BigEndian, &rec)
		return rec, err
	})
	if derr != nil {
		return nil, fmt.Errorf("smdb: read %s: %w", TableIDLink, derr)
	}

	d.Port, derr = readRecords(r, func() (PortRecord, error) {
		var rec PortRecord
		err := binary.Read(r, binary.BigEndian, &rec)
		return rec, err
	})
	if derr != nil {
		return nil, fmt.Errorf("smdb: read %s: %w", TableIDPort, derr)
	}

	d.PKey, derr = readRecords(r, func() (uint16, error) {
		var v uint16
		err := binary.Read(r, binary.BigEndian, &v)
		return v, err
	})
	if derr != nil {
		return nil, fmt.Errorf("smdb: read %s: %w", TableIDPKey, derr)
	}

	d.LFTTop, derr = readRecords(r, func() (LFTTopRecord, error) {
		var rec LFTTopRecord
		err := binary.Read(r, binary.BigEndian, &rec)
		return rec, err
	})
	if derr != nil {
		return nil, fmt.Errorf("smdb: read %s: %w", TableIDLFTTop, derr)
	}

	d.LFTBlock, derr = readRecords(r, func() (LFTBlockRecord, error) {
		var rec LFTBlockRecord
		err := binary.Read(r, binary.BigEndian, &rec)
		return rec, err
	})
	if derr != nil {
		return nil, fmt.Errorf("smdb: read %s: %w", TableIDLFTBlock, derr)
	}

	return d, nil
}

func readRecords[T any](r *bytes.Reader, readOne func() (T, error)) ([]T, error) {
	var count uint64
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	out := make([]T, 0, count)
	for i := uint64(0); i < count; i++ {
		rec, err := readOne()
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

package smdb

import "fmt"

// EmptyTableError reports that build() found a referenced table with zero
// records (§4.1: "build(I, D) succeeds iff every table referenced by
// link/port/lft-top/lft-block is non-empty").
type EmptyTableError struct {
	Table TableID
}

func (e *EmptyTableError) Error() string {
	return fmt.Sprintf("smdb: table %s is empty", e.Table)
}

// LFTUnassignedEntry is the IB-defined "unassigned LFT entry" sentinel
// (IBA 1.3 table 216): a linear-forwarding-table slot holding this value
// has no outbound port assigned and must never be returned as a route.
const LFTUnassignedEntry uint8 = 0xff

// RouteError reports that a forwarding lookup has no valid destination:
// dest-LID beyond lft-top(src), no covering lft-block, or a sentinel block
// entry.
type RouteError struct {
	Src, Dst LID
	Reason   string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("smdb: no route from LID %d to LID %d: %s", e.Src, e.Dst, e.Reason)
}

// NotFoundError reports a lookup miss on port/link/guid indexes.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("smdb: %s not found", e.What)
}

// portKey addresses one physical port: for switches, (LID, port-num); for
// host adaptors the port-num is ignored by callers but still stored.
type portKey struct {
	lid     LID
	portNum uint8
}

// Index is the routing/lookup structure derived from a Database (§4.1).
// Every lookup is O(1) except find-by-guid, which is an explicit linear
// scan per spec. Index never allocates on lookup and never fails other
// than by returning a typed error — the reference implementation's flat
// arrays with an out-of-range sentinel become Go maps with ok-results,
// which is the same "pure read, no side effect on miss" contract.
type Index struct {
	epoch Epoch

	isSwitch  map[LID]bool
	lftTop    map[LID]uint16
	caPort    map[LID]int            // LID -> Port record index
	swPort    map[portKey]int        // (LID, port-num) -> Port record index
	lftBlock  map[LID]map[uint16]int // LID -> block-num -> LFTBlock record index
	caLink    map[LID]int            // LID -> far-end Port record index
	swLink    map[portKey]int        // (LID, port-num) -> far-end Port record index
}

// Epoch reports the database epoch this index was built from.
func (idx *Index) Epoch() Epoch {
	return idx.epoch
}

// Build constructs a fresh Index from d. It mirrors the reference
// implementation's build order: is-switch, then port, then lft-top, then
// lft-block, then link — link-building needs the port index already
// populated to resolve the far end of each link.
func Build(d *Database) (*Index, error) {
	idx := &Index{epoch: d.Epoch()}

	if len(d.GUID2LID) == 0 {
		return nil, &EmptyTableError{Table: TableIDGUID2LID}
	}
	idx.isSwitch = make(map[LID]bool, len(d.GUID2LID))
	for _, r := range d.GUID2LID {
		idx.isSwitch[r.LID] = r.IsSwitch != 0
	}

	if len(d.Port) == 0 {
		return nil, &EmptyTableError{Table: TableIDPort}
	}
	idx.caPort = make(map[LID]int)
	idx.swPort = make(map[portKey]int)
	for i, p := range d.Port {
		if p.Rate&SSADBPortIsSwitchMask != 0 {
			idx.swPort[portKey{lid: p.PortLID, portNum: p.PortNum}] = i
		} else {
			idx.caPort[p.PortLID] = i
		}
	}

	if len(d.LFTTop) == 0 {
		return nil, &EmptyTableError{Table: TableIDLFTTop}
	}
	idx.lftTop = make(map[LID]uint16, len(d.LFTTop))
	for _, r := range d.LFTTop {
		idx.lftTop[r.LID] = r.LFTTop
	}

	if len(d.LFTBlock) == 0 {
		return nil, &EmptyTableError{Table: TableIDLFTBlock}
	}
	idx.lftBlock = make(map[LID]map[uint16]int)
	for i, r := range d.LFTBlock {
		blocks, ok := idx.lftBlock[r.LID]
		if !ok {
			blocks = make(map[uint16]int)
			idx.lftBlock[r.LID] = blocks
		}
		blocks[r.BlockNum] = i
	}

	if len(d.Link) == 0 {
		return nil, &EmptyTableError{Table: TableIDLink}
	}
	idx.caLink = make(map[LID]int)
	idx.swLink = make(map[portKey]int)
	for _, l := range d.Link {
		toIdx, err := idx.lookupPortIndex(d, l.ToLID, l.ToPortNum)
		if err != nil {
			return nil, fmt.Errorf("smdb: build link index for LID %d: %w", l.ToLID, err)
		}
		if idx.isSwitch[l.FromLID] {
			idx.swLink[portKey{lid: l.FromLID, portNum: l.FromPortNum}] = toIdx
		} else {
			idx.caLink[l.FromLID] = toIdx
		}
	}

	return idx, nil
}

// Rebuild is a no-op when idx already reflects d's epoch and returns idx;
// otherwise it returns a freshly built index and leaves idx unchanged (P6:
// rebuild is a pure function of epoch).
func Rebuild(idx *Index, d *Database) (*Index, error) {
	if idx != nil && idx.epoch == d.Epoch() {
		return idx, nil
	}
	return Build(d)
}

// lookupPortIndex is the unexported core of LookupPort, shared with link
// building so link construction doesn't allocate a second lookup path.
func (idx *Index) lookupPortIndex(d *Database, lid LID, portNum uint8) (int, error) {
	if lid == 0 {
		return 0, &NotFoundError{What: "port (LID zero)"}
	}
	if idx.isSwitch[lid] {
		i, ok := idx.swPort[portKey{lid: lid, portNum: portNum}]
		if !ok {
			return 0, &NotFoundError{What: fmt.Sprintf("switch port LID %d port %d", lid, portNum)}
		}
		return i, nil
	}
	i, ok := idx.caPort[lid]
	if !ok {
		return 0, &NotFoundError{What: fmt.Sprintf("host port LID %d", lid)}
	}
	return i, nil
}

// LookupPort returns the Port record for (LID, port-num). For non-switch
// LIDs port-num is ignored, matching the reference host-adaptor case.
func (idx *Index) LookupPort(d *Database, lid LID, portNum uint8) (*PortRecord, error) {
	i, err := idx.lookupPortIndex(d, lid, portNum)
	if err != nil {
		return nil, err
	}
	return &d.Port[i], nil
}

// LookupLinkedPort returns the Port record at the far end of the physical
// link originating at (LID, port-num).
func (idx *Index) LookupLinkedPort(d *Database, lid LID, portNum uint8) (*PortRecord, error) {
	if lid == 0 {
		return nil, &NotFoundError{What: "link (LID zero)"}
	}
	var i int
	if idx.isSwitch[lid] {
		var ok bool
		i, ok = idx.swLink[portKey{lid: lid, portNum: portNum}]
		if !ok {
			return nil, &NotFoundError{What: fmt.Sprintf("switch link LID %d port %d", lid, portNum)}
		}
	} else {
		var ok bool
		i, ok = idx.caLink[lid]
		if !ok {
			return nil, &NotFoundError{What: fmt.Sprintf("host link LID %d", lid)}
		}
	}
	return &d.Port[i], nil
}

// LookupForwarding computes the outbound port number for traffic at srcLID
// destined for dstLID, via the fixed block-number/slot split (§4.1): the
// >>6 / mod-64 split is fixed by the wire protocol and must not be
// generalised to any other block size.
func (idx *Index) LookupForwarding(d *Database, srcLID, dstLID LID) (uint8, error) {
	if srcLID == 0 || dstLID == 0 {
		return 0, &RouteError{Src: srcLID, Dst: dstLID, Reason: "zero LID"}
	}
	top, ok := idx.lftTop[srcLID]
	if !ok {
		return 0, &RouteError{Src: srcLID, Dst: dstLID, Reason: "source has no lft-top entry"}
	}
	if uint16(dstLID) > top {
		return 0, &RouteError{Src: srcLID, Dst: dstLID, Reason: "destination beyond lft-top"}
	}

	blockNum := uint16(dstLID) >> 6
	slot := uint16(dstLID) % 64

	blocks, ok := idx.lftBlock[srcLID]
	if !ok {
		return 0, &RouteError{Src: srcLID, Dst: dstLID, Reason: "no lft-block table for source"}
	}
	blockIdx, ok := blocks[blockNum]
	if !ok {
		return 0, &RouteError{Src: srcLID, Dst: dstLID, Reason: "missing lft-block for destination"}
	}
	port := d.LFTBlock[blockIdx].Block[slot]
	if port == LFTUnassignedEntry {
		return 0, &RouteError{Src: srcLID, Dst: dstLID, Reason: "lft entry unassigned"}
	}
	return port, nil
}

// FindByGUID is a linear scan over the guid→lid table, returning the first
// matching record in table order (P2), since no index is built for it.
func FindByGUID(d *Database, guid uint64) (*GUID2LIDRecord, error) {
	for i := range d.GUID2LID {
		if d.GUID2LID[i].GUID == guid {
			return &d.GUID2LID[i], nil
		}
	}
	return nil, &NotFoundError{What: fmt.Sprintf("guid %#016x", guid)}
}

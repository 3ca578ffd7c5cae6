package smdb

// Database is an immutable, versioned bundle of subnet-management tables
// (§3). It is produced by the on-disk loader, by the upstream worker after
// a streaming pull, or by the access worker computing a derived database;
// once published it is never mutated in place — a new epoch means a new
// Database value.
type Database struct {
	Def Dataset

	SubnetOpts []SubnetOptsRecord
	GUID2LID   []GUID2LIDRecord
	Node       []NodeRecord
	Link       []LinkRecord
	Port       []PortRecord
	PKey       []uint16
	LFTTop     []LFTTopRecord
	LFTBlock   []LFTBlockRecord
}

// Dataset is the descriptor header shared by every table's data dataset:
// epoch and record size (§3, I3: epoch is non-decreasing per peer/db-id).
type Dataset struct {
	Epoch      Epoch
	RecordSize uint64
}

// Epoch returns the database's version.
func (d *Database) Epoch() Epoch {
	return d.Def.Epoch
}

// RecordCount returns the number of records loaded for a table id. Build
// checks table emptiness with len() directly and does not call it.
func (d *Database) RecordCount(id TableID) int {
	switch id {
	case TableIDSubnetOpts:
		return len(d.SubnetOpts)
	case TableIDGUID2LID:
		return len(d.GUID2LID)
	case TableIDNode:
		return len(d.Node)
	case TableIDLink:
		return len(d.Link)
	case TableIDPort:
		return len(d.Port)
	case TableIDPKey:
		return len(d.PKey)
	case TableIDLFTTop:
		return len(d.LFTTop)
	case TableIDLFTBlock:
		return len(d.LFTBlock)
	default:
		return 0
	}
}

// Package smdb implements the in-memory subnet-management database: its
// table/field descriptors, the flat per-table record datasets, and the
// routing index built on top of them.
package smdb

import "fmt"

// Epoch is the monotonic version number of a database snapshot.
type Epoch uint64

// EpochInvalid marks an index that has never been built from a real database.
const EpochInvalid Epoch = 0xFFFFFFFFFFFFFFFF

// LID is a 16-bit fabric-local address. Zero is never valid.
type LID uint16

// TableType distinguishes a data-carrying table from its field-descriptor
// table (§3 I1/I2: every DATA entry has exactly one matching DEF entry).
type TableType uint8

const (
	TableTypeData TableType = iota
	TableTypeDef
)

// FieldType is the wire type of a single record field.
type FieldType uint8

const (
	FieldTypeU8 FieldType = iota
	FieldTypeNet16
	FieldTypeNet64
)

// DBVariableSize is the sentinel record size for variable-length tables
// (the PKEY table: a dataset of uint16 entries whose count is not fixed).
const DBVariableSize = ^uint64(0)

// TableID identifies one of the concrete SMDB tables.
type TableID int

const (
	TableIDSubnetOpts TableID = iota
	TableIDGUID2LID
	TableIDNode
	TableIDLink
	TableIDPort
	TableIDPKey
	TableIDLFTTop
	TableIDLFTBlock
	TableIDMax
)

func (t TableID) String() string {
	switch t {
	case TableIDSubnetOpts:
		return "SUBNET_OPTS"
	case TableIDGUID2LID:
		return "GUID_to_LID"
	case TableIDNode:
		return "NODE"
	case TableIDLink:
		return "LINK"
	case TableIDPort:
		return "PORT"
	case TableIDPKey:
		return "PKEY"
	case TableIDLFTTop:
		return "LFT_TOP"
	case TableIDLFTBlock:
		return "LFT_BLOCK"
	default:
		return fmt.Sprintf("TableID(%d)", int(t))
	}
}

// TableDef is one entry of a database's table-descriptor dataset.
type TableDef struct {
	ID            TableID
	Type          TableType
	RecordSize    uint64 // DBVariableSize for variable-size tables
	RefTableID    TableID
	HasRefTableID bool
}

// FieldDef is one entry of a table's field-descriptor dataset: field id,
// bit width, and bit offset within the record (§3).
type FieldDef struct {
	Name     string
	Type     FieldType
	BitWidth uint32
	BitOffset uint32
}

// DbDef is the top-level descriptor of a database: schema identity, version,
// and epoch (§3).
type DbDef struct {
	Name  string
	DBID  uint64
	Epoch Epoch
}

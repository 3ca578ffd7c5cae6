package smdb

// Concrete table and field catalogue for the subnet-management database,
// recovered from the reference plugin's def_tbl/field_tbl arrays. spec.md
// names the eight table ids abstractly ("subnet-options, guid→lid, node,
// link, port, partition-keys, lft-top, lft-block"); the byte layout below
// is what gives each a "fixed record shape" as §3 requires.

// SubnetOptsRecord mirrors struct smdb_subnet_opts.
type SubnetOptsRecord struct {
	ChangeMask     uint64
	SubnetPrefix   uint64
	SMState        uint8
	LMC            uint8
	SubnetTimeout  uint8
	AllowBothPKeys uint8
}

// GUID2LIDRecord mirrors struct smdb_guid2lid.
type GUID2LIDRecord struct {
	GUID     uint64
	LID      LID
	LMC      uint8
	IsSwitch uint8
}

// IBNodeDescriptionSize is the fixed width of a node's description blob
// (IB_NODE_DESCRIPTION_SIZE in the reference headers).
const IBNodeDescriptionSize = 64

// NodeRecord mirrors struct smdb_node.
type NodeRecord struct {
	NodeGUID      uint64
	IsEnhancedSP0 uint8
	NodeType      uint8
	Description   [IBNodeDescriptionSize]byte
}

// LinkRecord mirrors struct smdb_link.
type LinkRecord struct {
	FromLID     LID
	ToLID       LID
	FromPortNum uint8
	ToPortNum   uint8
}

// PortRecord mirrors struct smdb_port.
type PortRecord struct {
	PKeyTblOffset uint64
	PKeyTblSize   uint16
	PortLID       LID
	PortNum       uint8
	MTUCap        uint8
	Rate          uint8
	VLEnforce     uint8
}

// SSADBPortIsSwitchMask is the bit of PortRecord.Rate that flags a switch
// port, packed alongside the link-rate value (smdb_port_init in the
// reference plugin ORs it into the same byte as rate/fdr10-active).
const SSADBPortIsSwitchMask = 0x80

// SMPDataLen is the fixed payload size of an SMP LFT-block MAD
// (UMAD_LEN_SMP_DATA): 64 forwarding-table entries per block.
const SMPDataLen = 64

// LFTTopRecord mirrors struct smdb_lft_top.
type LFTTopRecord struct {
	LID    LID
	LFTTop uint16
}

// LFTBlockRecord mirrors struct smdb_lft_block: one 64-entry slice of a
// switch's linear forwarding table.
type LFTBlockRecord struct {
	LID      LID
	BlockNum uint16
	Block    [SMPDataLen]uint8
}

// TableDefs is the static table-descriptor dataset for the SMDB, in the
// fixed DATA/DEF-pair order the reference plugin emits them.
var TableDefs = [TableIDMax]TableDef{
	TableIDSubnetOpts: {ID: TableIDSubnetOpts, Type: TableTypeData, RecordSize: 20},
	TableIDGUID2LID:   {ID: TableIDGUID2LID, Type: TableTypeData, RecordSize: 12},
	TableIDNode:       {ID: TableIDNode, Type: TableTypeData, RecordSize: 8 + 2 + IBNodeDescriptionSize},
	TableIDLink:       {ID: TableIDLink, Type: TableTypeData, RecordSize: 6},
	TableIDPort:       {ID: TableIDPort, Type: TableTypeData, RecordSize: 16},
	TableIDPKey:       {ID: TableIDPKey, Type: TableTypeData, RecordSize: DBVariableSize, RefTableID: TableIDPort, HasRefTableID: true},
	TableIDLFTTop:     {ID: TableIDLFTTop, Type: TableTypeData, RecordSize: 4},
	TableIDLFTBlock:   {ID: TableIDLFTBlock, Type: TableTypeData, RecordSize: 4 + SMPDataLen},
}

// FieldDefs is the static field-descriptor catalogue, one slice per table,
// keyed by TableID. Bit offsets match field_tbl in the reference plugin.
var FieldDefs = map[TableID][]FieldDef{
	TableIDSubnetOpts: {
		{Name: "change_mask", Type: FieldTypeNet64, BitWidth: 64, BitOffset: 0},
		{Name: "subnet_prefix", Type: FieldTypeNet64, BitWidth: 64, BitOffset: 64},
		{Name: "sm_state", Type: FieldTypeU8, BitWidth: 8, BitOffset: 128},
		{Name: "lmc", Type: FieldTypeU8, BitWidth: 8, BitOffset: 136},
		{Name: "subnet_timeout", Type: FieldTypeU8, BitWidth: 8, BitOffset: 144},
		{Name: "allow_both_pkeys", Type: FieldTypeU8, BitWidth: 8, BitOffset: 152},
	},
	TableIDGUID2LID: {
		{Name: "guid", Type: FieldTypeNet64, BitWidth: 64, BitOffset: 0},
		{Name: "lid", Type: FieldTypeNet16, BitWidth: 16, BitOffset: 64},
		{Name: "lmc", Type: FieldTypeU8, BitWidth: 8, BitOffset: 80},
		{Name: "is_switch", Type: FieldTypeU8, BitWidth: 8, BitOffset: 88},
	},
	TableIDNode: {
		{Name: "node_guid", Type: FieldTypeNet64, BitWidth: 64, BitOffset: 0},
		{Name: "is_enhanced_sp0", Type: FieldTypeU8, BitWidth: 8, BitOffset: 64},
		{Name: "node_type", Type: FieldTypeU8, BitWidth: 8, BitOffset: 72},
		{Name: "description", Type: FieldTypeU8, BitWidth: 8 * IBNodeDescriptionSize, BitOffset: 80},
	},
	TableIDLink: {
		{Name: "from_lid", Type: FieldTypeNet16, BitWidth: 16, BitOffset: 0},
		{Name: "to_lid", Type: FieldTypeNet16, BitWidth: 16, BitOffset: 16},
		{Name: "from_port_num", Type: FieldTypeU8, BitWidth: 8, BitOffset: 32},
		{Name: "to_port_num", Type: FieldTypeU8, BitWidth: 8, BitOffset: 40},
	},
	TableIDPort: {
		{Name: "pkey_tbl_offset", Type: FieldTypeNet64, BitWidth: 64, BitOffset: 0},
		{Name: "pkey_tbl_size", Type: FieldTypeNet16, BitWidth: 16, BitOffset: 64},
		{Name: "port_lid", Type: FieldTypeNet16, BitWidth: 16, BitOffset: 80},
		{Name: "port_num", Type: FieldTypeU8, BitWidth: 8, BitOffset: 96},
		{Name: "mtu_cap", Type: FieldTypeU8, BitWidth: 8, BitOffset: 104},
		{Name: "rate", Type: FieldTypeU8, BitWidth: 8, BitOffset: 112},
		{Name: "vl_enforce", Type: FieldTypeU8, BitWidth: 8, BitOffset: 120},
	},
	TableIDLFTTop: {
		{Name: "lid", Type: FieldTypeNet16, BitWidth: 16, BitOffset: 0},
		{Name: "lft_top", Type: FieldTypeNet16, BitWidth: 16, BitOffset: 16},
	},
	TableIDLFTBlock: {
		{Name: "lid", Type: FieldTypeNet16, BitWidth: 16, BitOffset: 0},
		{Name: "block_num", Type: FieldTypeNet16, BitWidth: 16, BitOffset: 16},
		{Name: "block", Type: FieldTypeU8, BitWidth: 8 * SMPDataLen, BitOffset: 32},
	},
	// PKEY has no field descriptor: "no field table for pkey record"
	// (smdb_attach_ipdb in the reference plugin) — its records are bare
	// uint16 pkey values, not structured fields.
}

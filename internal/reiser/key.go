package reiser

// key mirrors a simplified ReiserFS v2 on-disk item key: a directory id
// and object id identifying the owning object, and a combined
// offset/type field (the low 4 bits hold the item type, the rest the
// byte or entry offset within the object), the same packing the v2
// on-disk key format uses.
type key struct {
	DirID    uint32
	ObjectID uint32
	Offset   uint64
}

const (
	itemTypeStatData = 0
	itemTypeIndirect = 1
	itemTypeDirect   = 2
	itemTypeDirEntry = 3
)

func (k key) itemType() uint8 { return uint8(k.Offset & 0x0F) }

// rootDirID/rootObjectID are the fixed identifiers of the filesystem
// root directory's key, the starting point for the B-tree walk (mirrors
// wfs_reiser.c's root_dir_key).
const (
	rootDirID    = 1
	rootObjectID = 2
)

func rootDirKey() key {
	return key{DirID: rootDirID, ObjectID: rootObjectID, Offset: 0}
}

// itemHead mirrors a simplified struct item_head (the "ih2" new format
// wfs_reiser.c reads via ih2_item_len/ih2_item_location): an owning key,
// the item's length and its byte offset within the leaf block, and an
// entry-count/free-space union field used only for directory items here.
type itemHead struct {
	Key        key
	ItemLen    uint16
	ItemLoc    uint16
	EntryCount uint16
	Version    uint16
}

// dirEntryHead mirrors a simplified struct reiserfs_de_head: each
// directory item holds one of these per entry, followed by the packed
// entry names (grown backward from the end of the item).
type dirEntryHead struct {
	Offset   uint32
	DirID    uint32
	ObjectID uint32
	Location uint16
	State    uint16
}

// dehVisible is approximated from the on-disk DEH_Visible convention:
// an entry reiserfsck would consider a live, reachable directory entry
// has this bit set in its state field. An entry with the bit clear is
// one this backend treats as already logically deleted and wipes.
const dehVisible = 0x04

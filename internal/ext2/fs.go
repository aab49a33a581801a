// Package ext2 implements the FsBackend contract for ext2 and ext3
// filesystems (spec §4.4). It decodes the on-disk superblock, group
// descriptor table, inode table and directory entries directly, the same
// binary.Read-over-io.SectionReader style the teacher's squashfs reader
// used for its superblock and inode tables, since nothing in the example
// pack ships a pure-Go ext2 decoder.
package ext2

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"

	wfs "github.com/bogdro/wipefreespace"
)

const (
	magic = 0xEF53

	goodOldFirstIno = 11 // EXT2_GOOD_OLD_FIRST_INO
	goodOldInodeSize = 128

	indexFl = 0x00001000 // EXT2_INDEX_FL: hash-indexed directory

	superblockOffsetDefault = 1024
)

// superblock mirrors struct ext2_super_block's first 264 bytes (the
// fields every mounted ext2/3 volume populates) followed by the reserved
// tail padding it out to the on-disk 1024-byte size.
type superblock struct {
	InodesCount      uint32
	BlocksCount      uint32
	RBlocksCount     uint32
	FreeBlocksCount  uint32
	FreeInodesCount  uint32
	FirstDataBlock   uint32
	LogBlockSize     uint32
	LogFragSize      int32
	BlocksPerGroup   uint32
	FragsPerGroup    uint32
	InodesPerGroup   uint32
	Mtime            uint32
	Wtime            uint32
	MntCount         uint16
	MaxMntCount      int16
	Magic            uint16
	State            uint16
	Errors           uint16
	MinorRevLevel    uint16
	Lastcheck        uint32
	Checkinterval    uint32
	CreatorOS        uint32
	RevLevel         uint32
	DefResuid        uint16
	DefResgid        uint16
	FirstIno         uint32
	InodeSize        uint16
	BlockGroupNr     uint16
	FeatureCompat    uint32
	FeatureIncompat  uint32
	FeatureROCompat  uint32
	UUID             [16]byte
	VolumeName       [16]byte
	LastMounted      [64]byte
	AlgorithmUsageBM uint32
	PreallocBlocks   uint8
	PreallocDirBlks  uint8
	_                uint16
	JournalUUID      [16]byte
	JournalInum      uint32
	JournalDev       uint32
	LastOrphan       uint32
	HashSeed         [4]uint32
	DefHashVersion   uint8
	_                [3]byte
	DefaultMountOpts uint32
	FirstMetaBG      uint32
	_                [760]byte
}

// groupDesc mirrors struct ext2_group_desc (32 bytes).
type groupDesc struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
	_               uint16
	_               [12]byte
}

// inode mirrors the classic 128-byte struct ext2_inode. Larger
// s_inode_size values (256-byte inodes with extra-attribute space) are
// supported by striding the inode table with InodeSize rather than by
// decoding the extra fields, since nothing this backend wipes lives past
// byte 128.
type inode struct {
	Mode       uint16
	UID        uint16
	Size       uint32
	Atime      uint32
	Ctime      uint32
	Mtime      uint32
	Dtime      uint32
	GID        uint16
	LinksCount uint16
	Blocks     uint32
	Flags      uint32
	OSD1       uint32
	Block      [15]uint32
	Generation uint32
	FileACL    uint32
	SizeHigh   uint32
	FAddr      uint32
	OSD2       [12]byte
}

// Filesystem binds a superblock, its group descriptor table and the
// shared device handle together. Every exported backend operation walks
// this state rather than re-deriving it.
type Filesystem struct {
	dev       *wfs.Device
	super     superblock
	groups    []groupDesc
	blockSize uint32
	sbOffset  int64
}

// openFilesystem reads and validates the superblock and group descriptor
// table starting at sbOffset (0 uses the standard 1024-byte offset),
// grounded on ext23.c's wfs_e2openfs which calls ext2fs_open2 with an
// explicit superblock/blocksize override pair.
func openFilesystem(dev *wfs.Device, sbOffset int64, blockSizeOverride uint32) (*Filesystem, error) {
	if sbOffset == 0 {
		sbOffset = superblockOffsetDefault
	}

	var sb superblock
	sr := io.NewSectionReader(dev, sbOffset, int64(binary.Size(sb)))
	if err := binary.Read(sr, binary.LittleEndian, &sb); err != nil {
		return nil, xerrors.Errorf("reading ext2 superblock: %w", err)
	}
	if sb.Magic != magic {
		return nil, xerrors.Errorf("not an ext2/3 filesystem (bad magic %#x)", sb.Magic)
	}

	blockSize := blockSizeOverride
	if blockSize == 0 {
		blockSize = 1024 << sb.LogBlockSize
	}

	fs := &Filesystem{dev: dev, super: sb, blockSize: blockSize, sbOffset: sbOffset}

	if err := fs.readGroupDescriptors(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *Filesystem) readGroupDescriptors() error {
	groupCount := (fs.super.BlocksCount + fs.super.BlocksPerGroup - 1) / fs.super.BlocksPerGroup
	if groupCount == 0 {
		groupCount = 1
	}
	// The group descriptor table starts in the block following the
	// superblock's block: block 2 for a 1024-byte block size (the
	// superblock fills block 1), block 1 for larger block sizes (the
	// superblock sits inside block 0).
	gdtBlock := fs.super.FirstDataBlock + 1
	off := int64(gdtBlock) * int64(fs.blockSize)

	fs.groups = make([]groupDesc, groupCount)
	sr := io.NewSectionReader(fs.dev, off, int64(groupCount)*32)
	if err := binary.Read(sr, binary.LittleEndian, &fs.groups); err != nil {
		return xerrors.Errorf("reading ext2 group descriptor table: %w", err)
	}
	return nil
}

// BlockSize returns the filesystem's block size in bytes.
func (fs *Filesystem) BlockSize() uint32 { return fs.blockSize }

// BlocksCount returns s_blocks_count.
func (fs *Filesystem) BlocksCount() uint32 { return fs.super.BlocksCount }

// FirstIno returns the first non-reserved inode number: the dynamic
// s_first_ino field when the revision supports it, else the classic
// EXT2_GOOD_OLD_FIRST_INO.
func (fs *Filesystem) FirstIno() uint32 {
	if fs.super.RevLevel == 0 {
		return goodOldFirstIno
	}
	return fs.super.FirstIno
}

// InodeSize returns s_inode_size, defaulting to the classic 128 bytes for
// the old (rev 0) on-disk format that doesn't carry the field.
func (fs *Filesystem) InodeSize() uint32 {
	if fs.super.RevLevel == 0 || fs.super.InodeSize == 0 {
		return goodOldInodeSize
	}
	return uint32(fs.super.InodeSize)
}

// InodesPerGroup returns s_inodes_per_group.
func (fs *Filesystem) InodesPerGroup() uint32 { return fs.super.InodesPerGroup }

// RootInode is always inode 2 on ext2/3.
const RootInode = 2

func (fs *Filesystem) readBlock(blockNo uint32, buf []byte) error {
	_, err := fs.dev.ReadAt(buf, int64(blockNo)*int64(fs.blockSize))
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (fs *Filesystem) groupOf(blockNo uint32) uint32 {
	return (blockNo - fs.super.FirstDataBlock) / fs.super.BlocksPerGroup
}

// Package reiser implements the FsBackend contract for ReiserFS v3
// (spec §4.6). It decodes the superblock, B-tree nodes, item headers and
// directory entries directly with encoding/binary, the same style
// internal/ext2 and internal/ntfs use, since reiserfs_lib.h (the
// library original_source/src/wfs_reiser.c links against) is not part
// of the example pack. The on-disk layout here is therefore a
// deliberately simplified, internally-consistent re-derivation from
// well-documented public ReiserFS v3 format knowledge rather than a
// byte-exact transcription of the historical struct layout; see
// DESIGN.md for the reasoning (no real mkreiserfs image is ever tested
// against this code, since the toolchain never runs).
package reiser

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"

	wfs "github.com/bogdro/wipefreespace"
)

const (
	diskOffset = 65536 // REISERFS_DISK_OFFSET: superblock always starts here

	magicV1 = "ReIsErFs"
	magicV2 = "ReIsEr2Fs"
	magicV3 = "ReIsEr3Fs"

	leafLevel = 1 // DISK_LEAF_NODE_LEVEL
)

// superblock mirrors the fields wfs_reiser.c's wipe paths and the
// SUPPLEMENTED not_data_block/block_of_bitmap/block_of_journal helpers
// need: block/bitmap/journal geometry plus the consistency flags
// CheckErr/IsDirty read. See the package doc comment for the
// simplification this struct represents.
type superblock struct {
	BlockCount    uint32
	FreeBlocks    uint32
	RootBlock     uint32
	JournalBlock  uint32 // sb_journal.jp_journal_1st_block
	JournalDev    uint32
	JournalSize   uint32 // sb_journal.jp_journal_size
	JournalMagic  uint32
	BlockSize     uint16
	OidMaxSize    uint16
	OidCurSize    uint16
	State         uint16
	Magic         [10]byte
	FsState       uint32
	HashFunction  uint32
	TreeHeight    uint16
	BmapNr        uint16
	Version       uint16
	_             [442]byte // pad; the struct decodes as a 502-byte record
}

const (
	fsStateConsistent = 0
	fsStateError      = 1
	fsStateFatal      = 2
)

// Filesystem binds a decoded superblock, the device and the $Bitmap-style
// per-bitmap-block cache together.
type Filesystem struct {
	dev           *wfs.Device
	super         superblock
	sbBlock       uint32
	blockSize     uint32
	bitmapBlocks  []uint32
	cache         bitmapBlockCache
}

// openFilesystem reads and validates the superblock at the fixed
// REISERFS_DISK_OFFSET, grounded on wfs_reiser.c's wfs_reiser_open_fs
// (reiserfs_open + reiserfs_open_ondisk_bitmap pairing).
func openFilesystem(dev *wfs.Device) (*Filesystem, error) {
	var sb superblock
	sr := io.NewSectionReader(dev, diskOffset, int64(binary.Size(sb)))
	if err := binary.Read(sr, binary.LittleEndian, &sb); err != nil {
		return nil, xerrors.Errorf("reading ReiserFS superblock: %w", err)
	}
	magic := string(sb.Magic[:8])
	if magic != magicV1 && string(sb.Magic[:9]) != magicV2 && string(sb.Magic[:9]) != magicV3 {
		return nil, xerrors.Errorf("not a ReiserFS v3 filesystem (bad magic %q)", sb.Magic)
	}
	if sb.BlockSize == 0 {
		return nil, xerrors.Errorf("invalid ReiserFS geometry: zero block size")
	}

	fs := &Filesystem{
		dev:       dev,
		super:     sb,
		blockSize: uint32(sb.BlockSize),
		sbBlock:   diskOffset / uint32(sb.BlockSize),
	}
	fs.bitmapBlocks = fs.computeBitmapBlocks()
	return fs, nil
}

// computeBitmapBlocks lists the block numbers holding the on-disk free-
// block bitmap: the first bitmap block immediately follows the
// superblock's block, and every subsequent one starts a fresh
// blockSize*8-block span, the same layout reiserfs_open_ondisk_bitmap
// assumes.
func (fs *Filesystem) computeBitmapBlocks() []uint32 {
	blocksPerBitmap := fs.blockSize * 8
	blocks := make([]uint32, 0, fs.super.BmapNr)
	blocks = append(blocks, fs.sbBlock+1)
	for i := uint16(1); i < fs.super.BmapNr; i++ {
		blocks = append(blocks, uint32(i)*blocksPerBitmap)
	}
	return blocks
}

// BlockSize returns the filesystem's block size in bytes.
func (fs *Filesystem) BlockSize() uint32 { return fs.blockSize }

// BlockCount returns s_block_count.
func (fs *Filesystem) BlockCount() uint32 { return fs.super.BlockCount }

// RootBlock returns s_root_block, the B-tree root.
func (fs *Filesystem) RootBlock() uint32 { return fs.super.RootBlock }

// notDataBlock reports whether blockNo can never hold file data: out of
// range, the superblock's own block, or (transitively) a bitmap or
// journal block. Grounded on wfs_reiser.c's not_data_block call sites,
// defined here per SPEC_FULL's supplemented ReiserFS feature since
// reiserfs_lib.h's own implementation isn't in the pack.
func (fs *Filesystem) notDataBlock(blockNo uint32) bool {
	if blockNo == 0 || blockNo >= fs.super.BlockCount {
		return true
	}
	if blockNo == fs.sbBlock {
		return true
	}
	return fs.blockOfBitmap(blockNo) || fs.blockOfJournal(blockNo)
}

// blockOfBitmap reports whether blockNo is one of the bitmap blocks
// computed in computeBitmapBlocks.
func (fs *Filesystem) blockOfBitmap(blockNo uint32) bool {
	for _, b := range fs.bitmapBlocks {
		if b == blockNo {
			return true
		}
	}
	return false
}

// blockOfJournal reports whether blockNo falls within [journal_1st_block,
// journal_1st_block+journal_size).
func (fs *Filesystem) blockOfJournal(blockNo uint32) bool {
	return blockNo >= fs.super.JournalBlock && blockNo < fs.super.JournalBlock+fs.super.JournalSize
}

func (fs *Filesystem) readBlock(blockNo uint32, buf []byte) error {
	_, err := fs.dev.ReadAt(buf, int64(blockNo)*int64(fs.blockSize))
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (fs *Filesystem) writeBlock(blockNo uint32, buf []byte) error {
	_, err := fs.dev.WriteAt(buf, int64(blockNo)*int64(fs.blockSize))
	return err
}

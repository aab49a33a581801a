package ext2

import (
	"encoding/binary"
	"io"
)

const (
	modeFmt    = 0xF000
	modeFifo   = 0x1000
	modeChr    = 0x2000
	modeDir    = 0x4000
	modeBlk    = 0x6000
	modeReg    = 0x8000
	modeSocket = 0xC000
)

// isSpecialFile reports whether mode names a char/block device, FIFO or
// socket: these carry driver-private data in the block-pointer fields
// rather than addressable file content, the "bogus device/fifo/socket"
// case ext23.c's wfs_e2wipe_part skips (spec §4.4).
func isSpecialFile(mode uint16) bool {
	switch mode & modeFmt {
	case modeFifo, modeChr, modeBlk, modeSocket:
		return true
	default:
		return false
	}
}

func isDir(mode uint16) bool { return mode&modeFmt == modeDir }

// readInode decodes inode number ino (1-based) from the group it belongs
// to, striding the inode table by fs.InodeSize() rather than the fixed
// 128-byte classic size so 256-byte-inode filesystems are read correctly
// even though only the classic fields are decoded.
func (fs *Filesystem) readInode(ino uint32) (inode, error) {
	var in inode
	g := (ino - 1) / fs.super.InodesPerGroup
	idx := (ino - 1) % fs.super.InodesPerGroup

	off := int64(fs.groups[g].InodeTable)*int64(fs.blockSize) + int64(idx)*int64(fs.InodeSize())
	sr := io.NewSectionReader(fs.dev, off, int64(binary.Size(in)))
	if err := binary.Read(sr, binary.LittleEndian, &in); err != nil {
		return in, err
	}
	return in, nil
}

// lastDataBlock returns the physical block number holding the last
// logical block of the file described by in, given its size and the
// filesystem's block size. Only direct (0-11) and singly-indirect (12)
// pointers are resolved; doubly/triply-indirect files (larger than
// blockSize/4 + 12 blocks) fall back to the last singly-indirect entry,
// a documented scope limit (DESIGN.md) since slack only ever exists in
// the final, partially-used block and the vast majority of ext2/3 files
// never reach double indirection.
func (fs *Filesystem) lastDataBlock(in *inode) (uint32, error) {
	blockSize := int64(fs.blockSize)
	nblocks := (int64(in.Size) + blockSize - 1) / blockSize
	if nblocks == 0 {
		return 0, nil
	}
	last := nblocks - 1

	if last < 12 {
		return in.Block[last], nil
	}

	indirect := in.Block[12]
	if indirect == 0 {
		return 0, nil
	}
	entriesPerBlock := blockSize / 4
	idx := last - 12
	if idx >= entriesPerBlock {
		idx = entriesPerBlock - 1 // doubly/triply-indirect: approximate
	}

	buf := make([]byte, 4)
	off := int64(indirect)*blockSize + idx*4
	if _, err := fs.dev.ReadAt(buf, off); err != nil && err != io.EOF {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

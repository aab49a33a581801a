package ext2

import "io"

// groupBitmapCache holds the single most-recently-read block bitmap,
// mirroring the spec's single-window bitmap cache design (§4.5) applied
// here to ext2/3's per-group bitmaps instead of NTFS's single volume-wide
// one: free-space wipe visits blocks in increasing order, so one window
// per group is enough and avoids re-reading a group's bitmap block once
// per tested bit.
type groupBitmapCache struct {
	group uint32
	valid bool
	bits  []byte
}

func (fs *Filesystem) blockInUse(blockNo uint32, cache *groupBitmapCache) (bool, error) {
	g := fs.groupOf(blockNo)
	if !cache.valid || cache.group != g {
		buf := make([]byte, fs.blockSize)
		if err := fs.readBlock(fs.groups[g].BlockBitmap, buf); err != nil {
			return false, err
		}
		cache.group = g
		cache.bits = buf
		cache.valid = true
	}
	idx := (blockNo - fs.super.FirstDataBlock) - g*fs.super.BlocksPerGroup
	byteIdx := idx / 8
	bit := idx % 8
	if int(byteIdx) >= len(cache.bits) {
		return false, io.ErrUnexpectedEOF
	}
	return cache.bits[byteIdx]&(1<<bit) != 0, nil
}

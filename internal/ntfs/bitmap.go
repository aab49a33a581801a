package ntfs

const bitmapWindowSize = 512 // bytes, per spec §4.5

// bitmapWindow is the volume's single static $Bitmap cache: one
// 512-byte window, re-read from the $Bitmap attribute whenever the
// caller asks about an lcn outside the current window. Grounded
// directly on spec §4.5's "small static cache holds one 512-byte window
// of $Bitmap" design note, itself adapted from wfs_ntfs.c's lcnbmp
// window handling (vol->lcnbmp_ni, read via ntfs_attr_pread). Never
// shared across threads; the engine is single-threaded (spec §7).
type bitmapWindow struct {
	valid      bool
	windowLCN  int64 // first lcn this window covers
	bits       [bitmapWindowSize]byte
}

// clusterInUse reports whether lcn is allocated, refilling the window
// from the $Bitmap attribute data (read directly off the $Bitmap file's
// first data run, resolved once by Backend.locateClusterBitmap) when lcn falls outside
// the cached window. On read failure past the end of the bitmap, the
// cluster is treated as in-use (never wiped), the safe default the spec
// implies by having every access "zero-pad the cache with 0xFF" on miss.
func (v *Volume) clusterInUse(lcn int64, bitmapOffset int64, bitmapLen int64) (bool, error) {
	bitIndex := lcn
	windowLCN := (bitIndex / 8 / bitmapWindowSize) * bitmapWindowSize * 8

	if !v.bitmapCache.valid || v.bitmapCache.windowLCN != windowLCN {
		for i := range v.bitmapCache.bits {
			v.bitmapCache.bits[i] = 0xFF
		}
		byteOff := windowLCN / 8
		if byteOff < bitmapLen {
			n := bitmapWindowSize
			if int64(n) > bitmapLen-byteOff {
				n = int(bitmapLen - byteOff)
			}
			if _, err := v.dev.ReadAt(v.bitmapCache.bits[:n], bitmapOffset+byteOff); err != nil {
				return true, err
			}
		}
		v.bitmapCache.windowLCN = windowLCN
		v.bitmapCache.valid = true
	}

	localBit := bitIndex - windowLCN
	byteIdx := localBit / 8
	if byteIdx < 0 || int(byteIdx) >= len(v.bitmapCache.bits) {
		return true, nil
	}
	bit := uint(localBit % 8)
	return v.bitmapCache.bits[byteIdx]&(1<<bit) != 0, nil
}

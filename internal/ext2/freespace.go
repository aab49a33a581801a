package ext2

import (
	wfs "github.com/bogdro/wipefreespace"
)

// wipeFreeSpace implements wipe_fs (spec §4.4): scan the block bitmap in
// increasing block order and PatternEngine every free block, observing
// cancellation between blocks. Grounded on ext23.c's wfs_e2wipe_fs loop
// (blno from 1 to s_blocks_count, ext2fs_test_block_bitmap guarding each
// e2do_block call).
func (b *Backend) wipeFreeSpace(h *wfs.FsHandle, sink wfs.ProgressSink) error {
	fs := b.fs
	engine := wfs.NewPatternEngine(b.wipeCtx())
	var state wfs.PassState
	var cache groupBitmapCache

	total := fs.BlocksCount()
	if total <= 1 {
		sink.Progress(wfs.PhaseFreeSpace, 100)
		return nil
	}

	lastPct := -1
	for blno := uint32(1); blno < total; blno++ {
		if b.cancel.Cancelled() {
			return wfs.WrapStatus(wfs.Signal, "ext2 free-space wipe", nil)
		}

		inUse, err := fs.blockInUse(blno, &cache)
		if err != nil {
			return wfs.WrapStatus(wfs.BitmapRead, "ext2 block bitmap test", err)
		}
		if inUse {
			continue
		}

		state.Reset()
		region := wfs.Region{
			Offset:       int64(blno) * int64(fs.BlockSize()),
			Length:       int(fs.BlockSize()),
			BadBlockAddr: int64(blno),
		}
		if err := engine.Run(h, b.dev, region, &state); err != nil {
			return err
		}

		pct := int(uint64(blno) * 100 / uint64(total))
		if pct != lastPct {
			sink.Progress(wfs.PhaseFreeSpace, pct)
			lastPct = pct
		}
	}

	sink.Progress(wfs.PhaseFreeSpace, 100)
	return nil
}

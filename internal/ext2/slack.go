package ext2

import (
	wfs "github.com/bogdro/wipefreespace"
)

// wipeSlack implements wipe_part (spec §4.4): scan every inode, and for
// those with a partially-used final block, overwrite only the unused
// tail of that block across PassCount passes, preserving the real file
// bytes in the prefix. Grounded on ext23.c's wfs_e2wipe_part.
func (b *Backend) wipeSlack(h *wfs.FsHandle, sink wfs.ProgressSink) error {
	fs := b.fs
	firstIno := fs.FirstIno()
	total := fs.super.InodesCount
	if total == 0 {
		sink.Progress(wfs.PhaseSlack, 100)
		return nil
	}

	engine := wfs.NewPatternEngine(b.wipeCtx())
	var state wfs.PassState
	lastPct := -1

	for ino := uint32(1); ino <= total; ino++ {
		if b.cancel.Cancelled() {
			return wfs.WrapStatus(wfs.Signal, "ext2 slack wipe", nil)
		}
		if ino < firstIno {
			continue
		}

		in, err := fs.readInode(ino)
		if err != nil {
			return wfs.WrapStatus(wfs.InodeRead, "ext2 read inode", err)
		}

		if in.Blocks == 0 {
			continue
		}
		if isSpecialFile(in.Mode) {
			continue
		}
		blockSize := int64(fs.BlockSize())
		if int64(in.Size)%blockSize == 0 {
			continue
		}

		last, err := fs.lastDataBlock(&in)
		if err != nil {
			return wfs.WrapStatus(wfs.BlockIter, "ext2 locate last block", err)
		}
		if last == 0 {
			continue
		}

		if err := b.wipeBlockTail(h, engine, &state, last, int64(in.Size), blockSize); err != nil {
			return err
		}

		pct := int(uint64(ino) * 100 / uint64(total))
		if pct != lastPct {
			sink.Progress(wfs.PhaseSlack, pct)
			lastPct = pct
		}
	}

	sink.Progress(wfs.PhaseSlack, 100)
	return nil
}

// wipeBlockTail runs the pattern engine over the byte range
// [size mod blockSize, blockSize) of block last only; the prefix (real
// file content) is never read or written, matching the effect of the
// original's buf_start-relative fill_buffer/write pairing in e2do_block.
func (b *Backend) wipeBlockTail(h *wfs.FsHandle, engine *wfs.PatternEngine, state *wfs.PassState, last uint32, size, blockSize int64) error {
	tailStart := size % blockSize
	tailLen := blockSize - tailStart
	if tailLen <= 0 {
		return nil
	}

	state.Reset()
	region := wfs.Region{
		Offset:       int64(last)*blockSize + tailStart,
		Length:       int(tailLen),
		BadBlockAddr: int64(last),
	}
	return engine.Run(h, b.dev, region, state)
}

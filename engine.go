package wipefreespace

import (
	"io"

	"golang.org/x/xerrors"
)

// BadBlockLister is implemented by backend state that lazily tracks
// unreliable blocks (spec §9 "Bad-block list" design note: "lazily
// materialise on first write failure; cache on the backend state"). A
// write failure on a listed block is swallowed; on an unlisted block it
// aborts the region.
type BadBlockLister interface {
	IsBadBlock(block int64) bool
	MarkBadBlock(block int64)
}

// RegionWriter is the narrow device-write surface PatternEngine needs: a
// region is identified by the caller (a whole block, or a byte range
// within one), so the engine only ever needs WriteAt plus the flush
// primitives layered on top by the caller's Flush/Sync.
type RegionWriter interface {
	io.ReaderAt
	io.WriterAt
}

// WipeContext threads the per-call collaborators through PatternEngine,
// replacing the original C implementation's file-scope buf/error
// globals (spec §9 "per-block state sharing" design note) with an
// explicit, reusable bundle.
type WipeContext struct {
	Source *PatternSource
	Buffer *BlockBuffer
	Cancel *CancellationFlag
	Bad    BadBlockLister // nil if the backend doesn't track bad blocks

	// Flush is called after each pass's write when PassCount > 1, and
	// Sync optionally issues a whole-device sync alongside it (spec
	// §4.2 step 2c). Both may be nil.
	Flush func() error
	Sync  func()
}

// PatternEngine drives the pass loop for one region (spec §4.2).
type PatternEngine struct {
	ctx *WipeContext
}

// NewPatternEngine builds an engine bound to ctx, reused across every
// region of a single wipe target.
func NewPatternEngine(ctx *WipeContext) *PatternEngine {
	return &PatternEngine{ctx: ctx}
}

// Region describes the byte range within rw that one PatternEngine.Run
// call wipes: a whole block when Offset==0 and Length==block size, or a
// sub-range for slack/tail wipes.
type Region struct {
	Offset int64
	Length int
	// BadBlockAddr identifies the region for BadBlockLister purposes
	// (usually the block number).
	BadBlockAddr int64
}

// Run executes the full pass loop against one region of rw: the
// zero-skip check, PassCount passes of PatternSource fill + write +
// optional flush/sync, and the optional terminating zero pass (spec
// §4.2). h supplies PassCount, Mode, ZeroPass and NoWipeZeroBlocks.
// state must have been reset by the caller at the start of this region
// (PatternSource.Fill also re-resets it every PassCount calls as a
// backstop).
func (e *PatternEngine) Run(h *FsHandle, rw RegionWriter, region Region, state *PassState) error {
	ctx := e.ctx
	buf := ctx.Buffer.Resize(region.Length)

	if h.NoWipeZeroBlocks {
		if _, err := rw.ReadAt(buf, region.Offset); err != nil && err != io.EOF {
			return wrapStatus(BlockRead, "read region for zero-skip check", err)
		}
		if IsZero(buf) {
			return nil
		}
	}

	for p := 0; p < h.PassCount; p++ {
		if ctx.Cancel.Cancelled() {
			return wrapStatus(Signal, "pattern pass", nil)
		}

		if h.Mode == ModeZero {
			for i := range buf {
				buf[i] = 0
			}
		} else {
			ctx.Source.Fill(buf, p, h.PassCount, state)
		}

		if err := e.write(rw, region, buf); err != nil {
			return err
		}

		if ctx.Cancel.Cancelled() {
			return wrapStatus(Signal, "pattern pass", nil)
		}

		if h.PassCount > 1 {
			if ctx.Flush != nil {
				if err := ctx.Flush(); err != nil {
					return wrapStatus(FlushFs, "flush after pass", err)
				}
			}
			if ctx.Sync != nil {
				ctx.Sync()
			}
		}
	}

	if h.ZeroPass && !ctx.Cancel.Cancelled() {
		for i := range buf {
			buf[i] = 0
		}
		if err := e.write(rw, region, buf); err != nil {
			return err
		}
		// No flush after the terminating write: that's the caller's
		// responsibility at phase boundaries (spec §4.2 step 3).
	}

	return nil
}

// write performs the region write, applying the bad-block tolerance
// policy (spec §7): a failure on a block already known bad is swallowed
// and the region still counts as processed; a failure on any other block
// is reported and aborts the region.
func (e *PatternEngine) write(rw RegionWriter, region Region, buf []byte) error {
	_, err := rw.WriteAt(buf, region.Offset)
	if err == nil {
		return nil
	}
	if e.ctx.Bad != nil {
		if e.ctx.Bad.IsBadBlock(region.BadBlockAddr) {
			return nil
		}
		e.ctx.Bad.MarkBadBlock(region.BadBlockAddr)
	}
	return wrapStatus(BlockWrite, "write region", xerrors.Errorf("%w", err))
}

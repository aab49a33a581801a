package ext2

import (
	"fmt"
	"io"

	wfs "github.com/bogdro/wipefreespace"
)

// Backend implements wfs.FsBackend for ext2/3. It is grounded on
// ext23.c's wfs_e2openfs/wfs_e2closefs/wfs_e2flushfs pairing and the
// wfs_fsid_t union member it sets (here: the fs and dev fields of this
// struct instead of a tagged union, per spec §9's "capability interface"
// redesign note).
type Backend struct {
	fs     *Filesystem
	dev    *wfs.Device
	cancel *wfs.CancellationFlag
	seed   int64
	ctx    *wfs.WipeContext

	badBlocks map[uint32]bool
	lastErr   error
}

// New returns an unopened ext2/3 backend. cancel is shared with the
// orchestrator's signal handler; seed feeds PatternSource (spec §4.1).
func New(cancel *wfs.CancellationFlag, seed int64) *Backend {
	return &Backend{cancel: cancel, seed: seed, badBlocks: make(map[uint32]bool)}
}

func (b *Backend) Open(h *wfs.FsHandle) error {
	dev, err := wfs.OpenDeviceExclusive(h.Device)
	if err != nil {
		return err
	}
	fs, err := openFilesystem(dev, h.SuperblockOffset, h.BlockSizeOverride)
	if err != nil {
		dev.Close()
		return wfs.WrapStatus(wfs.OpenFs, "ext2 open", err)
	}
	b.dev = dev
	b.fs = fs
	b.ctx = &wfs.WipeContext{
		Source: wfs.NewPatternSource(b.seed),
		Buffer: wfs.NewBlockBuffer(int(fs.BlockSize())),
		Cancel: b.cancel,
		Bad:    (*badBlockSet)(&b.badBlocks),
		Flush:  func() error { return b.dev.Flush() },
		Sync:   func() { b.dev.Sync() },
	}
	h.Backend = wfs.Ext23
	h.SetImpl(b)
	return nil
}

func (b *Backend) Close(h *wfs.FsHandle) error {
	if b.dev == nil {
		return nil
	}
	err := b.dev.Close()
	b.dev = nil
	b.fs = nil
	if err != nil {
		return wfs.WrapStatus(wfs.CloseFs, "ext2 close", err)
	}
	return nil
}

func (b *Backend) Flush(h *wfs.FsHandle) error {
	if b.dev == nil {
		return nil
	}
	if err := b.dev.Flush(); err != nil {
		return err
	}
	b.dev.Sync()
	return nil
}

func (b *Backend) CheckMount(device string) error {
	return wfs.CheckMount(device)
}

// IsDirty reports the superblock's EXT2_ERROR_FS ("errors detected")
// state bit.
func (b *Backend) IsDirty(h *wfs.FsHandle) bool {
	if b.fs == nil {
		return false
	}
	const errorsFsState = 0x0002 // EXT2_ERROR_FS
	return b.fs.super.State&errorsFsState != 0
}

func (b *Backend) CheckErr(h *wfs.FsHandle) int {
	if b.lastErr != nil {
		return 1
	}
	return 0
}

func (b *Backend) BlockSize(h *wfs.FsHandle) uint32 {
	if b.fs == nil {
		return 0
	}
	return b.fs.BlockSize()
}

func (b *Backend) WipeFreeSpace(h *wfs.FsHandle, sink wfs.ProgressSink) error {
	return b.wipeFreeSpace(h, sink)
}

func (b *Backend) WipeSlack(h *wfs.FsHandle, sink wfs.ProgressSink) error {
	return b.wipeSlack(h, sink)
}

func (b *Backend) WipeUndelete(h *wfs.FsHandle, sink wfs.ProgressSink) error {
	return b.wipeUndelete(h, sink)
}

// ShowError mirrors show_error(error, msg, fsname): format the message,
// any extra context and the last backend error into w.
func (b *Backend) ShowError(w io.Writer, msg, extra string, h *wfs.FsHandle) {
	if extra != "" {
		fmt.Fprintf(w, "ext2: %s (%s)", msg, extra)
	} else {
		fmt.Fprintf(w, "ext2: %s", msg)
	}
	if b.lastErr != nil {
		fmt.Fprintf(w, ": %v", b.lastErr)
	}
	fmt.Fprintln(w)
}

// ErrSize reports sizeof(errcode_enum) in the original union; preserved
// here as sizeof(int) for interface completeness (SPEC_FULL.md
// supplemented feature 2).
func (b *Backend) ErrSize() int { return 4 }

func (b *Backend) PrintVersion(w io.Writer) { fmt.Fprintln(w, "ext2/3 backend") }

func (b *Backend) Init() error   { return nil }
func (b *Backend) Deinit() error { return nil }

// wipeCtx returns the WipeContext built once in Open, shared by every
// phase so PatternSource's PRNG continues from engine start rather than
// re-seeding per phase.
func (b *Backend) wipeCtx() *wfs.WipeContext {
	return b.ctx
}

// badBlockSet adapts a map[uint32]bool to wfs.BadBlockLister, the Go
// equivalent of ext2fs_badblocks_list_test/add against FS->badblocks
// (ext23.c e2do_block), materialised lazily on first write failure rather
// than loaded up front from the bad-blocks inode. Only PatternEngine's
// failed region writes add entries; read failures during the bitmap or
// inode scan do not.
type badBlockSet map[uint32]bool

func (s *badBlockSet) IsBadBlock(block int64) bool { return (*s)[uint32(block)] }
func (s *badBlockSet) MarkBadBlock(block int64)    { (*s)[uint32(block)] = true }

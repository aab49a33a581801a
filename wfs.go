// Package wipefreespace implements a filesystem-aware secure-wipe engine.
//
// Given a block device hosting a supported filesystem, the engine
// overwrites free blocks, the unused "slack" tail of partially-used file
// blocks, and residual undelete metadata (deleted directory entries, MFT
// records, journal content), without touching live, allocated file data.
package wipefreespace

// BackendTag identifies which on-disk format a FsHandle is bound to.
type BackendTag int

const (
	// Ext23 is the ext2/ext3 backend.
	Ext23 BackendTag = iota
	// Ntfs is the NTFS backend.
	Ntfs
	// ReiserV3 is the ReiserFS version 3 backend.
	ReiserV3
)

func (t BackendTag) String() string {
	switch t {
	case Ext23:
		return "ext2/3"
	case Ntfs:
		return "ntfs"
	case ReiserV3:
		return "reiserfs3"
	default:
		return "unknown"
	}
}

// WipeMode selects how PatternEngine fills a region before writing it.
type WipeMode int

const (
	// ModePattern fills each pass with a pseudo-random or table-drawn
	// byte pattern (see PatternSource).
	ModePattern WipeMode = iota
	// ModeZero fills every pass with zero bytes.
	ModeZero
)

// FsHandle is the opaque, orchestrator-owned binding between a device and
// the backend that scans it. A handle is either open (Open has bound
// backend state, see IsOpen, and the device is held exclusively) or
// closed; there is no intermediate state.
type FsHandle struct {
	// Device is the path to the target block device or image file.
	Device string
	// Backend identifies the on-disk format this handle is bound to.
	Backend BackendTag

	// PassCount is the number of overwrite passes per region (must be >=1).
	PassCount int
	// Mode selects pattern-based or zero-only overwrites.
	Mode WipeMode
	// ZeroPass, if set, appends one final all-zero pass after PassCount
	// pattern passes.
	ZeroPass bool
	// NoWipeZeroBlocks, if set, skips a region that already reads as
	// all-zero before pass 0.
	NoWipeZeroBlocks bool
	// UseDedicated, if set (NTFS only), delegates to the external
	// ntfswipe binary instead of the built-in scanner.
	UseDedicated bool

	// WipeFreeSpace, WipeSlack and WipeUndelete select which phases the
	// orchestrator runs.
	WipeFreeSpace bool
	WipeSlack     bool
	WipeUndelete  bool

	// Verbose records the caller's verbose setting; no backend reads it,
	// so the scanners do no extra logging.
	Verbose bool

	// Superblock offset and block-size override, used only by the ext2/3
	// backend's Open.
	SuperblockOffset int64
	BlockSizeOverride uint32

	// impl is the backend-private state bound by Open. It is opaque to
	// everything outside the backend that created it.
	impl interface{}
}

// SetImpl binds backend-private state to the handle. Backends call this
// from Open; nothing else should call it.
func (h *FsHandle) SetImpl(v interface{}) { h.impl = v }

// Impl returns the backend-private state bound by Open.
func (h *FsHandle) Impl() interface{} { return h.impl }

// IsOpen reports whether Open has bound backend state to this handle.
func (h *FsHandle) IsOpen() bool { return h.impl != nil }

// PassState is the per-region set of pattern-table indices already used
// within the current block of PassCount passes. It is reset at the start
// of every region (see PatternSource.Fill).
type PassState struct {
	used [len(patternTable)]bool
}

// Reset clears the used-pattern bitset, starting a fresh selection window.
func (s *PassState) Reset() {
	for i := range s.used {
		s.used[i] = false
	}
}

package wipefreespace

import "io"

// FsBackend is the polymorphic filesystem driver contract (spec §4.3).
// One implementation exists per supported on-disk format
// (internal/ext2, internal/ntfs, internal/reiser); WipeOrchestrator
// dispatches through this interface without knowing which backend it
// holds, the "capability interface instead of union-of-structs" design
// spec §9 calls for.
type FsBackend interface {
	// Open binds backend-private state to h and sets h.Backend. Returns
	// OpenFs on format mismatch, BitmapRead if the block bitmap cannot be
	// loaded up front.
	Open(h *FsHandle) error

	// Close tears down backend state and releases the device.
	Close(h *FsHandle) error

	// Flush makes on-disk state consistent up to this point.
	Flush(h *FsHandle) error

	// CheckMount reports the mount state of device. Returns
	// MountCheckFailed on query failure, MountedReadWrite if mounted
	// read-write; mounted read-only or not mounted at all is success.
	CheckMount(device string) error

	// IsDirty reports whether the filesystem has unsaved changes.
	IsDirty(h *FsHandle) bool

	// CheckErr returns the filesystem's own consistency-error count.
	CheckErr(h *FsHandle) int

	// BlockSize returns the backend's allocation-unit size in bytes, or 0
	// for an invalid handle.
	BlockSize(h *FsHandle) uint32

	// WipeFreeSpace overwrites every block the filesystem marks free.
	WipeFreeSpace(h *FsHandle, sink ProgressSink) error
	// WipeSlack overwrites the unused tail of partially-used file blocks.
	WipeSlack(h *FsHandle, sink ProgressSink) error
	// WipeUndelete overwrites residual deleted-entry metadata and logs.
	WipeUndelete(h *FsHandle, sink ProgressSink) error

	// ShowError formats a report combining msg, extra context and the
	// handle's last backend-specific error, writing it to w.
	ShowError(w io.Writer, msg, extra string, h *FsHandle)

	// ErrSize reports the storage size, in bytes, of the backend's last-
	// error slot (preserved for §4.3 interface completeness; see
	// SPEC_FULL.md supplemented feature 2).
	ErrSize() int

	// PrintVersion, Init and Deinit round out the §4.3 table; most
	// backends implement them as no-ops.
	PrintVersion(w io.Writer)
	Init() error
	Deinit() error
}

package ntfs

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/xerrors"

	wfs "github.com/bogdro/wipefreespace"
)

const (
	mftRecordMFT      = 0
	mftRecordBitmap   = 6
	firstUserMFTRecord = 16
)

// Backend implements wfs.FsBackend for NTFS. Grounded on wfs_ntfs.c's
// wfs_ntfs_open_fs/close_fs/flush_fs pairing (ntfs_mount/ntfs_umount),
// replacing the tagged wfs_fsid_t.ntfs union member with this struct's
// own fields per spec §9's capability-interface redesign note.
type Backend struct {
	vol    *Volume
	dev    *wfs.Device
	cancel *wfs.CancellationFlag
	seed   int64
	ctx    *wfs.WipeContext

	bitmapOffset int64
	bitmapLen    int64
	lastErr      error
}

// New returns an unopened NTFS backend.
func New(cancel *wfs.CancellationFlag, seed int64) *Backend {
	return &Backend{cancel: cancel, seed: seed}
}

func (b *Backend) Open(h *wfs.FsHandle) error {
	dev, err := wfs.OpenDeviceExclusive(h.Device)
	if err != nil {
		return err
	}
	vol, err := openVolume(dev)
	if err != nil {
		dev.Close()
		return wfs.WrapStatus(wfs.OpenFs, "ntfs open", err)
	}
	b.dev, b.vol = dev, vol

	if err := b.locateClusterBitmap(); err != nil {
		dev.Close()
		return wfs.WrapStatus(wfs.BitmapRead, "ntfs locate $Bitmap", err)
	}

	b.ctx = &wfs.WipeContext{
		Source: wfs.NewPatternSource(b.seed),
		Buffer: wfs.NewBlockBuffer(int(vol.ClusterSize())),
		Cancel: b.cancel,
		Flush:  func() error { return b.dev.Flush() },
		Sync:   func() { b.dev.Sync() },
	}
	h.Backend = wfs.Ntfs
	h.SetImpl(b)
	return nil
}

// locateClusterBitmap finds the $DATA attribute of MFT record 6
// ($Bitmap) and records its first run's device offset. Only that first
// run is used: a $Bitmap split over several runs is read as if it were
// contiguous from the first run's start.
func (b *Backend) locateClusterBitmap() error {
	rec, err := b.vol.readMFTRecord(mftRecordBitmap)
	if err != nil {
		return err
	}
	var found bool
	err = rec.attrs(func(hdr attrHeader, off int) (bool, error) {
		if hdr.Type != attrTypeData {
			return false, nil
		}
		if hdr.NonResident == 0 {
			return true, xerrors.New("resident $Bitmap unsupported (volume too small to be meaningful)")
		}
		nr, err := rec.nonResident(off)
		if err != nil {
			return true, err
		}
		runs := rec.runlist(off, hdr, nr)
		if len(runs) == 0 {
			return true, xerrors.New("$Bitmap has no runs")
		}
		b.bitmapOffset = runs[0].lcn * b.vol.ClusterSize()
		b.bitmapLen = nr.DataSize
		found = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return xerrors.New("$Bitmap $DATA attribute not found")
	}
	return nil
}

func (b *Backend) Close(h *wfs.FsHandle) error {
	if b.dev == nil {
		return nil
	}
	err := b.dev.Close()
	b.dev, b.vol = nil, nil
	if err != nil {
		return wfs.WrapStatus(wfs.CloseFs, "ntfs close", err)
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

func (b *Backend) CheckMount(device string) error { return wfs.CheckMount(device) }

func (b *Backend) IsDirty(h *wfs.FsHandle) bool { return false }

func (b *Backend) CheckErr(h *wfs.FsHandle) int {
	if b.lastErr != nil {
		return 1
	}
	return 0
}

func (b *Backend) BlockSize(h *wfs.FsHandle) uint32 {
	if b.vol == nil {
		return 0
	}
	return uint32(b.vol.ClusterSize())
}

// dedicatedByteList is the fixed --bytes argument §6 specifies for the
// ntfswipe --unused and --tails delegations: 22 single-byte values, one
// for each entry of pattern.go's 12-bit pattern table, starting with 0
// for the all-zero entry.
const dedicatedByteList = "0,0xFF,0x55,0xAA,0x24,0x49,0x92,0x6D,0xB6,0xDB,0x11,0x22,0x33,0x44,0x66,0x77,0x88,0x99,0xBB,0xCC,0xDD,0xEE"

func (b *Backend) WipeFreeSpace(h *wfs.FsHandle, sink wfs.ProgressSink) error {
	if h.UseDedicated {
		return b.runDedicated(h, sink, wfs.PhaseFreeSpace, false,
			"--unused", "--count", fmt.Sprintf("%d", h.PassCount), "--bytes", dedicatedByteList)
	}
	if h.Mode == wfs.ModeZero {
		return b.wipeFreeSpaceClusterMajor(h, sink)
	}
	return b.wipeFreeSpacePatternMajor(h, sink)
}

func (b *Backend) WipeSlack(h *wfs.FsHandle, sink wfs.ProgressSink) error {
	if h.UseDedicated {
		return b.runDedicated(h, sink, wfs.PhaseSlack, true,
			"--tails", "--count", fmt.Sprintf("%d", h.PassCount), "--bytes", dedicatedByteList)
	}
	return b.wipeSlack(h, sink)
}

func (b *Backend) WipeUndelete(h *wfs.FsHandle, sink wfs.ProgressSink) error {
	if h.UseDedicated {
		return b.runDedicated(h, sink, wfs.PhaseUndelete, false,
			"--directory", "--logfile", "--pagefile", "--undel", "--count", fmt.Sprintf("%d", h.PassCount))
	}
	return b.wipeUndelete(h, sink)
}

func (b *Backend) ShowError(w io.Writer, msg, extra string, h *wfs.FsHandle) {
	if extra != "" {
		fmt.Fprintf(w, "ntfs: %s (%s)", msg, extra)
	} else {
		fmt.Fprintf(w, "ntfs: %s", msg)
	}
	if b.lastErr != nil {
		fmt.Fprintf(w, ": %v", b.lastErr)
	}
	fmt.Fprintln(w)
}

func (b *Backend) ErrSize() int { return 4 }

func (b *Backend) PrintVersion(w io.Writer) { fmt.Fprintln(w, "ntfs backend") }

func (b *Backend) Init() error   { return nil }
func (b *Backend) Deinit() error { return nil }

// runDedicated shells out to ntfswipe with args, the §4.8 dedicated
// subprocess path, grounded on the teacher's exec.Command call sites in
// cmd/distri/build.go (argv construction, exit-code translation). Per
// §4.8, the slack delegation inherits the parent's stdio; free-space
// and undelete detach (stdin/stdout/stderr unset, i.e. /dev/null-like).
func (b *Backend) runDedicated(h *wfs.FsHandle, sink wfs.ProgressSink, phase wfs.Phase, inherit bool, args ...string) error {
	cmd := exec.Command("ntfswipe", append(args, h.Device)...)
	if inherit {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return wfs.WrapStatus(wfs.ForkErr, "start ntfswipe", err)
	}
	if err := cmd.Wait(); err != nil {
		return wfs.WrapStatus(wfs.ExecErr, "ntfswipe", err)
	}
	sink.Progress(phase, 100)
	return nil
}

package wipefreespace

import (
	"io"
	"testing"
)

// fakeBackend is a minimal FsBackend recording call order, used to
// exercise WipeOrchestrator.Run's sequencing (spec §4.7) without a real
// device or on-disk format.
type fakeBackend struct {
	calls []string

	mountErr error
	openErr  error
	closeErr error

	freeSpaceErr error
	slackErr     error
	undeleteErr  error
}

func (f *fakeBackend) CheckMount(device string) error {
	f.calls = append(f.calls, "CheckMount")
	return f.mountErr
}
func (f *fakeBackend) Open(h *FsHandle) error {
	f.calls = append(f.calls, "Open")
	return f.openErr
}
func (f *fakeBackend) Close(h *FsHandle) error {
	f.calls = append(f.calls, "Close")
	return f.closeErr
}
func (f *fakeBackend) Flush(h *FsHandle) error { return nil }
func (f *fakeBackend) IsDirty(h *FsHandle) bool { return false }
func (f *fakeBackend) CheckErr(h *FsHandle) int { return 0 }
func (f *fakeBackend) BlockSize(h *FsHandle) uint32 { return 4096 }
func (f *fakeBackend) WipeFreeSpace(h *FsHandle, sink ProgressSink) error {
	f.calls = append(f.calls, "WipeFreeSpace")
	return f.freeSpaceErr
}
func (f *fakeBackend) WipeSlack(h *FsHandle, sink ProgressSink) error {
	f.calls = append(f.calls, "WipeSlack")
	return f.slackErr
}
func (f *fakeBackend) WipeUndelete(h *FsHandle, sink ProgressSink) error {
	f.calls = append(f.calls, "WipeUndelete")
	return f.undeleteErr
}
func (f *fakeBackend) ShowError(w io.Writer, msg, extra string, h *FsHandle) {}
func (f *fakeBackend) ErrSize() int                                         { return 0 }
func (f *fakeBackend) PrintVersion(w io.Writer)                             {}
func (f *fakeBackend) Init() error                                          { return nil }
func (f *fakeBackend) Deinit() error                                        { return nil }

func allPhases() *FsHandle {
	return &FsHandle{WipeFreeSpace: true, WipeSlack: true, WipeUndelete: true, PassCount: 1}
}

func TestOrchestratorRunsAllSelectedPhasesInOrder(t *testing.T) {
	fb := &fakeBackend{}
	o := NewWipeOrchestrator(fb)
	status := o.Run(allPhases(), NoopProgressSink)

	if status != Success {
		t.Fatalf("status = %s, want Success", status)
	}
	want := []string{"CheckMount", "Open", "WipeFreeSpace", "WipeSlack", "WipeUndelete", "Close"}
	if len(fb.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", fb.calls, want)
	}
	for i := range want {
		if fb.calls[i] != want[i] {
			t.Errorf("calls[%d] = %s, want %s", i, fb.calls[i], want[i])
		}
	}
}

func TestOrchestratorAbortsOnMountedReadWrite(t *testing.T) {
	fb := &fakeBackend{mountErr: wrapStatus(MountedReadWrite, "check mount", nil)}
	o := NewWipeOrchestrator(fb)
	status := o.Run(allPhases(), NoopProgressSink)

	if status != MountedReadWrite {
		t.Errorf("status = %s, want MountedReadWrite", status)
	}
	if len(fb.calls) != 1 || fb.calls[0] != "CheckMount" {
		t.Errorf("calls = %v, want only [CheckMount]: Open must never run after a mount-check failure", fb.calls)
	}
}

func TestOrchestratorNonFatalPhaseErrorsStillRunLaterPhases(t *testing.T) {
	fb := &fakeBackend{freeSpaceErr: wrapStatus(BlockWrite, "free space", nil)}
	o := NewWipeOrchestrator(fb)
	status := o.Run(allPhases(), NoopProgressSink)

	if status != BlockWrite {
		t.Errorf("status = %s, want BlockWrite", status)
	}
	want := []string{"CheckMount", "Open", "WipeFreeSpace", "WipeSlack", "WipeUndelete", "Close"}
	if len(fb.calls) != len(want) {
		t.Fatalf("calls = %v, want every phase to still run after a non-signal error: %v", fb.calls, want)
	}
}

func TestOrchestratorSignalShortCircuitsRemainingPhases(t *testing.T) {
	fb := &fakeBackend{freeSpaceErr: wrapStatus(Signal, "free space", nil)}
	o := NewWipeOrchestrator(fb)
	status := o.Run(allPhases(), NoopProgressSink)

	if status != Signal {
		t.Errorf("status = %s, want Signal", status)
	}
	want := []string{"CheckMount", "Open", "WipeFreeSpace", "Close"}
	if len(fb.calls) != len(want) {
		t.Fatalf("calls = %v, want %v: Signal must short-circuit WipeSlack/WipeUndelete but Close still runs", fb.calls, want)
	}
}

func TestOrchestratorNoPhasesSelectedReturnsNothing(t *testing.T) {
	fb := &fakeBackend{}
	o := NewWipeOrchestrator(fb)
	h := &FsHandle{PassCount: 1}
	status := o.Run(h, NoopProgressSink)

	if status != Nothing {
		t.Errorf("status = %s, want Nothing", status)
	}
}

func TestOrchestratorAlwaysClosesEvenAfterPhaseError(t *testing.T) {
	fb := &fakeBackend{undeleteErr: wrapStatus(InodeRead, "undelete", nil)}
	o := NewWipeOrchestrator(fb)
	o.Run(allPhases(), NoopProgressSink)

	found := false
	for _, c := range fb.calls {
		if c == "Close" {
			found = true
		}
	}
	if !found {
		t.Error("Close was never called")
	}
}

package wipefreespace

import (
	"bytes"
	"testing"
)

// memRegionWriter is a minimal in-memory RegionWriter for exercising
// PatternEngine without a real device, mirroring the internal/ntfs and
// internal/reiser packages' own memRegionWriter helpers.
type memRegionWriter struct {
	buf     []byte
	writes  int
	failAt  int // if > 0, the write at this 1-based call index fails
}

func (m *memRegionWriter) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.buf[off:])
	return n, nil
}

func (m *memRegionWriter) WriteAt(p []byte, off int64) (int, error) {
	m.writes++
	if m.failAt > 0 && m.writes == m.failAt {
		return 0, bytes.ErrTooLarge
	}
	n := copy(m.buf[off:], p)
	return n, nil
}

func newTestHandle(passCount int) *FsHandle {
	return &FsHandle{PassCount: passCount, Mode: ModePattern}
}

func newTestCtx() *WipeContext {
	return &WipeContext{
		Source: NewPatternSource(1),
		Buffer: NewBlockBuffer(16),
		Cancel: NewCancellationFlag(),
	}
}

func TestPatternEngineRunWritesEveryPass(t *testing.T) {
	h := newTestHandle(4)
	ctx := newTestCtx()
	engine := NewPatternEngine(ctx)
	rw := &memRegionWriter{buf: make([]byte, 16)}
	var state PassState

	if err := engine.Run(h, rw, Region{Offset: 0, Length: 16}, &state); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rw.writes != h.PassCount {
		t.Errorf("writes = %d, want %d", rw.writes, h.PassCount)
	}
}

func TestPatternEngineZeroSkip(t *testing.T) {
	h := newTestHandle(3)
	h.NoWipeZeroBlocks = true
	ctx := newTestCtx()
	engine := NewPatternEngine(ctx)
	rw := &memRegionWriter{buf: make([]byte, 16)} // already all-zero
	var state PassState

	if err := engine.Run(h, rw, Region{Offset: 0, Length: 16}, &state); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rw.writes != 0 {
		t.Errorf("writes = %d, want 0 (zero-skip should have short-circuited)", rw.writes)
	}
}

func TestPatternEngineNoZeroSkipWhenDisabled(t *testing.T) {
	h := newTestHandle(2)
	h.NoWipeZeroBlocks = false
	ctx := newTestCtx()
	engine := NewPatternEngine(ctx)
	rw := &memRegionWriter{buf: make([]byte, 16)}
	var state PassState

	if err := engine.Run(h, rw, Region{Offset: 0, Length: 16}, &state); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rw.writes != h.PassCount {
		t.Errorf("writes = %d, want %d", rw.writes, h.PassCount)
	}
}

func TestPatternEngineZeroPassAppendsZeroWrite(t *testing.T) {
	h := newTestHandle(2)
	h.ZeroPass = true
	ctx := newTestCtx()
	engine := NewPatternEngine(ctx)
	rw := &memRegionWriter{buf: []byte{0xFF, 0xFF, 0xFF, 0xFF}}
	var state PassState

	if err := engine.Run(h, rw, Region{Offset: 0, Length: 4}, &state); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rw.writes != h.PassCount+1 {
		t.Errorf("writes = %d, want %d (PassCount + terminating zero pass)", rw.writes, h.PassCount+1)
	}
	for i, b := range rw.buf {
		if b != 0 {
			t.Errorf("buf[%d] = %#x after zero pass, want 0x00", i, b)
		}
	}
}

func TestPatternEngineModeZeroFillsZero(t *testing.T) {
	h := newTestHandle(1)
	h.Mode = ModeZero
	ctx := newTestCtx()
	engine := NewPatternEngine(ctx)
	rw := &memRegionWriter{buf: []byte{0xAA, 0xAA, 0xAA, 0xAA}}
	var state PassState

	if err := engine.Run(h, rw, Region{Offset: 0, Length: 4}, &state); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, b := range rw.buf {
		if b != 0 {
			t.Errorf("buf[%d] = %#x in zero mode, want 0x00", i, b)
		}
	}
}

// badBlockList is a fixed BadBlockLister used to exercise write-error
// tolerance (spec §7: a write failure on a listed block is swallowed).
type badBlockList struct{ bad map[int64]bool }

func (b *badBlockList) IsBadBlock(block int64) bool { return b.bad[block] }
func (b *badBlockList) MarkBadBlock(block int64)    { b.bad[block] = true }

func TestPatternEngineSwallowsKnownBadBlockWrite(t *testing.T) {
	h := newTestHandle(1)
	ctx := newTestCtx()
	ctx.Bad = &badBlockList{bad: map[int64]bool{7: true}}
	engine := NewPatternEngine(ctx)
	rw := &memRegionWriter{buf: make([]byte, 4), failAt: 1}
	var state PassState

	err := engine.Run(h, rw, Region{Offset: 0, Length: 4, BadBlockAddr: 7}, &state)
	if err != nil {
		t.Fatalf("Run on a known bad block should not error, got: %v", err)
	}
}

func TestPatternEngineReportsUnlistedBlockWrite(t *testing.T) {
	h := newTestHandle(1)
	ctx := newTestCtx()
	ctx.Bad = &badBlockList{bad: map[int64]bool{}}
	engine := NewPatternEngine(ctx)
	rw := &memRegionWriter{buf: make([]byte, 4), failAt: 1}
	var state PassState

	err := engine.Run(h, rw, Region{Offset: 0, Length: 4, BadBlockAddr: 9}, &state)
	if err == nil {
		t.Fatal("Run on an unlisted failing block should return an error")
	}
	se, ok := err.(*StatusError)
	if !ok || se.Status != BlockWrite {
		t.Errorf("error = %v, want a *StatusError{Status: BlockWrite}", err)
	}
}

func TestPatternEngineCancellationStopsBeforeFirstPass(t *testing.T) {
	h := newTestHandle(5)
	ctx := newTestCtx()
	ctx.Cancel.Set()
	engine := NewPatternEngine(ctx)
	rw := &memRegionWriter{buf: make([]byte, 4)}
	var state PassState

	err := engine.Run(h, rw, Region{Offset: 0, Length: 4}, &state)
	se, ok := err.(*StatusError)
	if !ok || se.Status != Signal {
		t.Fatalf("error = %v, want a *StatusError{Status: Signal}", err)
	}
	if rw.writes != 0 {
		t.Errorf("writes = %d, want 0: cancellation should be observed before the first pass", rw.writes)
	}
}

package wipefreespace

import (
	"errors"
	"testing"
)

func TestStatusExitCode(t *testing.T) {
	tests := []struct {
		status Status
		want   int
	}{
		{Success, 0},
		{Nothing, 1},
		{BadCmdln, -1},
		{MountCheckFailed, -2},
		{MountedReadWrite, -3},
		{OpenFs, -4},
		{BitmapRead, -5},
		{MallocFailed, -6},
		{FsHasError, -7},
		{CloseFs, -8},
		{InodeScan, -9},
		{BlockIter, -10},
		{InodeRead, -11},
		{DirIter, -12},
		{Suid, -13},
		{FlushFs, -14},
		{Signal, -100},
	}
	for _, tc := range tests {
		if got := tc.status.ExitCode(); got != tc.want {
			t.Errorf("%s.ExitCode() = %d, want %d", tc.status, got, tc.want)
		}
	}
}

func TestWorse(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Status
		want   Status
	}{
		{"success vs success", Success, Success, Success},
		{"success vs error", Success, OpenFs, OpenFs},
		{"error vs success", OpenFs, Success, OpenFs},
		{"signal always wins over error", BlockRead, Signal, Signal},
		{"signal always wins over success", Success, Signal, Signal},
		{"first non-success error is kept", OpenFs, CloseFs, OpenFs},
	}
	for _, tc := range tests {
		if got := Worse(tc.a, tc.b); got != tc.want {
			t.Errorf("%s: Worse(%s, %s) = %s, want %s", tc.name, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestStatusErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying device error")
	se := wrapStatus(BlockWrite, "write region", cause)

	if !errors.Is(se, cause) {
		t.Errorf("errors.Is(se, cause) = false, want true")
	}
	if se.Status != BlockWrite {
		t.Errorf("Status = %s, want %s", se.Status, BlockWrite)
	}
}

func TestStatusErrorWithoutCause(t *testing.T) {
	se := wrapStatus(Signal, "pattern pass", nil)
	if se.Error() == "" {
		t.Error("Error() should never be empty, even with a nil cause")
	}
	if se.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil", se.Unwrap())
	}
}

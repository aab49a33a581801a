package wipefreespace

import "testing"

func TestIsZero(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want bool
	}{
		{"empty", nil, true},
		{"all zero", make([]byte, 32), true},
		{"one nonzero byte at the end", append(make([]byte, 31), 1), false},
		{"one nonzero byte at the start", append([]byte{1}, make([]byte, 31)...), false},
	}
	for _, tc := range tests {
		if got := IsZero(tc.buf); got != tc.want {
			t.Errorf("%s: IsZero = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestBlockBufferResizeReusesBackingArray(t *testing.T) {
	b := NewBlockBuffer(4096)
	full := b.Bytes()
	if len(full) != 4096 {
		t.Fatalf("Bytes() len = %d, want 4096", len(full))
	}

	small := b.Resize(128)
	if len(small) != 128 {
		t.Fatalf("Resize(128) len = %d, want 128", len(small))
	}
	if &small[0] != &full[0] {
		t.Errorf("Resize within capacity should reuse the backing array")
	}

	big := b.Resize(8192)
	if len(big) != 8192 {
		t.Fatalf("Resize(8192) len = %d, want 8192", len(big))
	}
}

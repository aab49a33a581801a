package reiser

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	wfs "github.com/bogdro/wipefreespace"
)

// The synthetic image built here gives the B-tree exactly two leaves
// under one internal root, matching the shapes spec.md §8's end-to-end
// scenarios need: a single-item leaf (slack tail) and a directory leaf
// holding one live and one already-deleted entry (undelete). Block
// layout: 16 superblock, 17 bitmap, 18-19 journal, 20 root (internal),
// 21 slack leaf, 22 directory leaf, 23+ free space.
const (
	testBlockSize = 4096
	testBlockCount = 64

	sbBlockNo      = diskOffset / testBlockSize // 16
	bitmapBlockNo  = sbBlockNo + 1              // 17
	journalStartNo = 18
	journalSize    = 2
	rootBlockNo    = 20
	slackLeafNo    = 21
	dirLeafNo      = 22
	firstFreeBlock = 23
)

func writeStruct(buf []byte, offset int, v interface{}) {
	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	copy(buf[offset:], b.Bytes())
}

func fillRange(buf []byte, offset, length int, b byte) {
	for i := offset; i < offset+length; i++ {
		buf[i] = b
	}
}

func setBitmapRange(bitmapBlock []byte, first, last uint32) {
	for blk := first; blk <= last; blk++ {
		bitmapBlock[blk/8] |= 1 << (blk % 8)
	}
}

// buildSyntheticImage lays out the full image described above. Every
// test rebuilds its own copy from scratch via t.TempDir(), so mutation
// in one test never affects another.
func buildSyntheticImage(t *testing.T) string {
	t.Helper()
	buf := make([]byte, testBlockSize*testBlockCount)

	sb := superblock{
		BlockCount:   testBlockCount,
		RootBlock:    rootBlockNo,
		JournalBlock: journalStartNo,
		JournalSize:  journalSize,
		BlockSize:    testBlockSize,
		BmapNr:       1,
		FsState:      fsStateConsistent,
	}
	copy(sb.Magic[:], magicV2)
	writeStruct(buf, diskOffset, &sb)

	bitmap := buf[bitmapBlockNo*testBlockSize : (bitmapBlockNo+1)*testBlockSize]
	setBitmapRange(bitmap, 0, rootBlockNo+2) // metadata + both leaves in use
	setBitmapRange(bitmap, 30, 30)           // one more sentinel in-use block

	fillRange(buf, journalStartNo*testBlockSize, journalSize*testBlockSize, 0x77)

	// Root: internal node, one key, two child pointers.
	rootOff := rootBlockNo * testBlockSize
	writeStruct(buf, rootOff, &nodeHeader{Level: 2, NrItems: 1})
	writeStruct(buf, rootOff+nodeHeaderSize, &rootDirKeyVal)
	writeStruct(buf, rootOff+nodeHeaderSize+keySize, &[2]uint32{slackLeafNo, dirLeafNo})

	buildSlackLeaf(buf)
	buildDirLeaf(buf)

	dir := t.TempDir()
	path := filepath.Join(dir, "reiser.img")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("writing synthetic image: %v", err)
	}
	return path
}

var rootDirKeyVal = rootDirKey()

// buildSlackLeaf writes a single-item leaf: a 100-byte "real content"
// item (marker 0xAB) followed by pre-existing junk (marker 0x99) filling
// the rest of the block, the bytes wipeSlack must zero.
func buildSlackLeaf(buf []byte) {
	off := slackLeafNo * testBlockSize
	const itemLen = 100
	const itemLoc = nodeHeaderSize + itemHeadSize

	writeStruct(buf, off, &nodeHeader{Level: leafLevel, NrItems: 1})
	ih := itemHead{Key: key{DirID: 1, ObjectID: 50, Offset: uint64(itemTypeDirect)}, ItemLen: itemLen, ItemLoc: itemLoc}
	writeStruct(buf, off+nodeHeaderSize, &ih)

	fillRange(buf, off+itemLoc, itemLen, 0xAB)
	tailStart := itemLoc + itemLen
	fillRange(buf, off+tailStart, testBlockSize-tailStart, 0x99)
}

// buildDirLeaf writes a single directory item with two entries: a
// visible "live.txt" and an invisible (logically deleted) "deleted",
// names packed backward from the item's end per entryName's contract.
func buildDirLeaf(buf []byte) {
	off := dirLeafNo * testBlockSize
	const itemLoc = nodeHeaderSize + itemHeadSize
	const entriesLen = 2 * 16
	const liveName = "live.txt"
	const deletedName = "deleted"
	const itemLen = entriesLen + len(liveName) + len(deletedName)

	writeStruct(buf, off, &nodeHeader{Level: leafLevel, NrItems: 1})
	ih := itemHead{
		Key:        key{DirID: 1, ObjectID: 2, Offset: uint64(itemTypeDirEntry)},
		ItemLen:    itemLen,
		ItemLoc:    itemLoc,
		EntryCount: 2,
	}
	writeStruct(buf, off+nodeHeaderSize, &ih)

	deletedLoc := entriesLen + len(liveName)
	deh0 := dirEntryHead{DirID: 5, ObjectID: 99, Location: uint16(deletedLoc), State: 0}
	deh1 := dirEntryHead{DirID: 5, ObjectID: 100, Location: uint16(entriesLen), State: dehVisible}
	writeStruct(buf, off+itemLoc, &deh0)
	writeStruct(buf, off+itemLoc+16, &deh1)

	copy(buf[off+itemLoc+entriesLen:], liveName)
	copy(buf[off+itemLoc+entriesLen+len(liveName):], deletedName)
}

func openTestBackend(t *testing.T, h *wfs.FsHandle) *Backend {
	t.Helper()
	b := New(wfs.NewCancellationFlag(), 1)
	if err := b.Open(h); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { b.Close(h) })
	return b
}

func readImage(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading image: %v", err)
	}
	return data
}

// TestWipeSlackPreservesItemAndZeroesTail exercises the single-item-leaf
// path: the item body must survive, the tail must read all-zero after a
// zero-terminated pattern wipe.
func TestWipeSlackPreservesItemAndZeroesTail(t *testing.T) {
	path := buildSyntheticImage(t)
	h := &wfs.FsHandle{Device: path, PassCount: 1, Mode: wfs.ModePattern, ZeroPass: true}
	b := openTestBackend(t, h)

	if err := b.wipeSlack(h, wfs.NoopProgressSink); err != nil {
		t.Fatalf("wipeSlack: %v", err)
	}
	b.Close(h)

	data := readImage(t, path)
	off := slackLeafNo * testBlockSize
	const itemLoc = nodeHeaderSize + itemHeadSize
	const itemLen = 100

	item := data[off+itemLoc : off+itemLoc+itemLen]
	for i, c := range item {
		if c != 0xAB {
			t.Fatalf("item body byte %d = %#x, want unchanged 0xAB", i, c)
		}
	}
	tail := data[off+itemLoc+itemLen : off+testBlockSize]
	for i, c := range tail {
		if c != 0x00 {
			t.Fatalf("tail byte %d = %#x, want 0x00 after zero-pass", i, c)
		}
	}
}

// TestWipeUndeleteOverwritesInvisibleEntryName exercises the directory
// scan: the invisible entry's name bytes must change, the visible
// entry's name must survive untouched.
func TestWipeUndeleteOverwritesInvisibleEntryName(t *testing.T) {
	path := buildSyntheticImage(t)
	h := &wfs.FsHandle{Device: path, PassCount: 2}
	b := openTestBackend(t, h)

	if err := b.wipeUndelete(h, wfs.NoopProgressSink); err != nil {
		t.Fatalf("wipeUndelete: %v", err)
	}
	b.Close(h)

	data := readImage(t, path)
	off := dirLeafNo * testBlockSize
	const itemLoc = nodeHeaderSize + itemHeadSize
	const entriesLen = 2 * 16

	liveOff := off + itemLoc + entriesLen
	if got := string(data[liveOff : liveOff+8]); got != "live.txt" {
		t.Errorf("visible entry name was modified: got %q, want \"live.txt\"", got)
	}

	deletedOff := off + itemLoc + entriesLen + 8
	if got := data[deletedOff : deletedOff+7]; bytes.Equal(got, []byte("deleted")) {
		t.Errorf("invisible entry's name bytes are unchanged after wipeUndelete: %q", got)
	}

	journalOff := journalStartNo * testBlockSize
	journal := data[journalOff : journalOff+journalSize*testBlockSize]
	for i, c := range journal {
		if c != 0x00 {
			t.Fatalf("journal byte %d = %#x, want 0x00 after wipeUndelete's journal pass", i, c)
		}
	}
}

// TestWipeFreeSpaceSkipsInUseBlocks mirrors the ext2/NTFS free-space
// coverage: metadata, B-tree and explicitly-marked-in-use blocks must
// survive; a free block must have been overwritten.
func TestWipeFreeSpaceSkipsInUseBlocks(t *testing.T) {
	path := buildSyntheticImage(t)
	h := &wfs.FsHandle{Device: path, PassCount: 1, Mode: wfs.ModePattern}
	b := openTestBackend(t, h)

	if err := b.wipeFreeSpacePatternMajor(h, wfs.NoopProgressSink); err != nil {
		t.Fatalf("wipeFreeSpacePatternMajor: %v", err)
	}
	b.Close(h)

	data := readImage(t, path)

	rootOff := rootBlockNo * testBlockSize
	gotLevel := binary.LittleEndian.Uint16(data[rootOff:])
	if gotLevel != 2 {
		t.Errorf("root (in-use) block's header was overwritten: Level = %d, want 2", gotLevel)
	}

	sentinelOff := 30 * testBlockSize
	allZeroSentinel := true
	for _, c := range data[sentinelOff : sentinelOff+testBlockSize] {
		if c != 0 {
			allZeroSentinel = false
			break
		}
	}
	if !allZeroSentinel {
		t.Error("sentinel in-use block 30 was modified, want untouched (all-zero, as built)")
	}

	free := data[firstFreeBlock*testBlockSize : (firstFreeBlock+1)*testBlockSize]
	allZeroFree := true
	for _, c := range free {
		if c != 0 {
			allZeroFree = false
			break
		}
	}
	if allZeroFree {
		t.Error("free block reads all-zero after wipeFreeSpacePatternMajor; expected it to have been overwritten")
	}
}

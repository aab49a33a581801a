package reiser

import (
	"bytes"
	"encoding/binary"
)

// nodeHeader mirrors struct block_head: the level (1 means leaf),
// item/key count and free space fields shared by every B-tree node.
type nodeHeader struct {
	Level     uint16
	NrItems   uint16
	FreeSpace uint16
	_         uint16
}

const nodeHeaderSize = 8
const keySize = 16   // 4 + 4 + 8
const itemHeadSize = 24
const ptrSize = 4

func decodeStruct(buf []byte, v interface{}) error {
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, v)
}

// visitLeaf is called once per leaf node encountered during walk, with
// the node's block number, its raw block buffer (so callers can mutate
// item bodies and write the block back) and its decoded item headers.
type visitLeaf func(blockNo uint32, buf []byte, items []itemHead) (stop bool, err error)

// walk performs a depth-first traversal of the B-tree from the root,
// grounded on wfs_reiser.c's reiserfs_search_by_key_4-driven iteration
// (itself traversing the whole tree one key at a time); here expressed
// as a direct recursive descent since this package owns its own B-tree
// decode rather than linking reiserfs_lib.h's search routines.
func (fs *Filesystem) walk(visit visitLeaf) error {
	if fs.super.RootBlock == 0 {
		return nil
	}
	return fs.walkBlock(fs.super.RootBlock, visit)
}

func (fs *Filesystem) walkBlock(blockNo uint32, visit visitLeaf) error {
	buf := make([]byte, fs.blockSize)
	if err := fs.readBlock(blockNo, buf); err != nil {
		return err
	}

	var hdr nodeHeader
	if err := decodeStruct(buf[:nodeHeaderSize], &hdr); err != nil {
		return err
	}
	if hdr.NrItems == 0 {
		return nil
	}

	if hdr.Level == leafLevel {
		items, err := decodeItemHeads(buf, hdr.NrItems)
		if err != nil {
			return err
		}
		_, err = visit(blockNo, buf, items)
		return err
	}

	keysOff := nodeHeaderSize
	keysEnd := keysOff + int(hdr.NrItems)*keySize
	if keysEnd > len(buf) {
		return nil
	}
	keys := make([]key, hdr.NrItems)
	if err := decodeStruct(buf[keysOff:keysEnd], &keys); err != nil {
		return err
	}

	ptrsEnd := keysEnd + (int(hdr.NrItems)+1)*ptrSize
	if ptrsEnd > len(buf) {
		return nil
	}
	ptrs := make([]uint32, hdr.NrItems+1)
	if err := decodeStruct(buf[keysEnd:ptrsEnd], &ptrs); err != nil {
		return err
	}

	for _, p := range ptrs {
		if p == 0 {
			continue
		}
		if err := fs.walkBlock(p, visit); err != nil {
			return err
		}
	}
	return nil
}

func decodeItemHeads(buf []byte, n uint16) ([]itemHead, error) {
	off := nodeHeaderSize
	end := off + int(n)*itemHeadSize
	if end > len(buf) {
		return nil, nil
	}
	items := make([]itemHead, n)
	if err := decodeStruct(buf[off:end], &items); err != nil {
		return nil, err
	}
	return items, nil
}

// itemBody returns the byte range of ih's value within buf, or nil if
// the header's offsets don't fit the block (a corrupt or foreign node).
func itemBody(buf []byte, ih itemHead) []byte {
	start := int(ih.ItemLoc)
	end := start + int(ih.ItemLen)
	if start < 0 || end > len(buf) || end < start {
		return nil
	}
	return buf[start:end]
}

// dirEntries decodes the dirEntryHead array packed at the start of a
// directory item's body.
func dirEntries(body []byte, count uint16) ([]dirEntryHead, error) {
	end := int(count) * 16 // 4+4+4+2+2
	if end > len(body) {
		return nil, nil
	}
	entries := make([]dirEntryHead, count)
	if err := decodeStruct(body[:end], &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// entryName returns the [start,end) slice within body holding directory
// entry i's name, given the decoded entry array: names are packed
// backward from the end of the item, so entry i's name ends where entry
// i-1's name begins (or at the item's end for the first entry).
func entryName(body []byte, entries []dirEntryHead, i int) []byte {
	start := int(entries[i].Location)
	end := len(body)
	if i > 0 {
		end = int(entries[i-1].Location)
	}
	if start < 0 || end > len(body) || end <= start {
		return nil
	}
	return body[start:end]
}

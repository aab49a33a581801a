package ntfs

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// mftRecordHeader mirrors the MFT_RECORD header fields this backend
// needs: magic, the update-sequence (fixup) array location, and the
// first-attribute offset.
type mftRecordHeader struct {
	Magic            uint32
	USAOffset        uint16
	USACount         uint16
	LSN              uint64
	SequenceNumber   uint16
	LinkCount        uint16
	AttrsOffset      uint16
	Flags            uint16
	BytesInUse       uint32
	BytesAllocated   uint32
	BaseMFTRecord    uint64
	NextAttrInstance uint16
}

// attrHeader mirrors the common ATTR_RECORD header (both resident and
// non-resident share these first 16 bytes).
type attrHeader struct {
	Type       uint32
	Length     uint32
	NonResident uint8
	NameLength  uint8
	NameOffset  uint16
	Flags       uint16
	Instance    uint16
}

// residentAttr follows attrHeader when NonResident == 0.
type residentAttr struct {
	ValueLength uint32
	ValueOffset uint16
	ResidentFlags uint8
	_             uint8
}

// nonResidentAttr follows attrHeader when NonResident != 0.
type nonResidentAttr struct {
	LowestVCN        int64
	HighestVCN       int64
	MappingPairsOffset uint16
	CompressionUnit  uint8
	_                [5]byte
	AllocatedSize    int64
	DataSize         int64
	InitializedSize  int64
	CompressedSize   int64 // only present if Flags&0x0001 (compressed) or 0x8000 (sparse)
}

// mftRecord is a decoded, fixed-up MFT record: the raw buffer plus the
// parsed header, ready for attribute iteration.
type mftRecord struct {
	buf    []byte
	header mftRecordHeader
}

// readMFTRecord reads record number r and applies the update-sequence
// ("fixup") array: the last two bytes of every sector are saved in the
// fixup array and must be restored after reading, and verified against
// the USA signature stored at USAOffset (ntfs_mft_record_read's
// consistency check in the original).
func (v *Volume) readMFTRecord(r int64) (*mftRecord, error) {
	buf := make([]byte, v.mftRecordSize)
	off := v.MFTOffset() + r*v.mftRecordSize
	if _, err := v.dev.ReadAt(buf, off); err != nil {
		return nil, err
	}

	var hdr mftRecordHeader
	if err := decodeStruct(buf, &hdr); err != nil {
		return nil, err
	}
	if hdr.Magic != mftRecordMagic {
		return &mftRecord{buf: buf, header: hdr}, nil // unused/corrupt slot, caller skips
	}

	if err := applyFixup(buf, int(hdr.USAOffset), int(hdr.USACount), int(v.boot.BytesPerSector)); err != nil {
		return nil, err
	}

	return &mftRecord{buf: buf, header: hdr}, nil
}

func (v *Volume) writeMFTRecord(r int64, rec *mftRecord) error {
	_, err := v.dev.WriteAt(rec.buf, v.MFTOffset()+r*v.mftRecordSize)
	return err
}

func applyFixup(buf []byte, usaOffset, usaCount, sectorSize int) error {
	if usaCount == 0 || usaOffset+usaCount*2 > len(buf) {
		return nil
	}
	usa := buf[usaOffset : usaOffset+usaCount*2]
	for i := 1; i < usaCount; i++ {
		sectorEnd := i*sectorSize - 2
		if sectorEnd+2 > len(buf) {
			break
		}
		if buf[sectorEnd] != usa[0] || buf[sectorEnd+1] != usa[1] {
			return xerrors.Errorf("MFT record fixup mismatch at end of sector %d", i-1)
		}
		copy(buf[sectorEnd:sectorEnd+2], usa[i*2:i*2+2])
	}
	return nil
}

func decodeStruct(buf []byte, v interface{}) error {
	return binary.Read(sliceReader(buf), binary.LittleEndian, v)
}

type sliceReaderT struct {
	b []byte
	i int
}

func sliceReader(b []byte) *sliceReaderT { return &sliceReaderT{b: b} }

func (r *sliceReaderT) Read(p []byte) (int, error) {
	n := copy(p, r.b[r.i:])
	r.i += n
	if n == 0 {
		return 0, xerrors.New("short buffer")
	}
	return n, nil
}

// attrs iterates the attribute records in rec, calling fn with each
// attribute's header and the byte offset it starts at within rec.buf.
// Iteration stops at the $END marker (type 0xFFFFFFFF) or a malformed
// length.
func (rec *mftRecord) attrs(fn func(hdr attrHeader, off int) (stop bool, err error)) error {
	off := int(rec.header.AttrsOffset)
	for off+8 <= len(rec.buf) {
		typ := binary.LittleEndian.Uint32(rec.buf[off:])
		if typ == attrTypeEnd {
			return nil
		}
		length := binary.LittleEndian.Uint32(rec.buf[off+4:])
		if length < 16 || off+int(length) > len(rec.buf) {
			return nil
		}

		var hdr attrHeader
		if err := decodeStruct(rec.buf[off:off+16], &hdr); err != nil {
			return err
		}

		stop, err := fn(hdr, off)
		if err != nil || stop {
			return err
		}
		off += int(length)
	}
	return nil
}

// residentValue returns the [start,end) slice within rec.buf holding a
// resident attribute's value, given its header offset.
func (rec *mftRecord) residentValue(off int, hdr attrHeader) ([]byte, int, error) {
	var res residentAttr
	if err := decodeStruct(rec.buf[off+16:off+24], &res); err != nil {
		return nil, 0, err
	}
	start := off + int(res.ValueOffset)
	end := start + int(res.ValueLength)
	if start < 0 || end > len(rec.buf) || end < start {
		return nil, 0, xerrors.New("resident attribute value out of bounds")
	}
	return rec.buf[start:end], start, nil
}

// valueLengthFieldOffset returns the byte offset, within rec.buf, of the
// resident ValueLength field itself, so callers can overwrite-then-zero
// it in place as the final step of destroy_record (spec §4.5).
func (rec *mftRecord) valueLengthFieldOffset(off int) int { return off + 16 }

func (rec *mftRecord) nonResident(off int) (nonResidentAttr, error) {
	var nr nonResidentAttr
	err := decodeStruct(rec.buf[off+16:off+16+56], &nr)
	return nr, err
}

// nonResidentFieldOffset returns the byte offset, within rec.buf, of the
// start of the non-resident numeric fields (lowest_vcn onward), so
// callers can overwrite them with the pass pattern then zero them.
func (rec *mftRecord) nonResidentFieldOffset(off int) int { return off + 16 }

// runlist decodes a non-resident attribute's mapping pairs into a
// cluster-run list, see decodeMappingPairs.
func (rec *mftRecord) runlist(off int, hdr attrHeader, nr nonResidentAttr) []run {
	start := off + int(nr.MappingPairsOffset)
	end := off + int(hdr.Length)
	if start < 0 || end > len(rec.buf) || start > end {
		return nil
	}
	return decodeMappingPairs(rec.buf[start:end], nr.LowestVCN)
}

package ntfs

import (
	"io"

	"github.com/orcaman/writerseeker"

	wfs "github.com/bogdro/wipefreespace"
)

const (
	attrFlagCompressed = 0x0001
	attrFlagEncrypted  = 0x4000

	// compressionUnitClusters is the standard NTFS compression unit size
	// (16 clusters), the same constant wfs_ntfs.c derives from
	// na->compression_block_clusters.
	compressionUnitClusters = 16
)

// wipeSlack implements wipe_part for NTFS (spec §4.5): iterate MFT
// records [16, nr_mft_records), skip non-base records (base_mft_record
// != 0) and resident $DATA, and wipe the unused tail of every base
// record's unnamed $DATA attribute. Grounded on wfs_ntfs.c's wipe_part
// loop dispatching to wipe_attribute/wipe_compressed_attribute by the
// Compressed flag.
func (b *Backend) wipeSlack(h *wfs.FsHandle, sink wfs.ProgressSink) error {
	nrRecords := b.nrMFTRecords()
	if nrRecords <= firstUserMFTRecord {
		sink.Progress(wfs.PhaseSlack, 100)
		return nil
	}

	lastPct := -1
	for r := int64(firstUserMFTRecord); r < nrRecords; r++ {
		if b.cancel.Cancelled() {
			return wfs.WrapStatus(wfs.Signal, "ntfs slack wipe", nil)
		}

		rec, err := b.vol.readMFTRecord(r)
		if err != nil {
			return wfs.WrapStatus(wfs.InodeRead, "ntfs read MFT record", err)
		}
		if rec.header.Magic != mftRecordMagic {
			continue
		}
		if rec.header.BaseMFTRecord&0x0000FFFFFFFFFFFF != 0 {
			continue // not a base record
		}

		if err := b.wipeRecordDataSlack(h, rec); err != nil {
			return err
		}

		pct := int(r * 100 / nrRecords)
		if pct != lastPct {
			sink.Progress(wfs.PhaseSlack, pct)
			lastPct = pct
		}
	}

	sink.Progress(wfs.PhaseSlack, 100)
	return nil
}

// nrMFTRecords estimates the number of MFT records, in use or not, from the $MFT
// data size, the same nr_mft_records the original derives from
// ntfs_attr_open(ntfs->mft_ni, AT_DATA)->data_size / mft_record_size.
func (b *Backend) nrMFTRecords() int64 {
	rec, err := b.vol.readMFTRecord(mftRecordMFT)
	if err != nil {
		return 0
	}
	var size int64
	rec.attrs(func(hdr attrHeader, off int) (bool, error) {
		if hdr.Type != attrTypeData {
			return false, nil
		}
		if hdr.NonResident == 0 {
			return true, nil
		}
		nr, err := rec.nonResident(off)
		if err != nil {
			return true, nil
		}
		size = nr.DataSize
		return true, nil
	})
	if b.vol.MFTRecordSize() == 0 {
		return 0
	}
	return size / b.vol.MFTRecordSize()
}

// wipeRecordDataSlack finds rec's unnamed, non-resident $DATA attribute
// and dispatches to the compressed or non-compressed tail wiper.
func (b *Backend) wipeRecordDataSlack(h *wfs.FsHandle, rec *mftRecord) error {
	var werr error
	rec.attrs(func(hdr attrHeader, off int) (bool, error) {
		if hdr.Type != attrTypeData || hdr.NameLength != 0 {
			return false, nil
		}
		if hdr.NonResident == 0 {
			return true, nil // resident $DATA has no slack region
		}
		nr, err := rec.nonResident(off)
		if err != nil {
			werr = err
			return true, nil
		}
		runs := rec.runlist(off, hdr, nr)
		if hdr.Flags&attrFlagCompressed != 0 {
			werr = b.wipeCompressedAttribute(h, nr, runs)
		} else {
			werr = b.wipeAttribute(h, hdr, nr, runs)
		}
		return true, nil
	})
	return werr
}

// wipeAttribute implements the non-compressed non-resident slack wipe
// (spec §4.5): starting offset is data_size, rounded up to 1 KiB if
// encrypted; length is the remainder of the final cluster. Grounded on
// wfs_ntfs.c's wipe_attribute.
func (b *Backend) wipeAttribute(h *wfs.FsHandle, hdr attrHeader, nr nonResidentAttr, runs []run) error {
	cs := b.vol.ClusterSize()
	offset := nr.DataSize
	if offset == 0 {
		return nil
	}
	if hdr.Flags&attrFlagEncrypted != 0 {
		offset = ((offset-1)/1024 + 1) * 1024
	}
	size := cs - offset%cs
	if size <= 0 {
		return nil
	}

	engine := wfs.NewPatternEngine(b.wipeCtx())
	var state wfs.PassState
	region, rw, err := b.runlistRegion(runs, offset, size)
	if err != nil || rw == nil {
		return err
	}
	return engine.Run(h, rw, region, &state)
}

// wipeCompressedAttribute implements the compressed non-resident slack
// wipe (spec §4.5): walk the runlist looking for the "hole" at the end of
// each compression unit, scan compressed-block headers within it to find
// the true tail, and wipe that range. For the final non-hole run, the
// tail is allocated_size - data_size. When the tail exceeds one block, a
// scratch buffer of exactly that size is allocated for this iteration
// (via writerseeker, the same in-memory seekable-scratch trick the
// teacher's squashfs block writer uses). Grounded on wfs_ntfs.c's
// wipe_compressed_attribute.
func (b *Backend) wipeCompressedAttribute(h *wfs.FsHandle, nr nonResidentAttr, runs []run) error {
	if len(runs) == 0 {
		return nil
	}
	cs := b.vol.ClusterSize()
	cuMask := int64(compressionUnitClusters) - 1

	var curVCN int64
	for i, r := range runs {
		curVCN += r.length
		nextIsTerminal := i+1 >= len(runs)
		nextIsHole := !nextIsTerminal && runs[i+1].lcn == -1
		if curVCN&cuMask != 0 || (!nextIsTerminal && !nextIsHole && r.lcn != -1) {
			continue
		}

		var offset, size int64
		if r.lcn == -1 {
			holeStartVCN := curVCN - r.length
			if holeStartVCN == holeStartVCN&^cuMask {
				continue
			}
			byteOffset := (holeStartVCN &^ cuMask) * cs
			limit := curVCN * cs
			offset = b.scanCompressedHoleTail(runs, byteOffset, limit)
			if offset < 0 {
				continue
			}
			size = limit - offset
		} else {
			size = nr.AllocatedSize - nr.DataSize
			offset = curVCN*cs - size
		}
		if size <= 0 {
			continue
		}

		if err := b.wipeRunlistRange(h, runs, offset, size); err != nil {
			return err
		}
	}
	return nil
}

// scanCompressedHoleTail walks 2-byte little-endian compressed-block
// length headers (mask 0x0FFF, plus 3 overhead bytes) starting at
// byteOffset until the scan would cross limit, returning the byte offset
// where the last full compressed block ends (the start of the genuine
// wipeable tail), or -1 if the scan cannot proceed.
func (b *Backend) scanCompressedHoleTail(runs []run, byteOffset, limit int64) int64 {
	var hdr [2]byte
	for {
		n, err := b.readRunlistBytes(runs, byteOffset, hdr[:])
		if err != nil || n != 2 {
			return -1
		}
		blockSizeField := uint16(hdr[0]) | uint16(hdr[1])<<8
		if blockSizeField == 0 {
			return byteOffset + 2
		}
		blockSize := int64(blockSizeField&0x0FFF) + 3
		byteOffset += blockSize
		if byteOffset >= limit-2 {
			return -1
		}
	}
}

// wipeRunlistRange runs PatternEngine over [offset, offset+size) mapped
// through runs, using a scratch buffer sized exactly to the range (via
// writerseeker) when it spans more than one cluster, matching the
// original's on-demand malloc(bufsize) for oversized tails.
func (b *Backend) wipeRunlistRange(h *wfs.FsHandle, runs []run, offset, size int64) error {
	region, rw, err := b.runlistRegion(runs, offset, size)
	if err != nil || rw == nil {
		return err
	}
	if size <= b.vol.ClusterSize() {
		engine := wfs.NewPatternEngine(b.wipeCtx())
		var state wfs.PassState
		return engine.Run(h, rw, region, &state)
	}

	// Oversized tail: stage the fill in a scratch seekable buffer sized
	// exactly to the range before writing it through in one shot.
	ws := &writerseeker.WriterSeeker{}
	scratch := make([]byte, size)
	if _, err := ws.Write(scratch); err != nil {
		return err
	}
	engine := wfs.NewPatternEngine(b.wipeCtx())
	var state wfs.PassState
	scratchRegion := wfs.Region{Offset: 0, Length: int(size), BadBlockAddr: region.BadBlockAddr}
	scratchRW := &seekerRegionWriter{ws: ws}
	if err := engine.Run(h, scratchRW, scratchRegion, &state); err != nil {
		return err
	}
	r, err := ws.Reader()
	if err != nil {
		return err
	}
	final := make([]byte, size)
	if _, err := io.ReadFull(r, final); err != nil && err != io.ErrUnexpectedEOF {
		return err
	}
	_, err = rw.WriteAt(final, region.Offset)
	return err
}

// seekerRegionWriter adapts a writerseeker.WriterSeeker to RegionWriter
// so PatternEngine can drive its pass loop against the in-memory scratch
// buffer exactly as it would against the device.
type seekerRegionWriter struct {
	ws *writerseeker.WriterSeeker
}

func (s *seekerRegionWriter) ReadAt(p []byte, off int64) (int, error) {
	r, err := s.ws.Reader()
	if err != nil {
		return 0, err
	}
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(r, p)
}

func (s *seekerRegionWriter) WriteAt(p []byte, off int64) (int, error) {
	if _, err := s.ws.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return s.ws.Write(p)
}

// runlistRegion maps a logical [offset, offset+size) byte range within a
// non-resident attribute to a RegionWriter and Region against the raw
// device, valid when the range lies entirely within one run (true for
// every slack tail, which never spans more than the final compression
// unit's boundary).
func (b *Backend) runlistRegion(runs []run, offset, size int64) (wfs.Region, wfs.RegionWriter, error) {
	cs := b.vol.ClusterSize()
	vcn := offset / cs
	for _, r := range runs {
		if vcn < r.vcn || vcn >= r.vcn+r.length {
			continue
		}
		if r.lcn == -1 {
			return wfs.Region{}, nil, nil // hole: nothing on disk to wipe
		}
		clusterOff := offset - r.vcn*cs
		devOffset := r.lcn*cs + clusterOff
		return wfs.Region{Offset: devOffset, Length: int(size), BadBlockAddr: r.lcn}, b.dev, nil
	}
	return wfs.Region{}, nil, nil
}

// readRunlistBytes reads len(p) bytes starting at logical byte offset
// off within a non-resident attribute's runlist, used by the compressed-
// hole scanner to read compressed-block length headers.
func (b *Backend) readRunlistBytes(runs []run, off int64, p []byte) (int, error) {
	region, rw, err := b.runlistRegion(runs, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	if rw == nil {
		return 0, nil
	}
	return rw.ReadAt(p, region.Offset)
}

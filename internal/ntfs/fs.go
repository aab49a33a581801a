// Package ntfs implements the FsBackend contract for NTFS (spec §4.5).
// It decodes the boot sector, MFT records and attribute headers directly
// with encoding/binary, the same style internal/squashfs/reader.go uses
// for its own superblock/inode tables, since no pure-Go NTFS library
// exists anywhere in the example pack. Original semantics come from
// original_source/src/wfs_ntfs.c, by far the largest single
// original-source file this spec was distilled from.
package ntfs

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"

	wfs "github.com/bogdro/wipefreespace"
)

const (
	mftRecordMagic   = 0x454C4946 // "FILE"
	attrTypeEnd      = 0xFFFFFFFF
	attrTypeFileName = 0x30
	attrTypeData     = 0x80

	defaultMftRecordSize = 1024
)

// bootSector mirrors the first 0x50 bytes of an NTFS boot sector, the
// fields this backend needs to locate the MFT and compute cluster/sector
// geometry.
type bootSector struct {
	JumpInstruction  [3]byte
	OEMID            [8]byte
	BytesPerSector   uint16
	SectorsPerCluster uint8
	_                [26]byte
	TotalSectors     uint64
	MFTLCN           uint64
	MFTMirrLCN       uint64
	ClustersPerMFTRecord  int8
	_                [3]byte
	ClustersPerIndexBlock int8
	_                [3]byte
	VolumeSerial     uint64
}

// Volume binds the device and decoded boot-sector geometry together.
type Volume struct {
	dev             *wfs.Device
	boot            bootSector
	clusterSize     int64
	mftRecordSize   int64
	bitmapCache     bitmapWindow
}

func openVolume(dev *wfs.Device) (*Volume, error) {
	var bs bootSector
	sr := io.NewSectionReader(dev, 0, int64(binary.Size(bs)))
	if err := binary.Read(sr, binary.LittleEndian, &bs); err != nil {
		return nil, xerrors.Errorf("reading NTFS boot sector: %w", err)
	}
	if string(bs.OEMID[:]) != "NTFS    " {
		return nil, xerrors.Errorf("not an NTFS volume (OEM ID %q)", bs.OEMID)
	}

	clusterSize := int64(bs.BytesPerSector) * int64(bs.SectorsPerCluster)
	if clusterSize == 0 {
		return nil, xerrors.Errorf("invalid NTFS geometry: zero cluster size")
	}

	mftRecordSize := mftRecordSizeFromField(bs.ClustersPerMFTRecord, clusterSize)

	return &Volume{dev: dev, boot: bs, clusterSize: clusterSize, mftRecordSize: mftRecordSize}, nil
}

// mftRecordSizeFromField interprets the boot sector's signed
// clusters-per-MFT-record field: positive values are a cluster count,
// negative values are -log2(size in bytes), the same convention used
// for the index-block field.
func mftRecordSizeFromField(field int8, clusterSize int64) int64 {
	if field >= 0 {
		if field == 0 {
			return defaultMftRecordSize
		}
		return int64(field) * clusterSize
	}
	return int64(1) << uint(-field)
}

// ClusterSize returns the volume's cluster size in bytes.
func (v *Volume) ClusterSize() int64 { return v.clusterSize }

// MFTRecordSize returns the size in bytes of one MFT record.
func (v *Volume) MFTRecordSize() int64 { return v.mftRecordSize }

// NrClusters returns the total addressable cluster count.
func (v *Volume) NrClusters() int64 {
	return int64(v.boot.TotalSectors) * int64(v.boot.BytesPerSector) / v.clusterSize
}

// MFTOffset returns the byte offset of MFT record 0.
func (v *Volume) MFTOffset() int64 {
	return int64(v.boot.MFTLCN) * v.clusterSize
}

func (v *Volume) clusterOffset(lcn int64) int64 { return lcn * v.clusterSize }

func (v *Volume) readCluster(lcn int64, buf []byte) error {
	_, err := v.dev.ReadAt(buf, v.clusterOffset(lcn))
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

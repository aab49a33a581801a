package main

import (
	"os"

	"golang.org/x/xerrors"

	"github.com/bogdro/wipefreespace/internal/ext2"
	"github.com/bogdro/wipefreespace/internal/ntfs"
	"github.com/bogdro/wipefreespace/internal/reiser"

	wfs "github.com/bogdro/wipefreespace"
)

// On-disk byte offsets this probe reads directly, independent of any
// backend package's own decode: ext2/3's s_magic sits 56 bytes into the
// superblock at the fixed 1024-byte offset; NTFS's OEM ID is the 8 bytes
// at boot-sector offset 3; ReiserFS v3's magic string sits 36 bytes into
// its superblock at REISERFS_DISK_OFFSET (65536), past the block/journal
// geometry fields (internal/reiser/fs.go's superblock struct).
const (
	ext2SuperblockOffset = 1024
	ext2MagicOffset      = 56
	ext2Magic            = 0xEF53

	ntfsOEMIDOffset = 3

	reiserDiskOffset  = 65536
	reiserMagicOffset = 36
)

// detectBackend reads a handful of fixed on-disk offsets to decide which
// of the three FsBackend implementations to construct, the CLI-layer
// counterpart to each backend's own Open-time magic check (spec marks
// format auto-detection as out of the core's scope; it belongs to the
// external CLI module that owns the Config struct in spec §6).
func detectBackend(device string, cancel *wfs.CancellationFlag, seed int64) (wfs.FsBackend, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, wfs.WrapStatus(wfs.OpenFs, "probe device", err)
	}
	defer f.Close()

	buf := make([]byte, 16)

	if _, err := f.ReadAt(buf[:2], ext2SuperblockOffset+ext2MagicOffset); err == nil {
		if uint16(buf[0])|uint16(buf[1])<<8 == ext2Magic {
			return ext2.New(cancel, seed), nil
		}
	}

	if _, err := f.ReadAt(buf[:8], ntfsOEMIDOffset); err == nil {
		if string(buf[:8]) == "NTFS    " {
			return ntfs.New(cancel, seed), nil
		}
	}

	if _, err := f.ReadAt(buf[:9], reiserDiskOffset+reiserMagicOffset); err == nil {
		s := string(buf[:9])
		if s[:8] == "ReIsErFs" || s == "ReIsEr2Fs" || s == "ReIsEr3Fs" {
			return reiser.New(cancel, seed), nil
		}
	}

	return nil, wfs.WrapStatus(wfs.OpenFs, "detect filesystem", xerrors.Errorf("%s: no supported filesystem signature found", device))
}

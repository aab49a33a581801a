// Command wipefreespace drives the wipe engine against one target
// device: it parses the CLI surface spec.md §6 describes as the engine's
// external configuration input, auto-detects the on-disk format, and runs
// WipeOrchestrator to completion. Grounded on cmd/distri/distri.go's
// funcmain()+main() split (flag.Parse once, return an error from
// funcmain, let main turn it into stderr output plus an exit code)
// rather than distri's multi-verb dispatch table, since this tool has a
// single operation: wipe one device.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	wfs "github.com/bogdro/wipefreespace"
)

var (
	passes      = flag.Int("passes", 25, "number of overwrite passes per region (must be > 0)")
	modeZero    = flag.Bool("zero", false, "use zero-only fill instead of the pattern table")
	zeroPass    = flag.Bool("zero-pass", false, "append a final all-zero pass after the pattern passes")
	noWipeZero  = flag.Bool("no-wipe-zero-blocks", false, "skip a region that already reads as all-zero")
	useDedicated = flag.Bool("use-dedicated", false, "delegate to the vendor ntfswipe binary (NTFS only)")

	freeSpace = flag.Bool("free-space", true, "wipe blocks the filesystem marks free")
	slack     = flag.Bool("slack", true, "wipe the unused tail of partially-used file blocks")
	undelete  = flag.Bool("undelete", true, "wipe residual deleted-entry metadata and logs")

	sbOffset  = flag.Int64("superblock-offset", 0, "ext2/3 superblock offset override (0: use the default)")
	blockSize = flag.Uint("block-size", 0, "ext2/3 block size override in bytes (0: read from the superblock)")

	verbose    = flag.Bool("verbose", false, "log extra per-decision detail")
	reportPath = flag.String("report", "", "path to write a gzip-compressed summary report to")
)

// buildHandle translates the parsed flags into the Config shape spec.md
// §6 specifies the core consumes: device path, pass count, phase flags,
// wipe-mode, zero-pass/no-wipe-zero-blocks/use-dedicated flags, and the
// ext2-only superblock offset / block-size override.
func buildHandle(device string) (*wfs.FsHandle, error) {
	if *passes <= 0 {
		return nil, wfs.WrapStatus(wfs.BadCmdln, "parse flags", fmt.Errorf("-passes must be > 0, got %d", *passes))
	}
	mode := wfs.ModePattern
	if *modeZero {
		mode = wfs.ModeZero
	}
	return &wfs.FsHandle{
		Device:            device,
		PassCount:         *passes,
		Mode:              mode,
		ZeroPass:          *zeroPass,
		NoWipeZeroBlocks:  *noWipeZero,
		UseDedicated:      *useDedicated,
		WipeFreeSpace:     *freeSpace,
		WipeSlack:         *slack,
		WipeUndelete:      *undelete,
		Verbose:           *verbose,
		SuperblockOffset:  *sbOffset,
		BlockSizeOverride: uint32(*blockSize),
	}, nil
}

func funcmain() wfs.Status {
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: wipefreespace [flags] <device>")
		flag.PrintDefaults()
		return wfs.BadCmdln
	}
	device := args[0]

	h, err := buildHandle(device)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return wfs.BadCmdln
	}

	cancel := wfs.NewCancellationFlag()
	stop := cancel.InstallSignalHandler()
	defer stop()

	seed := time.Now().UnixNano()
	backend, err := detectBackend(device, cancel, seed)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return wfs.OpenFs
	}

	sink := wfs.ProgressSink(wfs.NoopProgressSink)
	if *verbose {
		sink = wfs.NewLogProgressSink(os.Stderr)
	}

	orch := wfs.NewWipeOrchestrator(backend)
	status := orch.Run(h, sink)

	if *reportPath != "" {
		r := wfs.Report{
			Device:        device,
			Backend:       h.Backend.String(),
			WorstStatus:   status.String(),
			FinishedAtUTC: time.Now().UTC().Format(time.RFC3339),
		}
		if err := wfs.WriteReport(*reportPath, r); err != nil {
			fmt.Fprintf(os.Stderr, "wipefreespace: writing report: %v\n", err)
		}
	}

	if status != wfs.Success && status != wfs.Nothing {
		fmt.Fprintf(os.Stderr, "wipefreespace: %s: %s\n", device, status)
	}
	return status
}

func main() {
	os.Exit(funcmain().ExitCode())
}

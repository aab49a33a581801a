package wipefreespace

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/renameio"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"
	"github.com/mattn/go-isatty"
)

// Phase identifies which of the three wipe operations a ProgressSink
// update belongs to.
type Phase int

const (
	PhaseFreeSpace Phase = iota
	PhaseSlack
	PhaseUndelete
)

func (p Phase) String() string {
	switch p {
	case PhaseFreeSpace:
		return "free-space"
	case PhaseSlack:
		return "slack"
	case PhaseUndelete:
		return "undelete"
	default:
		return "unknown"
	}
}

// ProgressSink receives (phase, percent) updates. Every backend must call
// it with strictly monotonic percent values within a phase, in [0,100],
// and terminate every wipe with 100 (spec §4.3).
type ProgressSink interface {
	Progress(phase Phase, percent int)
}

// noopProgressSink discards every update; the default when the caller
// supplies none.
type noopProgressSink struct{}

func (noopProgressSink) Progress(Phase, int) {}

// NoopProgressSink is the zero-cost ProgressSink used when the caller
// (the out-of-scope CLI/UI layer) doesn't want updates.
var NoopProgressSink ProgressSink = noopProgressSink{}

// LogProgressSink writes human-readable progress to w. On a terminal
// (detected via isatty, the same terminal-awareness the teacher's CLI
// applies before choosing output formatting) it rewrites a single line
// with carriage returns; otherwise it logs one line per update so
// redirected output stays grep-able.
type LogProgressSink struct {
	w    io.Writer
	tty  bool
	last Phase
	seen bool
}

// NewLogProgressSink wraps w, auto-detecting terminal-ness when w is an
// *os.File via isatty.IsTerminal.
func NewLogProgressSink(w io.Writer) *LogProgressSink {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &LogProgressSink{w: w, tty: tty}
}

func (s *LogProgressSink) Progress(phase Phase, percent int) {
	if s.tty {
		if s.seen && phase != s.last {
			fmt.Fprintln(s.w)
		}
		fmt.Fprintf(s.w, "\r%-12s %3d%%", phase, percent)
		if percent >= 100 {
			fmt.Fprintln(s.w)
		}
	} else {
		fmt.Fprintf(s.w, "%s: %d%%\n", phase, percent)
	}
	s.last = phase
	s.seen = true
}

// GzipAuditSink appends one record per progress update to a
// parallel-gzip-compressed audit log, reusing the teacher's
// klauspost/compress + klauspost/pgzip block-compression stack
// (internal/squashfs originally compressed filesystem-image blocks; here
// it compresses the wipe's own audit trail instead).
type GzipAuditSink struct {
	mu sync.Mutex
	gw *pgzip.Writer
}

// NewGzipAuditSink opens (creating if needed) path and wraps it in a
// pgzip writer. Callers must call Close when the wipe finishes to flush
// the gzip trailer.
func NewGzipAuditSink(path string) (*GzipAuditSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	gw, err := pgzip.NewWriterLevel(f, pgzip.BestSpeed)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &GzipAuditSink{gw: gw}, nil
}

func (s *GzipAuditSink) Progress(phase Phase, percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.gw, "%s %s %d\n", time.Now().UTC().Format(time.RFC3339), phase, percent)
}

// Close flushes and closes the underlying gzip stream.
func (s *GzipAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gw.Close()
}

// MultiProgressSink fans one update out to several sinks, e.g. a
// LogProgressSink for the operator and a GzipAuditSink for the record.
type MultiProgressSink []ProgressSink

func (m MultiProgressSink) Progress(phase Phase, percent int) {
	for _, s := range m {
		s.Progress(phase, percent)
	}
}

// Report is the final per-device wipe summary, persisted atomically so a
// caller can inspect the outcome after the process exits.
type Report struct {
	Device             string
	Backend            string
	FreeSpaceStatus    string
	SlackStatus        string
	UndeleteStatus     string
	WorstStatus        string
	FinishedAtUTC      string
}

// WriteReport atomically persists r as gzip-compressed text to path,
// using renameio so a crash mid-write never leaves a truncated report —
// the same atomic-rename-on-write discipline the teacher applies to its
// build artifacts (renameio.WriteFile in cmd/distri/scaffold.go,
// cmd/distri/install.go).
func WriteReport(path string, r Report) error {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	fmt.Fprintf(gw, "device: %s\n", r.Device)
	fmt.Fprintf(gw, "backend: %s\n", r.Backend)
	fmt.Fprintf(gw, "free-space: %s\n", r.FreeSpaceStatus)
	fmt.Fprintf(gw, "slack: %s\n", r.SlackStatus)
	fmt.Fprintf(gw, "undelete: %s\n", r.UndeleteStatus)
	fmt.Fprintf(gw, "worst: %s\n", r.WorstStatus)
	fmt.Fprintf(gw, "finished: %s\n", r.FinishedAtUTC)
	if err := gw.Close(); err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0644)
}

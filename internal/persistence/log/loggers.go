package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"tickpilot.dev/internal/planner"
	"tickpilot.dev/internal/protocol"
	"tickpilot.dev/internal/sim/encoding"
	"tickpilot.dev/internal/timeline"
)

// JSONLZstdWriter appends JSON lines to hourly rotated zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// CommitRecord is one line of the commit log.
type CommitRecord struct {
	At       string            `json:"at"`
	Bound    uint64            `json:"bound"`
	LiveTick uint64            `json:"live_tick"`
	Deferred bool              `json:"deferred,omitempty"`
	FromTick uint64            `json:"from_tick,omitempty"`
	ToTick   uint64            `json:"to_tick,omitempty"`
	Changes  []protocol.Change `json:"changes,omitempty"`
	SendErr  string            `json:"send_err,omitempty"`
}

func NewCommitRecord(r timeline.CommitResult) CommitRecord {
	rec := CommitRecord{
		At:       r.At.UTC().Format(time.RFC3339Nano),
		Bound:    r.Bound,
		LiveTick: r.LiveTick,
		Deferred: r.Deferred,
		FromTick: r.FromTick,
		ToTick:   r.ToTick,
		Changes:  r.Changes,
	}
	if r.SendErr != nil {
		rec.SendErr = r.SendErr.Error()
	}
	return rec
}

// CommitLogger writes every commit attempt that produced a batch or was
// deferred. Empty no-op commits are skipped.
type CommitLogger struct {
	w        *JSONLZstdWriter
	failures atomic.Int64
}

func NewCommitLogger(dataDir string) *CommitLogger {
	return &CommitLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "commits"), "commits")}
}

func (l *CommitLogger) WriteCommit(r timeline.CommitResult) error {
	if !r.Sent() && !r.Deferred {
		return nil
	}
	return l.w.Write(NewCommitRecord(r))
}

// RecordCommit lets the logger sit behind a timeline.Recorder. Write errors
// are counted, see Failures.
func (l *CommitLogger) RecordCommit(r timeline.CommitResult) {
	if err := l.WriteCommit(r); err != nil {
		l.failures.Add(1)
	}
}

func (l *CommitLogger) Failures() int64 { return l.failures.Load() }
func (l *CommitLogger) Close() error    { return l.w.Close() }

// NavigationRecord is one line of the navigation log.
type NavigationRecord struct {
	At        string  `json:"at"`
	Tick      uint64  `json:"tick"`
	TargetX   float64 `json:"target_x"`
	TargetY   float64 `json:"target_y"`
	Outcome   string  `json:"outcome"`
	Inputs    int     `json:"inputs"`
	Expanded  int     `json:"expanded"`
	Cells     int     `json:"cells"`
	ElapsedMs int64   `json:"elapsed_ms"`
	// Route is the found input sequence in encoding.EncodeInputs form.
	Route string `json:"route,omitempty"`
}

func NewNavigationRecord(at time.Time, tick uint64, r planner.Route) NavigationRecord {
	rec := NavigationRecord{
		At:        at.UTC().Format(time.RFC3339Nano),
		Tick:      tick,
		TargetX:   r.TargetX,
		TargetY:   r.TargetY,
		Outcome:   r.Outcome.String(),
		Inputs:    len(r.Inputs),
		Expanded:  r.Expanded,
		Cells:     r.FieldCells,
		ElapsedMs: r.Elapsed.Milliseconds(),
	}
	if r.Found() {
		rec.Route = encoding.EncodeInputs(r.Inputs)
	}
	return rec
}

// NavigationLogger writes one entry per planner run.
type NavigationLogger struct {
	w        *JSONLZstdWriter
	failures atomic.Int64
}

func NewNavigationLogger(dataDir string) *NavigationLogger {
	return &NavigationLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "navigations"), "navigations")}
}

func (l *NavigationLogger) WriteNavigation(rec NavigationRecord) error { return l.w.Write(rec) }

func (l *NavigationLogger) RecordNavigation(rec NavigationRecord) {
	if err := l.WriteNavigation(rec); err != nil {
		l.failures.Add(1)
	}
}

func (l *NavigationLogger) Failures() int64 { return l.failures.Load() }
func (l *NavigationLogger) Close() error    { return l.w.Close() }

package persistence

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/collective/internal/engine"
)

// TickEntry is one line of the tick log: every non-idle decision of a tick.
type TickEntry struct {
	Tick      uint64            `json:"tick"`
	Decisions []engine.Decision `json:"decisions"`
}

// TickLog writes one JSONL entry per tick into zstd-compressed files, one
// file per sim-day.
type TickLog struct {
	dir string

	mu      sync.Mutex
	pending []engine.Decision
	curDay  uint64
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewTickLog creates a tick log under dir. Files are created lazily.
func NewTickLog(dir string) *TickLog {
	return &TickLog{dir: dir, curDay: ^uint64(0)}
}

// Record queues a decision for the current tick. It is suitable as the
// collective's OnDecision hook.
func (l *TickLog) Record(d engine.Decision) {
	l.mu.Lock()
	l.pending = append(l.pending, d)
	l.mu.Unlock()
}

// WriteTick writes the queued decisions as the entry for tick. Ticks with
// no decisions are skipped.
func (l *TickLog) WriteTick(tick uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil
	}
	entry := TickEntry{Tick: tick, Decisions: l.pending}
	l.pending = nil

	day := tick / engine.TicksPerSimDay
	if day != l.curDay {
		if err := l.rotateLocked(day); err != nil {
			return err
		}
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	return l.w.WriteByte('\n')
}

// Close flushes and closes the current file.
func (l *TickLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

// PathForDay returns the file holding the given sim-day.
func (l *TickLog) PathForDay(day uint64) string {
	return filepath.Join(l.dir, fmt.Sprintf("ticks-day%05d.jsonl.zst", day))
}

func (l *TickLog) rotateLocked(day uint64) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.PathForDay(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f, l.enc = f, enc
	l.w = bufio.NewWriterSize(enc, 64*1024)
	l.curDay = day
	return nil
}

func (l *TickLog) closeLocked() error {
	var errs []error
	if l.w != nil {
		errs = append(errs, l.w.Flush())
		l.w = nil
	}
	if l.enc != nil {
		errs = append(errs, l.enc.Close())
		l.enc = nil
	}
	if l.f != nil {
		errs = append(errs, l.f.Close())
		l.f = nil
	}
	l.curDay = ^uint64(0)
	return errors.Join(errs...)
}

// ReadTicks decodes every entry of one tick log file.
func ReadTicks(path string) ([]TickEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []TickEntry
	jd := json.NewDecoder(dec)
	for {
		var e TickEntry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, e)
	}
}

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

	"voxelstream.io/internal/host"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
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
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines into the current zstd frame.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
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
	w.w = bufio.NewWriterSize(enc, 64*1024)
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
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Entry is one line of the host event log.
type Entry struct {
	Type string `json:"type"` // "session" or "column"
	At   string `json:"at"`

	SessionID uint64 `json:"session_id,omitempty"`
	Addr      string `json:"addr,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Requests  uint64 `json:"requests,omitempty"`

	CX        *int32 `json:"cx,omitempty"`
	CZ        *int32 `json:"cz,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Generated bool   `json:"generated,omitempty"`
}

// EventLog is a host.Index that appends every event to compressed JSONL
// files. Writes happen on its own goroutine; a full queue drops entries.
type EventLog struct {
	w *JSONLZstdWriter

	ch      chan Entry
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // orders sends against close(ch)
	closed  bool
	dropped atomic.Uint64
	errs    atomic.Uint64
}

var _ host.Index = (*EventLog)(nil)

func NewEventLog(dir string) *EventLog {
	l := &EventLog{
		w:  NewJSONLZstdWriter(dir, "events"),
		ch: make(chan Entry, 8192),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop()
	}()
	return l
}

func (l *EventLog) RecordSession(ev host.SessionEvent) {
	l.enqueue(Entry{
		Type:      "session",
		At:        ev.At.UTC().Format(time.RFC3339Nano),
		SessionID: ev.SessionID,
		Addr:      ev.Addr,
		Kind:      string(ev.Kind),
		Requests:  ev.Requests,
	})
}

func (l *EventLog) RecordColumn(ev host.ColumnEvent) {
	x, z := ev.Pos.X, ev.Pos.Z
	l.enqueue(Entry{
		Type:      "column",
		At:        ev.At.UTC().Format(time.RFC3339Nano),
		CX:        &x,
		CZ:        &z,
		Digest:    fmt.Sprintf("%016x", ev.Digest),
		Generated: ev.Generated,
	})
}

func (l *EventLog) enqueue(e Entry) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.ch <- e:
	default:
		l.dropped.Add(1)
	}
}

// Dropped counts entries lost to a full queue; Errors counts failed writes.
func (l *EventLog) Dropped() uint64 { return l.dropped.Load() }
func (l *EventLog) Errors() uint64  { return l.errs.Load() }

func (l *EventLog) loop() {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case e, ok := <-l.ch:
			if !ok {
				return
			}
			if err := l.w.Write(e); err != nil {
				l.errs.Add(1)
			}
		case <-tick.C:
			if err := l.w.Flush(); err != nil {
				l.errs.Add(1)
			}
		}
	}
}

func (l *EventLog) Close() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.ch)
		l.mu.Unlock()
		l.wg.Wait()
		err = l.w.Close()
	})
	return err
}

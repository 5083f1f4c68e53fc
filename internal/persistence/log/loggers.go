package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"temporalsmith.dev/internal/recipe/loader"
)

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
	if err := w.w.Flush(); err != nil {
		return err
	}
	// Each entry ends a zstd block so readers see it before rotation.
	return w.enc.Flush()
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
	w.w = bufio.NewWriterSize(enc, 32*1024)
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

// ReloadEntry is one line of the reload log.
type ReloadEntry struct {
	ReloadID   string         `json:"reload_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Digest     string         `json:"digest"`
	Loaded     int            `json:"loaded"`
	Failures   []FailureEntry `json:"failures,omitempty"`
}

type FailureEntry struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// EntryFromBatch builds the log line for a batch installed as a book with digest.
func EntryFromBatch(b *loader.Batch, digest string) ReloadEntry {
	e := ReloadEntry{
		ReloadID:   b.ReloadID,
		StartedAt:  b.StartedAt.UTC(),
		FinishedAt: b.FinishedAt.UTC(),
		Digest:     digest,
		Loaded:     len(b.Recipes),
	}
	for _, f := range b.Failures {
		e.Failures = append(e.Failures, FailureEntry{ID: f.ID, Error: f.Err.Error()})
	}
	return e
}

// ReloadLogger writes one JSONL entry per reload (compressed).
type ReloadLogger struct{ w *JSONLZstdWriter }

func NewReloadLogger(dataDir string) *ReloadLogger {
	return &ReloadLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "reloads"), "reloads")}
}

func (l *ReloadLogger) WriteReload(v ReloadEntry) error { return l.w.Write(v) }
func (l *ReloadLogger) Close() error                    { return l.w.Close() }

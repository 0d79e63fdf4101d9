package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// jsonlRecord is the on-disk shape for one log line, matching spec.md's
// log_path contract exactly: timestamp, method, host, path, watched, plus
// the optional fields a given record happens to carry.
type jsonlRecord struct {
	Timestamp       time.Time         `json:"timestamp"`
	Method          string            `json:"method"`
	Host            string            `json:"host"`
	Path            string            `json:"path"`
	Watched         bool              `json:"watched"`
	Headers         map[string]string `json:"headers,omitempty"`
	BodyPreview     *string           `json:"bodyPreview,omitempty"`
	StatusCode      *int              `json:"statusCode,omitempty"`
	ResponsePreview *string           `json:"responsePreview,omitempty"`
}

// jsonlWriter is an append-only JSON-lines file writer: one compact JSON
// object per line, flushed on every write, per spec.md §4.8.
type jsonlWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

func newJSONLWriter(path string) (*jsonlWriter, error) {
	w := &jsonlWriter{path: path}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *jsonlWriter) open() error {
	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("jsonl writer mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("jsonl writer open %s: %w", w.path, err)
	}
	w.f = f
	w.w = bufio.NewWriter(f)
	w.enc = json.NewEncoder(w.w)
	return nil
}

func (w *jsonlWriter) writeLine(rec jsonlRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("jsonl writer encode: %w", err)
	}
	return w.w.Flush()
}

// rotate renames the current file with a timestamp suffix and reopens a
// fresh file at the original path, so the sink doesn't grow unbounded
// across long-running sessions.
func (w *jsonlWriter) rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("jsonl writer flush before rotate: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("jsonl writer close before rotate: %w", err)
	}

	rotatedPath := fmt.Sprintf("%s.%d", w.path, time.Now().Unix())
	if err := os.Rename(w.path, rotatedPath); err != nil {
		return fmt.Errorf("jsonl writer rename %s -> %s: %w", w.path, rotatedPath, err)
	}
	return w.open()
}

func (w *jsonlWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

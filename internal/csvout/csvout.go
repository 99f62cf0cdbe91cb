// Package csvout writes chat records as a delimited file.
package csvout

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MikeSquared-Agency/waexport/internal/chat"
)

// Writer writes records as CSV with a header row. Fields containing newlines
// are quoted, so multi-line messages stay in one cell.
type Writer struct {
	w      *csv.Writer
	closer io.Closer
	path   string
	header bool
}

// New wraps w. Close does not close w.
func New(w io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(w)}
}

// Create creates (or truncates) the file at path.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &Writer{w: csv.NewWriter(f), closer: f, path: path}, nil
}

// OutputPath names the CSV written for an export at input inside dir
// (the input's own directory when dir is empty).
func OutputPath(dir, input string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, base+"_messages.csv")
}

// Path returns the file path, or "" for a wrapped writer.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Name() string {
	return "csv"
}

// WriteRecords writes one row per record. The header goes out with the
// first batch.
func (w *Writer) WriteRecords(_ context.Context, recs []chat.Record) error {
	if !w.header {
		if err := w.w.Write(chat.Columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		w.header = true
	}
	for _, r := range recs {
		if err := w.w.Write(r.Values()); err != nil {
			return fmt.Errorf("write record %s: %w", r.ID, err)
		}
	}
	w.w.Flush()
	return w.w.Error()
}

// Close writes the header if nothing else was written, then flushes and
// closes the underlying file.
func (w *Writer) Close() error {
	if !w.header {
		if err := w.WriteRecords(context.Background(), nil); err != nil {
			return err
		}
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

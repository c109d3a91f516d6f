package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/roach88/flowsim/internal/emit"
)

// JSONLines writes one canonical JSON record per line.
type JSONLines struct {
	name   string
	w      *bufio.Writer
	closer io.Closer
}

// NewJSONLines writes to w. If w is an io.Closer it is closed by Close.
func NewJSONLines(name string, w io.Writer) *JSONLines {
	s := &JSONLines{name: name, w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		s.closer = c
	}
	return s
}

// OpenFile creates (or truncates) path and writes JSON lines to it.
func OpenFile(path string) (*JSONLines, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return NewJSONLines("file:"+path, f), nil
}

// Name implements Sink.
func (s *JSONLines) Name() string { return s.name }

// Deliver implements Sink.
func (s *JSONLines) Deliver(_ context.Context, ev emit.Event) error {
	b, err := ev.JSON()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

// Close flushes buffered lines and closes the underlying file.
func (s *JSONLines) Close() error {
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

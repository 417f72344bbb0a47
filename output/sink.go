// Package output writes findings and end-of-run statistics.
//
// Every sink writes a stream of frames: one "finding" frame per finding in
// emission order, then a single "statistics" frame when closed. The SQLite
// sink stores the same content in tables.
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"evtxhound/core"

	"github.com/klauspost/compress/gzip"
)

// Format names an output encoding.
type Format string

const (
	FormatJSONL   Format = "jsonl"
	FormatMsgpack Format = "msgpack"
	FormatSQLite  Format = "sqlite"
)

// ErrUnknownFormat is returned for unsupported output formats.
var ErrUnknownFormat = errors.New("unknown output format")

// Frame kinds.
const (
	KindFinding    = "finding"
	KindStatistics = "statistics"
)

// Frame is one element of a finding stream.
type Frame struct {
	Kind       string              `json:"kind" msgpack:"kind"`
	Finding    *core.Finding       `json:"finding,omitempty" msgpack:"finding,omitempty"`
	Statistics *core.StatsSnapshot `json:"statistics,omitempty" msgpack:"statistics,omitempty"`
}

// Sink receives findings and the final statistics. Close must be called
// exactly once.
type Sink interface {
	Write(f core.Finding) error
	Close(snapshot core.StatsSnapshot) error
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSONL, FormatMsgpack, FormatSQLite:
		return f, nil
	case "json", "ndjson":
		return FormatJSONL, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// NewSink opens a sink at path. For the stream formats, "-" means stdout and
// a ".gz" suffix enables gzip compression.
func NewSink(format Format, path string) (Sink, error) {
	switch format {
	case FormatSQLite:
		return NewSQLiteSink(path)
	case FormatJSONL, FormatMsgpack:
		w, err := openStream(path)
		if err != nil {
			return nil, err
		}
		if format == FormatJSONL {
			return NewJSONLSink(w), nil
		}
		return NewMsgpackSink(w), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// multiCloser closes the gzip layer before the file under it.
type multiCloser struct {
	io.Writer
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStream(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zw := gzip.NewWriter(f)
	return &multiCloser{Writer: zw, closers: []io.Closer{zw, f}}, nil
}

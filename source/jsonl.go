package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"evtxhound/core"

	"github.com/klauspost/compress/gzip"
)

// DefaultMaxLineBytes bounds one JSON record line.
const DefaultMaxLineBytes = 16 * 1024 * 1024

// JSONLSource reads one JSON object per line. Blank lines are skipped.
type JSONLSource struct {
	path    string
	reader  *bufio.Reader
	closers []io.Closer
	line    int
	maxLine int
	done    bool
}

// OpenJSONL opens a JSON-lines container, optionally gzip-compressed.
func OpenJSONL(path string, gzipped bool, maxLineBytes int) (*JSONLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	s := &JSONLSource{path: path, closers: []io.Closer{f}, maxLine: maxLineBytes}
	if s.maxLine <= 0 {
		s.maxLine = DefaultMaxLineBytes
	}

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		s.closers = append([]io.Closer{gz}, s.closers...)
		r = gz
	}
	s.reader = bufio.NewReaderSize(r, 64*1024)
	return s, nil
}

// NewJSONLReader wraps an in-memory stream; name is used in decode errors.
func NewJSONLReader(name string, r io.Reader) *JSONLSource {
	return &JSONLSource{path: name, reader: bufio.NewReader(r), maxLine: DefaultMaxLineBytes}
}

// Next implements RecordSource.
func (s *JSONLSource) Next() (core.RawRecord, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		line, err := s.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				if len(line) == 0 {
					return nil, io.EOF
				}
			} else if !errors.Is(err, errLineTooLong) {
				s.done = true
				return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
			} else {
				return nil, &DecodeError{Path: s.path, Line: s.line, Err: err}
			}
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		rec, err := decodeRecord(line)
		if err != nil {
			return nil, &DecodeError{Path: s.path, Line: s.line, Err: err}
		}
		return rec, nil
	}
}

var errLineTooLong = errors.New("record exceeds maximum line length")

// readLine returns the next line without its newline. An over-long line is
// consumed in full and reported as errLineTooLong.
func (s *JSONLSource) readLine() ([]byte, error) {
	s.line++
	var buf []byte
	tooLong := false
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > s.maxLine {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong && err == nil {
			return nil, errLineTooLong
		}
		if tooLong && errors.Is(err, io.EOF) {
			s.done = true
			return nil, errLineTooLong
		}
		return buf, err
	}
}

func decodeRecord(line []byte) (core.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var rec map[string]interface{}
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("invalid JSON record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("record is not a JSON object")
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON record")
	}
	return core.RawRecord(rec), nil
}

// Close implements RecordSource.
func (s *JSONLSource) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// Package source reads decoded log records from containers on disk.
//
// Binary EVTX decoding happens upstream: a container here is a file of
// JSON records, one per line, as produced by EVTX-to-JSON converters.
package source

import (
	"fmt"
	"strings"

	"evtxhound/core"
)

// RecordSource yields the records of one container. Next returns io.EOF once
// the container is exhausted. A *DecodeError affects only that call; the
// following call continues with the next record. Sources are not restartable.
type RecordSource interface {
	Next() (core.RawRecord, error)
	Close() error
}

// Opener opens a container by path.
type Opener interface {
	Open(path string) (RecordSource, error)
}

// DecodeError reports one record that could not be decoded.
type DecodeError struct {
	Path string
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FileOpener opens JSON-lines containers, transparently decompressing
// files whose name ends in ".gz".
type FileOpener struct {
	// MaxLineBytes bounds a single record line; zero uses DefaultMaxLineBytes.
	MaxLineBytes int
}

// Open implements Opener.
func (o FileOpener) Open(path string) (RecordSource, error) {
	return OpenJSONL(path, strings.HasSuffix(strings.ToLower(path), ".gz"), o.MaxLineBytes)
}

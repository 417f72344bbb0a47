package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"evtxhound/core"
)

// JSONLSink writes one JSON frame per line.
type JSONLSink struct {
	w   io.WriteCloser
	buf *bufio.Writer
	enc *json.Encoder
}

// NewJSONLSink wraps w. Closing the sink closes w.
func NewJSONLSink(w io.WriteCloser) *JSONLSink {
	buf := bufio.NewWriter(w)
	return &JSONLSink{w: w, buf: buf, enc: json.NewEncoder(buf)}
}

func (s *JSONLSink) Write(f core.Finding) error {
	if err := s.enc.Encode(Frame{Kind: KindFinding, Finding: &f}); err != nil {
		return fmt.Errorf("failed to encode finding: %w", err)
	}
	return nil
}

func (s *JSONLSink) Close(snapshot core.StatsSnapshot) error {
	err := s.enc.Encode(Frame{Kind: KindStatistics, Statistics: &snapshot})
	if err == nil {
		err = s.buf.Flush()
	}
	if cerr := s.w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to finish JSONL output: %w", err)
	}
	return nil
}

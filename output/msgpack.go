package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"evtxhound/core"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackSink writes a stream of msgpack-encoded frames.
type MsgpackSink struct {
	w   io.WriteCloser
	buf *bufio.Writer
	enc *msgpack.Encoder
}

// NewMsgpackSink wraps w. Closing the sink closes w.
func NewMsgpackSink(w io.WriteCloser) *MsgpackSink {
	buf := bufio.NewWriter(w)
	return &MsgpackSink{w: w, buf: buf, enc: msgpack.NewEncoder(buf)}
}

func (s *MsgpackSink) Write(f core.Finding) error {
	if err := s.enc.Encode(Frame{Kind: KindFinding, Finding: &f}); err != nil {
		return fmt.Errorf("failed to encode finding: %w", err)
	}
	return nil
}

func (s *MsgpackSink) Close(snapshot core.StatsSnapshot) error {
	err := s.enc.Encode(Frame{Kind: KindStatistics, Statistics: &snapshot})
	if err == nil {
		err = s.buf.Flush()
	}
	if cerr := s.w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to finish msgpack output: %w", err)
	}
	return nil
}

// ReadMsgpackFrames decodes every frame from r.
func ReadMsgpackFrames(r io.Reader) ([]Frame, error) {
	dec := msgpack.NewDecoder(r)
	var frames []Frame
	for {
		var fr Frame
		if err := dec.Decode(&fr); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, fmt.Errorf("failed to decode frame: %w", err)
		}
		frames = append(frames, fr)
	}
}

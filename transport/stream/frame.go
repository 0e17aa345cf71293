package stream

import (
	"fmt"

	cbor2 "github.com/fxamacker/cbor/v2"
)

// AnyOrigin as a target delivers to a peer of any origin.
const AnyOrigin = "*"

// Frame is one message on the stream. Payload carries an encoded envelope
// untouched.
type Frame struct {
	ID      string `cbor:"id"`
	Origin  string `cbor:"origin"`
	Target  string `cbor:"target,omitempty"`
	Payload []byte `cbor:"payload"`
}

// FrameSizeError reports a frame larger than the limit in force.
type FrameSizeError struct {
	Size  int
	Limit int
	Hard  bool
}

func (e *FrameSizeError) Error() string {
	if e.Hard {
		return fmt.Sprintf("frame size %d exceeds hard limit %d", e.Size, e.Limit)
	}
	return fmt.Sprintf("frame size %d exceeds max_frame limit %d", e.Size, e.Limit)
}

// EncodeFrame serializes a frame to CBOR.
func EncodeFrame(f *Frame) ([]byte, error) {
	return cbor2.Marshal(f)
}

// DecodeFrame parses a CBOR frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := cbor2.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return &f, nil
}

// delivers reports whether a frame addressed to target reaches a peer at origin.
func delivers(target, origin string) bool {
	return target == "" || target == AnyOrigin || target == origin
}

package stream

import (
	"encoding/binary"
	"io"
)

// FrameReader reads length-prefixed CBOR frames from a stream
type FrameReader struct {
	reader io.Reader
	limits Limits
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{reader: r, limits: DefaultLimits()}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits
}

// ReadFrame reads a single frame from the stream
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.reader, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := int(binary.BigEndian.Uint32(lengthBuf[:]))
	if err := fr.limits.check(length); err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return DecodeFrame(buf)
}

// FrameWriter writes length-prefixed CBOR frames to a stream
type FrameWriter struct {
	writer io.Writer
	limits Limits
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{writer: w, limits: DefaultLimits()}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.limits = limits
}

// WriteFrame writes a single frame to the stream as one write
func (fw *FrameWriter) WriteFrame(frame *Frame) error {
	payload, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	if err := fw.limits.check(len(payload)); err != nil {
		return err
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err = fw.writer.Write(buf)
	return err
}

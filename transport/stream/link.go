// Package stream carries envelopes between a guest and a host over any
// byte stream, such as a pipe or a socket, as length-prefixed CBOR frames.
package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/machinefabric/guestlink-go"
)

// ErrClosed is returned when posting on a closed link.
var ErrClosed = errors.New("stream link is closed")

// Link is one end of a framed stream. It is both the guest's Window and the
// endpoint it writes to: every frame read is delivered with the link itself
// as the source.
type Link struct {
	origin string
	reader *FrameReader
	writer *FrameWriter
	closer io.Closer
	logger *zap.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	listeners map[int]func(guestlink.Message)
	next      int
	closed    bool
}

// NewLink wraps rw. origin is this end's own origin: outbound frames carry
// it and inbound frames addressed elsewhere are dropped.
func NewLink(rw io.ReadWriter, origin string, logger *zap.Logger) *Link {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Link{
		origin:    origin,
		reader:    NewFrameReader(rw),
		writer:    NewFrameWriter(rw),
		logger:    logger.Named("stream"),
		listeners: make(map[int]func(guestlink.Message)),
	}
	if c, ok := rw.(io.Closer); ok {
		l.closer = c
	}
	return l
}

// SetLimits applies limits to both directions.
func (l *Link) SetLimits(limits Limits) {
	l.reader.SetLimits(limits)
	l.writeMu.Lock()
	l.writer.SetLimits(limits)
	l.writeMu.Unlock()
}

// Origin returns this end's origin.
func (l *Link) Origin() string { return l.origin }

// Parent implements guestlink.Window.
func (l *Link) Parent() guestlink.Endpoint { return l }

// Listen implements guestlink.Window.
func (l *Link) Listen(fn func(guestlink.Message)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.next
	l.next++
	l.listeners[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.listeners, id)
	}
}

// PostMessage implements guestlink.Endpoint.
func (l *Link) PostMessage(data []byte, targetOrigin string) error {
	if l.isClosed() {
		return ErrClosed
	}
	frame := &Frame{
		ID:      uuid.NewString(),
		Origin:  l.origin,
		Target:  targetOrigin,
		Payload: data,
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.writer.WriteFrame(frame)
}

// Run reads frames and delivers them to listeners until the stream ends,
// ctx is cancelled, or a read fails. A clean end of stream returns nil.
func (l *Link) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		frame, err := l.reader.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			l.logger.Warn("read failed", zap.Error(err))
			return err
		}
		if !delivers(frame.Target, l.origin) {
			l.logger.Debug("dropping frame for another origin",
				zap.String("frame_id", frame.ID),
				zap.String("target", frame.Target))
			continue
		}
		l.deliver(guestlink.Message{Origin: frame.Origin, Source: l, Data: frame.Payload})
	}
}

func (l *Link) deliver(msg guestlink.Message) {
	l.mu.Lock()
	fns := make([]func(guestlink.Message), 0, len(l.listeners))
	for i := 0; i < l.next; i++ {
		if fn, ok := l.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// Close closes the underlying stream when it is closable. Further posts
// fail with ErrClosed.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Package wschannel carries envelopes between a guest and a host over a
// websocket connection.
package wschannel

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/machinefabric/guestlink-go"
)

// AnyOrigin as a target delivers to a peer of any origin.
const AnyOrigin = "*"

const writeWait = 10 * time.Second

// ErrClosed is returned when posting on a closed channel.
var ErrClosed = errors.New("websocket channel is closed")

// Channel is one end of a websocket. It is both the guest's Window and the
// endpoint it writes to. Every inbound message is attributed to the peer
// origin fixed when the connection was made.
type Channel struct {
	conn       *websocket.Conn
	peerOrigin string
	logger     *zap.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	listeners map[int]func(guestlink.Message)
	next      int
	closed    bool
}

// Dial connects to a host at url. peerOrigin is the origin the guest will
// trust for everything read from this connection; header is sent with the
// opening handshake and usually carries the guest's own Origin.
func Dial(ctx context.Context, url, peerOrigin string, header http.Header, logger *zap.Logger) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return newChannel(conn, peerOrigin, logger), nil
}

// Accept upgrades a host-side request. allow decides on the guest's Origin
// header; a nil allow accepts any origin.
func Accept(w http.ResponseWriter, r *http.Request, allow func(origin string) bool, logger *zap.Logger) (*Channel, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return allow == nil || allow(r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newChannel(conn, r.Header.Get("Origin"), logger), nil
}

func newChannel(conn *websocket.Conn, peerOrigin string, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		conn:       conn,
		peerOrigin: peerOrigin,
		logger:     logger.Named("wschannel").With(zap.String("peer_origin", peerOrigin)),
		listeners:  make(map[int]func(guestlink.Message)),
	}
}

// PeerOrigin returns the origin attributed to inbound messages.
func (c *Channel) PeerOrigin() string { return c.peerOrigin }

// Parent implements guestlink.Window.
func (c *Channel) Parent() guestlink.Endpoint { return c }

// Listen implements guestlink.Window.
func (c *Channel) Listen(fn func(guestlink.Message)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// PostMessage implements guestlink.Endpoint. Text payloads go out as text
// messages and anything else as binary. A target that does not match the
// peer is dropped without error.
func (c *Channel) PostMessage(data []byte, targetOrigin string) error {
	if c.isClosed() {
		return ErrClosed
	}
	if targetOrigin != "" && targetOrigin != AnyOrigin && targetOrigin != c.peerOrigin {
		c.logger.Debug("dropping message for another origin", zap.String("target", targetOrigin))
		return nil
	}
	kind := websocket.BinaryMessage
	if utf8.Valid(data) {
		kind = websocket.TextMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

// Run reads messages and delivers them to listeners until the peer closes,
// ctx is cancelled, or a read fails. A normal close returns nil.
func (c *Channel) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.isClosed() {
				return nil
			}
			c.logger.Warn("read failed", zap.Error(err))
			return err
		}
		msg := guestlink.Message{Origin: c.peerOrigin, Source: c}
		if kind == websocket.TextMessage {
			msg.Data = string(data)
		} else {
			msg.Data = data
		}
		c.deliver(msg)
	}
}

func (c *Channel) deliver(msg guestlink.Message) {
	c.mu.Lock()
	fns := make([]func(guestlink.Message), 0, len(c.listeners))
	for i := 0; i < c.next; i++ {
		if fn, ok := c.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// Close sends a normal close to the peer and closes the connection.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("close handshake failed", zap.Error(err))
	}
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Package guestlink lets a sandboxed guest talk to its trusted host over a
// single origin-checked, fire-and-forget message channel.
//
// On top of that channel a Client offers correlated requests with timeouts
// (Get, Set, Invoke, Request), named events with subscriber-count
// notifications (On, Off, Trigger), hook events the host waits on, and
// instance routing so many logical peers can share one channel.
//
// Calls return a usage error synchronously when they are malformed; every
// protocol or runtime failure arrives through the returned Future.
package guestlink

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/machinefabric/guestlink-go/envelope"
	"github.com/machinefabric/guestlink-go/metrics"
	"github.com/machinefabric/guestlink-go/origin"
)

// Event and key names used by the protocol.
const (
	// EventRegistered is sent by the host once the handshake completes.
	EventRegistered = "app.registered"
	// EventContextUpdated carries a new shared context snapshot.
	EventContextUpdated = "context.updated"

	eventPrefix    = "zaf."
	replyPrefix    = "zaf.reply:"
	handshakeKey   = "iframe.handshake"
	onKeyPrefix    = "iframe.on:"
	offKeyPrefix   = "iframe.off:"
	triggerKeyPref = "iframe.trigger:"
)

// link is the physical channel shared by a root client and its children.
// It is created by the root and owns all correlation and gate state.
type link struct {
	window  Window
	stop    func()
	codec   envelope.Codec
	logger  *zap.Logger
	clock   clockwork.Clock
	metrics *metrics.Collector
	origins *origin.Validator

	requestTimeout time.Duration
	slowThreshold  time.Duration
	noTimeout      []string

	ready  atomic.Bool
	gateMu sync.Mutex
	queue  []outbound

	corr *correlator

	childMu  sync.Mutex
	root     *Client
	children map[string]*Client

	ctx     context.Context
	cancel  context.CancelFunc
	closeMu sync.Mutex
	closed  bool
	closers map[string]func()
}

// Client is one logical peer. The root client owns the channel; children
// returned by Instance share it and keep their own event handlers.
type Client struct {
	link   *link
	parent *Client

	origin       string
	source       Endpoint
	appGuid      string
	instanceGuid string
	logger       *zap.Logger

	ready atomic.Bool

	mu         sync.Mutex
	handlers   map[string][]*Subscription
	replies    map[string]bool
	registered bool
	metadata   *Metadata
	context    map[string]interface{}
	waiters    []func(registration)
}

// New builds a client. Without Parent it attaches to opts.Window, checks
// opts.Origin against the allow-list and sends the handshake. With Parent
// it builds a child that routes everything through the parent's channel;
// a child whose instance guid is already routed fails with a usage error.
//
// An origin outside the allow-list fails with *origin.InvalidOriginError
// and nothing is ever written to the channel.
func New(opts Options) (*Client, error) {
	if opts.Parent != nil {
		return newChild(opts)
	}
	if opts.Window == nil {
		return nil, usageError("a window is required")
	}
	if opts.AppGuid == "" {
		return nil, usageError("an app guid is required")
	}
	opts.setDefaults()
	if opts.Source == nil {
		return nil, usageError("the window has no parent endpoint")
	}

	if err := opts.Origins.Check(opts.Origin); err != nil {
		opts.Logger.Error("refusing to connect",
			zap.String("origin", opts.Origin),
			zap.String("app_guid", opts.AppGuid),
			zap.Error(err))
		opts.Metrics.ObserveInvalidOrigin()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		window:         opts.Window,
		codec:          opts.Codec,
		logger:         opts.Logger,
		clock:          opts.Clock,
		metrics:        opts.Metrics,
		origins:        opts.Origins,
		requestTimeout: opts.RequestTimeout,
		slowThreshold:  opts.SlowRequestThreshold,
		noTimeout:      append([]string(nil), opts.NoTimeoutActions...),
		corr:           newCorrelator(),
		children:       make(map[string]*Client),
		ctx:            ctx,
		cancel:         cancel,
		closers:        make(map[string]func()),
	}

	c := newNode(l, nil, opts)
	l.root = c
	c.registerInternalHandlers()

	l.stop = opts.Window.Listen(c.receive)
	c.send(c.notification(handshakeKey, map[string]interface{}{"version": Version}), true)
	return c, nil
}

func newChild(opts Options) (*Client, error) {
	parent := opts.Parent
	opts.inherit(parent)
	if err := opts.Origins.Check(opts.Origin); err != nil {
		parent.link.metrics.ObserveInvalidOrigin()
		return nil, err
	}
	c := newNode(parent.link, parent, opts)
	c.ready.Store(parent.Ready())
	if err := parent.link.adopt(c); err != nil {
		return nil, err
	}
	c.registerInternalHandlers()
	return c, nil
}

func newNode(l *link, parent *Client, opts Options) *Client {
	c := &Client{
		link:         l,
		parent:       parent,
		origin:       opts.Origin,
		source:       opts.Source,
		appGuid:      opts.AppGuid,
		instanceGuid: opts.InstanceGuid,
		handlers:     make(map[string][]*Subscription),
		replies:      make(map[string]bool),
		context:      opts.Context,
	}
	c.logger = l.logger.With(zap.String("instance_guid", c.instanceGuid))
	return c
}

// registration is the payload of the host's app.registered event.
type registration struct {
	Metadata map[string]interface{} `mapstructure:"metadata"`
	Context  map[string]interface{} `mapstructure:"context"`
}

func (c *Client) registerInternalHandlers() {
	c.On(EventRegistered, func(data interface{}) Outcome {
		c.register(data)
		return Done()
	})
	c.On(EventContextUpdated, func(data interface{}) Outcome {
		if ctx, ok := data.(map[string]interface{}); ok {
			c.mu.Lock()
			c.context = ctx
			c.mu.Unlock()
		}
		return Done()
	})
}

// register records the host's registration and opens the gate. Later
// registrations refresh the snapshots but change nothing else.
func (c *Client) register(data interface{}) {
	var reg registration
	if err := decodeMap(data, &reg); err != nil {
		c.logger.Debug("malformed registration payload", zap.Error(err))
	}
	md, err := decodeMetadata(reg.Metadata)
	if err != nil {
		c.logger.Debug("malformed registration metadata", zap.Error(err))
	}

	c.mu.Lock()
	c.registered = true
	c.metadata = md
	c.context = reg.Context
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	if c.parent == nil {
		c.link.flush()
	} else {
		c.ready.Store(true)
	}

	for _, w := range waiters {
		w(reg)
	}
}

// onRegistered runs fn once the node is registered, immediately when it
// already is.
func (c *Client) onRegistered(fn func(registration)) {
	c.mu.Lock()
	if !c.registered {
		c.waiters = append(c.waiters, fn)
		c.mu.Unlock()
		return
	}
	reg := registration{Context: c.context}
	c.mu.Unlock()
	fn(reg)
}

// Ready reports whether envelopes from this client are written straight
// to the channel.
func (c *Client) Ready() bool {
	return c.ready.Load() || c.link.ready.Load()
}

// AppGuid returns the owning application's guid.
func (c *Client) AppGuid() string { return c.appGuid }

// InstanceGuid returns the logical peer this client addresses.
func (c *Client) InstanceGuid() string { return c.instanceGuid }

// Origin returns the host origin.
func (c *Client) Origin() string { return c.origin }

// Parent returns the client this one delegates to, nil for the root.
func (c *Client) Parent() *Client { return c.parent }

// Root returns the client that owns the channel.
func (c *Client) Root() *Client { return c.link.root }

// PostMessage sends a notification named name to the host.
func (c *Client) PostMessage(name string, data interface{}) {
	c.send(c.notification(name, data), false)
}

func (c *Client) notification(name string, data interface{}) *envelope.Envelope {
	return &envelope.Envelope{
		Key:          name,
		Message:      data,
		AppGuid:      c.appGuid,
		InstanceGuid: c.instanceGuid,
	}
}

// Close detaches the root from the channel, stops every timer and fails
// pending requests with ErrClosed. Closing a child does nothing.
func (c *Client) Close() error {
	if c.parent != nil {
		return nil
	}
	c.link.close()
	return nil
}

// receive is the channel callback of the root client.
func (c *Client) receive(msg Message) {
	l := c.link
	if !origin.IsTrusted(msg.Origin, msg.Source, c.origin, c.source) {
		l.metrics.ObserveDrop(metrics.DropUntrusted)
		return
	}

	env, err := envelope.Decode(msg.Data, l.codec)
	if err != nil {
		if err != envelope.ErrEmpty {
			c.logger.Debug("dropping undecodable message", zap.Error(err))
			l.metrics.ObserveDrop(metrics.DropUndecodable)
		}
		return
	}
	if err := envelope.Validate(env); err != nil {
		c.logger.Debug("dropping invalid envelope", zap.Error(err))
		l.metrics.ObserveDrop(metrics.DropInvalid)
		return
	}

	if !env.ID.IsZero() && l.settle(env) {
		return
	}
	if !strings.HasPrefix(env.Key, eventPrefix) {
		l.metrics.ObserveDrop(metrics.DropUnmatched)
		return
	}

	target := l.recipient(env.InstanceGuid)
	if target == nil {
		c.logger.Debug("dropping event for unknown instance",
			zap.String("key", env.Key),
			zap.String("target", env.InstanceGuid))
		l.metrics.ObserveDrop(metrics.DropUnknownInstance)
		return
	}

	name := strings.TrimPrefix(env.Key, eventPrefix)
	if env.NeedsReply {
		target.reply(name, env.Message)
		return
	}
	target.dispatch(name, env.Message)
}

func (l *link) close() {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return
	}
	l.closed = true
	closers := l.closers
	l.closers = nil
	l.closeMu.Unlock()

	if l.stop != nil {
		l.stop()
	}
	l.cancel()

	for _, p := range l.corr.drain() {
		l.metrics.ObserveSettled()
		p.settle(nil, ErrClosed)
	}
	for _, fn := range closers {
		fn()
	}
}

func (l *link) isClosed() bool {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	return l.closed
}

// onClose registers fn to run on close under key. It reports false, and
// does not register, once the link is closed.
func (l *link) onClose(key string, fn func()) bool {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return false
	}
	l.closers[key] = fn
	return true
}

func (l *link) forgetClose(key string) {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	delete(l.closers, key)
}

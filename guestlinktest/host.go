// Package guestlinktest provides an in-memory host for testing guests.
package guestlinktest

import (
	"sync"

	"github.com/google/uuid"

	"github.com/machinefabric/guestlink-go"
	"github.com/machinefabric/guestlink-go/envelope"
)

// DefaultOrigin is an origin the default allow-list accepts.
const DefaultOrigin = "https://acme.zendesk.com"

// NewInstanceGuid returns a fresh instance guid.
func NewInstanceGuid() string {
	return uuid.NewString()
}

// Post is one envelope a guest wrote to the host.
type Post struct {
	Data         []byte
	TargetOrigin string
}

// Host is a fake host frame. It is both the guest's Window and the
// endpoint the guest writes to, and it records every write.
type Host struct {
	origin string
	codec  envelope.Codec

	mu        sync.Mutex
	listeners map[int]func(guestlink.Message)
	next      int
	posts     []Post
	failPosts error
	onPost    func(Post)
}

// NewHost returns a host serving origin with the JSON codec.
func NewHost(origin string) *Host {
	return NewHostWithCodec(origin, envelope.JSON)
}

// NewHostWithCodec returns a host serving origin with codec.
func NewHostWithCodec(origin string, codec envelope.Codec) *Host {
	return &Host{
		origin:    origin,
		codec:     codec,
		listeners: make(map[int]func(guestlink.Message)),
	}
}

// Origin returns the origin the host delivers from.
func (h *Host) Origin() string { return h.origin }

// Parent implements guestlink.Window.
func (h *Host) Parent() guestlink.Endpoint { return h }

// Listen implements guestlink.Window.
func (h *Host) Listen(fn func(guestlink.Message)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}
}

// Listening returns the number of attached listeners.
func (h *Host) Listening() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// PostMessage implements guestlink.Endpoint.
func (h *Host) PostMessage(data []byte, targetOrigin string) error {
	h.mu.Lock()
	if h.failPosts != nil {
		err := h.failPosts
		h.mu.Unlock()
		return err
	}
	p := Post{Data: append([]byte(nil), data...), TargetOrigin: targetOrigin}
	h.posts = append(h.posts, p)
	fn := h.onPost
	h.mu.Unlock()

	if fn != nil {
		fn(p)
	}
	return nil
}

// OnPost runs fn after each recorded write, on the writer's goroutine and
// before PostMessage returns. It models a channel whose writes complete only
// once the host has made progress of its own. nil removes the hook.
func (h *Host) OnPost(fn func(Post)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPost = fn
}

// FailPosts makes every following write fail with err; nil restores.
func (h *Host) FailPosts(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failPosts = err
}

// Posts returns the raw writes so far.
func (h *Host) Posts() []Post {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Post(nil), h.posts...)
}

// Reset forgets recorded writes.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.posts = nil
}

// Envelopes decodes every write so far. Writes that do not decode are
// skipped.
func (h *Host) Envelopes() []*envelope.Envelope {
	posts := h.Posts()
	out := make([]*envelope.Envelope, 0, len(posts))
	for _, p := range posts {
		env, err := h.codec.Decode(p.Data)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}

// Keyed returns the written envelopes whose key is key.
func (h *Host) Keyed(key string) []*envelope.Envelope {
	var out []*envelope.Envelope
	for _, env := range h.Envelopes() {
		if env.Key == key {
			out = append(out, env)
		}
	}
	return out
}

// Requests returns the written correlated requests.
func (h *Host) Requests() []*envelope.Envelope {
	var out []*envelope.Envelope
	for _, env := range h.Envelopes() {
		if env.Request != "" {
			out = append(out, env)
		}
	}
	return out
}

// LastRequest returns the most recent correlated request, or nil.
func (h *Host) LastRequest() *envelope.Envelope {
	reqs := h.Requests()
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// Deliver hands msg to every listener on the calling goroutine.
func (h *Host) Deliver(msg guestlink.Message) {
	h.mu.Lock()
	fns := make([]func(guestlink.Message), 0, len(h.listeners))
	for i := 0; i < h.next; i++ {
		if fn, ok := h.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// Send encodes env and delivers it from the host's origin and endpoint.
func (h *Host) Send(env *envelope.Envelope) {
	data, err := h.codec.Encode(env)
	if err != nil {
		panic(err)
	}
	h.Deliver(guestlink.Message{Origin: h.origin, Source: h, Data: data})
}

// Register sends app.registered with metadata and context.
func (h *Host) Register(metadata, context map[string]interface{}) {
	h.Emit("", guestlink.EventRegistered, map[string]interface{}{
		"metadata": metadata,
		"context":  context,
	})
}

// Reply answers request id with result.
func (h *Host) Reply(id envelope.ID, result interface{}) {
	h.Send(&envelope.Envelope{ID: id, Result: result})
}

// ReplyError answers request id with a failure.
func (h *Host) ReplyError(id envelope.ID, reason interface{}) {
	h.Send(&envelope.Envelope{ID: id, Error: reason})
}

// Emit sends event name to instance (the root when empty).
func (h *Host) Emit(instanceGuid, name string, message interface{}) {
	h.Send(&envelope.Envelope{Key: "zaf." + name, Message: message, InstanceGuid: instanceGuid})
}

// Hook sends event name to instance and asks for a reply.
func (h *Host) Hook(instanceGuid, name string, message interface{}) {
	h.Send(&envelope.Envelope{Key: "zaf." + name, Message: message, InstanceGuid: instanceGuid, NeedsReply: true})
}

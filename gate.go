package guestlink

import (
	"go.uber.org/zap"

	"github.com/machinefabric/guestlink-go/envelope"
)

// outbound is an envelope held back until the host registers the guest.
type outbound struct {
	from *Client
	env  *envelope.Envelope
}

// send writes env now when the client is ready or force is set, and
// otherwise queues it on the link until registration.
func (c *Client) send(env *envelope.Envelope, force bool) {
	l := c.link
	if !force && !c.ready.Load() {
		l.gateMu.Lock()
		if !l.ready.Load() {
			l.queue = append(l.queue, outbound{from: c, env: env})
			l.gateMu.Unlock()
			return
		}
		l.gateMu.Unlock()
	}
	c.write(env)
}

// flush drains the queue in order and then opens the gate. Sends issued
// while draining join the queue and go out in the same pass.
func (l *link) flush() {
	for {
		l.gateMu.Lock()
		if len(l.queue) == 0 {
			l.ready.Store(true)
			l.gateMu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.gateMu.Unlock()

		for _, o := range batch {
			o.from.write(o.env)
		}
	}
}

func (c *Client) write(env *envelope.Envelope) {
	l := c.link
	if l.isClosed() {
		return
	}
	data, err := l.codec.Encode(env)
	if err != nil {
		c.logger.Warn("failed to encode envelope", zap.String("key", env.Key), zap.Error(err))
		return
	}
	if err := c.source.PostMessage(data, c.origin); err != nil {
		c.logger.Warn("failed to post envelope", zap.String("key", env.Key), zap.Error(err))
		return
	}
	l.metrics.ObservePosted()
}

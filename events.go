package guestlink

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/machinefabric/guestlink-go/envelope"
	"github.com/machinefabric/guestlink-go/metrics"
)

// Subscription is a registered handler. It is the token passed to Off and
// Has.
type Subscription struct {
	name string
	fn   HandlerFunc
}

// Name returns the event the subscription listens to.
func (s *Subscription) Name() string { return s.name }

// On adds fn to the handlers of name and tells the host the new subscriber
// count. Registering for app.registered stays local. A nil fn registers
// nothing and returns nil.
func (c *Client) On(name string, fn HandlerFunc) *Subscription {
	if fn == nil {
		return nil
	}
	sub := &Subscription{name: name, fn: fn}

	c.mu.Lock()
	c.handlers[name] = append(c.handlers[name], sub)
	count := len(c.handlers[name])
	c.mu.Unlock()

	if name != EventRegistered {
		c.PostMessage(onKeyPrefix+name, map[string]interface{}{"subscriberCount": count})
	}
	return sub
}

// Off removes sub from the handlers of name and reports whether it was
// registered. The host is told the remaining subscriber count either way.
func (c *Client) Off(name string, sub *Subscription) bool {
	c.mu.Lock()
	removed := false
	list := c.handlers[name]
	for i, s := range list {
		if s == sub {
			// copy so snapshots taken by running dispatches stay intact
			c.handlers[name] = append(list[:i:i], list[i+1:]...)
			removed = true
			break
		}
	}
	count := len(c.handlers[name])
	c.mu.Unlock()

	c.PostMessage(offKeyPrefix+name, map[string]interface{}{"subscriberCount": count})
	return removed
}

// Has reports whether sub is registered for name.
func (c *Client) Has(name string, sub *Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.handlers[name] {
		if s == sub {
			return true
		}
	}
	return false
}

// Trigger calls the local handlers of name in order, then tells the host.
func (c *Client) Trigger(name string, data interface{}) {
	c.dispatch(name, data)
	c.PostMessage(triggerKeyPref+name, data)
}

func (c *Client) subscribers(name string) []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[name]
}

// dispatch calls every handler of name in registration order and ignores
// their outcomes.
func (c *Client) dispatch(name string, data interface{}) {
	for _, s := range c.subscribers(name) {
		if out := invoke(s.fn, data); out.IsRejected() {
			c.logger.Debug("handler rejected event",
				zap.String("event", name),
				zap.Any("reason", out.Reason()))
		}
	}
}

// reply runs the handlers of a hook event and answers the host once all of
// them have settled. While an answer for name is outstanding further hook
// events for name are ignored.
func (c *Client) reply(name string, data interface{}) {
	c.mu.Lock()
	if c.replies[name] {
		c.mu.Unlock()
		c.link.metrics.ObserveDrop(metrics.DropReplyInFlight)
		return
	}
	c.replies[name] = true
	subs := c.handlers[name]
	c.mu.Unlock()

	outcomes := make([]Outcome, len(subs))
	deferred := false
	for i, s := range subs {
		outcomes[i] = invoke(s.fn, data)
		deferred = deferred || outcomes[i].IsDeferred()
	}

	if !deferred {
		c.finishReply(name, settleOutcomes(c.link.ctx, outcomes))
		return
	}
	go func() {
		err := settleOutcomes(c.link.ctx, outcomes)
		if c.link.ctx.Err() != nil {
			c.clearReply(name)
			return
		}
		c.finishReply(name, err)
	}()
}

// settleOutcomes waits for every outcome and returns the first rejection.
// Immediate rejections win, in handler order.
func settleOutcomes(ctx context.Context, outcomes []Outcome) error {
	for _, o := range outcomes {
		if o.IsRejected() {
			return o.err(ctx)
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, o := range outcomes {
		if !o.IsDeferred() {
			continue
		}
		o := o
		g.Go(func() error {
			return o.err(gctx)
		})
	}
	return g.Wait()
}

func (c *Client) finishReply(name string, err error) {
	env := &envelope.Envelope{
		Key:     replyPrefix + name,
		AppGuid: c.appGuid,
	}
	if err != nil {
		env.Error = map[string]interface{}{"msg": replyMessage(err)}
		c.logger.Debug("hook handler failed", zap.String("event", name), zap.Error(err))
	}
	c.link.metrics.ObserveReply(err == nil)
	c.send(env, false)
	c.clearReply(name)
}

func (c *Client) clearReply(name string) {
	c.mu.Lock()
	delete(c.replies, name)
	c.mu.Unlock()
}

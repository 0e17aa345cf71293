package guestlink

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/machinefabric/guestlink-go/envelope"
)

// Correlation kinds. Get, set and invoke share one namespace because
// replies are matched by id alone.
const (
	kindPromise = "promise"
	kindRequest = "request"
)

// Request names sent in the envelope's request field.
const (
	requestGet    = "get"
	requestSet    = "set"
	requestInvoke = "invoke"
)

// timeoutMessage is the message of a request timeout error.
const timeoutMessage = "Invocation request timeout"

// Result is the payload of a successful get, set or invoke reply.
type Result map[string]interface{}

// Errors returns the per-path failures the host reported alongside the
// successful ones.
func (r Result) Errors() map[string]interface{} {
	errs, _ := r["errors"].(map[string]interface{})
	return errs
}

// pendingRequest is one correlated call waiting for its reply.
type pendingRequest struct {
	kind    string
	from    *Client
	actions []string
	start   time.Time
	timer   clockwork.Timer
	settle  func(result interface{}, err error)
}

// correlator is the table of in-flight requests.
type correlator struct {
	mu      sync.Mutex
	ids     map[string]int
	pending map[envelope.ID]*pendingRequest
	closed  bool
}

func newCorrelator() *correlator {
	return &correlator{
		ids:     make(map[string]int),
		pending: make(map[envelope.ID]*pendingRequest),
	}
}

// next returns the next 1-based sequence number for kind.
func (c *correlator) next(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[kind]++
	return c.ids[kind]
}

// take removes the entry for id and stops its timer. Only the first caller
// for an id gets the entry.
func (c *correlator) take(id envelope.ID) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// drain empties the table for good.
func (c *correlator) drain() []*pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	out := make([]*pendingRequest, 0, len(c.pending))
	for id, p := range c.pending {
		delete(c.pending, id)
		if p.timer != nil {
			p.timer.Stop()
		}
		out = append(out, p)
	}
	return out
}

// call issues a correlated request from c and returns the future its reply
// settles. params must already be validated; actions are the request's
// sub-operations. convert shapes the reply's result for the caller.
func call[T any](c *Client, request string, params interface{}, actions []string, timed bool, convert func(interface{}) (T, error)) *Future[T] {
	l := c.link
	fut := newFuture[T]()
	p := &pendingRequest{
		kind:    request,
		from:    c,
		actions: collateActions(request, actions),
		start:   l.clock.Now(),
	}
	p.settle = func(result interface{}, err error) {
		var zero T
		if err != nil {
			fut.settle(zero, err)
			return
		}
		v, err := convert(result)
		fut.settle(v, err)
	}

	corr := l.corr
	corr.mu.Lock()
	if corr.closed {
		corr.mu.Unlock()
		var zero T
		fut.settle(zero, ErrClosed)
		return fut
	}
	corr.ids[kindPromise]++
	id := envelope.NewID(corr.ids[kindPromise])
	corr.pending[id] = p
	if timed {
		p.timer = l.clock.AfterFunc(l.requestTimeout, func() {
			l.expire(id)
		})
	}
	corr.mu.Unlock()
	l.metrics.ObserveRequest(request)

	c.send(&envelope.Envelope{
		ID:           id,
		Request:      request,
		Params:       params,
		AppGuid:      c.appGuid,
		InstanceGuid: c.instanceGuid,
	}, false)
	return fut
}

// expire rejects the request behind id if it is still pending.
func (l *link) expire(id envelope.ID) {
	p := l.corr.take(id)
	if p == nil {
		return
	}
	l.metrics.ObserveSettled()
	l.metrics.ObserveTimeout(p.kind)
	p.from.logger.Warn("request timed out",
		zap.String("id", id.String()),
		zap.Strings("actions", p.actions),
		zap.Duration("timeout", l.requestTimeout))
	p.from.trackRequest(p.actions, l.requestTimeout)
	p.settle(nil, &Error{Type: ErrorTypeTimeout, Message: timeoutMessage})
}

// settle resolves the request env replies to. It reports false when no
// request is pending under env's id.
func (l *link) settle(env *envelope.Envelope) bool {
	p := l.corr.take(env.ID)
	if p == nil {
		return false
	}
	l.metrics.ObserveSettled()

	if env.HasError() {
		p.settle(nil, remoteError(env.Error))
		return true
	}

	if elapsed := l.clock.Since(p.start); elapsed > l.slowThreshold {
		l.metrics.ObserveSlow(p.kind)
		p.from.trackRequest(p.actions, elapsed)
	}
	p.settle(env.Result, nil)
	return true
}

// exempt reports whether every action skips the timeout. A batch mixing
// exempt and timed actions is a usage error.
func (l *link) exempt(actions []string) (bool, error) {
	matches := 0
	for _, a := range actions {
		for _, n := range l.noTimeout {
			if a == n {
				matches++
				break
			}
		}
	}
	switch matches {
	case 0:
		return false, nil
	case len(actions):
		return true, nil
	default:
		return false, usageError("illegal bulk call: %s must be called separately", strings.Join(l.noTimeout, ", "))
	}
}

// resultFor returns the converter for a get, set or invoke reply. For a
// singular call an entry for path in result.errors rejects the call.
func resultFor(path string) func(interface{}) (Result, error) {
	return func(v interface{}) (Result, error) {
		var res Result
		switch t := v.(type) {
		case nil:
			return nil, nil
		case map[string]interface{}:
			res = Result(t)
		case Result:
			res = t
		default:
			return nil, &Error{Type: ErrorTypeProtocol, Message: "reply result is not an object"}
		}
		if path == "" {
			return res, nil
		}
		if errs := res.Errors(); errs != nil {
			if e, ok := errs[path]; ok && e != nil {
				if m, ok := e.(map[string]interface{}); ok {
					return nil, structuredError(m)
				}
				return nil, &RemoteError{Path: path, Message: toString(e), Raw: e}
			}
		}
		return res, nil
	}
}

// Get reads one path from the host. A failure the host reports for path
// rejects the future.
func (c *Client) Get(path string) (*Future[Result], error) {
	return call(c, requestGet, []string{path}, []string{path}, true, resultFor(path)), nil
}

// GetMany reads several paths in one request. Per-path failures stay in
// the result's errors.
func (c *Client) GetMany(paths []string) (*Future[Result], error) {
	if len(paths) == 0 {
		return nil, usageError("the get method accepts a string or a list of strings")
	}
	ps := append([]string(nil), paths...)
	return call(c, requestGet, ps, ps, true, resultFor("")), nil
}

// Set writes one value on the host.
func (c *Client) Set(key string, value interface{}) (*Future[Result], error) {
	if key == "" {
		return nil, usageError("the setter requires a key")
	}
	params := map[string]interface{}{key: value}
	return call(c, requestSet, params, []string{key}, true, resultFor(key)), nil
}

// SetMany writes several values in one request.
func (c *Client) SetMany(values map[string]interface{}) (*Future[Result], error) {
	if len(values) == 0 {
		return nil, usageError("the set method accepts a key and value pair, or a map of key and value pairs")
	}
	params := make(map[string]interface{}, len(values))
	for k, v := range values {
		params[k] = v
	}
	return call(c, requestSet, params, sortedKeys(params), true, resultFor("")), nil
}

// Invoke runs one host action with args.
func (c *Client) Invoke(name string, args ...interface{}) (*Future[Result], error) {
	if name == "" {
		return nil, usageError("invoke requires an action name")
	}
	if args == nil {
		args = []interface{}{}
	}
	return c.invoke(map[string][]interface{}{name: args}, name)
}

// InvokeMany runs several host actions in one request. Actions that run
// without a timeout cannot be batched with timed ones.
func (c *Client) InvokeMany(calls map[string][]interface{}) (*Future[Result], error) {
	if len(calls) == 0 {
		return nil, usageError("invoke supports an action name or a map of actions to arguments")
	}
	return c.invoke(calls, "")
}

func (c *Client) invoke(calls map[string][]interface{}, path string) (*Future[Result], error) {
	params := make(map[string]interface{}, len(calls))
	for name, args := range calls {
		if name == "" {
			return nil, usageError("invoke requires an action name")
		}
		if args == nil {
			args = []interface{}{}
		}
		params[name] = args
	}
	actions := sortedKeys(params)
	exempt, err := c.link.exempt(actions)
	if err != nil {
		return nil, err
	}
	return call(c, requestInvoke, params, actions, !exempt, resultFor(path)), nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

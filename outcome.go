package guestlink

import (
	"context"
	"fmt"
)

// HandlerFunc handles an event. The returned Outcome only matters for hook
// events, where it decides the reply sent back to the host.
type HandlerFunc func(data interface{}) Outcome

// Listener adapts a function that never fails into a HandlerFunc.
func Listener(fn func(data interface{})) HandlerFunc {
	return func(data interface{}) Outcome {
		fn(data)
		return Done()
	}
}

// Awaiter is anything a hook handler can hand back to be waited on,
// *Future among them.
type Awaiter interface {
	Wait(ctx context.Context) error
}

type outcomeKind int

const (
	outcomeDone outcomeKind = iota
	outcomeRejected
	outcomeDeferred
)

// Outcome is a handler's result: settled successfully, rejected with a
// reason, or deferred until a wait function returns.
type Outcome struct {
	kind   outcomeKind
	reason interface{}
	wait   func(ctx context.Context) error
}

// Done is a successful outcome.
func Done() Outcome {
	return Outcome{kind: outcomeDone}
}

// Reject is a failed outcome. Error reasons reach the host as their
// message, any other reason as is.
func Reject(reason interface{}) Outcome {
	return Outcome{kind: outcomeRejected, reason: reason}
}

// Defer is an outcome known once wait returns. wait should report on work
// the handler already started; it is not called for plain events.
func Defer(wait func(ctx context.Context) error) Outcome {
	if wait == nil {
		return Done()
	}
	return Outcome{kind: outcomeDeferred, wait: wait}
}

// OutcomeOf normalizes a dynamic handler result: nil and true succeed,
// errors, false and strings reject, Awaiters defer and everything else
// succeeds.
func OutcomeOf(v interface{}) Outcome {
	switch t := v.(type) {
	case nil:
		return Done()
	case Outcome:
		return t
	case error:
		return Reject(t)
	case bool:
		if t {
			return Done()
		}
		return Reject(false)
	case string:
		return Reject(t)
	case Awaiter:
		return Defer(t.Wait)
	default:
		return Done()
	}
}

// IsDone reports whether the outcome is an immediate success.
func (o Outcome) IsDone() bool { return o.kind == outcomeDone }

// IsRejected reports whether the outcome is an immediate failure.
func (o Outcome) IsRejected() bool { return o.kind == outcomeRejected }

// IsDeferred reports whether the outcome still has to be waited on.
func (o Outcome) IsDeferred() bool { return o.kind == outcomeDeferred }

// Reason returns the rejection reason.
func (o Outcome) Reason() interface{} { return o.reason }

// err turns a settled outcome into an error, nil on success.
func (o Outcome) err(ctx context.Context) error {
	switch o.kind {
	case outcomeRejected:
		return &Rejection{Reason: o.reason}
	case outcomeDeferred:
		return o.wait(ctx)
	default:
		return nil
	}
}

// invoke calls fn and turns a panic into a rejection.
func invoke(fn HandlerFunc, data interface{}) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				out = Reject(err)
				return
			}
			out = Reject(fmt.Sprint(r))
		}
	}()
	return fn(data)
}

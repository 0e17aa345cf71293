package guestlink

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies the errors produced locally by a Client.
type ErrorType int

const (
	// ErrorTypeUsage marks malformed calls. Usage errors are returned
	// synchronously and nothing is sent.
	ErrorTypeUsage ErrorType = iota
	// ErrorTypeTimeout marks correlated requests that got no reply in time.
	ErrorTypeTimeout
	// ErrorTypeClosed marks requests abandoned because the client closed.
	ErrorTypeClosed
	// ErrorTypeProtocol marks replies that do not have the expected shape.
	ErrorTypeProtocol
)

// Error is a locally produced failure.
type Error struct {
	Type    ErrorType
	Message string
}

func (e *Error) Error() string {
	switch e.Type {
	case ErrorTypeUsage:
		return fmt.Sprintf("usage error: %s", e.Message)
	case ErrorTypeTimeout:
		return e.Message
	case ErrorTypeClosed:
		return "client is closed"
	case ErrorTypeProtocol:
		return fmt.Sprintf("protocol error: %s", e.Message)
	default:
		return fmt.Sprintf("unknown error: %s", e.Message)
	}
}

// Is matches any *Error of the same type, so errors.Is(err, ErrTimeout)
// works for every timeout.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Type == e.Type
}

// Sentinels for errors.Is.
var (
	ErrUsage   = &Error{Type: ErrorTypeUsage}
	ErrTimeout = &Error{Type: ErrorTypeTimeout}
	ErrClosed  = &Error{Type: ErrorTypeClosed}
)

func usageError(format string, args ...interface{}) error {
	return &Error{Type: ErrorTypeUsage, Message: fmt.Sprintf(format, args...)}
}

// IsUsage reports whether err is a usage error.
func IsUsage(err error) bool { return errors.Is(err, ErrUsage) }

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsClosed reports whether err was caused by closing the client.
func IsClosed(err error) bool { return errors.Is(err, ErrClosed) }

// RemoteError is a failure reported by the host. When the host sent a
// structured error (one with a name) the fields are filled in, otherwise
// Raw carries the value exactly as received.
type RemoteError struct {
	Name    string
	Message string
	Stack   string
	Path    string
	Raw     interface{}
}

func (e *RemoteError) Error() string {
	if e.Name == "" && e.Message == "" {
		return fmt.Sprintf("remote error: %v", e.Raw)
	}
	msg := e.Message
	if e.Path != "" {
		msg = `"` + e.Path + `" ` + msg
	}
	if e.Name != "" {
		return e.Name + ": " + msg
	}
	return msg
}

// remoteError rebuilds a reply's error field. Only records carrying a name
// are treated as structured.
func remoteError(v interface{}) *RemoteError {
	if m, ok := v.(map[string]interface{}); ok {
		if name, _ := m["name"].(string); name != "" {
			return structuredError(m)
		}
	}
	return &RemoteError{Raw: v}
}

func structuredError(m map[string]interface{}) *RemoteError {
	e := &RemoteError{Raw: m}
	e.Name, _ = m["name"].(string)
	e.Message, _ = m["message"].(string)
	e.Stack, _ = m["stack"].(string)
	e.Path, _ = m["path"].(string)
	return e
}

// RequestError is a failed Request. Args are the response arguments the
// host passed along with the failure.
type RequestError struct {
	Args []interface{}
}

func (e *RequestError) Error() string {
	if len(e.Args) == 0 {
		return "request failed"
	}
	if m, ok := e.Args[0].(map[string]interface{}); ok {
		var parts []string
		if status, ok := m["status"]; ok {
			parts = append(parts, fmt.Sprint(status))
		}
		if text, ok := m["statusText"].(string); ok && text != "" {
			parts = append(parts, text)
		}
		if len(parts) > 0 {
			return "request failed: " + strings.Join(parts, " ")
		}
	}
	return fmt.Sprintf("request failed: %v", e.Args[0])
}

// Rejection carries a handler's rejection reason. Reasons that are not
// errors travel to the host unchanged.
type Rejection struct {
	Reason interface{}
}

func (r *Rejection) Error() string {
	if err, ok := r.Reason.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(r.Reason)
}

func (r *Rejection) Unwrap() error {
	err, _ := r.Reason.(error)
	return err
}

// replyMessage is the value sent as error.msg in a hook reply.
func replyMessage(err error) interface{} {
	var rej *Rejection
	if errors.As(err, &rej) {
		if reasonErr, ok := rej.Reason.(error); ok {
			return reasonErr.Error()
		}
		return rej.Reason
	}
	return err.Error()
}

// Package envelope defines the wire record exchanged between a guest and its
// host, and the codecs that carry it over a channel.
//
// Message format, guest → host:
//   - correlated request: {id, request, params, appGuid, instanceGuid}
//   - notification:       {key, message, appGuid, instanceGuid}
//   - hook reply:         {key: "zaf.reply:<name>", appGuid, error?}
//
// Message format, host → guest:
//   - reply: {id, result?, error?}
//   - event: {key: "zaf.<name>", message, instanceGuid, needsReply?}
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// ErrEmpty is returned when there is nothing to decode.
var ErrEmpty = errors.New("empty envelope")

// ID is an opaque correlation token. Tokens that look like integers travel
// as numbers, everything else as text.
type ID string

// NewID returns the token for a sequence number.
func NewID(n int) ID {
	return ID(strconv.Itoa(n))
}

// IsZero reports whether the token is absent.
func (id ID) IsZero() bool {
	return id == ""
}

// String returns the token text.
func (id ID) String() string {
	return string(id)
}

func (id ID) number() (uint64, bool) {
	if id == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(string(id), 10, 64)
	return n, err == nil
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	if n, ok := id.number(); ok {
		return []byte(strconv.FormatUint(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON implements json.Unmarshaler. Integral floats ("1.0") are
// folded to their integer spelling so they match the issued token.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		*id = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = idFromNumber(n.String())
	return nil
}

// MarshalCBOR implements cbor.Marshaler
func (id ID) MarshalCBOR() ([]byte, error) {
	if n, ok := id.number(); ok {
		return cbor.Marshal(n)
	}
	return cbor.Marshal(string(id))
}

// UnmarshalCBOR implements cbor.Unmarshaler
func (id *ID) UnmarshalCBOR(data []byte) error {
	var v interface{}
	if err := cbor.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*id = ""
	case uint64:
		*id = ID(strconv.FormatUint(t, 10))
	case int64:
		*id = ID(strconv.FormatInt(t, 10))
	case float64:
		*id = idFromNumber(strconv.FormatFloat(t, 'f', -1, 64))
	case string:
		*id = ID(t)
	default:
		return errors.New("id must be a uint or a text string")
	}
	return nil
}

func idFromNumber(s string) ID {
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && f >= 0 && f < 1<<53 {
		return ID(strconv.FormatUint(uint64(f), 10))
	}
	return ID(s)
}

// Envelope is the flat record carried over the channel in one direction.
// Result and Error are mutually exclusive.
type Envelope struct {
	ID           ID          `json:"id,omitempty" mapstructure:"id"`
	Key          string      `json:"key,omitempty" mapstructure:"key"`
	Request      string      `json:"request,omitempty" mapstructure:"request"`
	Message      interface{} `json:"message,omitempty" mapstructure:"message"`
	Params       interface{} `json:"params,omitempty" mapstructure:"params"`
	Result       interface{} `json:"result,omitempty" mapstructure:"result"`
	Error        interface{} `json:"error,omitempty" mapstructure:"error"`
	AppGuid      string      `json:"appGuid,omitempty" mapstructure:"appGuid"`
	InstanceGuid string      `json:"instanceGuid,omitempty" mapstructure:"instanceGuid"`
	NeedsReply   bool        `json:"needsReply,omitempty" mapstructure:"needsReply"`
}

// HasError reports whether the envelope carries a failure. Falsy scalars
// ("", false, zero) count as absent, so such a reply still resolves.
func (e *Envelope) HasError() bool {
	switch v := e.Error.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(float64(v))
	case float32:
		return v != 0 && !math.IsNaN(float64(v))
	case int:
		return v != 0
	case int64:
		return v != 0
	case uint64:
		return v != 0
	}
	return true
}

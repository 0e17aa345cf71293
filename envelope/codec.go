package envelope

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
)

// Codec turns envelopes into channel payloads and back.
type Codec interface {
	Name() string
	Encode(env *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

var (
	// JSON is the text codec used by browser-style channels.
	JSON Codec = jsonCodec{api: jsoniter.ConfigCompatibleWithStandardLibrary}

	// CBOR is the binary codec used by stream transports.
	CBOR Codec = newCBORCodec()
)

// ByName resolves a codec from its configured name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown envelope codec %q", name)
	}
}

type jsonCodec struct {
	api jsoniter.API
}

func (jsonCodec) Name() string { return "json" }

func (c jsonCodec) Encode(env *Envelope) ([]byte, error) {
	return c.api.Marshal(env)
}

func (c jsonCodec) Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	var env Envelope
	if err := c.api.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode json envelope: %w", err)
	}
	return &env, nil
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	// Nested maps decode with string keys so payloads look the same as
	// the ones the JSON codec produces.
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Encode(env *Envelope) ([]byte, error) {
	return c.enc.Marshal(env)
}

func (c cborCodec) Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	var env Envelope
	if err := c.dec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode cbor envelope: %w", err)
	}
	return &env, nil
}

// Decode accepts whatever a channel delivered: serialized bytes or text
// (decoded with codec), an already parsed map, or an Envelope value.
func Decode(data interface{}, codec Codec) (*Envelope, error) {
	if codec == nil {
		codec = JSON
	}
	switch v := data.(type) {
	case nil:
		return nil, ErrEmpty
	case *Envelope:
		if v == nil {
			return nil, ErrEmpty
		}
		cp := *v
		return &cp, nil
	case Envelope:
		return &v, nil
	case []byte:
		return codec.Decode(v)
	case string:
		if v == "" {
			return nil, ErrEmpty
		}
		return codec.Decode([]byte(v))
	case map[string]interface{}:
		return FromMap(v)
	default:
		return nil, fmt.Errorf("unsupported envelope payload %T", data)
	}
}

// FromMap converts a pre-parsed record into an Envelope.
func FromMap(m map[string]interface{}) (*Envelope, error) {
	if len(m) == 0 {
		return nil, ErrEmpty
	}
	var env Envelope
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &env,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("failed to decode envelope map: %w", err)
	}
	env.ID = idFromNumber(string(env.ID))
	return &env, nil
}

package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST101: Correlated request encodes with a numeric id and the request shape
func Test101_request_json_shape(t *testing.T) {
	env := &Envelope{
		ID:           NewID(1),
		Request:      "get",
		Params:       []string{"ticket.subject"},
		AppGuid:      "A1",
		InstanceGuid: "A1",
	}

	data, err := JSON.Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"request":"get","params":["ticket.subject"],"appGuid":"A1","instanceGuid":"A1"}`, string(data))
}

// TEST102: Notifications carry no id and omit an absent message
func Test102_notification_json_shape(t *testing.T) {
	data, err := JSON.Encode(&Envelope{Key: "hello", AppGuid: "A1", InstanceGuid: "A1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"hello","appGuid":"A1","instanceGuid":"A1"}`, string(data))
}

func TestDecodeAcceptsTextAndBytes(t *testing.T) {
	raw := `{"id":7,"result":{"ticket.subject":"Hi"}}`

	fromText, err := Decode(raw, JSON)
	require.NoError(t, err)
	fromBytes, err := Decode([]byte(raw), nil)
	require.NoError(t, err)

	assert.Equal(t, ID("7"), fromText.ID)
	assert.Equal(t, fromText, fromBytes)
	assert.Equal(t, map[string]interface{}{"ticket.subject": "Hi"}, fromText.Result)
}

func TestDecodeAcceptsPreParsedMap(t *testing.T) {
	env, err := Decode(map[string]interface{}{
		"id":     float64(3),
		"result": "ok",
	}, JSON)
	require.NoError(t, err)
	assert.Equal(t, ID("3"), env.ID)
	assert.Equal(t, "ok", env.Result)

	env, err = Decode(map[string]interface{}{
		"key":          "zaf.app.activated",
		"message":      map[string]interface{}{"a": 1},
		"instanceGuid": "I1",
		"needsReply":   true,
	}, JSON)
	require.NoError(t, err)
	assert.Equal(t, "zaf.app.activated", env.Key)
	assert.Equal(t, "I1", env.InstanceGuid)
	assert.True(t, env.NeedsReply)
}

func TestDecodeCopiesEnvelopeValues(t *testing.T) {
	orig := &Envelope{Key: "zaf.x"}
	got, err := Decode(orig, nil)
	require.NoError(t, err)
	got.Key = "changed"
	assert.Equal(t, "zaf.x", orig.Key)
}

func TestDecodeRejectsEmptyAndUnknown(t *testing.T) {
	for _, in := range []interface{}{nil, "", []byte{}, (*Envelope)(nil), map[string]interface{}{}} {
		_, err := Decode(in, JSON)
		assert.ErrorIs(t, err, ErrEmpty, "input %#v", in)
	}

	_, err := Decode(42, JSON)
	assert.Error(t, err)

	_, err = Decode("{not json", JSON)
	assert.Error(t, err)
}

func TestIDSpellings(t *testing.T) {
	var id ID
	require.NoError(t, id.UnmarshalJSON([]byte(`"abc-1"`)))
	assert.Equal(t, ID("abc-1"), id)

	require.NoError(t, id.UnmarshalJSON([]byte(`12.0`)))
	assert.Equal(t, ID("12"), id)

	require.NoError(t, id.UnmarshalJSON([]byte(`null`)))
	assert.True(t, id.IsZero())

	out, err := ID("abc-1").MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"abc-1"`, string(out))
}

func TestCBORCodecKeepsEnvelope(t *testing.T) {
	env := &Envelope{
		ID:           NewID(9),
		Request:      "invoke",
		Params:       map[string]interface{}{"resize": []interface{}{"200px"}},
		AppGuid:      "A1",
		InstanceGuid: "I2",
	}
	data, err := CBOR.Encode(env)
	require.NoError(t, err)

	got, err := CBOR.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ID("9"), got.ID)
	assert.Equal(t, "invoke", got.Request)
	assert.Equal(t, "I2", got.InstanceGuid)
	assert.Equal(t, map[string]interface{}{"resize": []interface{}{"200px"}}, got.Params)
}

func TestCBORTextIDsStayText(t *testing.T) {
	data, err := CBOR.Encode(&Envelope{ID: "req-a", Key: "k"})
	require.NoError(t, err)
	got, err := CBOR.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ID("req-a"), got.ID)
}

func TestByName(t *testing.T) {
	c, err := ByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = ByName("cbor")
	require.NoError(t, err)
	assert.Equal(t, "cbor", c.Name())

	_, err = ByName("xml")
	assert.Error(t, err)
}

func TestValidateRejectsResultWithError(t *testing.T) {
	err := Validate(&Envelope{ID: NewID(1), Result: "x", Error: map[string]interface{}{"message": "boom"}})
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	assert.NoError(t, Validate(&Envelope{ID: NewID(1), Result: false}))
	assert.NoError(t, Validate(&Envelope{ID: NewID(1), Error: "nope"}))
	assert.NoError(t, Validate(&Envelope{Key: "zaf.app.registered", NeedsReply: true}))
	assert.ErrorIs(t, Validate(nil), ErrEmpty)
}

func TestFalsyErrorIsAbsent(t *testing.T) {
	for _, v := range []interface{}{nil, "", false, 0.0, int64(0), uint64(0)} {
		assert.False(t, (&Envelope{Error: v}).HasError(), "%#v", v)
	}
	for _, v := range []interface{}{"boom", true, 1.0, uint64(3), map[string]interface{}{}, []interface{}{}} {
		assert.True(t, (&Envelope{Error: v}).HasError(), "%#v", v)
	}

	env, err := JSON.Decode([]byte(`{"id":1,"error":"","result":null}`))
	require.NoError(t, err)
	require.NoError(t, Validate(env))
	assert.False(t, env.HasError())
}

package guestlink_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/guestlink-go"
)

func TestStripActionArgs(t *testing.T) {
	cases := map[string]string{
		"get-ticket.subject":                               "get-ticket.subject",
		"invoke-ticket.customField:custom_field_123.hide":  "invoke-ticket.customField:arg.hide",
		"invoke-ticket.customField:custom_field_123.show":  "invoke-ticket.customField:arg.show",
		"invoke-ticket.form.id:1,2,3":                      "invoke-ticket.form.id:arg",
		"get-assetURL:logo.png":                            "get-assetURL:arg",
		"set-ticket.customField:custom_field_9":            "set-ticket.customField:arg",
		"invoke-ticket.customField:custom_field_1.disable": "invoke-ticket.customField:arg.disable",
	}
	for in, want := range cases {
		assert.Equal(t, want, guestlink.StripActionArgs(in), in)
	}
}

func TestSecondsRange(t *testing.T) {
	upper := guestlink.DefaultRequestTimeout
	assert.Equal(t, "0-10", guestlink.SecondsRange(0, upper))
	assert.Equal(t, "0-10", guestlink.SecondsRange(9999*time.Millisecond, upper))
	assert.Equal(t, "10-20", guestlink.SecondsRange(10*time.Second, upper))
	assert.Equal(t, "290-300", guestlink.SecondsRange(299*time.Second, upper))
	assert.Equal(t, "300-", guestlink.SecondsRange(upper, upper))
	assert.Equal(t, "300-", guestlink.SecondsRange(time.Hour, upper))
}

func TestFutureSettlesOnce(t *testing.T) {
	fut := guestlink.Resolved("first")
	v, err, ok := fut.Poll()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	failed := guestlink.Failed[string](errors.New("nope"))
	_, err = failed.Await(context.Background())
	assert.EqualError(t, err, "nope")
	assert.EqualError(t, failed.Wait(context.Background()), "nope")
}

func TestAwaitHonoursContext(t *testing.T) {
	f := newRegistered(t)
	fut, err := f.client.Get("ticket.id")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fut.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, _, settled := fut.Poll()
	assert.False(t, settled, "abandoning the wait leaves the request pending")
	select {
	case <-fut.Done():
		t.Fatal("future settled")
	default:
	}
}

func TestErrorHelpers(t *testing.T) {
	timeout := &guestlink.Error{Type: guestlink.ErrorTypeTimeout, Message: "Invocation request timeout"}
	assert.True(t, guestlink.IsTimeout(timeout))
	assert.False(t, guestlink.IsUsage(timeout))
	assert.True(t, guestlink.IsClosed(guestlink.ErrClosed))
	assert.Equal(t, "client is closed", guestlink.ErrClosed.Error())

	wrapped := errors.Join(errors.New("context"), timeout)
	assert.True(t, guestlink.IsTimeout(wrapped))

	assert.Equal(t, "remote error: map[code:7]", (&guestlink.RemoteError{Raw: map[string]interface{}{"code": 7}}).Error())
	assert.Equal(t, "request failed", (&guestlink.RequestError{}).Error())
	assert.Equal(t, "request failed: timeout", (&guestlink.RequestError{Args: []interface{}{"timeout"}}).Error())
}

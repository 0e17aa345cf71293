package guestlink_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/guestlink-go"
	"github.com/machinefabric/guestlink-go/envelope"
	"github.com/machinefabric/guestlink-go/guestlinktest"
	"github.com/machinefabric/guestlink-go/metrics"
)

// TEST331: Instance returns the same child for the same guid and the node itself for its own
func Test331_instance_identity(t *testing.T) {
	f := newRegistered(t)
	guid := guestlinktest.NewInstanceGuid()

	a, err := f.client.Instance(guid)
	require.NoError(t, err)
	b, err := f.client.Instance(guid)
	require.NoError(t, err)
	assert.Same(t, a, b)

	self, err := f.client.Instance("A1")
	require.NoError(t, err)
	assert.Same(t, f.client, self)

	fromChild, err := a.Instance("A1")
	require.NoError(t, err)
	assert.Same(t, f.client, fromChild)

	childSelf, err := a.Instance(guid)
	require.NoError(t, err)
	assert.Same(t, a, childSelf)

	other, err := a.Instance("B2")
	require.NoError(t, err)
	again, err := f.client.Instance("B2")
	require.NoError(t, err)
	assert.Same(t, other, again)

	assert.Same(t, f.client, a.Parent())
	assert.Same(t, f.client, a.Root())
	assert.Equal(t, guid, a.InstanceGuid())
	assert.Equal(t, "A1", a.AppGuid())
}

// TEST332: Children share the correlation counter and address their own instance
func Test332_child_requests_route_through_root(t *testing.T) {
	f := newRegistered(t)
	child, err := f.client.Instance("B2")
	require.NoError(t, err)

	_, err = f.client.Get("ticket.id")
	require.NoError(t, err)
	fut, err := child.Invoke("resize", map[string]interface{}{"height": "80px"})
	require.NoError(t, err)

	req := f.host.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, envelope.NewID(2), req.ID)
	assert.Equal(t, "A1", req.AppGuid)
	assert.Equal(t, "B2", req.InstanceGuid)

	f.host.Send(&envelope.Envelope{ID: req.ID, Result: map[string]interface{}{}, InstanceGuid: "B2"})
	_, err = await(t, fut)
	require.NoError(t, err)
}

// TEST333: Events reach only the instance they target
func Test333_events_are_scoped_to_instances(t *testing.T) {
	f := newRegistered(t)
	child, err := f.client.Instance("B2")
	require.NoError(t, err)

	var rootCalls, childCalls int
	f.client.On("pane.activated", guestlink.Listener(func(interface{}) { rootCalls++ }))
	child.On("pane.activated", guestlink.Listener(func(interface{}) { childCalls++ }))

	f.host.Emit("B2", "pane.activated", nil)
	f.host.Emit("A1", "pane.activated", nil)
	f.host.Emit("", "pane.activated", nil)

	assert.Equal(t, 2, rootCalls)
	assert.Equal(t, 1, childCalls)

	on := f.host.Keyed("iframe.on:pane.activated")
	require.Len(t, on, 2)
	assert.Equal(t, "A1", on[0].InstanceGuid)
	assert.Equal(t, "B2", on[1].InstanceGuid)
}

func TestUnknownInstanceIsDropped(t *testing.T) {
	f := newRegistered(t)
	assert.NotPanics(t, func() {
		f.host.Emit("nobody", "pane.activated", nil)
		f.host.Hook("nobody", "ticket.save", nil)
	})
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Dropped.WithLabelValues(metrics.DropUnknownInstance)))
	assert.Empty(t, f.host.Posts())
}

func TestChildHookRepliesCarryAppGuid(t *testing.T) {
	f := newRegistered(t)
	child, err := f.client.Instance("B2")
	require.NoError(t, err)
	child.On("modal.close", func(interface{}) guestlink.Outcome { return guestlink.Reject("keep open") })

	f.host.Hook("B2", "modal.close", nil)

	replies := f.host.Keyed("zaf.reply:modal.close")
	require.Len(t, replies, 1)
	assert.Equal(t, "A1", replies[0].AppGuid)
	assert.Equal(t, map[string]interface{}{"msg": "keep open"}, replies[0].Error)
}

func TestReplyMarkersArePerInstance(t *testing.T) {
	f := newRegistered(t)
	child, err := f.client.Instance("B2")
	require.NoError(t, err)

	release := make(chan struct{})
	block := func(interface{}) guestlink.Outcome {
		return guestlink.Defer(func(ctx context.Context) error {
			<-release
			return nil
		})
	}
	f.client.On("ticket.save", block)
	child.On("ticket.save", block)

	f.host.Hook("A1", "ticket.save", nil)
	f.host.Hook("B2", "ticket.save", nil)
	assert.Zero(t, testutil.ToFloat64(f.metrics.Dropped.WithLabelValues(metrics.DropReplyInFlight)))

	close(release)
	require.Eventually(t, func() bool {
		return len(f.host.Keyed("zaf.reply:ticket.save")) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestChildInheritsReadiness(t *testing.T) {
	f := newFixture(t)
	early, err := f.client.Instance("B2")
	require.NoError(t, err)
	assert.False(t, early.Ready())

	early.PostMessage("hello", nil)
	assert.Empty(t, f.host.Keyed("hello"))

	f.host.Register(nil, nil)
	assert.True(t, early.Ready())
	hello := f.host.Keyed("hello")
	require.Len(t, hello, 1)
	assert.Equal(t, "B2", hello[0].InstanceGuid)

	late, err := f.client.Instance("C3")
	require.NoError(t, err)
	assert.True(t, late.Ready())
	assert.Empty(t, f.host.Keyed("iframe.handshake")[1:], "children never handshake")
}

func TestNewWithParentJoinsTheCache(t *testing.T) {
	f := newRegistered(t)

	direct, err := guestlink.New(guestlink.Options{Parent: f.client, InstanceGuid: "C3"})
	require.NoError(t, err)
	assert.True(t, direct.Ready())
	assert.Equal(t, "A1", direct.AppGuid())
	assert.Equal(t, f.client.Origin(), direct.Origin())

	cached, err := f.client.Instance("C3")
	require.NoError(t, err)
	assert.Same(t, direct, cached)

	var got int
	direct.On("pane.activated", guestlink.Listener(func(interface{}) { got++ }))
	f.host.Emit("C3", "pane.activated", nil)
	assert.Equal(t, 1, got)

	_, err = guestlink.New(guestlink.Options{Parent: f.client, Origin: "https://evil.example.com", InstanceGuid: "D4"})
	assert.Error(t, err)
}

func TestNewWithParentRejectsRoutedGuid(t *testing.T) {
	f := newRegistered(t)
	cached, err := f.client.Instance("B2")
	require.NoError(t, err)

	_, err = guestlink.New(guestlink.Options{Parent: f.client, InstanceGuid: "B2"})
	assert.True(t, guestlink.IsUsage(err))
	_, err = guestlink.New(guestlink.Options{Parent: cached, InstanceGuid: "A1"})
	assert.True(t, guestlink.IsUsage(err))
	_, err = guestlink.New(guestlink.Options{Parent: f.client})
	assert.True(t, guestlink.IsUsage(err), "instance guid defaults to the root's")

	again, err := f.client.Instance("B2")
	require.NoError(t, err)
	assert.Same(t, cached, again)
	assert.Len(t, f.host.Keyed("iframe.on:context.updated"), 1, "rejected nodes never subscribe")
}

// TEST334: Creating a child does not hold up inbound routing while it writes
func Test334_instance_writes_without_blocking_routing(t *testing.T) {
	f := newRegistered(t)

	var stalled atomic.Bool
	f.host.OnPost(func(guestlinktest.Post) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			f.host.Emit("other", "ping", nil)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			stalled.Store(true)
		}
	})

	type created struct {
		child *guestlink.Client
		err   error
	}
	result := make(chan created, 1)
	go func() {
		child, err := f.client.Instance("child-1")
		result <- created{child, err}
	}()

	select {
	case got := <-result:
		require.NoError(t, got.err)
		assert.Equal(t, "child-1", got.child.InstanceGuid())
	case <-time.After(3 * time.Second):
		t.Fatal("Instance blocked while the host delivered an event")
	}
	f.host.OnPost(nil)

	assert.False(t, stalled.Load(), "inbound event waited on instance creation")
	assert.Len(t, f.host.Keyed("iframe.on:context.updated"), 1)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.Dropped.WithLabelValues(metrics.DropUnknownInstance)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestChildContextIsFetched(t *testing.T) {
	f := newRegistered(t)
	child, err := f.client.Instance("B2")
	require.NoError(t, err)

	ctx := child.Context()
	req := f.host.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, []interface{}{"instances.B2"}, req.Params)

	f.host.Reply(req.ID, map[string]interface{}{"instances.B2": map[string]interface{}{"location": "modal"}})
	got, err := await(t, ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"location": "modal"}, got)

	cached, err, ok := child.Context().Poll()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, got, cached)
}

func TestChildMetadataComesFromRoot(t *testing.T) {
	f := newFixture(t)
	child, err := f.client.Instance("B2")
	require.NoError(t, err)

	md := child.Metadata()
	f.host.Register(map[string]interface{}{"name": "Demo"}, nil)
	got, err := await(t, md)
	require.NoError(t, err)
	assert.Equal(t, "Demo", got.Name)
}

func TestChildRequestDelegatesToRoot(t *testing.T) {
	f := newRegistered(t)
	child, err := f.client.Instance("B2")
	require.NoError(t, err)

	fut, err := child.RequestURL("/api/v2/me.json")
	require.NoError(t, err)
	sent := f.host.Keyed("request:1")
	require.Len(t, sent, 1)
	assert.Equal(t, "A1", sent[0].InstanceGuid)

	f.host.Emit("", "request:1.done", map[string]interface{}{"responseArgs": []interface{}{"ok"}})
	got, err := await(t, fut)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

package guestlink_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/guestlink-go"
	"github.com/machinefabric/guestlink-go/envelope"
	"github.com/machinefabric/guestlink-go/guestlinktest"
	"github.com/machinefabric/guestlink-go/metrics"
)

type fixture struct {
	client  *guestlink.Client
	host    *guestlinktest.Host
	clock   clockwork.FakeClock
	metrics *metrics.Collector
}

// newFixture builds an unregistered guest on a fake host.
func newFixture(t *testing.T, mutate ...func(*guestlink.Options)) *fixture {
	t.Helper()
	f := &fixture{
		host:    guestlinktest.NewHost(guestlinktest.DefaultOrigin),
		clock:   clockwork.NewFakeClock(),
		metrics: metrics.New(nil),
	}
	opts := guestlink.Options{
		Origin:  f.host.Origin(),
		AppGuid: "A1",
		Window:  f.host,
		Clock:   f.clock,
		Metrics: f.metrics,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := guestlink.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	f.client = c
	return f
}

// newRegistered builds a guest the host has already registered, with the
// recorded writes cleared.
func newRegistered(t *testing.T, mutate ...func(*guestlink.Options)) *fixture {
	t.Helper()
	f := newFixture(t, mutate...)
	f.host.Register(nil, nil)
	require.True(t, f.client.Ready())
	f.host.Reset()
	return f
}

func await[T any](t *testing.T, fut *guestlink.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := fut.Await(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "future did not settle")
	return v, err
}

func messages(envs []*envelope.Envelope) []interface{} {
	out := make([]interface{}, len(envs))
	for i, env := range envs {
		out[i] = env.Message
	}
	return out
}

func count(n float64) map[string]interface{} {
	return map[string]interface{}{"subscriberCount": n}
}

// Package metrics exposes guest protocol counters to Prometheus.
//
// A nil *Collector is valid and records nothing, so nodes can be built
// without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "guestlink"

// Drop reasons reported by ObserveDrop.
const (
	DropUntrusted       = "untrusted"
	DropUndecodable     = "undecodable"
	DropInvalid         = "invalid"
	DropUnknownInstance = "unknown_instance"
	DropUnmatched       = "unmatched"
	DropReplyInFlight   = "reply_in_flight"
)

// Collector holds all guest metrics.
type Collector struct {
	Requests       *prometheus.CounterVec
	Timeouts       *prometheus.CounterVec
	SlowRequests   *prometheus.CounterVec
	Pending        prometheus.Gauge
	Dropped        *prometheus.CounterVec
	Replies        *prometheus.CounterVec
	Posted         prometheus.Counter
	InvalidOrigins prometheus.Counter
}

// New registers the guest metrics with reg. Passing nil uses a private
// registry, which keeps tests and multiple guests from colliding.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Collector{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Correlated requests issued, by request kind.",
		}, []string{"request"}),
		Timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_timeouts_total",
			Help:      "Correlated requests rejected because no reply arrived in time.",
		}, []string{"request"}),
		SlowRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_requests_total",
			Help:      "Correlated requests answered after the slow threshold.",
		}, []string{"request"}),
		Pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Correlated requests waiting for a reply.",
		}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_dropped_total",
			Help:      "Inbound messages discarded before dispatch, by reason.",
		}, []string{"reason"}),
		Replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_replies_total",
			Help:      "Replies sent for hook events, by outcome.",
		}, []string{"outcome"}),
		Posted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_posted_total",
			Help:      "Envelopes written to the channel.",
		}),
		InvalidOrigins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_origin_total",
			Help:      "Guests that refused to start because of their configured origin.",
		}),
	}
}

// ObserveRequest counts an issued request.
func (c *Collector) ObserveRequest(kind string) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(kind).Inc()
	c.Pending.Inc()
}

// ObserveSettled marks a pending request as finished.
func (c *Collector) ObserveSettled() {
	if c == nil {
		return
	}
	c.Pending.Dec()
}

// ObserveTimeout counts a timed out request.
func (c *Collector) ObserveTimeout(kind string) {
	if c == nil {
		return
	}
	c.Timeouts.WithLabelValues(kind).Inc()
}

// ObserveSlow counts a request answered after the slow threshold.
func (c *Collector) ObserveSlow(kind string) {
	if c == nil {
		return
	}
	c.SlowRequests.WithLabelValues(kind).Inc()
}

// ObserveDrop counts a discarded inbound message.
func (c *Collector) ObserveDrop(reason string) {
	if c == nil {
		return
	}
	c.Dropped.WithLabelValues(reason).Inc()
}

// ObserveReply counts a hook reply.
func (c *Collector) ObserveReply(ok bool) {
	if c == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	c.Replies.WithLabelValues(outcome).Inc()
}

// ObservePosted counts an envelope written to the channel.
func (c *Collector) ObservePosted() {
	if c == nil {
		return
	}
	c.Posted.Inc()
}

// ObserveInvalidOrigin counts a refused construction.
func (c *Collector) ObserveInvalidOrigin() {
	if c == nil {
		return
	}
	c.InvalidOrigins.Inc()
}

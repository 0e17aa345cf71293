package guestlink

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/machinefabric/guestlink-go/envelope"
	"github.com/machinefabric/guestlink-go/metrics"
	"github.com/machinefabric/guestlink-go/origin"
)

// Version is announced to the host in the handshake.
const Version = "2.0.0"

const (
	// DefaultRequestTimeout bounds correlated requests.
	DefaultRequestTimeout = 5 * time.Minute
	// DefaultSlowRequestThreshold is the elapsed time after which a
	// successful request is reported to the tracking channel.
	DefaultSlowRequestThreshold = 10 * time.Second
)

// DefaultNoTimeoutActions are invoke actions that run without a timeout.
func DefaultNoTimeoutActions() []string {
	return []string{"instances.create"}
}

// Options configures a Client. Origin and AppGuid are required for a root
// client; a child built with Parent inherits everything it leaves unset.
type Options struct {
	// Origin is the host's origin. It must pass Origins.
	Origin string
	// AppGuid identifies the owning application.
	AppGuid string
	// Window is the channel. Required for a root client.
	Window Window
	// Source is the host endpoint; defaults to Window.Parent().
	Source Endpoint
	// Parent makes the new client a child routed through Parent's root.
	Parent *Client
	// InstanceGuid defaults to AppGuid.
	InstanceGuid string
	// Context pre-seeds the shared context snapshot.
	Context map[string]interface{}

	Codec   envelope.Codec
	Logger  *zap.Logger
	Clock   clockwork.Clock
	Metrics *metrics.Collector
	Origins *origin.Validator

	RequestTimeout       time.Duration
	SlowRequestThreshold time.Duration
	NoTimeoutActions     []string
}

func (o *Options) setDefaults() {
	if o.Source == nil && o.Window != nil {
		o.Source = o.Window.Parent()
	}
	if o.InstanceGuid == "" {
		o.InstanceGuid = o.AppGuid
	}
	if o.Codec == nil {
		o.Codec = envelope.JSON
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Origins == nil {
		o.Origins = origin.NewValidator(origin.DefaultPatterns()...)
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.SlowRequestThreshold <= 0 {
		o.SlowRequestThreshold = DefaultSlowRequestThreshold
	}
	if o.NoTimeoutActions == nil {
		o.NoTimeoutActions = DefaultNoTimeoutActions()
	}
}

// inherit fills a child's unset options from its parent.
func (o *Options) inherit(p *Client) {
	if o.Origin == "" {
		o.Origin = p.origin
	}
	if o.Source == nil {
		o.Source = p.source
	}
	if o.AppGuid == "" {
		o.AppGuid = p.appGuid
	}
	if o.InstanceGuid == "" {
		o.InstanceGuid = o.AppGuid
	}
	if o.Origins == nil {
		o.Origins = p.link.origins
	}
}

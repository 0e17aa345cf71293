// Package tracker reports user activity inside the guest back to the host.
package tracker

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/machinefabric/guestlink-go"
)

// MinHoverTime is the shortest hover worth reporting.
const MinHoverTime = 200 * time.Millisecond

const trackAction = "track"

// Invoker runs host actions. *guestlink.Client implements it.
type Invoker interface {
	Invoke(name string, args ...interface{}) (*guestlink.Future[guestlink.Result], error)
}

// Interaction turns clicks and hovers over the guest into track actions.
type Interaction struct {
	client Invoker
	clock  clockwork.Clock
	logger *zap.Logger

	mu        sync.Mutex
	enteredAt time.Time
}

// NewInteraction returns a tracker reporting through client. A nil clock
// uses the wall clock, a nil logger discards.
func NewInteraction(client Invoker, clock clockwork.Clock, logger *zap.Logger) *Interaction {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interaction{
		client:    client,
		clock:     clock,
		logger:    logger,
		enteredAt: clock.Now(),
	}
}

// Click reports a click.
func (t *Interaction) Click() {
	t.track(map[string]interface{}{"type": "click"})
}

// Enter marks the pointer entering the guest.
func (t *Interaction) Enter() {
	t.mu.Lock()
	t.enteredAt = t.clock.Now()
	t.mu.Unlock()
}

// Leave reports a hover when the pointer stayed at least MinHoverTime.
func (t *Interaction) Leave() {
	t.mu.Lock()
	over := t.clock.Since(t.enteredAt)
	t.mu.Unlock()
	if over < MinHoverTime {
		return
	}
	t.track(map[string]interface{}{"type": "hover", "value": over.Milliseconds()})
}

func (t *Interaction) track(event map[string]interface{}) {
	if _, err := t.client.Invoke(trackAction, event); err != nil {
		t.logger.Debug("failed to track interaction", zap.Any("event", event), zap.Error(err))
	}
}

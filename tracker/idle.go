package tracker

import (
	"reflect"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultIdleTimeout is the quiet period after which the guest is idle.
const DefaultIdleTimeout = 3 * time.Minute

// IdleStateKey is the notification posted to the host on every change.
const IdleStateKey = "app.idle_state"

// State is either StateActive or StateIdle.
type State string

const (
	StateActive State = "active"
	StateIdle   State = "idle"
)

// mousemove is ignored while the window has no focus.
const eventMouseMove = "mousemove"

// Observer is told about every state change. Adding the same observer
// twice needs two removals.
type Observer interface {
	IdleStateChanged(state State)
}

// Poster sends notifications to the host. *guestlink.Client implements it.
type Poster interface {
	PostMessage(name string, data interface{})
}

type observerEntry struct {
	o     Observer
	count int
}

// IdleState tracks whether the user interacted with the guest within the
// last timeout. An IdleState moves to idle only after a full timeout cycle
// with no activity, and back to active on the next interaction.
type IdleState struct {
	registry *IdleStates
	timeout  time.Duration

	mu        sync.Mutex
	refs      int
	state     State
	active    bool
	hasFocus  bool
	visible   bool
	timer     clockwork.Timer
	observers []*observerEntry
}

// State returns the current state.
func (s *IdleState) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Timeout returns the idle timeout.
func (s *IdleState) Timeout() time.Duration { return s.timeout }

// AddObserver registers o and returns the function removing it.
func (s *IdleState) AddObserver(o Observer) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.find(o); e != nil {
		e.count++
	} else {
		s.observers = append(s.observers, &observerEntry{o: o, count: 1})
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.observers {
			if sameObserver(e.o, o) {
				e.count--
				if e.count == 0 {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				}
				return
			}
		}
	}
}

func (s *IdleState) find(o Observer) *observerEntry {
	for _, e := range s.observers {
		if sameObserver(e.o, o) {
			return e
		}
	}
	return nil
}

func sameObserver(a, b Observer) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}

// UserEvent records a user interaction of kind (mousemove, keydown and the
// like). Events are ignored while the guest is hidden, and pointer moves
// while it has no focus.
func (s *IdleState) UserEvent(kind string) {
	s.mu.Lock()
	if !s.visible || (!s.hasFocus && kind == eventMouseMove) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.markActive()
}

// Focus records the window gaining or losing focus. Gaining focus counts
// as activity.
func (s *IdleState) Focus(focused bool) {
	s.mu.Lock()
	s.hasFocus = focused
	s.mu.Unlock()
	if focused {
		s.markActive()
	}
}

// Visibility records the guest being shown or hidden.
func (s *IdleState) Visibility(visible bool) {
	s.mu.Lock()
	s.visible = visible
	s.mu.Unlock()
}

// Release drops one reference. The last release stops the timer and
// removes the state from its registry.
func (s *IdleState) Release() {
	s.registry.release(s)
}

func (s *IdleState) markActive() {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	s.setState(StateActive)
}

func (s *IdleState) tick() {
	s.mu.Lock()
	if s.refs == 0 {
		s.mu.Unlock()
		return
	}
	s.timer = s.registry.clock.AfterFunc(s.timeout, s.tick)
	hadActivity := s.active
	s.active = false
	s.mu.Unlock()

	if !hadActivity {
		s.setState(StateIdle)
	}
}

func (s *IdleState) setState(state State) {
	s.mu.Lock()
	if s.state == state || s.refs == 0 {
		s.mu.Unlock()
		return
	}
	s.state = state
	observers := make([]Observer, len(s.observers))
	for i, e := range s.observers {
		observers[i] = e.o
	}
	s.mu.Unlock()

	for _, o := range observers {
		o.IdleStateChanged(state)
	}
	if p := s.registry.poster; p != nil {
		p.PostMessage(IdleStateKey, map[string]interface{}{
			"state":   string(state),
			"timeout": s.timeout.Milliseconds(),
		})
	}
}

// IdleStates shares one IdleState per timeout between its consumers.
type IdleStates struct {
	clock  clockwork.Clock
	poster Poster

	mu     sync.Mutex
	states map[time.Duration]*IdleState
}

// NewIdleStates returns a registry. When poster is set every state change
// is also posted to the host. A nil clock uses the wall clock.
func NewIdleStates(clock clockwork.Clock, poster Poster) *IdleStates {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IdleStates{
		clock:  clock,
		poster: poster,
		states: make(map[time.Duration]*IdleState),
	}
}

// Acquire returns the shared IdleState for timeout, creating it when
// needed. Zero or negative timeouts use DefaultIdleTimeout. Every Acquire
// must be paired with a Release.
func (r *IdleStates) Acquire(timeout time.Duration) *IdleState {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.states[timeout]; ok {
		s.mu.Lock()
		s.refs++
		s.mu.Unlock()
		return s
	}

	s := &IdleState{
		registry: r,
		timeout:  timeout,
		refs:     1,
		state:    StateActive,
		active:   true,
		hasFocus: true,
		visible:  true,
	}
	s.mu.Lock()
	s.timer = r.clock.AfterFunc(timeout, s.tick)
	s.mu.Unlock()
	r.states[timeout] = s
	return s
}

// Len returns the number of live idle states.
func (r *IdleStates) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *IdleStates) release(s *IdleState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.mu.Lock()
	if s.refs == 0 {
		s.mu.Unlock()
		return
	}
	s.refs--
	last := s.refs == 0
	if last {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.observers = nil
	}
	s.mu.Unlock()

	if last && r.states[s.timeout] == s {
		delete(r.states, s.timeout)
	}
}

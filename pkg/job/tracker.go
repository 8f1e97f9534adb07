package job

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// legal lists the allowed transitions out of each non-terminal state.
var legal = map[State][]State{
	NotStarted: {Running, Failed, Cancelled},
	Running:    {Running, Completed, Failed, Cancelled},
}

// Transition is one recorded state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Tracker records the state of a named job and rejects illegal
// transitions, e.g. Completed -> Running.
type Tracker struct {
	name string

	mu      sync.Mutex
	state   State
	history []Transition
}

// NewTracker returns a tracker in NotStarted.
func NewTracker(name string) *Tracker {
	return &Tracker{name: name, state: NotStarted}
}

// Name returns the job name.
func (t *Tracker) Name() string { return t.name }

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transition moves the job to `to`. Running -> Running is allowed and is
// not recorded in the history.
func (t *Tracker) Transition(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !slices.Contains(legal[t.state], to) {
		return fmt.Errorf("job %s: illegal transition %s -> %s", t.name, t.state, to)
	}
	if t.state != to {
		t.history = append(t.history, Transition{From: t.state, To: to, At: time.Now()})
	}
	t.state = to
	return nil
}

// History returns the recorded transitions in order.
func (t *Tracker) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.history)
}

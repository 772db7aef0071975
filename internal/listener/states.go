package listener

import (
	"fmt"
	"slices"
	"sync"

	"github.com/lfmartins/telesync/internal/bus"
)

// State represents a listener lifecycle state.
type State string

const (
	Starting  State = "STARTING"
	Listening State = "LISTENING"
	Draining  State = "DRAINING"
	Stopped   State = "STOPPED"
)

// validTransitions defines allowed state transitions. Stopped is
// terminal.
var validTransitions = map[State][]State{
	Starting:  {Listening, Stopped},
	Listening: {Draining},
	Draining:  {Stopped},
	Stopped:   {},
}

// machine tracks and enforces listener state transitions, announcing
// each change on the bus.
type machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

func newMachine(b *bus.Bus) *machine {
	return &machine{current: Starting, bus: b}
}

func (m *machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.KindListenerState, StateChange{From: from, To: to}))
	}
	return nil
}

// StateChange is the payload of listener.state events.
type StateChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}

package session

import (
	"fmt"
	"sync"

	"github.com/quillback/parley/internal/event"
)

// State represents the lifecycle state of the agent session.
type State int

const (
	// StateStopped means no agent process exists and none is wanted.
	StateStopped State = iota
	// StateStarting means the process is launching or awaiting its first prompt.
	StateStarting
	// StateReady means the agent is idle at its prompt and can accept a turn.
	StateReady
	// StateBusy means a turn is in flight.
	StateBusy
	// StateCrashed means the process exited without being asked to.
	StateCrashed
	// StateRestarting means a deliberate stop-and-relaunch cycle is underway.
	StateRestarting
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateCrashed:
		return "crashed"
	case StateRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// validTransitions defines the allowed state graph. Anything not listed
// here is rejected by Transition, which keeps lifecycle bugs loud
// instead of letting the session drift into an impossible state.
var validTransitions = map[State][]State{
	StateStopped:    {StateStarting},
	StateStarting:   {StateReady, StateCrashed, StateStopped},
	StateReady:      {StateBusy, StateRestarting, StateCrashed, StateStopped},
	StateBusy:       {StateReady, StateRestarting, StateCrashed, StateStopped},
	StateCrashed:    {StateRestarting, StateStopped},
	StateRestarting: {StateStarting, StateCrashed, StateStopped},
}

// canTransition reports whether moving from one state to another is allowed.
func canTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMachine tracks the session state and publishes a
// StateChangedEvent on every successful transition.
//
// StateMachine is safe for concurrent use.
type StateMachine struct {
	mu      sync.RWMutex
	current State
	bus     *event.Bus
}

// NewStateMachine creates a state machine starting at StateStopped.
// The bus may be nil, in which case transitions are not published.
func NewStateMachine(bus *event.Bus) *StateMachine {
	return &StateMachine{
		current: StateStopped,
		bus:     bus,
	}
}

// Current returns the current state.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Is reports whether the current state is one of the given states.
func (sm *StateMachine) Is(states ...State) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, s := range states {
		if sm.current == s {
			return true
		}
	}
	return false
}

// Transition moves the machine to the given state. It returns an error
// if the transition is not in the allowed state graph; the current
// state is unchanged on error. A transition to the current state is a
// no-op and publishes nothing.
func (sm *StateMachine) Transition(to State) error {
	sm.mu.Lock()
	from := sm.current
	if from == to {
		sm.mu.Unlock()
		return nil
	}
	if !canTransition(from, to) {
		sm.mu.Unlock()
		return fmt.Errorf("invalid state transition: %s -> %s", from, to)
	}
	sm.current = to
	bus := sm.bus
	sm.mu.Unlock()

	// Publish outside the lock so handlers can read the machine.
	if bus != nil {
		bus.Publish(event.NewStateChangedEvent(from.String(), to.String()))
	}
	return nil
}

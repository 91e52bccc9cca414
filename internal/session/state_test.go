package session

import (
	"sync"
	"testing"

	"github.com/quillback/parley/internal/event"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "stopped"},
		{StateStarting, "starting"},
		{StateReady, "ready"},
		{StateBusy, "busy"},
		{StateCrashed, "crashed"},
		{StateRestarting, "restarting"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStateMachine_InitialState(t *testing.T) {
	sm := NewStateMachine(nil)
	if got := sm.Current(); got != StateStopped {
		t.Errorf("initial state = %v, want %v", got, StateStopped)
	}
}

func TestStateMachine_ValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"stopped to starting", StateStopped, StateStarting},
		{"starting to ready", StateStarting, StateReady},
		{"starting to crashed", StateStarting, StateCrashed},
		{"starting to stopped", StateStarting, StateStopped},
		{"ready to busy", StateReady, StateBusy},
		{"ready to restarting", StateReady, StateRestarting},
		{"ready to crashed", StateReady, StateCrashed},
		{"ready to stopped", StateReady, StateStopped},
		{"busy to ready", StateBusy, StateReady},
		{"busy to restarting", StateBusy, StateRestarting},
		{"busy to crashed", StateBusy, StateCrashed},
		{"busy to stopped", StateBusy, StateStopped},
		{"crashed to restarting", StateCrashed, StateRestarting},
		{"crashed to stopped", StateCrashed, StateStopped},
		{"restarting to starting", StateRestarting, StateStarting},
		{"restarting to crashed", StateRestarting, StateCrashed},
		{"restarting to stopped", StateRestarting, StateStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine(nil)
			sm.current = tt.from

			if err := sm.Transition(tt.to); err != nil {
				t.Fatalf("Transition(%v) from %v returned error: %v", tt.to, tt.from, err)
			}
			if got := sm.Current(); got != tt.to {
				t.Errorf("state after transition = %v, want %v", got, tt.to)
			}
		})
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"stopped to ready", StateStopped, StateReady},
		{"stopped to busy", StateStopped, StateBusy},
		{"stopped to crashed", StateStopped, StateCrashed},
		{"stopped to restarting", StateStopped, StateRestarting},
		{"starting to busy", StateStarting, StateBusy},
		{"starting to restarting", StateStarting, StateRestarting},
		{"ready to starting", StateReady, StateStarting},
		{"busy to starting", StateBusy, StateStarting},
		{"crashed to ready", StateCrashed, StateReady},
		{"crashed to busy", StateCrashed, StateBusy},
		{"crashed to starting", StateCrashed, StateStarting},
		{"restarting to ready", StateRestarting, StateReady},
		{"restarting to busy", StateRestarting, StateBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine(nil)
			sm.current = tt.from

			if err := sm.Transition(tt.to); err == nil {
				t.Fatalf("Transition(%v) from %v succeeded, want error", tt.to, tt.from)
			}
			if got := sm.Current(); got != tt.from {
				t.Errorf("state after rejected transition = %v, want %v", got, tt.from)
			}
		})
	}
}

func TestStateMachine_SameStateIsNoOp(t *testing.T) {
	bus := event.NewBus()
	published := 0
	bus.Subscribe("session.state_changed", func(e event.Event) {
		published++
	})

	sm := NewStateMachine(bus)
	if err := sm.Transition(StateStopped); err != nil {
		t.Fatalf("Transition to current state returned error: %v", err)
	}
	if published != 0 {
		t.Errorf("no-op transition published %d events, want 0", published)
	}
}

func TestStateMachine_PublishesStateChangedEvent(t *testing.T) {
	bus := event.NewBus()
	var events []event.StateChangedEvent
	bus.Subscribe("session.state_changed", func(e event.Event) {
		if sc, ok := e.(event.StateChangedEvent); ok {
			events = append(events, sc)
		}
	})

	sm := NewStateMachine(bus)
	if err := sm.Transition(StateStarting); err != nil {
		t.Fatalf("Transition(StateStarting) returned error: %v", err)
	}
	if err := sm.Transition(StateReady); err != nil {
		t.Fatalf("Transition(StateReady) returned error: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d state change events, want 2", len(events))
	}
	if events[0].Previous != "stopped" || events[0].Current != "starting" {
		t.Errorf("first event = %s -> %s, want stopped -> starting", events[0].Previous, events[0].Current)
	}
	if events[1].Previous != "starting" || events[1].Current != "ready" {
		t.Errorf("second event = %s -> %s, want starting -> ready", events[1].Previous, events[1].Current)
	}
}

func TestStateMachine_Is(t *testing.T) {
	sm := NewStateMachine(nil)
	sm.current = StateReady

	if !sm.Is(StateReady) {
		t.Error("Is(StateReady) = false, want true")
	}
	if !sm.Is(StateBusy, StateReady) {
		t.Error("Is(StateBusy, StateReady) = false, want true")
	}
	if sm.Is(StateBusy, StateCrashed) {
		t.Error("Is(StateBusy, StateCrashed) = true, want false")
	}
	if sm.Is() {
		t.Error("Is() with no states = true, want false")
	}
}

func TestStateMachine_FullLifecycle(t *testing.T) {
	// Walk the path of a session that starts, runs a turn, crashes,
	// recovers, and is finally shut down.
	sm := NewStateMachine(event.NewBus())

	path := []State{
		StateStarting,
		StateReady,
		StateBusy,
		StateReady,
		StateBusy,
		StateCrashed,
		StateRestarting,
		StateStarting,
		StateReady,
		StateStopped,
	}
	for i, to := range path {
		if err := sm.Transition(to); err != nil {
			t.Fatalf("step %d: Transition(%v) returned error: %v", i, to, err)
		}
	}
	if got := sm.Current(); got != StateStopped {
		t.Errorf("final state = %v, want %v", got, StateStopped)
	}
}

func TestStateMachine_ConcurrentAccess(t *testing.T) {
	sm := NewStateMachine(event.NewBus())
	if err := sm.Transition(StateStarting); err != nil {
		t.Fatalf("Transition(StateStarting) returned error: %v", err)
	}
	if err := sm.Transition(StateReady); err != nil {
		t.Fatalf("Transition(StateReady) returned error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = sm.Current()
				_ = sm.Is(StateReady, StateBusy)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				// Only one of each pair can win; errors are expected.
				_ = sm.Transition(StateBusy)
				_ = sm.Transition(StateReady)
			}
		}()
	}
	wg.Wait()

	if got := sm.Current(); got != StateReady && got != StateBusy {
		t.Errorf("state after concurrent transitions = %v, want ready or busy", got)
	}
}

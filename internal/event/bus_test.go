package event

import (
	"sync"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe("test.event", func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}

	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}

	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus()

	var receivedEvent Event
	bus.Subscribe("session.started", func(e Event) {
		receivedEvent = e
	})

	bus.Publish(NewSessionStartedEvent(4242, "/home/dev/project", "sonnet"))

	if receivedEvent == nil {
		t.Fatal("Handler should have received the event")
	}

	started, ok := receivedEvent.(SessionStartedEvent)
	if !ok {
		t.Fatalf("Expected SessionStartedEvent, got %T", receivedEvent)
	}
	if started.PID != 4242 {
		t.Errorf("PID = %d, want 4242", started.PID)
	}
	if started.Workdir != "/home/dev/project" {
		t.Errorf("Workdir = %q, want %q", started.Workdir, "/home/dev/project")
	}
}

func TestBus_PublishMultipleHandlers(t *testing.T) {
	bus := NewBus()

	callCount := 0
	bus.Subscribe("test.event", func(e Event) {
		callCount++
	})
	bus.Subscribe("test.event", func(e Event) {
		callCount++
	})

	bus.Publish(newBaseEvent("test.event"))

	if callCount != 2 {
		t.Errorf("Expected both handlers to be called, got %d calls", callCount)
	}
}

func TestBus_PublishNoMatchingHandlers(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("other.event", func(e Event) {
		t.Error("Handler should not be called for non-matching event type")
	})

	// This should not panic or call the handler
	bus.Publish(newBaseEvent("test.event"))
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()

	var events []string
	bus.SubscribeAll(func(e Event) {
		events = append(events, e.EventType())
	})

	bus.Publish(newBaseEvent("event.one"))
	bus.Publish(newBaseEvent("event.two"))
	bus.Publish(newBaseEvent("event.three"))

	if len(events) != 3 {
		t.Errorf("Expected 3 events, got %d", len(events))
	}

	expected := []string{"event.one", "event.two", "event.three"}
	for i, e := range expected {
		if events[i] != e {
			t.Errorf("Expected event %d to be '%s', got '%s'", i, e, events[i])
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe("test.event", func(e Event) {
		called = true
	})

	removed := bus.Unsubscribe(id)
	if !removed {
		t.Error("Unsubscribe should return true when subscription exists")
	}

	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after unsubscribe, got %d", bus.SubscriptionCount())
	}

	bus.Publish(newBaseEvent("test.event"))

	if called {
		t.Error("Handler should not be called after unsubscribing")
	}
}

func TestBus_UnsubscribeNonExistent(t *testing.T) {
	bus := NewBus()

	removed := bus.Unsubscribe("non-existent-id")
	if removed {
		t.Error("Unsubscribe should return false for non-existent ID")
	}
}

func TestBus_UnsubscribeOne(t *testing.T) {
	bus := NewBus()

	calls := make(map[string]int)
	id1 := bus.Subscribe("test.event", func(e Event) {
		calls["handler1"]++
	})
	bus.Subscribe("test.event", func(e Event) {
		calls["handler2"]++
	})

	bus.Unsubscribe(id1)

	bus.Publish(newBaseEvent("test.event"))

	if calls["handler1"] != 0 {
		t.Error("handler1 should not be called after unsubscribing")
	}
	if calls["handler2"] != 1 {
		t.Error("handler2 should still be called")
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe("test.event", func(e Event) {
		calls++
		panic("handler panic")
	})
	bus.Subscribe("test.event", func(e Event) {
		calls++
	})

	// Should not panic
	bus.Publish(newBaseEvent("test.event"))

	if calls != 2 {
		t.Errorf("Expected both handlers to be called despite panic, got %d calls", calls)
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	calls := 0
	bus.Subscribe("test.event", func(e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(newBaseEvent("test.event"))
		}()
	}
	wg.Wait()

	if calls != 100 {
		t.Errorf("Expected 100 calls, got %d", calls)
	}
}

func TestBus_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := bus.Subscribe("test.event", func(e Event) {})
			bus.Unsubscribe(id)
		}()
	}
	wg.Wait()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after concurrent add/remove, got %d", bus.SubscriptionCount())
	}
}

func TestBus_MixedSubscriptions(t *testing.T) {
	bus := NewBus()

	var events []string
	bus.Subscribe("specific.event", func(e Event) {
		events = append(events, "specific:"+e.EventType())
	})
	bus.SubscribeAll(func(e Event) {
		events = append(events, "wildcard:"+e.EventType())
	})

	bus.Publish(newBaseEvent("specific.event"))

	if len(events) != 2 {
		t.Errorf("Expected 2 handler calls, got %d", len(events))
	}

	if events[0] != "specific:specific.event" {
		t.Errorf("Specific handler should run first, got %q", events[0])
	}
	if events[1] != "wildcard:specific.event" {
		t.Errorf("Wildcard handler should run second, got %q", events[1])
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus()

	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := bus.Subscribe("test.event", func(e Event) {})
		if ids[id] {
			t.Errorf("Duplicate subscription ID: %s", id)
		}
		ids[id] = true
	}
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"session started", NewSessionStartedEvent(1, "/w", "m"), "session.started"},
		{"session stopped", NewSessionStoppedEvent("user kill"), "session.stopped"},
		{"state changed", NewStateChangedEvent("ready", "busy"), "session.state_changed"},
		{"crash detected", NewCrashDetectedEvent(1, 137, "2m10s"), "session.crash_detected"},
		{"restart started", NewRestartStartedEvent(1, "crash recovery"), "session.restart_started"},
		{"restart completed", NewRestartCompletedEvent(1, true, ""), "session.restart_completed"},
		{"turn started", NewTurnStartedEvent("t-1", "U123"), "turn.started"},
		{"turn completed", NewTurnCompletedEvent("t-1", "completed", time.Second), "turn.completed"},
		{"turn timeout", NewTurnTimeoutEvent("t-1", 5*time.Minute, 1024), "turn.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.EventType(); got != tt.want {
				t.Errorf("EventType() = %q, want %q", got, tt.want)
			}
			if tt.ev.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestStateChangedEvent_Fields(t *testing.T) {
	ev := NewStateChangedEvent("busy", "crashed")
	if ev.Previous != "busy" || ev.Current != "crashed" {
		t.Errorf("StateChangedEvent = %q -> %q, want busy -> crashed", ev.Previous, ev.Current)
	}
}

func TestTurnTimeoutEvent_Fields(t *testing.T) {
	ev := NewTurnTimeoutEvent("t-9", 30*time.Second, 512)
	if ev.TurnID != "t-9" {
		t.Errorf("TurnID = %q, want t-9", ev.TurnID)
	}
	if ev.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", ev.Timeout)
	}
	if ev.CapturedBytes != 512 {
		t.Errorf("CapturedBytes = %d, want 512", ev.CapturedBytes)
	}
}

// Package event provides a pub-sub event bus for decoupled communication
// between the session supervisor, the turn serializer, and the bridge
// controller.
//
// The supervisor and serializer publish lifecycle events without knowing
// who consumes them; the bridge subscribes to the events it translates
// into user-visible notifications, and the command layer can attach a
// wildcard subscriber that mirrors every event into the debug log.
//
// # Main Types
//
//   - [Event]: interface all events implement, providing EventType() and Timestamp()
//   - [Bus]: synchronous pub-sub dispatcher, safe for concurrent use
//   - [Handler]: function type for event handlers (func(Event))
//
// # Event Categories
//
// Session lifecycle:
//   - [SessionStartedEvent]: the agent process started and reached its prompt
//   - [SessionStoppedEvent]: the agent process was stopped on request
//   - [StateChangedEvent]: the session state machine moved to a new state
//   - [CrashDetectedEvent]: the agent process exited unexpectedly
//   - [RestartStartedEvent]: a restart cycle began
//   - [RestartCompletedEvent]: a restart cycle finished
//
// Turn lifecycle:
//   - [TurnStartedEvent]: a turn acquired the exclusive slot
//   - [TurnCompletedEvent]: a turn finished with an outcome
//   - [TurnTimeoutEvent]: a turn hit its deadline with partial output
//
// # Thread Safety
//
// The [Bus] is safe for concurrent use. Handlers run synchronously on the
// publisher's goroutine and are protected against panics: a panicking
// handler is logged and skipped, never blocking delivery to the rest.
//
// Event types follow the pattern "category.action": session.started,
// session.crash_detected, turn.completed, and so on.
package event

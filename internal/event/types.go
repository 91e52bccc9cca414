package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "session.started", "turn.completed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionStartedEvent is emitted when the agent process has started and
// produced its initial prompt.
type SessionStartedEvent struct {
	baseEvent
	PID     int    // Process ID of the spawned agent
	Workdir string // Working directory the agent was launched in
	Model   string // Model name passed on the launch command line
}

// NewSessionStartedEvent creates a SessionStartedEvent.
func NewSessionStartedEvent(pid int, workdir, model string) SessionStartedEvent {
	return SessionStartedEvent{
		baseEvent: newBaseEvent("session.started"),
		PID:       pid,
		Workdir:   workdir,
		Model:     model,
	}
}

// SessionStoppedEvent is emitted when the agent process is stopped on
// request (as opposed to crashing).
type SessionStoppedEvent struct {
	baseEvent
	Reason string // Why the session stopped (e.g., "user kill", "shutdown")
}

// NewSessionStoppedEvent creates a SessionStoppedEvent.
func NewSessionStoppedEvent(reason string) SessionStoppedEvent {
	return SessionStoppedEvent{
		baseEvent: newBaseEvent("session.stopped"),
		Reason:    reason,
	}
}

// StateChangedEvent is emitted on every session state machine transition.
// States are carried as strings to keep this package free of a dependency
// on the session package.
type StateChangedEvent struct {
	baseEvent
	Previous string // State before the transition
	Current  string // State after the transition
}

// NewStateChangedEvent creates a StateChangedEvent.
func NewStateChangedEvent(previous, current string) StateChangedEvent {
	return StateChangedEvent{
		baseEvent: newBaseEvent("session.state_changed"),
		Previous:  previous,
		Current:   current,
	}
}

// CrashDetectedEvent is emitted when the agent process exits without being
// asked to. The supervisor publishes it from both the eager post-read check
// and the background liveness watch.
type CrashDetectedEvent struct {
	baseEvent
	PID      int    // Process ID of the dead agent
	ExitCode int    // Exit code, -1 when terminated by signal
	Uptime   string // How long the process ran, human-readable
}

// NewCrashDetectedEvent creates a CrashDetectedEvent.
func NewCrashDetectedEvent(pid, exitCode int, uptime string) CrashDetectedEvent {
	return CrashDetectedEvent{
		baseEvent: newBaseEvent("session.crash_detected"),
		PID:       pid,
		ExitCode:  exitCode,
		Uptime:    uptime,
	}
}

// RestartStartedEvent is emitted when a restart cycle begins, either from
// crash recovery or an explicit reset command.
type RestartStartedEvent struct {
	baseEvent
	Attempt int    // Restart count for this supervisor, starting at 1
	Reason  string // "crash recovery", "user reset", or a config change note
}

// NewRestartStartedEvent creates a RestartStartedEvent.
func NewRestartStartedEvent(attempt int, reason string) RestartStartedEvent {
	return RestartStartedEvent{
		baseEvent: newBaseEvent("session.restart_started"),
		Attempt:   attempt,
		Reason:    reason,
	}
}

// RestartCompletedEvent is emitted when a restart cycle finishes.
type RestartCompletedEvent struct {
	baseEvent
	Attempt int    // Restart count, matching the started event
	Success bool   // Whether the new process reached its prompt
	Error   string // Failure detail when Success is false
}

// NewRestartCompletedEvent creates a RestartCompletedEvent.
func NewRestartCompletedEvent(attempt int, success bool, errMsg string) RestartCompletedEvent {
	return RestartCompletedEvent{
		baseEvent: newBaseEvent("session.restart_completed"),
		Attempt:   attempt,
		Success:   success,
		Error:     errMsg,
	}
}

// -----------------------------------------------------------------------------
// Turn Events
// -----------------------------------------------------------------------------

// TurnStartedEvent is emitted when a turn acquires the exclusive slot and
// its input is about to be written to the agent.
type TurnStartedEvent struct {
	baseEvent
	TurnID string // Unique identifier for the turn
	Caller string // Transport-provided caller identity
}

// NewTurnStartedEvent creates a TurnStartedEvent.
func NewTurnStartedEvent(turnID, caller string) TurnStartedEvent {
	return TurnStartedEvent{
		baseEvent: newBaseEvent("turn.started"),
		TurnID:    turnID,
		Caller:    caller,
	}
}

// TurnCompletedEvent is emitted when a turn finishes with any outcome.
type TurnCompletedEvent struct {
	baseEvent
	TurnID  string        // Unique identifier for the turn
	Outcome string        // "completed", "partial_timeout", or "failed"
	Elapsed time.Duration // Wall time from slot acquisition to outcome
}

// NewTurnCompletedEvent creates a TurnCompletedEvent.
func NewTurnCompletedEvent(turnID, outcome string, elapsed time.Duration) TurnCompletedEvent {
	return TurnCompletedEvent{
		baseEvent: newBaseEvent("turn.completed"),
		TurnID:    turnID,
		Outcome:   outcome,
		Elapsed:   elapsed,
	}
}

// TurnTimeoutEvent is emitted when a turn's deadline passes before the
// prompt pattern reappears. The turn still completes with partial output;
// this event lets the bridge tell the user the response may be truncated.
type TurnTimeoutEvent struct {
	baseEvent
	TurnID        string        // Unique identifier for the turn
	Timeout       time.Duration // The configured per-turn deadline
	CapturedBytes int           // Size of the partial capture returned
}

// NewTurnTimeoutEvent creates a TurnTimeoutEvent.
func NewTurnTimeoutEvent(turnID string, timeout time.Duration, capturedBytes int) TurnTimeoutEvent {
	return TurnTimeoutEvent{
		baseEvent:     newBaseEvent("turn.timeout"),
		TurnID:        turnID,
		Timeout:       timeout,
		CapturedBytes: capturedBytes,
	}
}

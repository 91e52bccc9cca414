// Package session manages the lifecycle of the single interactive agent
// process that Parley drives.
//
// The Supervisor owns the agent process: it spawns the agent on a
// pseudo-terminal, waits for the first prompt, watches process liveness,
// and restarts the agent automatically after an unexpected exit. The
// Serializer sits in front of the Supervisor and admits one turn at a
// time, queueing concurrent submissions in arrival order.
//
// A turn is one round trip: write a line of input to the agent's
// terminal, accumulate output until the idle prompt reappears, and
// return the cleaned text between input and prompt. Turns that outlive
// the configured timeout resolve with whatever partial output was
// captured rather than blocking the queue.
//
// State is tracked by a small validated state machine (stopped,
// starting, ready, busy, crashed, restarting). All state changes are
// published on the event bus so the bridge can notify the chat surface.
package session

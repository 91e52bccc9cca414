// Package bridge routes authorized chat input to the agent session and
// session events back to the chat surface.
//
// Transports parse and authorize raw chat input into [Inbound] units. The
// Bridge dispatches each unit: conversation text becomes a serialized turn;
// commands act on the session supervisor (reset, status, kill,
// change-directory, change-model) or the workspace watcher (files).
// Session lifecycle events published on the bus are translated into short
// outbound notifications and delivered in order by a dedicated goroutine,
// so slow transports never block the supervisor.
//
// The Bridge uses narrow interfaces ([Session], [Submitter], [Workspace],
// [Sink]) so the concrete session and transport types stay encapsulated and
// tests can substitute fakes.
//
// Lifecycle:
//
//	b := bridge.New(sess, turns, bus, sink, bridge.WithWorkspace(w))
//	b.Start(ctx)   // subscribes to session events, starts the workers
//	b.Dispatch(in) // called by the transport for each inbound unit
//	b.Stop()       // unsubscribes, drains pending notifications
package bridge

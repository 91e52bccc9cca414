package bridge

import (
	"context"
	"strings"

	"github.com/quillback/parley/internal/session"
	"github.com/quillback/parley/internal/watch"
)

// Session is the supervisor surface the bridge drives.
type Session interface {
	// Restart stops and relaunches the agent with the current staged
	// configuration.
	Restart(reason string) error

	// Stop shuts the agent down intentionally; no auto-restart follows.
	Stop(reason string) error

	// Info returns a point-in-time snapshot for status reporting.
	Info() session.SessionInfo

	// SetWorkdir stages a new working directory, applied on restart.
	SetWorkdir(dir string) error

	// SetModel stages a new model name, applied on restart.
	SetModel(name string) error
}

// Submitter runs one conversation turn to completion.
type Submitter interface {
	// Submit queues text as a turn and blocks until its outcome.
	Submit(ctx context.Context, caller, text string) session.Outcome

	// CompletedTurns reports how many turns have completed successfully.
	CompletedTurns() int64
}

// Workspace reports files changed under the agent's working directory.
type Workspace interface {
	// Changes lists recorded changes, most recent first, at most limit.
	Changes(limit int) []watch.Change

	// Count returns the number of distinct changed files.
	Count() int

	// Reset clears the change set when a new session starts.
	Reset()

	// Rebase moves tracking to a new root after a directory change.
	Rebase(root string) error
}

// Sink is the outbound side of a chat transport. Implementations must be
// safe for concurrent use: turn responses and notifications are delivered
// from different goroutines.
type Sink interface {
	// MaxMessageChars returns the transport's payload limit in bytes.
	// Non-positive means unlimited.
	MaxMessageChars() int

	// SendText delivers one chunk of response text.
	SendText(ctx context.Context, text string) error

	// Notify delivers a short out-of-band status line.
	Notify(ctx context.Context, text string) error
}

// Command identifies one of the fixed control commands.
type Command string

const (
	CommandReset       Command = "reset"
	CommandStatus      Command = "status"
	CommandKill        Command = "kill"
	CommandChangeDir   Command = "change-directory"
	CommandChangeModel Command = "change-model"
	CommandFiles       Command = "files"
)

// Inbound is one authorized unit of work from a transport. Command is empty
// for conversation text; Arg carries the command argument when one applies.
type Inbound struct {
	Caller  string
	Text    string
	Command Command
	Arg     string
}

// ParseLine interprets one line of transport input. Lines starting with a
// slash become commands in the transport vocabulary (/reset, /status,
// /kill, /cd <path>, /model <name>, /files); everything else is
// conversation text passed to the agent verbatim.
func ParseLine(caller, line string) Inbound {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return Inbound{Caller: caller, Text: line}
	}

	name, arg, _ := strings.Cut(trimmed[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "reset":
		return Inbound{Caller: caller, Command: CommandReset}
	case "status":
		return Inbound{Caller: caller, Command: CommandStatus}
	case "kill":
		return Inbound{Caller: caller, Command: CommandKill}
	case "cd":
		return Inbound{Caller: caller, Command: CommandChangeDir, Arg: arg}
	case "model":
		return Inbound{Caller: caller, Command: CommandChangeModel, Arg: arg}
	case "files":
		return Inbound{Caller: caller, Command: CommandFiles}
	case "":
		return Inbound{Caller: caller, Text: line}
	default:
		return Inbound{Caller: caller, Command: Command(name), Arg: arg}
	}
}

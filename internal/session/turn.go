package session

import (
	"strings"
	"time"
)

// OutcomeKind classifies how a turn ended.
type OutcomeKind int

const (
	// OutcomeCompleted means the prompt reappeared and Text holds the
	// full sanitized response.
	OutcomeCompleted OutcomeKind = iota
	// OutcomePartialTimeout means the deadline passed first and Text
	// holds whatever output was captured. Not a hard failure.
	OutcomePartialTimeout
	// OutcomeFailed means the turn produced no response; Reason says why.
	OutcomeFailed
)

// String returns the outcome name used in events and logs.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomePartialTimeout:
		return "partial_timeout"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one submitted turn. Every submission
// resolves to exactly one Outcome; errors do not surface separately.
type Outcome struct {
	TurnID  string
	Kind    OutcomeKind
	Text    string        // sanitized agent output, set for Completed and PartialTimeout
	Reason  string        // failure detail, set for Failed
	Elapsed time.Duration // wall time from slot acquisition to resolution
}

func completedOutcome(id, text string, elapsed time.Duration) Outcome {
	return Outcome{TurnID: id, Kind: OutcomeCompleted, Text: text, Elapsed: elapsed}
}

func partialOutcome(id, text string, elapsed time.Duration) Outcome {
	return Outcome{TurnID: id, Kind: OutcomePartialTimeout, Text: text, Elapsed: elapsed}
}

func failedOutcome(id, reason string, elapsed time.Duration) Outcome {
	return Outcome{TurnID: id, Kind: OutcomeFailed, Reason: reason, Elapsed: elapsed}
}

// trimEcho drops a leading echo of the submitted input from sanitized
// turn output. Terminals in echo mode hand the typed line back before
// the response; the echo is only removed when it occupies a whole
// leading line, so responses that merely begin with the input text are
// left alone.
func trimEcho(body, input string) string {
	in := strings.TrimSpace(input)
	if in == "" {
		return body
	}
	rest, ok := strings.CutPrefix(body, in)
	if !ok {
		return body
	}
	if rest == "" {
		return rest
	}
	if rest[0] != '\n' {
		return body
	}
	return strings.TrimLeft(rest, "\n")
}

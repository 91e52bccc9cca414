package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quillback/parley/internal/config"
	"github.com/quillback/parley/internal/event"
	"github.com/quillback/parley/internal/logging"
	"github.com/quillback/parley/internal/prompt"
	"github.com/quillback/parley/internal/sanitize"
)

// turnSession is the slice of the supervisor the serializer drives.
// Narrowing the dependency keeps turn execution testable against a fake
// session.
type turnSession interface {
	// BeginTurn waits until the session is ready, claims the exclusive
	// turn slot, and returns the channel to the agent's terminal. It
	// fails when the session is stopped or the context ends first.
	BeginTurn(ctx context.Context) (Channel, error)

	// EndTurn releases the slot claimed by BeginTurn.
	EndTurn()

	// MarkActivity records that the agent produced a response, for
	// status reporting.
	MarkActivity()
}

// turnRequest is one queued submission waiting for the worker.
type turnRequest struct {
	id     string
	caller string
	text   string
	ctx    context.Context
	reply  chan Outcome // buffered so the worker never blocks on delivery
}

// Serializer admits one turn at a time to the agent. Submissions queue
// in arrival order on a channel consumed by a single worker goroutine,
// which is what guarantees both FIFO completion order and that no two
// turns ever interleave their terminal I/O.
type Serializer struct {
	session turnSession
	matcher *prompt.Matcher
	cfg     config.TurnConfig
	bus     *event.Bus
	logger  *logging.Logger

	requests chan *turnRequest
	quit     chan struct{}
	done     chan struct{} // closed when the worker exits

	closeOnce sync.Once
	completed atomic.Int64
}

// NewSerializer creates a serializer and starts its worker. All
// dependencies are required; pass logging.NopLogger() in tests.
func NewSerializer(session turnSession, matcher *prompt.Matcher, cfg config.TurnConfig, bus *event.Bus, logger *logging.Logger) *Serializer {
	if session == nil {
		panic("session: NewSerializer requires a session")
	}
	if matcher == nil {
		panic("session: NewSerializer requires a prompt matcher")
	}
	if bus == nil {
		panic("session: NewSerializer requires an event bus")
	}
	if logger == nil {
		panic("session: NewSerializer requires a logger")
	}

	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}
	s := &Serializer{
		session:  session,
		matcher:  matcher,
		cfg:      cfg,
		bus:      bus,
		logger:   logger.WithComponent("serializer"),
		requests: make(chan *turnRequest, queueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.worker()
	return s
}

// Submit queues inputText as one turn and blocks until it resolves.
// Turns resolve in submission order. A full queue delays Submit rather
// than rejecting it. If ctx ends while waiting, Submit returns a Failed
// outcome immediately; an already-running turn still completes in the
// background so the agent and the queue stay consistent.
func (s *Serializer) Submit(ctx context.Context, caller, inputText string) Outcome {
	req := &turnRequest{
		id:     uuid.NewString(),
		caller: caller,
		text:   inputText,
		ctx:    ctx,
		reply:  make(chan Outcome, 1),
	}

	select {
	case <-s.quit:
		return failedOutcome(req.id, "shutting down", 0)
	default:
	}

	select {
	case s.requests <- req:
	case <-s.quit:
		return failedOutcome(req.id, "shutting down", 0)
	case <-ctx.Done():
		return failedOutcome(req.id, "canceled", 0)
	}

	select {
	case out := <-req.reply:
		return out
	case <-ctx.Done():
		s.logger.Warn("caller abandoned turn", "turn_id", req.id, "caller", caller)
		return failedOutcome(req.id, "canceled", 0)
	}
}

// CompletedTurns returns how many turns have resolved as Completed
// since the serializer was created. Used by the status report.
func (s *Serializer) CompletedTurns() int64 {
	return s.completed.Load()
}

// Close stops the worker after the in-flight turn, if any, finishes.
// Queued turns that never ran resolve as Failed. Close blocks until the
// worker has exited.
func (s *Serializer) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
	s.drainPending()
}

// worker runs turns one at a time in arrival order.
func (s *Serializer) worker() {
	defer close(s.done)
	for {
		// Shutdown wins over pending work when both are ready.
		select {
		case <-s.quit:
			s.drainPending()
			return
		default:
		}

		select {
		case <-s.quit:
			s.drainPending()
			return
		case req := <-s.requests:
			if req.ctx.Err() != nil {
				// Caller gave up while queued; don't spend a turn on it.
				req.reply <- failedOutcome(req.id, "canceled", 0)
				continue
			}
			req.reply <- s.runTurn(req)
		}
	}
}

// drainPending resolves every queued request without running it.
func (s *Serializer) drainPending() {
	for {
		select {
		case req := <-s.requests:
			req.reply <- failedOutcome(req.id, "shutting down", 0)
		default:
			return
		}
	}
}

// runTurn executes one write → read-until-prompt-or-deadline → sanitize
// cycle. Every exit path releases the turn slot and publishes a
// completion event.
func (s *Serializer) runTurn(req *turnRequest) (out Outcome) {
	start := time.Now()
	logger := s.logger.WithTurn(req.id)

	ch, err := s.session.BeginTurn(req.ctx)
	if err != nil {
		if req.ctx.Err() != nil {
			return failedOutcome(req.id, "canceled", time.Since(start))
		}
		logger.Warn("turn rejected", "error", err)
		out = failedOutcome(req.id, "session not running", time.Since(start))
		s.finishTurn(logger, out)
		return out
	}

	defer func() {
		s.session.EndTurn()
		s.finishTurn(logger, out)
	}()

	s.bus.Publish(event.NewTurnStartedEvent(req.id, req.caller))
	logger.Info("turn started", "caller", req.caller, "input_bytes", len(req.text))

	if err := ch.WriteLine(req.text); err != nil {
		logger.Error("input write failed", "error", err)
		out = failedOutcome(req.id, "process exited", time.Since(start))
		return out
	}

	deadline := start.Add(s.cfg.Timeout())
	poll := s.cfg.PollInterval()
	var buf []byte
	for {
		now := time.Now()
		if !now.Before(deadline) {
			text := s.cleanBody(buf, req.text)
			logger.Warn("prompt not seen before deadline",
				"timeout", s.cfg.Timeout(),
				"captured_bytes", len(buf))
			s.bus.Publish(event.NewTurnTimeoutEvent(req.id, s.cfg.Timeout(), len(buf)))
			s.session.MarkActivity()
			out = partialOutcome(req.id, text, time.Since(start))
			return out
		}

		readDeadline := now.Add(poll)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		chunk, err := ch.ReadAvailable(readDeadline)
		if err != nil {
			logger.Error("channel closed mid-turn", "captured_bytes", len(buf))
			out = failedOutcome(req.id, "process exited", time.Since(start))
			return out
		}
		if len(chunk) == 0 {
			continue
		}

		buf = append(buf, chunk...)
		if s.matcher.Matches(buf) {
			text := s.cleanBody(buf, req.text)
			s.session.MarkActivity()
			s.completed.Add(1)
			out = completedOutcome(req.id, text, time.Since(start))
			return out
		}
	}
}

// finishTurn logs and publishes the resolution of a turn.
func (s *Serializer) finishTurn(logger *logging.Logger, out Outcome) {
	s.bus.Publish(event.NewTurnCompletedEvent(out.TurnID, out.Kind.String(), out.Elapsed))
	logger.Info("turn finished",
		"outcome", out.Kind.String(),
		"elapsed", out.Elapsed,
		"output_bytes", len(out.Text),
		"reason", out.Reason)
}

// cleanBody turns a raw capture into user-facing text: cut the trailing
// prompt, sanitize, and drop the echoed input line.
func (s *Serializer) cleanBody(raw []byte, input string) string {
	body := s.matcher.TrimPrompt(string(raw))
	body = sanitize.Sanitize(body)
	return trimEcho(body, input)
}

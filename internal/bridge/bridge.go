package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quillback/parley/internal/errors"
	"github.com/quillback/parley/internal/event"
	"github.com/quillback/parley/internal/logging"
	"github.com/quillback/parley/internal/sanitize"
	"github.com/quillback/parley/internal/session"
	"github.com/quillback/parley/internal/util"
)

const (
	// notifyQueueSize bounds how many lifecycle notifications can wait
	// for delivery before new ones are dropped.
	notifyQueueSize = 32

	// notifySendWindow is how long a single notification delivery may
	// take before it is abandoned.
	notifySendWindow = 10 * time.Second

	// turnQueueSize bounds conversation text waiting for the turn worker.
	turnQueueSize = 8
)

// Bridge routes chat input to the agent session and session events back
// to the chat surface.
//
// Conversation text becomes a turn submitted through the Submitter;
// slash commands act on the Session or Workspace directly. Session
// lifecycle events arriving on the bus are rendered as notifications
// and delivered in order by a single worker goroutine.
type Bridge struct {
	session   Session
	turns     Submitter
	bus       *event.Bus
	sink      Sink
	workspace Workspace
	logger    *logging.Logger

	filesLimit int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	notifyCh chan string
	turnCh   chan Inbound

	mu            sync.Mutex
	started       bool
	subIDs        []string
	workspaceRoot string
}

// New creates a Bridge wired to the given session, turn submitter,
// event bus, and chat sink. Panics if any of them is nil.
func New(sess Session, turns Submitter, bus *event.Bus, sink Sink, opts ...Option) *Bridge {
	if sess == nil {
		panic("bridge: session must not be nil")
	}
	if turns == nil {
		panic("bridge: submitter must not be nil")
	}
	if bus == nil {
		panic("bridge: event.Bus must not be nil")
	}
	if sink == nil {
		panic("bridge: sink must not be nil")
	}

	cfg := &config{
		logger:     logging.NopLogger(),
		filesLimit: defaultFilesLimit,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if cfg.filesLimit <= 0 {
		cfg.filesLimit = defaultFilesLimit
	}

	return &Bridge{
		session:    sess,
		turns:      turns,
		bus:        bus,
		sink:       sink,
		workspace:  cfg.workspace,
		logger:     cfg.logger.WithComponent("bridge"),
		filesLimit: cfg.filesLimit,
		notifyCh:   make(chan string, notifyQueueSize),
		turnCh:     make(chan Inbound, turnQueueSize),
	}
}

// Start subscribes to session lifecycle events and launches the turn
// and notification workers. The context bounds the bridge's lifetime;
// Stop or context cancellation shuts the workers down.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return errors.New("bridge already started")
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.started = true

	b.subIDs = []string{
		b.bus.Subscribe("session.started", b.onSessionStarted),
		b.bus.Subscribe("session.stopped", b.onSessionStopped),
		b.bus.Subscribe("session.crash_detected", b.onCrashDetected),
		b.bus.Subscribe("session.restart_started", b.onRestartStarted),
		b.bus.Subscribe("session.restart_completed", b.onRestartCompleted),
	}

	b.wg.Add(2)
	go b.notifyLoop()
	go b.turnLoop()

	b.logger.Info("bridge started")
	return nil
}

// Stop unsubscribes from the bus and stops the notification worker
// after it drains anything already queued. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	subIDs := b.subIDs
	b.subIDs = nil
	b.mu.Unlock()

	for _, id := range subIDs {
		b.bus.Unsubscribe(id)
	}

	b.cancel()
	b.wg.Wait()

	b.logger.Info("bridge stopped")
}

// Handle processes one authorized inbound chat line. Commands dispatch
// to their handlers; anything else is conversation text submitted as a
// turn. Blank text is ignored. Handle blocks until the reply has been
// handed to the sink; transports normally go through [Bridge.Dispatch]
// instead.
func (b *Bridge) Handle(ctx context.Context, in Inbound) {
	if in.Command != "" {
		b.handleCommand(ctx, in)
		return
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return
	}
	b.handleTurn(ctx, in.Caller, text)
}

// Dispatch hands one inbound line to the bridge without blocking the
// caller. Conversation text queues behind earlier text so turns keep
// their arrival order; commands run in their own goroutine so reset,
// status, and kill stay responsive while a turn is in flight. Requires
// Start; input arriving on a stopped bridge is dropped.
func (b *Bridge) Dispatch(in Inbound) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		b.logger.Warn("dropping input, bridge not started", "caller", in.Caller)
		return
	}
	ctx := b.ctx
	if in.Command != "" {
		// Add under the lock so Stop's Wait cannot start between the
		// started check and the Add.
		b.wg.Add(1)
		b.mu.Unlock()
		go func() {
			defer b.wg.Done()
			b.handleCommand(ctx, in)
		}()
		return
	}
	b.mu.Unlock()

	if strings.TrimSpace(in.Text) == "" {
		return
	}

	select {
	case b.turnCh <- in:
	default:
		b.logger.Warn("turn queue full, rejecting input", "caller", in.Caller)
		b.send(ctx, "Too many queued messages; try again shortly.")
	}
}

// turnLoop runs queued conversation text one line at a time.
func (b *Bridge) turnLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case in := <-b.turnCh:
			b.handleTurn(b.ctx, in.Caller, strings.TrimSpace(in.Text))
		}
	}
}

func (b *Bridge) handleCommand(ctx context.Context, in Inbound) {
	b.logger.Info("command received",
		"command", string(in.Command),
		"caller", in.Caller,
	)

	switch in.Command {
	case CommandReset:
		b.handleReset(ctx)
	case CommandStatus:
		b.handleStatus(ctx)
	case CommandKill:
		b.handleKill(ctx)
	case CommandChangeDir:
		b.handleChangeDir(ctx, in.Arg)
	case CommandChangeModel:
		b.handleChangeModel(ctx, in.Arg)
	case CommandFiles:
		b.handleFiles(ctx)
	default:
		b.send(ctx, fmt.Sprintf("Unknown command %q.", string(in.Command)))
	}
}

// handleTurn submits conversation text as a turn and renders the
// outcome back to the chat.
func (b *Bridge) handleTurn(ctx context.Context, caller, text string) {
	b.logger.Debug("turn received",
		"caller", caller,
		"preview", util.TruncateString(text, 80),
	)
	outcome := b.turns.Submit(ctx, caller, text)

	switch outcome.Kind {
	case session.OutcomeCompleted:
		body := outcome.Text
		if body == "" {
			body = "(no output)"
		}
		b.send(ctx, body)
	case session.OutcomePartialTimeout:
		b.notify(ctx, fmt.Sprintf("No prompt after %s; sending what arrived so far.",
			outcome.Elapsed.Round(time.Second)))
		b.send(ctx, outcome.Text)
	case session.OutcomeFailed:
		b.send(ctx, fmt.Sprintf("Turn failed: %s.", outcome.Reason))
	}
}

func (b *Bridge) handleReset(ctx context.Context) {
	if err := b.session.Restart("user reset"); err != nil {
		b.send(ctx, fmt.Sprintf("Reset failed: %v", err))
	}
}

func (b *Bridge) handleStatus(ctx context.Context) {
	info := b.session.Info()

	var sb strings.Builder
	fmt.Fprintf(&sb, "State: %s\n", info.State)
	if info.PID > 0 {
		fmt.Fprintf(&sb, "PID: %d (up %s)\n", info.PID, info.Uptime.Round(time.Second))
	}
	model := info.Model
	if model == "" {
		model = "(default)"
	}
	fmt.Fprintf(&sb, "Model: %s\n", model)
	workdir := info.Workdir
	if workdir == "" {
		workdir = "(inherited)"
	}
	fmt.Fprintf(&sb, "Workdir: %s\n", workdir)
	fmt.Fprintf(&sb, "Turns completed: %d\n", b.turns.CompletedTurns())
	fmt.Fprintf(&sb, "Restarts: %d\n", info.RestartCount)
	if !info.LastActivity.IsZero() {
		fmt.Fprintf(&sb, "Last activity: %s ago\n", time.Since(info.LastActivity).Round(time.Second))
	}
	if b.workspace != nil {
		fmt.Fprintf(&sb, "Files changed: %d\n", b.workspace.Count())
	}

	b.send(ctx, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bridge) handleKill(ctx context.Context) {
	if err := b.session.Stop("user kill"); err != nil {
		b.send(ctx, fmt.Sprintf("Kill failed: %v", err))
	}
}

// handleChangeDir stages a new working directory and restarts the
// session so the agent picks it up. Validation failures are reported
// without touching the running session.
func (b *Bridge) handleChangeDir(ctx context.Context, arg string) {
	dir := strings.TrimSpace(arg)
	if dir == "" {
		b.send(ctx, "Usage: /cd <directory>")
		return
	}
	if err := b.session.SetWorkdir(dir); err != nil {
		b.send(ctx, fmt.Sprintf("Cannot change directory: %v", err))
		return
	}
	if err := b.session.Restart("directory change"); err != nil {
		b.send(ctx, fmt.Sprintf("Restart failed: %v", err))
	}
}

func (b *Bridge) handleChangeModel(ctx context.Context, arg string) {
	model := strings.TrimSpace(arg)
	if model == "" {
		b.send(ctx, "Usage: /model <name>")
		return
	}
	if err := b.session.SetModel(model); err != nil {
		b.send(ctx, fmt.Sprintf("Cannot change model: %v", err))
		return
	}
	if err := b.session.Restart("model change"); err != nil {
		b.send(ctx, fmt.Sprintf("Restart failed: %v", err))
	}
}

func (b *Bridge) handleFiles(ctx context.Context) {
	if b.workspace == nil {
		b.send(ctx, "File tracking is disabled.")
		return
	}

	changes := b.workspace.Changes(b.filesLimit)
	if len(changes) == 0 {
		b.send(ctx, "No files changed since session start.")
		return
	}

	var sb strings.Builder
	total := b.workspace.Count()
	fmt.Fprintf(&sb, "%d changed file", total)
	if total != 1 {
		sb.WriteString("s")
	}
	if total > len(changes) {
		fmt.Fprintf(&sb, " (showing %d)", len(changes))
	}
	sb.WriteString(":\n")
	for _, c := range changes {
		fmt.Fprintf(&sb, "- %s\n", c.Path)
	}

	b.send(ctx, strings.TrimRight(sb.String(), "\n"))
}

// send delivers text to the chat, splitting it into chunks that respect
// the sink's message size limit.
func (b *Bridge) send(ctx context.Context, text string) {
	for _, chunk := range sanitize.Chunk(text, b.sink.MaxMessageChars()) {
		if err := b.sink.SendText(ctx, chunk); err != nil {
			b.logger.Error("failed to deliver message", "error", err)
			return
		}
	}
}

// notify delivers a notification on the caller's context, for notices
// raised while handling an inbound line.
func (b *Bridge) notify(ctx context.Context, text string) {
	if err := b.sink.Notify(ctx, text); err != nil {
		b.logger.Error("failed to deliver notification", "error", err)
	}
}

func (b *Bridge) onSessionStarted(e event.Event) {
	ev, ok := e.(event.SessionStartedEvent)
	if !ok {
		return
	}

	b.syncWorkspace(ev.Workdir)

	where := ev.Workdir
	if where == "" {
		where = "the inherited directory"
	}
	b.enqueueNotify(fmt.Sprintf("Agent session ready (pid %d) in %s.", ev.PID, where))
}

func (b *Bridge) onSessionStopped(e event.Event) {
	ev, ok := e.(event.SessionStoppedEvent)
	if !ok {
		return
	}
	b.enqueueNotify(fmt.Sprintf("Agent session stopped (%s).", ev.Reason))
}

func (b *Bridge) onCrashDetected(e event.Event) {
	ev, ok := e.(event.CrashDetectedEvent)
	if !ok {
		return
	}
	b.enqueueNotify(fmt.Sprintf("Agent process crashed (pid %d, exit code %d, up %s).",
		ev.PID, ev.ExitCode, ev.Uptime))
}

func (b *Bridge) onRestartStarted(e event.Event) {
	ev, ok := e.(event.RestartStartedEvent)
	if !ok {
		return
	}
	b.enqueueNotify(fmt.Sprintf("Restarting agent session (%s, attempt %d).", ev.Reason, ev.Attempt))
}

func (b *Bridge) onRestartCompleted(e event.Event) {
	ev, ok := e.(event.RestartCompletedEvent)
	if !ok {
		return
	}
	if ev.Success {
		b.enqueueNotify("Agent session restarted.")
		return
	}
	b.enqueueNotify(fmt.Sprintf("Restart attempt %d failed: %s", ev.Attempt, ev.Error))
}

// syncWorkspace resets change tracking when a session comes up, and
// re-roots the watch when the session moved to a different directory.
func (b *Bridge) syncWorkspace(root string) {
	if b.workspace == nil {
		return
	}

	b.mu.Lock()
	prev := b.workspaceRoot
	if root != "" {
		b.workspaceRoot = root
	}
	b.mu.Unlock()

	if root == "" || root == prev {
		b.workspace.Reset()
		return
	}
	if err := b.workspace.Rebase(root); err != nil {
		b.logger.Error("failed to move workspace watch",
			"root", root,
			"error", err,
		)
	}
}

// enqueueNotify hands a notification to the delivery worker. Full
// queues drop the notification rather than block the event bus.
func (b *Bridge) enqueueNotify(text string) {
	select {
	case b.notifyCh <- text:
	default:
		b.logger.Warn("notification queue full, dropping", "text", text)
	}
}

// notifyLoop delivers queued notifications in arrival order. On
// shutdown it drains what is already queued so stop notices from the
// final moments still reach the chat.
func (b *Bridge) notifyLoop() {
	defer b.wg.Done()

	for {
		select {
		case text := <-b.notifyCh:
			b.deliverNotify(text)
		case <-b.ctx.Done():
			for {
				select {
				case text := <-b.notifyCh:
					b.deliverNotify(text)
				default:
					return
				}
			}
		}
	}
}

// deliverNotify sends one notification on a fresh context so delivery
// still works while the bridge context is being torn down.
func (b *Bridge) deliverNotify(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), notifySendWindow)
	defer cancel()

	if err := b.sink.Notify(ctx, text); err != nil {
		b.logger.Error("failed to deliver notification", "error", err)
	}
}

package session

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/quillback/parley/internal/config"
	"github.com/quillback/parley/internal/errors"
	"github.com/quillback/parley/internal/event"
	"github.com/quillback/parley/internal/logging"
	"github.com/quillback/parley/internal/prompt"
	"github.com/quillback/parley/internal/sanitize"
)

const (
	// readinessPoll bounds each read slice while waiting for the first prompt.
	readinessPoll = 100 * time.Millisecond

	// busyPoll is the cadence at which BeginTurn re-checks session state.
	busyPoll = 50 * time.Millisecond

	// maxRecoveryDelay caps the backoff between crash recovery attempts.
	maxRecoveryDelay = 30 * time.Second

	// crashTailBytes is how much recent output gets logged when the agent dies.
	crashTailBytes = 2048
)

// agentProcess bundles one spawned agent with its pty channel. A new value is
// created per spawn so that exit handling, intentional-stop marking, and
// restarts never confuse one process generation with the next.
type agentProcess struct {
	cmd       *exec.Cmd
	channel   *ptyChannel
	startedAt time.Time

	// waited closes once cmd.Wait has returned and the exit is recorded.
	waited chan struct{}

	// expectStop marks the next exit as intentional so it is not treated
	// as a crash.
	expectStop atomic.Bool

	// exitHandled ensures the crash path runs at most once per process,
	// whether the exit monitor or the liveness watch notices first.
	exitHandled atomic.Bool

	exitCode atomic.Int64
}

func (p *agentProcess) pid() int {
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// alive reports whether the process can still receive signals. Once the exit
// monitor has reaped the process this returns false.
func (p *agentProcess) alive() bool {
	if p.cmd == nil || p.cmd.Process == nil {
		return false
	}
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// SessionInfo is a point-in-time snapshot of the supervised session, suitable
// for rendering a status reply.
type SessionInfo struct {
	State        State
	PID          int
	Uptime       time.Duration
	Workdir      string
	Model        string
	RestartCount int
	LastActivity time.Time
}

// Supervisor owns the lifetime of the single agent process: it spawns the
// agent on a pty, waits for the first prompt, watches for unexpected exits,
// and restarts the agent after crashes until disarmed by Stop.
//
// All methods are safe for concurrent use.
type Supervisor struct {
	cfg     config.SessionConfig
	logger  *logging.Logger
	bus     *event.Bus
	machine *StateMachine
	matcher *prompt.Matcher
	capture *RingBuffer

	mu           sync.Mutex
	agent        config.AgentConfig
	proc         *agentProcess
	lastActivity time.Time
	restartCount int
	watchQuit    chan struct{}

	// restarting serializes restarts: explicit resets and crash recovery
	// both claim it, so at most one restart cycle runs at a time.
	restarting atomic.Bool

	// armed enables crash recovery. Set when a start reaches ready,
	// cleared by Stop so a kill stays down.
	armed atomic.Bool
}

// NewSupervisor builds a supervisor for the given agent. The matcher, bus,
// and logger are required.
func NewSupervisor(agent config.AgentConfig, cfg config.SessionConfig, matcher *prompt.Matcher, bus *event.Bus, logger *logging.Logger) *Supervisor {
	if matcher == nil {
		panic("session: NewSupervisor requires a prompt matcher")
	}
	if bus == nil {
		panic("session: NewSupervisor requires an event bus")
	}
	if logger == nil {
		panic("session: NewSupervisor requires a logger")
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  logger.WithComponent("supervisor"),
		bus:     bus,
		machine: NewStateMachine(bus),
		matcher: matcher,
		capture: NewRingBuffer(cfg.CaptureBytes),
		agent:   agent,
	}
}

// State returns the current session state.
func (s *Supervisor) State() State {
	return s.machine.Current()
}

// IsAlive reports whether the agent process is currently running.
func (s *Supervisor) IsAlive() bool {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	return proc != nil && proc.alive()
}

// Info returns a snapshot of the session for status reporting.
func (s *Supervisor) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		State:        s.machine.Current(),
		Workdir:      s.agent.Workdir,
		Model:        s.agent.Model,
		RestartCount: s.restartCount,
		LastActivity: s.lastActivity,
	}
	if s.proc != nil {
		info.PID = s.proc.pid()
		info.Uptime = time.Since(s.proc.startedAt)
	}
	return info
}

// MarkActivity records that the agent produced output for a turn.
func (s *Supervisor) MarkActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// SetWorkdir stages a new working directory for the agent. The directory must
// exist; it takes effect on the next restart.
func (s *Supervisor) SetWorkdir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return errors.NewNotFoundError("directory", dir).WithCause(err)
	}
	if !info.IsDir() {
		return errors.NewValidationError("path is not a directory").WithField("workdir").WithValue(dir)
	}
	s.mu.Lock()
	s.agent.Workdir = dir
	s.mu.Unlock()
	s.logger.Info("working directory staged for next restart", "workdir", dir)
	return nil
}

// SetModel stages a new model name for the agent. It takes effect on the next
// restart.
func (s *Supervisor) SetModel(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.NewValidationError("model name must not be empty").WithField("model")
	}
	s.mu.Lock()
	s.agent.Model = name
	s.mu.Unlock()
	s.logger.Info("model staged for next restart", "model", name)
	return nil
}

// Start spawns the agent process and blocks until it prints its first prompt
// or the ready timeout elapses. Spawn failures are returned to the caller
// without any retry; automatic retries happen only for crash recovery.
func (s *Supervisor) Start() error {
	return s.start(false)
}

func (s *Supervisor) start(recovering bool) error {
	s.mu.Lock()
	if s.proc != nil {
		s.mu.Unlock()
		return errors.ErrAlreadyRunning
	}
	agent := s.agent
	s.mu.Unlock()

	if err := s.machine.Transition(StateStarting); err != nil {
		return errors.NewSessionError("session cannot start", err).WithState(s.machine.Current().String())
	}

	proc, err := s.launch(agent)
	if err != nil {
		if recovering {
			_ = s.machine.Transition(StateCrashed)
		} else {
			_ = s.machine.Transition(StateStopped)
		}
		return err
	}

	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	go s.monitorExit(proc)

	s.logger.Info("agent process launched",
		"pid", proc.pid(),
		"executable", agent.Executable,
		"workdir", agent.Workdir,
		"model", agent.Model)

	if err := s.waitForReady(proc); err != nil {
		// The exit monitor owns cleanup and the crash transition when the
		// agent dies this early.
		return err
	}
	if err := s.machine.Transition(StateReady); err != nil {
		// The agent died right at the prompt, or a concurrent stop won.
		// Either way this process is not wanted anymore.
		s.mu.Lock()
		if s.proc == proc {
			s.proc = nil
		}
		s.mu.Unlock()
		s.stopProcess(proc)
		return errors.NewSessionError("session did not reach ready", err).
			WithState(s.machine.Current().String()).
			WithPID(proc.pid())
	}

	s.armed.Store(true)
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.startWatchLocked(proc)
	s.mu.Unlock()

	s.bus.Publish(event.NewSessionStartedEvent(proc.pid(), agent.Workdir, agent.Model))
	s.logger.Info("agent session ready",
		"pid", proc.pid(),
		"elapsed", time.Since(proc.startedAt).Round(time.Millisecond).String())
	return nil
}

// launch validates the agent configuration and spawns the process on a pty.
func (s *Supervisor) launch(agent config.AgentConfig) (*agentProcess, error) {
	if agent.Workdir != "" {
		info, err := os.Stat(agent.Workdir)
		if err != nil {
			return nil, errors.NewSpawnError("working directory unavailable", err).WithWorkdir(agent.Workdir)
		}
		if !info.IsDir() {
			return nil, errors.NewSpawnError("working directory is not a directory", nil).WithWorkdir(agent.Workdir)
		}
	}
	exe, err := exec.LookPath(agent.Executable)
	if err != nil {
		return nil, errors.NewSpawnError("agent executable not found", err).WithExecutable(agent.Executable)
	}

	args := append([]string(nil), agent.Args...)
	if agent.Model != "" {
		args = append(args, "--model", agent.Model)
	}
	cmd := exec.Command(exe, args...)
	cmd.Dir = agent.Workdir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(agent.TermWidth),
		Rows: uint16(agent.TermHeight),
	})
	if err != nil {
		return nil, errors.NewSpawnError("failed to start agent on a pty", err).WithExecutable(agent.Executable)
	}

	proc := &agentProcess{
		cmd:       cmd,
		channel:   newPTYChannel(ptmx, s.capture),
		startedAt: time.Now(),
		waited:    make(chan struct{}),
	}
	proc.exitCode.Store(-1)
	return proc, nil
}

// waitForReady consumes startup output until the prompt appears. A timeout is
// not fatal: the session is promoted anyway and the first turn will surface
// whatever the agent is doing. An exit before the prompt is fatal.
func (s *Supervisor) waitForReady(proc *agentProcess) error {
	deadline := time.Now().Add(s.cfg.ReadyTimeout())
	var buf []byte
	for {
		now := time.Now()
		if !now.Before(deadline) {
			s.logger.Warn("initial prompt not seen before ready timeout; continuing",
				"timeout", s.cfg.ReadyTimeout().String(),
				"captured_bytes", len(buf))
			return nil
		}
		readDeadline := now.Add(readinessPoll)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		chunk, err := proc.channel.ReadAvailable(readDeadline)
		if err != nil {
			return errors.NewSpawnError("agent exited during startup", err).
				WithExecutable(s.agentExecutable())
		}
		if len(chunk) == 0 {
			continue
		}
		buf = append(buf, chunk...)
		if s.matcher.Matches(buf) {
			s.logger.Debug("initial prompt observed",
				"elapsed", time.Since(proc.startedAt).Round(time.Millisecond).String())
			return nil
		}
	}
}

func (s *Supervisor) agentExecutable() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent.Executable
}

// Stop shuts the agent down and disarms crash recovery. Stopping an already
// stopped session is a no-op.
func (s *Supervisor) Stop(reason string) error {
	s.armed.Store(false)

	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.stopWatchLocked()
	s.mu.Unlock()

	if proc == nil {
		if s.machine.Current() == StateStopped {
			return nil
		}
		// Crashed with no live process: settle the state machine.
		if err := s.machine.Transition(StateStopped); err != nil {
			s.logger.Debug("stop with no process", "state", s.machine.Current().String())
			return nil
		}
		s.bus.Publish(event.NewSessionStoppedEvent(reason))
		return nil
	}

	s.logger.Info("stopping agent process", "pid", proc.pid(), "reason", reason)
	s.stopProcess(proc)

	if err := s.machine.Transition(StateStopped); err != nil {
		s.logger.Warn("state did not settle to stopped", "state", s.machine.Current().String())
	}
	s.bus.Publish(event.NewSessionStoppedEvent(reason))
	s.logger.Info("agent session stopped", "reason", reason)
	return nil
}

// stopProcess interrupts the agent, waits out the grace period, and kills it
// if it is still running. It returns once the process has been reaped.
func (s *Supervisor) stopProcess(proc *agentProcess) {
	proc.expectStop.Store(true)
	if proc.cmd.Process != nil {
		_ = proc.cmd.Process.Signal(os.Interrupt)
	}
	select {
	case <-proc.waited:
	case <-time.After(s.cfg.GracePeriod()):
		s.logger.Warn("agent ignored interrupt; killing", "pid", proc.pid())
		if proc.cmd.Process != nil {
			_ = proc.cmd.Process.Kill()
		}
		<-proc.waited
	}
	_ = proc.channel.Close()
}

// Restart stops the agent if it is running and starts it again with the
// current (possibly restaged) configuration. Only one restart may be in
// flight at a time.
func (s *Supervisor) Restart(reason string) error {
	if !s.restarting.CompareAndSwap(false, true) {
		return errors.ErrRestartInProgress
	}
	defer s.restarting.Store(false)

	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.stopWatchLocked()
	s.restartCount++
	attempt := s.restartCount
	s.mu.Unlock()

	s.bus.Publish(event.NewRestartStartedEvent(attempt, reason))
	s.logger.Info("restarting agent session", "reason", reason, "attempt", attempt)

	if cur := s.machine.Current(); cur != StateStopped {
		if err := s.machine.Transition(StateRestarting); err != nil {
			s.logger.Warn("unexpected state entering restart", "state", cur.String())
		}
	}
	if proc != nil {
		s.stopProcess(proc)
	}
	if delay := s.cfg.RestartDelay(); delay > 0 {
		time.Sleep(delay)
	}

	if err := s.start(false); err != nil {
		s.bus.Publish(event.NewRestartCompletedEvent(attempt, false, err.Error()))
		return err
	}
	s.bus.Publish(event.NewRestartCompletedEvent(attempt, true, ""))
	return nil
}

// BeginTurn waits until the session is ready and claims it for one turn,
// returning the channel to talk to the agent. A stopped session fails
// immediately; starting, restarting, and crashed-with-recovery-pending
// sessions are waited on until ready or the context expires.
func (s *Supervisor) BeginTurn(ctx context.Context) (Channel, error) {
	for {
		switch s.machine.Current() {
		case StateReady:
			s.mu.Lock()
			proc := s.proc
			s.mu.Unlock()
			if proc != nil {
				if err := s.machine.Transition(StateBusy); err == nil {
					return proc.channel, nil
				}
			}
		case StateStopped:
			return nil, errors.ErrNotRunning
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "waiting for session")
		case <-time.After(busyPoll):
		}
	}
}

// EndTurn releases the session after a turn. If the agent crashed or was
// stopped mid-turn the state has already moved on and the release is a no-op.
func (s *Supervisor) EndTurn() {
	if err := s.machine.Transition(StateReady); err != nil {
		s.logger.Debug("turn released with session no longer busy",
			"state", s.machine.Current().String())
	}
}

// monitorExit is the sole owner of cmd.Wait for one process. It records the
// exit, closes the channel so in-flight reads fail over, and dispatches crash
// handling for unexpected exits.
func (s *Supervisor) monitorExit(proc *agentProcess) {
	waitErr := proc.cmd.Wait()
	if state := proc.cmd.ProcessState; state != nil {
		proc.exitCode.Store(int64(state.ExitCode()))
	}
	_ = proc.channel.Close()
	close(proc.waited)

	if proc.expectStop.Load() {
		s.logger.Debug("agent process exited on request",
			"pid", proc.pid(),
			"exit_code", proc.exitCode.Load())
		return
	}
	s.handleExit(proc, waitErr)
}

// watchLiveness is a background check that catches agent deaths even if the
// exit monitor is wedged. Detection is deduplicated through exitHandled.
func (s *Supervisor) watchLiveness(proc *agentProcess, quit chan struct{}) {
	interval := s.cfg.LivenessInterval()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if proc.exitHandled.Load() || proc.expectStop.Load() {
				return
			}
			if !proc.alive() {
				s.handleExit(proc, nil)
				return
			}
		}
	}
}

func (s *Supervisor) startWatchLocked(proc *agentProcess) {
	quit := make(chan struct{})
	s.watchQuit = quit
	go s.watchLiveness(proc, quit)
}

func (s *Supervisor) stopWatchLocked() {
	if s.watchQuit != nil {
		close(s.watchQuit)
		s.watchQuit = nil
	}
}

// handleExit runs once per unexpectedly dead process: it logs the crash with
// a tail of recent output, publishes the crash event, and kicks off recovery
// if the supervisor is armed.
func (s *Supervisor) handleExit(proc *agentProcess, waitErr error) {
	if !proc.exitHandled.CompareAndSwap(false, true) {
		return
	}
	uptime := time.Since(proc.startedAt).Round(time.Millisecond)
	exitCode := int(proc.exitCode.Load())

	s.mu.Lock()
	if s.proc == proc {
		s.proc = nil
	}
	s.stopWatchLocked()
	s.mu.Unlock()

	tail := sanitize.Sanitize(string(s.capture.Tail(crashTailBytes)))
	fields := []any{
		"pid", proc.pid(),
		"exit_code", exitCode,
		"uptime", uptime.String(),
		"output_tail", tail,
	}
	if waitErr != nil {
		fields = append(fields, "wait_error", waitErr.Error())
	}
	s.logger.Error("agent process exited unexpectedly", fields...)

	if err := s.machine.Transition(StateCrashed); err != nil {
		s.logger.Warn("crash in unexpected state", "state", s.machine.Current().String())
	}
	s.bus.Publish(event.NewCrashDetectedEvent(proc.pid(), exitCode, uptime.String()))

	if s.armed.Load() && s.restarting.CompareAndSwap(false, true) {
		go s.autoRecover()
	}
}

// autoRecover restarts the agent after a crash, retrying with doubling
// delays until a start succeeds or the supervisor is disarmed. It owns the
// restarting flag for the whole recovery cycle, so explicit resets are
// rejected with ErrRestartInProgress while it runs.
func (s *Supervisor) autoRecover() {
	defer s.restarting.Store(false)

	delay := s.cfg.RestartDelay()
	for attempt := 1; ; attempt++ {
		if !s.armed.Load() {
			s.logger.Info("crash recovery disarmed; leaving session down")
			return
		}

		s.mu.Lock()
		s.restartCount++
		count := s.restartCount
		s.mu.Unlock()

		s.bus.Publish(event.NewRestartStartedEvent(count, "crash recovery"))
		s.logger.Info("crash recovery restart",
			"attempt", attempt,
			"delay", delay.String())

		if delay > 0 {
			time.Sleep(delay)
		}
		if err := s.machine.Transition(StateRestarting); err != nil {
			// Stopped means a kill won the race; stand down.
			if s.machine.Current() == StateStopped {
				return
			}
		}

		err := s.start(true)
		if err == nil {
			if !s.armed.Load() {
				// Killed while the new process was starting.
				_ = s.Stop("stopped during recovery")
				return
			}
			s.bus.Publish(event.NewRestartCompletedEvent(count, true, ""))
			s.logger.Info("crash recovery succeeded", "attempt", attempt)
			return
		}

		s.bus.Publish(event.NewRestartCompletedEvent(count, false, err.Error()))
		s.logger.Error("crash recovery attempt failed",
			"attempt", attempt,
			"error", err.Error())

		delay *= 2
		if delay > maxRecoveryDelay {
			delay = maxRecoveryDelay
		}
		if delay <= 0 {
			delay = time.Second
		}
	}
}

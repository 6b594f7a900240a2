// Package supervisor owns the lifecycle of the backend child process: launch
// with piped stdio, line pumps for stdout and stderr, exit capture and the
// graceful-then-forced stop sequence.
//
// Each process lifetime gets a generation number. Every event the supervisor
// emits carries it, so consumers can discard events that belong to a process
// that has since been replaced.
package supervisor

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/event"
	"github.com/m4xw311/chatbridge/framer"
	"github.com/m4xw311/chatbridge/protocol"
	"github.com/rs/zerolog"
)

// DefaultStopGrace is how long Stop waits for a graceful exit before killing
// the process tree.
const DefaultStopGrace = time.Second

// drainWindow is how long the pumps may keep reading after the backend has
// exited. Descendants that inherited its stdout or stderr would otherwise keep
// the pipes open and delay Exited until they quit.
var drainWindow = 250 * time.Millisecond

// State is the supervisor's lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Running
	FailedToStart
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case FailedToStart:
		return "failed_to_start"
	}
	return "unknown"
}

// Command describes how to launch the backend.
type Command struct {
	Dir        string
	Executable string
	Args       []string
	// Env entries are appended to the current environment.
	Env []string
}

type Started struct {
	Generation uint64
	PID        int
}

type Inbound struct {
	Generation uint64
	Message    protocol.Message
}

type FramingFailure struct {
	Generation uint64
	Err        *framer.FramingError
}

type Stderr struct {
	Generation uint64
	Line       string
}

// Exited is emitted exactly once per process lifetime. Code is nil when the
// process was terminated by a signal.
type Exited struct {
	Generation uint64
	Code       *int
	Signal     string
	Requested  bool
}

// Supervisor runs at most one backend process at a time.
type Supervisor struct {
	log       zerolog.Logger
	stopGrace time.Duration

	mu    sync.Mutex
	state State
	gen   uint64
	proc  *process

	started event.Hub[Started]
	inbound event.Hub[Inbound]
	framing event.Hub[FramingFailure]
	stderr  event.Hub[Stderr]
	exited  event.Hub[Exited]
	errs    event.Hub[error]
}

type process struct {
	gen       uint64
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	framer    *framer.Framer
	requested atomic.Bool
	done      chan struct{}
}

// New creates a stopped supervisor. A non-positive stopGrace selects
// DefaultStopGrace.
func New(log zerolog.Logger, stopGrace time.Duration) *Supervisor {
	if stopGrace <= 0 {
		stopGrace = DefaultStopGrace
	}
	return &Supervisor{
		log:       log.With().Str("component", "supervisor").Logger(),
		stopGrace: stopGrace,
	}
}

func (s *Supervisor) OnStarted(fn func(Started)) event.Disposer {
	return s.started.Subscribe(fn)
}

func (s *Supervisor) OnInbound(fn func(Inbound)) event.Disposer {
	return s.inbound.Subscribe(fn)
}

func (s *Supervisor) OnFramingFailure(fn func(FramingFailure)) event.Disposer {
	return s.framing.Subscribe(fn)
}

func (s *Supervisor) OnStderr(fn func(Stderr)) event.Disposer {
	return s.stderr.Subscribe(fn)
}

func (s *Supervisor) OnExited(fn func(Exited)) event.Disposer {
	return s.exited.Subscribe(fn)
}

// OnError observes connection-wide failures such as a failed launch.
func (s *Supervisor) OnError(fn func(error)) event.Disposer {
	return s.errs.Subscribe(fn)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether a backend process is up.
func (s *Supervisor) IsRunning() bool { return s.State() == Running }

// Generation returns the generation of the current or most recent process.
func (s *Supervisor) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Start launches the backend. Starting an already running supervisor is a
// successful no-op. A launch failure is returned as a spawn error and also
// emitted to OnError observers; the supervisor can be started again.
func (s *Supervisor) Start(ctx context.Context, c Command) error {
	s.mu.Lock()
	if s.state == Running || s.state == Starting {
		s.mu.Unlock()
		return nil
	}
	s.state = Starting
	s.mu.Unlock()

	p, err := s.spawn(ctx, c)
	if err != nil {
		s.mu.Lock()
		s.state = FailedToStart
		s.mu.Unlock()
		s.log.Error().Err(err).Str("dir", c.Dir).Str("executable", c.Executable).Msg("failed to launch backend")
		s.errs.Emit(err)
		return err
	}

	s.mu.Lock()
	s.gen++
	p.gen = s.gen
	s.proc = p
	s.state = Running
	s.mu.Unlock()

	s.log.Info().Int("pid", p.cmd.Process.Pid).Uint64("generation", p.gen).Msg("backend started")
	s.started.Emit(Started{Generation: p.gen, PID: p.cmd.Process.Pid})

	go s.run(p)
	return nil
}

func (s *Supervisor) spawn(ctx context.Context, c Command) (*process, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.Spawn, "start canceled", err)
	}
	info, err := os.Stat(c.Dir)
	if err != nil {
		return nil, errors.Wrap(errors.Spawn, "working directory "+c.Dir+" is not accessible", err)
	}
	if !info.IsDir() {
		return nil, errors.Typed(errors.Spawn, "working directory "+c.Dir+" is not a directory")
	}
	if c.Executable == "" {
		return nil, errors.Typed(errors.Spawn, "no executable configured")
	}

	cmd := exec.Command(c.Executable, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	setProcGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(errors.Spawn, "failed to open stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(errors.Spawn, "failed to open stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(errors.Spawn, "failed to open stderr", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(errors.Spawn, "failed to start "+c.Executable, err)
	}

	sink := s.log.With().Str("component", "framer").Int("pid", cmd.Process.Pid).Logger()
	return &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		framer: framer.New(stdout, stdin, sink),
		done:   make(chan struct{}),
	}, nil
}

// run pumps the process's output and reaps it. Exited follows the process
// itself, not its pipes: once it is gone the pumps get drainWindow to finish
// before the pipes are closed under them.
func (s *Supervisor) run(p *process) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := p.framer.ReadLines(context.Background(),
			func(m protocol.Message) { s.inbound.Emit(Inbound{Generation: p.gen, Message: m}) },
			func(e *framer.FramingError) { s.framing.Emit(FramingFailure{Generation: p.gen, Err: e}) },
		)
		if err != nil {
			s.log.Debug().Err(err).Uint64("generation", p.gen).Msg("stdout pump stopped")
		}
	}()
	go func() {
		defer wg.Done()
		s.pumpStderr(p)
	}()
	pumped := make(chan struct{})
	go func() {
		wg.Wait()
		close(pumped)
	}()

	// exec.Cmd.Wait would close the pipes as soon as the process exits and
	// lose output still buffered in them, so reap the process directly.
	state, waitErr := p.cmd.Process.Wait()
	select {
	case <-pumped:
	case <-time.After(drainWindow):
		s.log.Debug().Uint64("generation", p.gen).Msg("output still open after exit; closing pipes")
		p.framer.Close()
		p.stdout.Close()
		p.stderr.Close()
		<-pumped
	}
	p.stdout.Close()
	p.stderr.Close()
	p.stdin.Close()
	code, signal := exitStatus(state)
	p.framer.Close()

	s.mu.Lock()
	if s.proc == p {
		s.proc = nil
		s.state = Stopped
	}
	s.mu.Unlock()

	ev := Exited{Generation: p.gen, Code: code, Signal: signal, Requested: p.requested.Load()}
	s.log.Info().Err(waitErr).Uint64("generation", p.gen).Str("signal", signal).Bool("requested", ev.Requested).Msg("backend exited")
	s.exited.Emit(ev)
	close(p.done)
}

func (s *Supervisor) pumpStderr(p *process) {
	r := bufio.NewReader(p.stderr)
	for {
		line, err := r.ReadString('\n')
		if text := strings.TrimRight(line, "\r\n"); strings.TrimSpace(text) != "" {
			s.log.Debug().Str("line", text).Msg("stderr")
			s.stderr.Emit(Stderr{Generation: p.gen, Line: text})
		}
		if err != nil {
			return
		}
	}
}

// Send writes one message to the running backend.
func (s *Supervisor) Send(v any) error {
	s.mu.Lock()
	p, state := s.proc, s.state
	s.mu.Unlock()
	if p == nil || state != Running {
		return errors.Typed(errors.Write, "backend is not running")
	}
	return p.framer.WriteLine(v)
}

// Stop asks the backend to shut down, closes its stdin and waits up to the
// stop grace period before killing the whole process tree. It returns once
// the process has exited and its Exited event has been emitted, or when ctx
// ends. Stopping a stopped supervisor does nothing.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil {
		return nil
	}

	p.requested.Store(true)
	// Best effort: the backend may already be gone.
	if err := p.framer.WriteLine(protocol.Shutdown()); err != nil {
		s.log.Debug().Err(err).Msg("shutdown message not delivered")
	}
	_ = p.stdin.Close()

	timer := time.NewTimer(s.stopGrace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	s.log.Info().Int("pid", p.cmd.Process.Pid).Msg("killing backend process tree")
	if err := killProcessGroup(p.cmd); err != nil {
		s.log.Debug().Err(err).Msg("kill failed")
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

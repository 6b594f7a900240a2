package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/correlator"
	"github.com/m4xw311/chatbridge/editor"
	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/event"
	"github.com/m4xw311/chatbridge/protocol"
	"github.com/m4xw311/chatbridge/supervisor"
	"github.com/rs/zerolog"
)

var (
	// ErrInputLocked is returned by Send while a shell approval is outstanding.
	ErrInputLocked = errors.Sentinel("input is disabled until the pending shell approval is resolved")
	// ErrEmptyMessage is returned by Send for blank content.
	ErrEmptyMessage = errors.Sentinel("message is empty")
	// ErrClosed is returned by every call made after Close.
	ErrClosed = errors.Sentinel("bridge is closed")
)

// Backend describes the process to launch. It runs in the resolved workspace.
type Backend struct {
	Executable string
	Args       []string
	Env        []string
}

// WorkspaceFunc resolves the working directory for the backend.
type WorkspaceFunc func() (string, error)

// StaticWorkspace always resolves to dir.
func StaticWorkspace(dir string) WorkspaceFunc {
	return func() (string, error) { return dir, nil }
}

type Options struct {
	Backend   Backend
	Workspace WorkspaceFunc
	// Editor answers editor queries. Without one every query fails with a
	// capability error.
	Editor editor.Capability
	// Policy auto-approves matching shell commands. Nil approves nothing.
	Policy    *approval.Policy
	StopGrace time.Duration
	Log       zerolog.Logger
}

// Snapshot is the panel-visible state of a bridge.
type Snapshot struct {
	Running      bool
	Generation   uint64
	Controls     bool
	InputEnabled bool
	DebugVisible bool
	// Prompt is the approval prompt currently shown, if any.
	Prompt *ApprovalPrompt
	// Pending counts outstanding backend requests of both kinds.
	Pending int
}

// Bridge connects one panel to one backend process.
type Bridge struct {
	opts   Options
	log    zerolog.Logger
	sup    *supervisor.Supervisor
	events event.Hub[Event]

	mbox      *mailbox
	loopDone  chan struct{}
	closeOnce sync.Once
	subs      event.Disposers

	// Everything below is owned by the loop goroutine.
	gen          uint64
	pending      *correlator.Table
	session      *approval.Session
	prompts      []*correlator.Pending
	controls     bool
	debugVisible bool
	queryCtx     context.Context
	cancelQuery  context.CancelFunc
}

type shellRequest struct {
	Command string
	Reason  string
}

// New creates a bridge and starts its event loop. The backend is not launched
// until Start.
func New(opts Options) *Bridge {
	if opts.Workspace == nil {
		opts.Workspace = func() (string, error) { return "", errors.New("no workspace configured") }
	}
	b := &Bridge{
		opts:     opts,
		log:      opts.Log.With().Str("component", "bridge").Logger(),
		sup:      supervisor.New(opts.Log, opts.StopGrace),
		mbox:     newMailbox(),
		loopDone: make(chan struct{}),
		pending:  correlator.NewTable(),
		session:  approval.NewSession(),
	}
	b.queryCtx, b.cancelQuery = context.WithCancel(context.Background())

	b.subs.Add(b.sup.OnInbound(func(ev supervisor.Inbound) {
		b.mbox.post(func() { b.route(ev.Generation, ev.Message) })
	}))
	b.subs.Add(b.sup.OnFramingFailure(func(ev supervisor.FramingFailure) {
		b.mbox.post(func() { b.framingFailure(ev) })
	}))
	b.subs.Add(b.sup.OnStderr(func(ev supervisor.Stderr) {
		b.mbox.post(func() {
			if ev.Generation == b.gen {
				b.emit(DebugLines{Lines: []string{ev.Line}})
			}
		})
	}))
	b.subs.Add(b.sup.OnExited(func(ev supervisor.Exited) {
		b.mbox.post(func() { b.exited(ev) })
	}))
	b.subs.Add(b.sup.OnError(func(err error) {
		b.mbox.post(func() { b.emit(DebugLines{Lines: []string{"Backend process error: " + err.Error()}}) })
	}))

	go b.loop()
	return b
}

// Subscribe registers an observer for panel events.
func (b *Bridge) Subscribe(fn func(Event)) event.Disposer {
	return b.events.Subscribe(fn)
}

func (b *Bridge) loop() {
	defer close(b.loopDone)
	for {
		items, open := b.mbox.take()
		for _, fn := range items {
			fn()
		}
		if !open {
			return
		}
	}
}

// call runs fn on the loop and waits for its result.
func (b *Bridge) call(fn func() error) error {
	res := make(chan error, 1)
	if !b.mbox.post(func() { res <- fn() }) {
		return ErrClosed
	}
	return <-res
}

func (b *Bridge) emit(ev Event) {
	b.events.Emit(ev)
}

func (b *Bridge) status(level Level, msg string) {
	b.emit(Status{Level: level, Message: msg})
}

func (b *Bridge) setControls(enabled bool) {
	b.controls = enabled
	b.emit(Controls{Enabled: enabled})
}

func (b *Bridge) setDebugVisible(visible bool) {
	b.debugVisible = visible
	b.emit(DebugVisibility{Visible: visible})
}

// Start resolves the workspace and launches the backend. Failures are
// reported as status events and returned; Reconnect retries. Starting a
// running bridge does nothing.
func (b *Bridge) Start(ctx context.Context) error {
	return b.call(func() error { return b.start(ctx) })
}

func (b *Bridge) start(ctx context.Context) error {
	if b.sup.IsRunning() {
		return nil
	}
	b.setControls(false)
	b.setDebugVisible(false)

	dir, err := b.opts.Workspace()
	if err == nil && strings.TrimSpace(dir) == "" {
		err = errors.New("workspace path is empty")
	}
	if err != nil {
		b.status(LevelError, "Unable to determine workspace path. Set backend.workspace_path in the config or CODEX_AGENT_ROOT.")
		return errors.Wrap(errors.Spawn, "unable to determine workspace path", err)
	}
	b.status(LevelInfo, fmt.Sprintf("Starting backend in %s…", dir))

	b.pending = correlator.NewTable()
	b.session = approval.NewSession()
	b.prompts = nil
	b.queryCtx, b.cancelQuery = context.WithCancel(context.Background())

	cmd := supervisor.Command{
		Dir:        dir,
		Executable: b.opts.Backend.Executable,
		Args:       b.opts.Backend.Args,
		Env:        b.opts.Backend.Env,
	}
	if err := b.sup.Start(ctx, cmd); err != nil {
		b.status(LevelError, "Failed to launch backend: "+launchMessage(err))
		b.setControls(false)
		return err
	}
	b.gen = b.sup.Generation()
	b.status(LevelInfo, "Backend process started. Waiting for ready event…")
	return nil
}

func launchMessage(err error) string {
	var e *errors.E
	if errors.As(err, &e) && e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Reconnect stops the backend, abandons every outstanding request and starts
// a new connection with fresh approval state.
func (b *Bridge) Reconnect(ctx context.Context) error {
	return b.call(func() error {
		b.setControls(false)
		b.status(LevelInfo, "Restarting backend…")
		b.teardown()
		if err := b.sup.Stop(ctx); err != nil {
			b.log.Warn().Err(err).Msg("backend did not stop cleanly")
		}
		return b.start(ctx)
	})
}

// Close stops the backend and the event loop. It is safe to call more than
// once.
func (b *Bridge) Close(ctx context.Context) error {
	err := ErrClosed
	b.closeOnce.Do(func() {
		err = b.call(func() error {
			b.teardown()
			stopErr := b.sup.Stop(ctx)
			b.subs.Dispose()
			b.mbox.close()
			return stopErr
		})
		<-b.loopDone
	})
	if err == ErrClosed {
		return nil
	}
	return err
}

// teardown forgets the current connection: later events from its process are
// ignored, outstanding requests are abandoned without a response and any
// approval prompt is dismissed.
func (b *Bridge) teardown() {
	b.gen = 0
	b.cancelQuery()
	dropped := b.pending.Abandon()
	if len(dropped) > 0 {
		b.log.Info().Int("count", len(dropped)).Msg("abandoned outstanding requests")
	}
	if len(b.prompts) > 0 {
		for _, p := range b.prompts {
			b.emit(ApprovalDismissed{ID: p.ID})
		}
		b.prompts = nil
		b.emit(Input{Enabled: true})
	}
}

func (b *Bridge) exited(ev supervisor.Exited) {
	if ev.Generation != b.gen {
		b.log.Debug().Uint64("generation", ev.Generation).Msg("ignoring exit of a superseded backend")
		return
	}
	// Reconnect and Close tear the connection down before stopping, so an
	// exit that reaches this point was not asked for.
	b.teardown()
	b.log.Warn().Err(errors.Typed(errors.UnexpectedExit, "backend exited")).
		Str("code", exitCode(ev.Code)).Str("signal", ev.Signal).Msg("unexpected backend exit")
	b.status(LevelWarning, fmt.Sprintf("Backend exited (code: %s, signal: %s).", exitCode(ev.Code), orNull(ev.Signal)))
	b.setControls(false)
	b.setDebugVisible(false)
}

func exitCode(code *int) string {
	if code == nil {
		return "null"
	}
	return strconv.Itoa(*code)
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}

func (b *Bridge) framingFailure(ev supervisor.FramingFailure) {
	if ev.Generation != b.gen {
		return
	}
	var cause error = ev.Err
	if inner := errors.Unwrap(ev.Err.Err); inner != nil {
		cause = inner
	}
	b.emit(DebugLines{Lines: []string{fmt.Sprintf("Failed to parse JSON line: %v\n%s", cause, ev.Err.Line)}})
}

// Send delivers a chat message. It fails while a shell approval is pending
// and when the backend is not running; a failed write is reported to the
// caller and as an error status.
func (b *Bridge) Send(content string) error {
	return b.call(func() error {
		if strings.TrimSpace(content) == "" {
			return ErrEmptyMessage
		}
		if len(b.prompts) > 0 {
			return ErrInputLocked
		}
		if !b.sup.IsRunning() {
			b.status(LevelError, "Backend is not running. Click reconnect.")
			return errors.Typed(errors.Write, "backend is not running")
		}
		if err := b.sup.Send(protocol.NewUserMessage(content)); err != nil {
			b.status(LevelError, "Failed to send message: "+err.Error())
			return err
		}
		b.emit(User{Content: content})
		return nil
	})
}

// ToggleDebug asks the backend to flip its debug metrics.
func (b *Bridge) ToggleDebug() error {
	return b.action(protocol.ToggleDebug(), "Failed to toggle debug: ")
}

// ListTools asks the backend to list its tools.
func (b *Bridge) ListTools() error {
	return b.action(protocol.NewUserMessage("!tools"), "Failed to request tools: ")
}

// NewSession asks the backend to start a new conversation.
func (b *Bridge) NewSession() error {
	return b.action(protocol.NewUserMessage("!new"), "Failed to reset session: ")
}

// action sends a toolbar request. Toolbar requests are ignored while the
// backend is down.
func (b *Bridge) action(msg any, failure string) error {
	return b.call(func() error {
		if !b.sup.IsRunning() {
			return errors.Typed(errors.Write, "backend is not running")
		}
		if err := b.sup.Send(msg); err != nil {
			b.status(LevelError, failure+err.Error())
			return err
		}
		return nil
	})
}

// Snapshot returns the current panel-visible state.
func (b *Bridge) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := b.call(func() error {
		s = Snapshot{
			Running:      b.sup.IsRunning(),
			Generation:   b.gen,
			Controls:     b.controls,
			InputEnabled: len(b.prompts) == 0,
			DebugVisible: b.debugVisible,
			Pending:      b.pending.Len(),
		}
		if len(b.prompts) > 0 {
			prompt := promptFor(b.prompts[0])
			s.Prompt = &prompt
		}
		return nil
	})
	return s, err
}

func promptFor(p *correlator.Pending) ApprovalPrompt {
	req, _ := p.Data.(shellRequest)
	return ApprovalPrompt{ID: p.ID, Command: req.Command, Reason: req.Reason}
}

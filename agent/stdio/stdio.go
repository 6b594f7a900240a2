// Package stdio serves the assistant to the chat bridge over newline-delimited
// JSON on stdin and stdout.
//
// Nothing but protocol messages may be written to the output stream; logs go
// to the logger passed in Options.
package stdio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m4xw311/chatbridge/agent"
	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/correlator"
	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/framer"
	"github.com/m4xw311/chatbridge/protocol"
	"github.com/m4xw311/chatbridge/session"
	"github.com/m4xw311/chatbridge/tools"
	"github.com/rs/zerolog"
)

// DefaultQueryTimeout bounds the wait for an editor_query_response.
const DefaultQueryTimeout = 10 * time.Second

// ErrNoEditorResponse is returned when the panel does not answer an editor
// query in time.
var ErrNoEditorResponse = errors.Sentinel("No response from the editor panel.")

type Options struct {
	Debug        bool
	QueryTimeout time.Duration
	Log          zerolog.Logger
}

// Server is one backend connection. It implements tools.Approver and
// tools.EditorQuerier by asking the panel on the other end of the stream.
type Server struct {
	f       *framer.Framer
	log     zerolog.Logger
	timeout time.Duration
	debug   atomic.Bool

	approvals *approval.Session
	waiting   *correlator.Table

	inbox *inbox
}

var (
	_ tools.Approver      = (*Server)(nil)
	_ tools.EditorQuerier = (*Server)(nil)
)

func New(in io.Reader, out io.Writer, opts Options) *Server {
	log := opts.Log.With().Str("component", "stdio").Logger()
	s := &Server{
		f:         framer.New(in, out, log),
		log:       log,
		timeout:   opts.QueryTimeout,
		approvals: approval.NewSession(),
		waiting:   correlator.NewTable(),
		inbox:     newInbox(),
	}
	if s.timeout <= 0 {
		s.timeout = DefaultQueryTimeout
	}
	s.debug.Store(opts.Debug)
	return s
}

// Run announces readiness and serves requests until the input ends, the
// panel asks to shut down, or the user closes the session. Requests are
// handled one at a time; responses to the server's own questions are routed
// by the reader as they arrive, so a turn waiting on the panel never blocks
// the stream.
func (s *Server) Run(ctx context.Context, a *agent.Agent) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.send(protocol.Ready(s.debug.Load())); err != nil {
		return err
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.f.ReadLines(ctx, s.route, func(ferr *framer.FramingError) {
			s.log.Debug().Str("line", ferr.Line).Msg("invalid JSON input")
			s.inbox.put(request{invalid: true})
		})
		s.inbox.close()
	}()

	for {
		req, ok := s.inbox.get()
		if !ok {
			s.f.Close()
			err := <-readErr
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if req.invalid {
			s.notice(protocol.TypeError, "Invalid JSON input.")
			continue
		}
		if done := s.handle(ctx, a, req.msg); done {
			s.f.Close()
			return nil
		}
	}
}

// route runs on the reader goroutine. Responses go straight to whoever is
// waiting for them; everything else is queued for Run.
func (s *Server) route(msg protocol.Message) {
	var kind correlator.Kind
	switch msg.Type {
	case protocol.TypeEditorQueryResponse:
		kind = correlator.EditorQuery
	case protocol.TypeShellApprovalResponse:
		kind = correlator.ShellApproval
	default:
		s.inbox.put(request{msg: msg})
		return
	}
	p, ok := s.waiting.Resolve(msg.ID, kind)
	if !ok {
		s.log.Debug().Str("type", msg.Type).Str("id", msg.ID).Msg("no one is waiting for response, skipping")
		return
	}
	p.Data.(chan protocol.Message) <- msg
}

func (s *Server) handle(ctx context.Context, a *agent.Agent, msg protocol.Message) (done bool) {
	switch msg.Type {
	case protocol.TypeShutdown:
		s.notice(protocol.TypeNotification, "Shutting down.")
		return true
	case protocol.TypeToggleDebug:
		s.toggleDebug()
		return false
	case protocol.TypeMessage:
	default:
		s.notice(protocol.TypeError, "Unknown action '"+msg.Type+"'.")
		return false
	}

	input := msg.Content
	if input == "" {
		s.notice(protocol.TypeError, "Empty message.")
		return false
	}
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit":
		s.notice(protocol.TypeNotification, "Session closed.")
		return true
	}

	switch {
	case input == "!tools":
		content := tools.Describe(a.AvailableTools)
		if content == "" {
			content = "No tools available."
		}
		s.reply(protocol.Notice{Type: protocol.TypeAssistant, Content: content})
	case input == "!new":
		a.Reset()
		s.reply(protocol.Notice{Type: protocol.TypeAssistant, Content: "[Memory cleared]"})
	case input == "!debug":
		s.toggleDebug()
	case strings.HasPrefix(strings.ToLower(input), "/plan"):
		s.plan(ctx, a, strings.TrimSpace(input[len("/plan"):]))
	default:
		s.converse(ctx, a, input)
	}
	return false
}

func (s *Server) toggleDebug() {
	on := !s.debug.Load()
	s.debug.Store(on)
	content := "Debug metrics disabled."
	if on {
		content = "Debug metrics enabled."
	}
	s.reply(protocol.Notice{Type: protocol.TypeNotification, Content: content, Debug: &protocol.Debug{Toggle: &on}})
}

func (s *Server) converse(ctx context.Context, a *agent.Agent, input string) {
	var content string
	var extras, debugLines []string
	debug := s.debug.Load()

	err := a.ProcessUserInput(ctx, input, agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) { content = message },
		OnToolResult: func(_ session.ToolCall, result string) {
			extras = append(extras, result)
		},
		OnDebug: func(line string) {
			if debug {
				debugLines = append(debugLines, line)
			}
		},
		OnWarning: func(warning string) {
			s.log.Warn().Msg(warning)
		},
	})
	if err != nil {
		s.log.Error().Err(err).Msg("turn failed")
		content = "[ERROR] " + err.Error()
	}
	s.reply(protocol.Notice{
		Type:    protocol.TypeAssistant,
		Content: content,
		Debug:   &protocol.Debug{Lines: nonNil(debugLines)},
		Extras:  extras,
	})
}

func (s *Server) plan(ctx context.Context, a *agent.Agent, request string) {
	if request == "" {
		s.reply(protocol.Notice{Type: protocol.TypeAssistant, Content: "[Planning needs a request: /plan <request>]"})
		return
	}
	steps, elapsed, err := a.Plan(ctx, request)
	if err != nil {
		s.log.Error().Err(err).Msg("planning failed")
		steps = "[ERROR] " + err.Error()
	}
	var debugLines []string
	if s.debug.Load() {
		debugLines = append(debugLines, fmt.Sprintf("[DEBUG] Planning time: %.2fs", elapsed.Seconds()))
	}
	s.reply(protocol.Notice{Type: protocol.TypeAssistant, Content: steps, Debug: &protocol.Debug{Lines: nonNil(debugLines)}})
}

// EditorQuery asks the panel's editor and waits for the correlated answer.
func (s *Server) EditorQuery(ctx context.Context, query string, payload any) (json.RawMessage, error) {
	id := correlator.NewID()
	resp, err := s.ask(ctx, id, correlator.EditorQuery, s.timeout, protocol.EditorQuery{
		Type:    protocol.TypeEditorQuery,
		ID:      id,
		Query:   query,
		Payload: payload,
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.Typed(errors.Capability, resp.Error)
	}
	return resp.Result, nil
}

// ApproveShell asks the user about command unless an earlier answer covers
// it: approve-all for the session, or the same command asked before.
func (s *Server) ApproveShell(ctx context.Context, command string) (bool, error) {
	command = strings.TrimSpace(command)
	if s.approvals.ApproveAllShellCommands() {
		return true, nil
	}
	if d, ok := s.approvals.Remembered(command); ok {
		return d.Approved(), nil
	}

	id := correlator.NewID()
	resp, err := s.ask(ctx, id, correlator.ShellApproval, 0, protocol.ShellApprovalRequest{
		Type:    protocol.TypeShellApprovalRequest,
		ID:      id,
		Command: command,
	})
	if err != nil {
		return false, err
	}
	d := approval.FromFlags(resp.Approved, resp.ApproveAll)
	s.approvals.Apply(command, d)
	s.log.Debug().Str("command", command).Str("decision", string(d)).Msg("shell approval")
	return d.Approved(), nil
}

// ask writes req and waits for the response with the same id. A zero timeout
// waits until ctx ends.
func (s *Server) ask(ctx context.Context, id string, kind correlator.Kind, timeout time.Duration, req any) (protocol.Message, error) {
	ch := make(chan protocol.Message, 1)
	if _, err := s.waiting.Register(id, kind, 0, ch); err != nil {
		return protocol.Message{}, err
	}
	if err := s.send(req); err != nil {
		s.waiting.Resolve(id, kind)
		return protocol.Message{}, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-expired:
		if _, ok := s.waiting.Resolve(id, kind); !ok {
			// The response won the race.
			return <-ch, nil
		}
		s.log.Warn().Str("id", id).Str("kind", string(kind)).Msg("no response from panel")
		return protocol.Message{}, ErrNoEditorResponse
	case <-ctx.Done():
		s.waiting.Resolve(id, kind)
		return protocol.Message{}, ctx.Err()
	}
}

func (s *Server) notice(typ, content string) {
	s.reply(protocol.Notice{Type: typ, Content: content})
}

func (s *Server) reply(n protocol.Notice) {
	if err := s.send(n); err != nil {
		s.log.Error().Err(err).Str("type", n.Type).Msg("failed to send")
	}
}

func (s *Server) send(v any) error {
	return s.f.WriteLine(v)
}

func nonNil(lines []string) []string {
	if lines == nil {
		return []string{}
	}
	return lines
}

// request is one queued inbound message. invalid marks a line that was not
// JSON.
type request struct {
	msg     protocol.Message
	invalid bool
}

// inbox is an unbounded FIFO between the reader and Run. The reader never
// blocks on it, so responses keep flowing while a turn is in progress.
type inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []request
	closed bool
}

func newInbox() *inbox {
	in := &inbox{}
	in.cond = sync.NewCond(&in.mu)
	return in
}

func (in *inbox) put(r request) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.items = append(in.items, r)
	in.cond.Signal()
}

// get blocks for the next request. It reports false once the inbox is closed
// and drained.
func (in *inbox) get() (request, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for len(in.items) == 0 && !in.closed {
		in.cond.Wait()
	}
	if len(in.items) == 0 {
		return request{}, false
	}
	r := in.items[0]
	in.items = in.items[1:]
	return r, true
}

func (in *inbox) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	in.cond.Broadcast()
}

package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/editor"
	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/protocol"
	"github.com/rs/zerolog"
)

const helperEnv = "CHATBRIDGE_BRIDGE_HELPER"

// TestMain lets the test binary double as a scripted backend. The backend
// answers chat messages with commands:
//
//	echo <text>                    assistant reply with text
//	ask <id|-> <query> <payload>   editor_query
//	approve <id> <command>         shell_approval_request
//	approve2 <id1> <id2> <command> two shell_approval_requests at once
//	overlay                        assistant reply with debug lines and extras
//	garbage                        a non-JSON line, then "after garbage"
//	crash                          "boom" on stderr and exit code 3
//
// Responses coming back from the bridge are echoed verbatim as assistant
// replies so tests can assert on the exact wire bytes.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) != "" {
		runBackend()
		return
	}
	os.Exit(m.Run())
}

func runBackend() {
	out := bufio.NewWriter(os.Stdout)
	emit := func(v any) {
		data, _ := json.Marshal(v)
		out.Write(data)
		out.WriteString("\n")
		out.Flush()
	}
	say := func(text string) { emit(protocol.Notice{Type: protocol.TypeAssistant, Content: text}) }

	emit(protocol.Ready(false))
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := in.Text()
		var m protocol.Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		switch m.Type {
		case protocol.TypeShutdown:
			os.Exit(0)
		case protocol.TypeEditorQueryResponse, protocol.TypeShellApprovalResponse:
			say(line)
			continue
		case protocol.TypeToggleDebug:
			emit(protocol.Notice{Type: protocol.TypeNotification, Content: "toggled", Debug: &protocol.Debug{Toggle: boolPtr(true)}})
			continue
		}

		fields := strings.Fields(m.Content)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "echo":
			say(strings.TrimPrefix(m.Content, "echo "))
		case "ask":
			id := fields[1]
			if id == "-" {
				id = ""
			}
			q := map[string]any{"type": protocol.TypeEditorQuery, "query": fields[2], "payload": json.RawMessage(fields[3])}
			if id != "" {
				q["id"] = id
			}
			emit(q)
		case "approve":
			emit(protocol.ShellApprovalRequest{Type: protocol.TypeShellApprovalRequest, ID: fields[1], Command: strings.Join(fields[2:], " ")})
		case "approve2":
			cmd := strings.Join(fields[3:], " ")
			emit(protocol.ShellApprovalRequest{Type: protocol.TypeShellApprovalRequest, ID: fields[1], Command: cmd})
			emit(protocol.ShellApprovalRequest{Type: protocol.TypeShellApprovalRequest, ID: fields[2], Command: cmd, Reason: "again"})
		case "overlay":
			emit(protocol.Notice{Type: protocol.TypeAssistant, Content: "hi", Debug: &protocol.Debug{Lines: []string{"d1"}}, Extras: []string{"e1", "e2"}})
		case "garbage":
			out.WriteString("{not json\n")
			out.Flush()
			say("after garbage")
		case "crash":
			fmt.Fprintln(os.Stderr, "boom")
			os.Exit(3)
		}
	}
}

func boolPtr(b bool) *bool { return &b }

// recorder collects bridge events and lets tests wait for them in order.
type recorder struct {
	mu     sync.Mutex
	events []Event
	cursor int
	signal chan struct{}
}

func newRecorder(b *Bridge) *recorder {
	r := &recorder{signal: make(chan struct{}, 1)}
	b.Subscribe(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		select {
		case r.signal <- struct{}{}:
		default:
		}
	})
	return r
}

// wait returns the first event after the previous match that satisfies pred.
func (r *recorder) wait(t *testing.T, desc string, pred func(Event) bool) Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		r.mu.Lock()
		for i := r.cursor; i < len(r.events); i++ {
			if pred(r.events[i]) {
				r.cursor = i + 1
				ev := r.events[i]
				r.mu.Unlock()
				return ev
			}
		}
		r.mu.Unlock()
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %s; events: %+v", desc, r.all())
			return nil
		}
	}
}

func (r *recorder) waitAssistant(t *testing.T, content string) {
	t.Helper()
	r.wait(t, "assistant "+content, func(ev Event) bool {
		a, ok := ev.(Assistant)
		return ok && a.Content == content
	})
}

func (r *recorder) waitReady(t *testing.T) {
	t.Helper()
	r.wait(t, "ready status", func(ev Event) bool {
		s, ok := ev.(Status)
		return ok && s.Message == "Backend ready. Say hello!"
	})
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count(pred func(Event) bool) int {
	n := 0
	for _, ev := range r.all() {
		if pred(ev) {
			n++
		}
	}
	return n
}

type fakeEditor struct {
	err error
}

func (f fakeEditor) Diagnostics(ctx context.Context, path string) ([]editor.FileDiagnostics, error) {
	return nil, f.err
}

func (f fakeEditor) OpenEditors(ctx context.Context) ([]editor.OpenEditor, error) {
	return nil, f.err
}

func (f fakeEditor) WorkspaceInfo(ctx context.Context) (editor.WorkspaceInfo, error) {
	return editor.WorkspaceInfo{Folders: []protocol.WorkspaceFolder{{Name: "repo", Path: "/repo"}}}, f.err
}

func (f fakeEditor) DocumentSymbols(ctx context.Context, path string) (string, []editor.Symbol, error) {
	return path, nil, f.err
}

// blockingEditor holds WorkspaceInfo until release is closed, whatever its
// context says.
type blockingEditor struct {
	fakeEditor
	entered chan struct{}
	release chan struct{}
}

func newBlockingEditor() *blockingEditor {
	return &blockingEditor{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (e *blockingEditor) WorkspaceInfo(ctx context.Context) (editor.WorkspaceInfo, error) {
	e.entered <- struct{}{}
	<-e.release
	return e.fakeEditor.WorkspaceInfo(ctx)
}

func (e *blockingEditor) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-e.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("editor was never asked")
	}
}

func helperOptions(t *testing.T) Options {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return Options{
		Backend:   Backend{Executable: exe, Env: []string{helperEnv + "=1"}},
		Workspace: StaticWorkspace(t.TempDir()),
		Editor:    fakeEditor{},
		StopGrace: 200 * time.Millisecond,
		Log:       zerolog.Nop(),
	}
}

func startBridge(t *testing.T, opts Options) (*Bridge, *recorder) {
	t.Helper()
	b := New(opts)
	r := newRecorder(b)
	t.Cleanup(func() { b.Close(context.Background()) })
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.waitReady(t)
	return b, r
}

func TestStartSendAndEcho(t *testing.T) {
	b, r := startBridge(t, helperOptions(t))

	snap, err := b.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Running || !snap.Controls || !snap.InputEnabled {
		t.Fatalf("snapshot after ready = %+v", snap)
	}

	if err := b.Send("echo hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	r.wait(t, "user echo", func(ev Event) bool { u, ok := ev.(User); return ok && u.Content == "echo hello" })
	r.waitAssistant(t, "hello")

	if err := b.Send("   "); err != ErrEmptyMessage {
		t.Fatalf("Send(blank) = %v, want ErrEmptyMessage", err)
	}
}

func TestStartStatusSequence(t *testing.T) {
	_, r := startBridge(t, helperOptions(t))

	var statuses []string
	for _, ev := range r.all() {
		if s, ok := ev.(Status); ok {
			statuses = append(statuses, s.Message)
		}
	}
	if len(statuses) != 3 ||
		!strings.HasPrefix(statuses[0], "Starting backend in ") ||
		statuses[1] != "Backend process started. Waiting for ready event…" ||
		statuses[2] != "Backend ready. Say hello!" {
		t.Fatalf("statuses = %q", statuses)
	}
}

func TestEditorQueryRoundTrip(t *testing.T) {
	b, r := startBridge(t, helperOptions(t))

	if err := b.Send("ask q1 workspace_info {}"); err != nil {
		t.Fatal(err)
	}
	r.waitAssistant(t, `{"type":"editor_query_response","id":"q1","result":{"workspaceFolders":[{"name":"repo","path":"/repo"}],"activeFile":null}}`)
}

func TestEditorQueryErrorsAreAnswered(t *testing.T) {
	opts := helperOptions(t)
	opts.Editor = fakeEditor{err: fmt.Errorf("no language server")}
	b, r := startBridge(t, opts)

	tests := []struct {
		send string
		want string
	}{
		{"ask q2 nope {}", `{"type":"editor_query_response","id":"q2","error":"unknown query 'nope'"}`},
		{"ask - workspace_info {}", `{"type":"editor_query_response","id":"","error":"missing correlation id"}`},
		{"ask q3 diagnostics [1]", `{"type":"editor_query_response","id":"q3","error":"payload must be a JSON object"}`},
		{"ask q4 open_editors {}", `{"type":"editor_query_response","id":"q4","error":"no language server"}`},
	}
	for _, tt := range tests {
		if err := b.Send(tt.send); err != nil {
			t.Fatal(err)
		}
		r.waitAssistant(t, tt.want)
	}

	snap, _ := b.Snapshot()
	if snap.Pending != 0 {
		t.Fatalf("pending = %d after every query was answered", snap.Pending)
	}
}

func TestEditorQueryInFlightAcrossReconnect(t *testing.T) {
	opts := helperOptions(t)
	ed := newBlockingEditor()
	opts.Editor = ed
	b, r := startBridge(t, opts)

	b.Send("ask q1 workspace_info {}")
	ed.waitEntered(t)
	if err := b.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	r.waitReady(t)
	close(ed.release)

	// q2 and the echo go through the new backend after q1's late answer has
	// been posted, so any reply to q1 would show up before them.
	b.Send("ask q2 workspace_info {}")
	r.waitAssistant(t, `{"type":"editor_query_response","id":"q2","result":{"workspaceFolders":[{"name":"repo","path":"/repo"}],"activeFile":null}}`)
	b.Send("echo done")
	r.waitAssistant(t, "done")

	if n := r.count(func(ev Event) bool { a, ok := ev.(Assistant); return ok && strings.Contains(a.Content, `"id":"q1"`) }); n != 0 {
		t.Fatalf("new backend got %d answers to a query of the old one", n)
	}
	if snap, _ := b.Snapshot(); snap.Pending != 0 {
		t.Fatalf("pending = %d", snap.Pending)
	}
}

func TestDuplicateEditorQueryIDIsDropped(t *testing.T) {
	opts := helperOptions(t)
	ed := newBlockingEditor()
	opts.Editor = ed
	b, r := startBridge(t, opts)

	b.Send("ask q1 workspace_info {}")
	ed.waitEntered(t)
	b.Send("ask q1 workspace_info {}")
	r.wait(t, "duplicate debug line", func(ev Event) bool {
		d, ok := ev.(DebugLines)
		return ok && len(d.Lines) == 1 && strings.HasPrefix(d.Lines[0], "Ignoring editor query q1")
	})
	close(ed.release)

	r.waitAssistant(t, `{"type":"editor_query_response","id":"q1","result":{"workspaceFolders":[{"name":"repo","path":"/repo"}],"activeFile":null}}`)
	b.Send("echo done")
	r.waitAssistant(t, "done")
	if n := r.count(func(ev Event) bool { a, ok := ev.(Assistant); return ok && strings.Contains(a.Content, `"id":"q1"`) }); n != 1 {
		t.Fatalf("q1 answered %d times, want once", n)
	}
}

func TestShellApprovalDeny(t *testing.T) {
	b, r := startBridge(t, helperOptions(t))

	if err := b.Send("approve s1 rm -rf /tmp/x"); err != nil {
		t.Fatal(err)
	}
	r.wait(t, "input disabled", func(ev Event) bool { in, ok := ev.(Input); return ok && !in.Enabled })
	prompt := r.wait(t, "prompt", func(ev Event) bool { _, ok := ev.(ApprovalPrompt); return ok }).(ApprovalPrompt)
	if prompt.ID != "s1" || prompt.Command != "rm -rf /tmp/x" {
		t.Fatalf("prompt = %+v", prompt)
	}

	if err := b.Send("echo blocked"); err != ErrInputLocked {
		t.Fatalf("Send during prompt = %v, want ErrInputLocked", err)
	}

	ok, err := b.ResolveApproval("s1", approval.Deny)
	if !ok || err != nil {
		t.Fatalf("ResolveApproval = %v, %v", ok, err)
	}
	r.wait(t, "dismissed", func(ev Event) bool { d, ok := ev.(ApprovalDismissed); return ok && d.ID == "s1" })
	r.wait(t, "input enabled", func(ev Event) bool { in, ok := ev.(Input); return ok && in.Enabled })
	r.waitAssistant(t, `{"type":"shell_approval_response","id":"s1","approved":false,"approve_all":false}`)

	if ok, _ := b.ResolveApproval("s1", approval.Approve); ok {
		t.Fatal("duplicate resolution was accepted")
	}
	if err := b.Send("echo unblocked"); err != nil {
		t.Fatalf("Send after prompt: %v", err)
	}
	r.waitAssistant(t, "unblocked")
}

func TestApproveAllLastsUntilReconnect(t *testing.T) {
	b, r := startBridge(t, helperOptions(t))
	isPrompt := func(id string) func(Event) bool {
		return func(ev Event) bool { p, ok := ev.(ApprovalPrompt); return ok && p.ID == id }
	}

	b.Send("approve s1 make build")
	r.wait(t, "prompt s1", isPrompt("s1"))
	if ok, err := b.ResolveApproval("s1", approval.ApproveAll); !ok || err != nil {
		t.Fatalf("ResolveApproval = %v, %v", ok, err)
	}
	r.waitAssistant(t, `{"type":"shell_approval_response","id":"s1","approved":true,"approve_all":true}`)

	b.Send("approve s2 make build")
	r.waitAssistant(t, `{"type":"shell_approval_response","id":"s2","approved":true,"approve_all":true}`)
	if n := r.count(isPrompt("s2")); n != 0 {
		t.Fatalf("s2 was prompted %d times after approve all", n)
	}

	if err := b.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	r.waitReady(t)
	b.Send("approve s3 make build")
	r.wait(t, "prompt s3", isPrompt("s3"))
}

func TestApprovalQueueShowsOnePromptAtATime(t *testing.T) {
	b, r := startBridge(t, helperOptions(t))
	b.Send("approve2 a1 a2 go test ./...")

	r.wait(t, "prompt a1", func(ev Event) bool { p, ok := ev.(ApprovalPrompt); return ok && p.ID == "a1" })
	// Wait until both requests are registered.
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, _ := b.Snapshot()
		if snap.Pending == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pending = %d, want 2", snap.Pending)
		}
		time.Sleep(10 * time.Millisecond)
	}

	b.ResolveApproval("a1", approval.Approve)
	p := r.wait(t, "prompt a2", func(ev Event) bool { _, ok := ev.(ApprovalPrompt); return ok }).(ApprovalPrompt)
	if p.ID != "a2" || p.Reason != "again" {
		t.Fatalf("next prompt = %+v", p)
	}
	if err := b.Send("echo nope"); err != ErrInputLocked {
		t.Fatalf("Send with one prompt left = %v", err)
	}
	r.waitAssistant(t, `{"type":"shell_approval_response","id":"a1","approved":true,"approve_all":false}`)

	b.ResolveApproval("a2", approval.Deny)
	r.wait(t, "input enabled", func(ev Event) bool { in, ok := ev.(Input); return ok && in.Enabled })
	r.waitAssistant(t, `{"type":"shell_approval_response","id":"a2","approved":false,"approve_all":false}`)
}

func TestPolicyAutoApproves(t *testing.T) {
	opts := helperOptions(t)
	opts.Policy = approval.NewPolicy([]string{`ls( -[a-z]+)*`}, zerolog.Nop())
	b, r := startBridge(t, opts)

	b.Send("approve p1 ls -la")
	r.waitAssistant(t, `{"type":"shell_approval_response","id":"p1","approved":true,"approve_all":false}`)
	if n := r.count(func(ev Event) bool { _, ok := ev.(ApprovalPrompt); return ok }); n != 0 {
		t.Fatalf("policy match still prompted")
	}
}

func TestReconnectAbandonsPendingApproval(t *testing.T) {
	b, r := startBridge(t, helperOptions(t))
	firstGen, _ := b.Snapshot()

	b.Send("approve s1 rm -rf build")
	r.wait(t, "prompt", func(ev Event) bool { _, ok := ev.(ApprovalPrompt); return ok })

	if err := b.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	r.wait(t, "dismissed", func(ev Event) bool { d, ok := ev.(ApprovalDismissed); return ok && d.ID == "s1" })
	r.waitReady(t)

	if ok, _ := b.ResolveApproval("s1", approval.Approve); ok {
		t.Fatal("abandoned request was resolved against the new backend")
	}
	snap, _ := b.Snapshot()
	if snap.Generation <= firstGen.Generation || !snap.InputEnabled || snap.Pending != 0 {
		t.Fatalf("snapshot after reconnect = %+v", snap)
	}
	warnings := r.count(func(ev Event) bool { s, ok := ev.(Status); return ok && s.Level == LevelWarning })
	if warnings != 0 {
		t.Fatalf("requested stop produced %d exit warnings", warnings)
	}
}

func TestUnexpectedExit(t *testing.T) {
	b, r := startBridge(t, helperOptions(t))

	b.Send("crash")
	r.wait(t, "stderr", func(ev Event) bool {
		d, ok := ev.(DebugLines)
		return ok && len(d.Lines) == 1 && d.Lines[0] == "boom"
	})
	r.wait(t, "exit warning", func(ev Event) bool {
		s, ok := ev.(Status)
		return ok && s.Level == LevelWarning && s.Message == "Backend exited (code: 3, signal: null)."
	})
	r.wait(t, "controls disabled", func(ev Event) bool { c, ok := ev.(Controls); return ok && !c.Enabled })

	err := b.Send("echo anyone")
	if errors.KindOf(err) != errors.Write {
		t.Fatalf("Send after exit = %v, want a write error", err)
	}
	r.wait(t, "not running status", func(ev Event) bool {
		s, ok := ev.(Status)
		return ok && s.Level == LevelError && s.Message == "Backend is not running. Click reconnect."
	})
}

func TestFramingFailureDoesNotStopReading(t *testing.T) {
	b, r := startBridge(t, helperOptions(t))

	b.Send("garbage")
	ev := r.wait(t, "framing debug line", func(ev Event) bool {
		d, ok := ev.(DebugLines)
		return ok && len(d.Lines) == 1 && strings.HasPrefix(d.Lines[0], "Failed to parse JSON line: ")
	}).(DebugLines)
	if !strings.HasSuffix(ev.Lines[0], "\n{not json") {
		t.Errorf("framing line = %q, want the raw text after a newline", ev.Lines[0])
	}
	r.waitAssistant(t, "after garbage")
}

func TestOverlaysPrecedePrimaryDisposition(t *testing.T) {
	b, r := startBridge(t, helperOptions(t))

	b.Send("overlay")
	r.wait(t, "debug lines", func(ev Event) bool {
		d, ok := ev.(DebugLines)
		return ok && len(d.Lines) == 1 && d.Lines[0] == "d1"
	})
	r.wait(t, "extra e1", func(ev Event) bool { s, ok := ev.(System); return ok && s.Content == "e1" })
	r.wait(t, "extra e2", func(ev Event) bool { s, ok := ev.(System); return ok && s.Content == "e2" })
	r.waitAssistant(t, "hi")
}

func TestToggleDebug(t *testing.T) {
	b, r := startBridge(t, helperOptions(t))

	if err := b.ToggleDebug(); err != nil {
		t.Fatal(err)
	}
	r.wait(t, "debug visible", func(ev Event) bool { d, ok := ev.(DebugVisibility); return ok && d.Visible })
	r.wait(t, "debug status", func(ev Event) bool { s, ok := ev.(Status); return ok && s.Message == "Debug metrics enabled." })
	r.wait(t, "notice", func(ev Event) bool { s, ok := ev.(System); return ok && s.Content == "toggled" })
}

func TestStartFailures(t *testing.T) {
	t.Run("no workspace", func(t *testing.T) {
		opts := helperOptions(t)
		opts.Workspace = func() (string, error) { return "", nil }
		b := New(opts)
		defer b.Close(context.Background())
		r := newRecorder(b)

		if err := b.Start(context.Background()); errors.KindOf(err) != errors.Spawn {
			t.Fatalf("Start = %v, want a spawn error", err)
		}
		r.wait(t, "workspace status", func(ev Event) bool {
			s, ok := ev.(Status)
			return ok && s.Level == LevelError && strings.HasPrefix(s.Message, "Unable to determine workspace path.")
		})
	})

	t.Run("missing executable", func(t *testing.T) {
		opts := helperOptions(t)
		opts.Backend.Executable = "/definitely/not/a/backend"
		b := New(opts)
		defer b.Close(context.Background())
		r := newRecorder(b)

		if err := b.Start(context.Background()); errors.KindOf(err) != errors.Spawn {
			t.Fatalf("Start = %v, want a spawn error", err)
		}
		r.wait(t, "launch status", func(ev Event) bool {
			s, ok := ev.(Status)
			return ok && s.Level == LevelError && strings.HasPrefix(s.Message, "Failed to launch backend: ")
		})
		snap, _ := b.Snapshot()
		if snap.Running || snap.Controls {
			t.Fatalf("snapshot after failed start = %+v", snap)
		}
	})
}

func TestCloseIsIdempotent(t *testing.T) {
	b, _ := startBridge(t, helperOptions(t))

	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := b.Send("echo late"); err != ErrClosed {
		t.Fatalf("Send after Close = %v, want ErrClosed", err)
	}
}

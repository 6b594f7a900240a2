package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/chatbridge/agent"
	"github.com/m4xw311/chatbridge/config"
	"github.com/m4xw311/chatbridge/llm"
	"github.com/m4xw311/chatbridge/session"
	"github.com/m4xw311/chatbridge/tools"
	"github.com/rs/zerolog"
)

type harness struct {
	t     *testing.T
	in    *io.PipeWriter
	lines chan map[string]any
	done  chan error
}

func start(t *testing.T, opts Options) *harness {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	opts.Log = zerolog.Nop()
	srv := New(inR, outW, opts)

	cfg := config.Default()
	root := t.TempDir()
	registry := tools.NewToolRegistry(context.Background(), cfg, tools.Options{Root: root, Approver: srv, Editor: srv, Log: zerolog.Nop()})
	t.Cleanup(registry.Close)
	sess, err := session.New("")
	if err != nil {
		t.Fatal(err)
	}
	a, err := agent.New(cfg, sess, "default", &llm.MockLLMClient{}, registry, root, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{t: t, in: inW, lines: make(chan map[string]any, 16), done: make(chan error, 1)}
	go func() {
		sc := bufio.NewScanner(outR)
		for sc.Scan() {
			var m map[string]any
			if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
				t.Errorf("backend wrote a non-JSON line: %q", sc.Text())
				continue
			}
			h.lines <- m
		}
	}()
	go func() {
		h.done <- srv.Run(context.Background(), a)
		outW.Close()
	}()
	t.Cleanup(func() { inW.Close() })
	return h
}

func (h *harness) send(line string) {
	h.t.Helper()
	if _, err := io.WriteString(h.in, line+"\n"); err != nil {
		h.t.Fatalf("write: %v", err)
	}
}

func (h *harness) next() map[string]any {
	h.t.Helper()
	select {
	case m := <-h.lines:
		return m
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for the backend")
		return nil
	}
}

func (h *harness) expect(typ, content string) map[string]any {
	h.t.Helper()
	m := h.next()
	if m["type"] != typ || (content != "" && m["content"] != content) {
		h.t.Fatalf("got %v, want type %q content %q", m, typ, content)
	}
	return m
}

func TestServerConversation(t *testing.T) {
	h := start(t, Options{})

	ready := h.expect("ready", "")
	if ready["debug"] != false {
		t.Errorf("ready = %v", ready)
	}

	h.send(`{"type":"message","content":"hello"}`)
	h.expect("assistant", "I am a mock LLM. You said: 'hello'.")

	h.send(`{"type":"message","content":""}`)
	h.expect("error", "Empty message.")

	h.send(`{"type":"bogus"}`)
	h.expect("error", "Unknown action 'bogus'.")

	h.send(`not json`)
	h.expect("error", "Invalid JSON input.")

	h.send(`{"type":"editor_query_response","id":"stray","result":{}}`)
	h.send(`{"type":"message","content":"!new"}`)
	h.expect("assistant", "[Memory cleared]")

	h.send(`{"type":"message","content":"!tools"}`)
	listing := h.expect("assistant", "")
	if !strings.Contains(listing["content"].(string), "- read_file:") {
		t.Errorf("tools = %v", listing["content"])
	}

	h.send(`{"type":"toggle_debug"}`)
	toggled := h.expect("notification", "Debug metrics enabled.")
	if toggled["debug"] != true {
		t.Errorf("toggle = %v", toggled)
	}

	h.send(`{"type":"message","content":"hi again"}`)
	reply := h.expect("assistant", "I am a mock LLM. You said: 'hi again'.")
	lines, _ := reply["debug"].([]any)
	if len(lines) != 1 || !strings.HasPrefix(lines[0].(string), "[DEBUG] Response time: ") {
		t.Errorf("debug lines = %v", reply["debug"])
	}

	h.send(`{"type":"shutdown"}`)
	h.expect("notification", "Shutting down.")
	if err := <-h.done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestServerEditorQuery(t *testing.T) {
	h := start(t, Options{QueryTimeout: 200 * time.Millisecond})
	h.expect("ready", "")

	h.send(`{"type":"message","content":"/tool editor_workspace_info {}"}`)
	q := h.expect("editor_query", "")
	if q["query"] != "workspace_info" || q["id"] == "" {
		t.Fatalf("query = %v", q)
	}
	h.send(`{"type":"editor_query_response","id":"` + q["id"].(string) + `","result":{"activeFile":"main.go"}}`)
	reply := h.expect("assistant", "")
	if !strings.Contains(reply["content"].(string), `"activeFile": "main.go"`) {
		t.Errorf("content = %v", reply["content"])
	}
	if extras, _ := reply["extras"].([]any); len(extras) != 1 {
		t.Errorf("extras = %v", reply["extras"])
	}

	h.send(`{"type":"message","content":"/tool editor_open_editors {}"}`)
	late := h.expect("editor_query", "")
	reply = h.expect("assistant", "")
	if !strings.Contains(reply["content"].(string), "Open editors query failed: No response from the editor panel.") {
		t.Errorf("content = %v", reply["content"])
	}
	// Answering after the timeout is skipped.
	h.send(`{"type":"editor_query_response","id":"` + late["id"].(string) + `","result":{}}`)

	h.send(`{"type":"message","content":"quit"}`)
	h.expect("notification", "Session closed.")
	if err := <-h.done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestServerShellApproval(t *testing.T) {
	h := start(t, Options{})
	h.expect("ready", "")

	h.send(`{"type":"message","content":"/tool shell {\"command\":\"echo approved\"}"}`)
	req := h.expect("shell_approval_request", "")
	if req["command"] != "echo approved" {
		t.Fatalf("request = %v", req)
	}
	h.send(`{"type":"shell_approval_response","id":"` + req["id"].(string) + `","approved":true,"approve_all":false}`)
	reply := h.expect("assistant", "")
	if !strings.Contains(reply["content"].(string), "approved") {
		t.Errorf("content = %v", reply["content"])
	}

	// The same command is answered from the cache.
	h.send(`{"type":"message","content":"/tool shell {\"command\":\"echo approved\"}"}`)
	h.expect("assistant", "")

	h.send(`{"type":"message","content":"/tool shell {\"command\":\"rm -rf build\"}"}`)
	req = h.expect("shell_approval_request", "")
	h.send(`{"type":"shell_approval_response","id":"` + req["id"].(string) + `","approved":false,"approve_all":false}`)
	reply = h.expect("assistant", "")
	extras, _ := reply["extras"].([]any)
	if len(extras) != 1 || extras[0] != tools.DeniedMessage {
		t.Errorf("extras = %v", reply["extras"])
	}

	h.send(`{"type":"message","content":"/tool shell {\"command\":\"echo one\"}"}`)
	req = h.expect("shell_approval_request", "")
	h.send(`{"type":"shell_approval_response","id":"` + req["id"].(string) + `","approved":true,"approve_all":true}`)
	h.expect("assistant", "")

	// Approve-all sticks for the rest of the connection.
	h.send(`{"type":"message","content":"/tool shell {\"command\":\"echo two\"}"}`)
	reply = h.expect("assistant", "")
	if !strings.Contains(reply["content"].(string), "two") {
		t.Errorf("content = %v", reply["content"])
	}

	h.in.Close()
	if err := <-h.done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

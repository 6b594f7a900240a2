package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/m4xw311/chatbridge/agent"
	"github.com/m4xw311/chatbridge/config"
	"github.com/m4xw311/chatbridge/llm"
	"github.com/m4xw311/chatbridge/session"
	"github.com/m4xw311/chatbridge/tools"
	"github.com/rs/zerolog"
)

// newTestAgent builds an agent whose shell tool asks term for approval.
func newTestAgent(t *testing.T, term *Terminal) *agent.Agent {
	t.Helper()
	cfg := config.Default()
	cfg.Assistant.Toolsets = []config.Toolset{{Name: "default", Tools: []string{"shell"}}}
	root := t.TempDir()
	registry := tools.NewToolRegistry(context.Background(), cfg, tools.Options{Root: root, Approver: term, Log: zerolog.Nop()})
	sess, err := session.New("")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	a, err := agent.New(cfg, sess, "default", &llm.MockLLMClient{}, registry, root, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create agent: %v", err)
	}
	return a
}

func TestTerminalRun(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader("\nsecond\n!tools\n/quit\nnever\n"), &out, ToolVerbosityNone)
	a := newTestAgent(t, term)

	if err := term.Run(context.Background(), a, "first"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"Assistant: I am a mock LLM. You said: 'first'.",
		"Assistant: I am a mock LLM. You said: 'second'.",
		"- shell:",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output misses %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "never") {
		t.Error("input after /quit was processed")
	}
}

func TestTerminalRunEndsOnEOF(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader(""), &out, ToolVerbosityNone)
	if err := term.Run(context.Background(), newTestAgent(t, term), ""); err != nil {
		t.Errorf("Run failed without input: %v", err)
	}
}

func TestTerminalApproval(t *testing.T) {
	testCases := []struct {
		name      string
		answers   string
		verbosity ToolVerbosity
		want      []string
	}{
		{"approved once", "y\n", ToolVerbosityInfo, []string{"Calling tool `shell`", "Command executed successfully"}},
		{"denied", "n\n", ToolVerbosityAll, []string{"Tool `shell` output: " + tools.DeniedMessage}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			term := New(strings.NewReader(tc.answers), &out, tc.verbosity)
			a := newTestAgent(t, term)
			if err := term.processTurn(context.Background(), a, `/tool shell {"command":"echo hi"}`); err != nil {
				t.Fatalf("processTurn failed: %v", err)
			}
			for _, want := range tc.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output misses %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestTerminalApproveAllSticks(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader("a\n"), &out, ToolVerbosityNone)
	ctx := context.Background()
	if ok, err := term.ApproveShell(ctx, "make build"); !ok || err != nil {
		t.Fatalf("first answer = %v, %v", ok, err)
	}
	// No input is left, so a second prompt would fail.
	if ok, err := term.ApproveShell(ctx, "make test"); !ok || err != nil {
		t.Errorf("approve all was not remembered: %v, %v", ok, err)
	}
	if n := strings.Count(out.String(), "Run `"); n != 1 {
		t.Errorf("prompted %d times", n)
	}
}

func TestParseToolVerbosity(t *testing.T) {
	if v, ok := ParseToolVerbosity("info"); !ok || v != ToolVerbosityInfo {
		t.Errorf("info = %q, %v", v, ok)
	}
	if _, ok := ParseToolVerbosity("loud"); ok {
		t.Error("loud accepted")
	}
}

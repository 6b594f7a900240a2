package panel_test

import (
	"context"
	"encoding/json"
	"slices"
	"testing"

	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/bridge"
	"github.com/m4xw311/chatbridge/panel"
	"github.com/m4xw311/chatbridge/panel/paneltest"
)

func TestParseCommand(t *testing.T) {
	testCases := []struct {
		line    string
		wantCmd panel.Command
		wantArg string
	}{
		{"hello", panel.CmdNone, ""},
		{"/tools", panel.CmdTools, ""},
		{"  /OPEN  src/main.go ", panel.CmdOpen, "src/main.go"},
		{"/exit", panel.CmdQuit, ""},
		{"/frobnicate", panel.CmdHelp, ""},
	}
	for _, tc := range testCases {
		cmd, arg := panel.ParseCommand(tc.line)
		if cmd != tc.wantCmd || arg != tc.wantArg {
			t.Errorf("ParseCommand(%q) = %q, %q; want %q, %q", tc.line, cmd, arg, tc.wantCmd, tc.wantArg)
		}
	}
}

func TestDispatch(t *testing.T) {
	c := paneltest.New()
	docs := &paneltest.Documents{}
	ctx := context.Background()
	for _, raw := range []string{
		`{"type":"send","content":"hi"}`,
		`{"type":"send","content":"   "}`,
		`{"type":"toggleDebug"}`,
		`{"type":"listTools"}`,
		`{"type":"newSession"}`,
		`{"type":"reconnect"}`,
		`{"type":"open","path":"a.go"}`,
		`{"type":"shell_approval_response","id":"x","approved":true,"approve_all":true}`,
		`{"type":"shell_approval_response","id":"y","approved":false}`,
		`{"type":"mystery"}`,
	} {
		in, err := panel.DecodeIncoming([]byte(raw))
		if err != nil {
			t.Fatalf("DecodeIncoming(%s): %v", raw, err)
		}
		if err := panel.Dispatch(ctx, c, docs, in); err != nil {
			t.Errorf("Dispatch(%s): %v", raw, err)
		}
	}
	want := []string{"send hi", "debug", "tools", "new", "reconnect", "approval x", "approval y"}
	if got := c.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if c.Decisions["x"] != approval.ApproveAll || c.Decisions["y"] != approval.Deny {
		t.Errorf("decisions = %v", c.Decisions)
	}
	if !slices.Equal(docs.Opened, []string{"a.go"}) {
		t.Errorf("opened = %v", docs.Opened)
	}
}

func TestDecodeIncomingRejectsGarbage(t *testing.T) {
	if _, err := panel.DecodeIncoming([]byte("{nope")); err == nil {
		t.Error("garbage decoded")
	}
}

func TestRunOpenWithoutWorkspace(t *testing.T) {
	if err := panel.Run(context.Background(), paneltest.New(), nil, panel.CmdOpen, "a.go"); err == nil {
		t.Error("open without documents succeeded")
	}
	if err := panel.Run(context.Background(), paneltest.New(), &paneltest.Documents{}, panel.CmdOpen, ""); err == nil {
		t.Error("open without a path succeeded")
	}
}

func TestEncode(t *testing.T) {
	testCases := []struct {
		ev   bridge.Event
		want string
	}{
		{bridge.Assistant{Content: "hi"}, `{"type":"assistant","message":"hi"}`},
		{bridge.System{Content: ""}, `{"type":"system","message":""}`},
		{bridge.Status{Level: bridge.LevelError, Message: "down"}, `{"type":"status","message":"down","level":"error"}`},
		{bridge.Controls{Enabled: false}, `{"type":"controls","enabled":false}`},
		{bridge.DebugVisibility{Visible: true}, `{"type":"debug-visibility","visible":true}`},
		{bridge.DebugLines{Lines: []string{"a"}}, `{"type":"debug-lines","lines":["a"]}`},
		{bridge.ApprovalPrompt{ID: "1", Command: "ls"}, `{"type":"shell_approval_request","id":"1","command":"ls"}`},
		{bridge.ApprovalDismissed{ID: "1"}, `{"type":"shell_approval_dismissed","id":"1"}`},
	}
	for _, tc := range testCases {
		data, err := json.Marshal(panel.Encode(tc.ev))
		if err != nil {
			t.Fatal(err)
		}
		var got, want map[string]any
		json.Unmarshal(data, &got)
		json.Unmarshal([]byte(tc.want), &want)
		if len(got) != len(want) {
			t.Errorf("Encode(%T) = %s, want %s", tc.ev, data, tc.want)
			continue
		}
		for k, v := range want {
			if gv, ok := got[k]; !ok || !jsonEqual(gv, v) {
				t.Errorf("Encode(%T) = %s, want %s", tc.ev, data, tc.want)
				break
			}
		}
	}
}

func jsonEqual(a, b any) bool {
	x, _ := json.Marshal(a)
	y, _ := json.Marshal(b)
	return string(x) == string(y)
}

func TestReplayIncludesPrompt(t *testing.T) {
	prompt := bridge.ApprovalPrompt{ID: "p", Command: "rm -rf build"}
	evs := panel.Replay(bridge.Snapshot{Controls: true, Prompt: &prompt})
	if len(evs) != 4 || evs[3] != bridge.Event(prompt) {
		t.Errorf("Replay = %#v", evs)
	}
}

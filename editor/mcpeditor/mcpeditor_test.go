package mcpeditor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/m4xw311/chatbridge/editor"
	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/protocol"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

type fakeSession struct {
	results map[string]string
	failing map[string]string
	calls   []*mcpsdk.CallToolParams
}

func (f *fakeSession) CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	f.calls = append(f.calls, params)
	if msg, ok := f.failing[params.Name]; ok {
		return &mcpsdk.CallToolResult{IsError: true, Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}}}, nil
	}
	text := f.results[params.Name]
	// Split the answer across two content blocks.
	half := len(text) / 2
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{
		&mcpsdk.TextContent{Text: text[:half]},
		&mcpsdk.TextContent{Text: text[half:]},
	}}, nil
}

func TestDiagnosticsThroughResolve(t *testing.T) {
	fake := &fakeSession{results: map[string]string{
		"diagnostics": `[{"path":"/w/a.go","diagnostics":[
			{"severity":1,"message":"boom","source":"gopls","code":42,"range":{"start":{"line":0,"character":2},"end":{"line":0,"character":4}}},
			{"severity":"hint","message":"meh","range":{"start":{"line":3,"character":0},"end":{"line":3,"character":1}}}
		]}]`,
	}}
	e := newEditor(fake, nil, zerolog.Nop())

	out, err := editor.Resolve(context.Background(), e, protocol.QueryDiagnostics, json.RawMessage(`{"severity":"hint"}`))
	if err != nil {
		t.Fatal(err)
	}
	var res protocol.DiagnosticsResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 1 || len(res.Items[0].Diagnostics) != 2 {
		t.Fatalf("items = %+v", res.Items)
	}
	first := res.Items[0].Diagnostics[0]
	if first.Severity != "error" || first.Code != "42" || first.Range.Start.Line != 1 || first.Range.Start.Character != 3 {
		t.Errorf("first = %+v", first)
	}
	if res.Items[0].Diagnostics[1].Severity != "hint" {
		t.Errorf("second = %+v", res.Items[0].Diagnostics[1])
	}
	if args, _ := fake.calls[0].Arguments.(map[string]any); len(args) != 0 {
		t.Errorf("arguments = %v, want none", fake.calls[0].Arguments)
	}
}

func TestDocumentSymbolsNumericKinds(t *testing.T) {
	fake := &fakeSession{results: map[string]string{
		"lsp_symbols": `{"symbols":[{"name":"Server","kind":23,"range":{"start":{"line":4,"character":0},"end":{"line":9,"character":1}},
			"selectionRange":{"start":{"line":4,"character":5},"end":{"line":4,"character":11}},
			"children":[{"name":"Addr","kind":"field","range":{"start":{"line":5,"character":1},"end":{"line":5,"character":12}},"selectionRange":{"start":{"line":5,"character":1},"end":{"line":5,"character":5}}}]}]}`,
	}}
	e := newEditor(fake, map[string]string{protocol.QueryDocumentSymbols: "lsp_symbols"}, zerolog.Nop())

	path, symbols, err := e.DocumentSymbols(context.Background(), "/w/a.go")
	if err != nil {
		t.Fatal(err)
	}
	if path != "/w/a.go" {
		t.Errorf("path = %q", path)
	}
	if len(symbols) != 1 || symbols[0].Kind != "struct" || len(symbols[0].Children) != 1 || symbols[0].Children[0].Kind != "field" {
		t.Fatalf("symbols = %+v", symbols)
	}
	if args := fake.calls[0].Arguments.(map[string]any); args["path"] != "/w/a.go" {
		t.Errorf("arguments = %v", args)
	}
}

func TestOpenEditorsAndWorkspaceInfo(t *testing.T) {
	fake := &fakeSession{results: map[string]string{
		"open_editors":   `[{"path":"/w/a.go","languageId":"go","isActive":true,"isDirty":false,"selection":{"start":{"line":1,"character":0},"end":{"line":1,"character":3}}},{"path":"/w/b.md","languageId":"markdown"}]`,
		"workspace_info": `{"workspaceFolders":[{"name":"w","path":"/w"}],"activeFile":"/w/a.go"}`,
	}}
	e := newEditor(fake, nil, zerolog.Nop())

	editors, err := e.OpenEditors(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(editors) != 2 || !editors[0].Active || editors[0].Selection == nil || editors[0].Selection.End.Character != 3 || editors[1].Selection != nil {
		t.Fatalf("editors = %+v", editors)
	}

	info, err := e.WorkspaceInfo(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Folders) != 1 || info.Folders[0].Path != "/w" || info.ActiveFile != "/w/a.go" {
		t.Fatalf("info = %+v", info)
	}
}

func TestFailuresAreCapabilityErrors(t *testing.T) {
	fake := &fakeSession{
		results: map[string]string{"workspace_info": `not json`},
		failing: map[string]string{"open_editors": "no window"},
	}
	e := newEditor(fake, nil, zerolog.Nop())
	e.known = map[string]bool{"workspace_info": true, "open_editors": true}

	tests := []struct {
		name string
		call func() error
		want string
	}{
		{"missing tool", func() error { _, err := e.Diagnostics(context.Background(), ""); return err }, "editor server does not provide 'diagnostics'"},
		{"tool error", func() error { _, err := e.OpenEditors(context.Background()); return err }, "no window"},
		{"malformed", func() error { _, err := e.WorkspaceInfo(context.Background()); return err }, "'workspace_info' returned malformed JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if errors.KindOf(err) != errors.Capability {
				t.Fatalf("err = %v, want a capability error", err)
			}
			if got := editor.ResponseText(err); got != tt.want {
				t.Errorf("response = %q, want %q", got, tt.want)
			}
		})
	}
}

// Package mcpeditor is an editor capability served by an MCP server, for
// editors that expose their state as MCP tools.
//
// Each query maps to one tool. Tools answer with JSON text using LSP
// conventions: 0-based positions, numeric or named severities and symbol
// kinds.
package mcpeditor

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/m4xw311/chatbridge/editor"
	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/protocol"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// Server describes the MCP server process.
type Server struct {
	Command string
	Args    []string
	// Tools overrides the tool name used for a query name.
	Tools map[string]string
}

type caller interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
}

// Editor implements editor.Capability over an MCP client session.
type Editor struct {
	conn  caller
	close func() error
	tools map[string]string
	known map[string]bool
	log   zerolog.Logger
}

var _ editor.Capability = (*Editor)(nil)

// Dial starts the MCP server and discovers its tools.
func Dial(ctx context.Context, srv Server, log zerolog.Logger) (*Editor, error) {
	log = log.With().Str("component", "mcpeditor").Str("server", srv.Command).Logger()
	cmd := exec.Command(srv.Command, srv.Args...)
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "chatbridge", Version: "v1.0.0"}, nil)
	conn, err := client.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP editor server '%s'", srv.Command)
	}

	known := make(map[string]bool)
	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to list tools from MCP editor server '%s'", srv.Command)
		}
		for _, t := range list.Tools {
			known[t.Name] = true
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	e := newEditor(conn, srv.Tools, log)
	e.known = known
	e.close = func() error {
		err := conn.Close()
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return err
	}
	log.Info().Int("tools", len(known)).Msg("connected to MCP editor server")
	return e, nil
}

func newEditor(conn caller, tools map[string]string, log zerolog.Logger) *Editor {
	return &Editor{conn: conn, tools: tools, log: log, close: func() error { return nil }}
}

// Close ends the session and stops the server.
func (e *Editor) Close() error {
	return e.close()
}

func (e *Editor) toolFor(query string) string {
	if name, ok := e.tools[query]; ok && name != "" {
		return name
	}
	return query
}

// call invokes the tool for query and decodes its JSON text answer into v.
func (e *Editor) call(ctx context.Context, query string, args map[string]any, v any) error {
	tool := e.toolFor(query)
	if e.known != nil && !e.known[tool] {
		return errors.Typed(errors.Capability, "editor server does not provide '"+tool+"'")
	}
	res, err := e.conn.CallTool(ctx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return errors.Wrap(errors.Capability, "failed to call '"+tool+"': "+err.Error(), err)
	}
	var text strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}
	if res.IsError {
		msg := strings.TrimSpace(text.String())
		if msg == "" {
			msg = "'" + tool + "' failed"
		}
		return errors.Typed(errors.Capability, msg)
	}
	if err := json.Unmarshal([]byte(text.String()), v); err != nil {
		e.log.Debug().Str("tool", tool).Str("text", text.String()).Msg("undecodable tool result")
		return errors.Wrap(errors.Capability, "'"+tool+"' returned malformed JSON", err)
	}
	return nil
}

func pathArgs(path string) map[string]any {
	if path == "" {
		return map[string]any{}
	}
	return map[string]any{"path": path}
}

func (e *Editor) Diagnostics(ctx context.Context, path string) ([]editor.FileDiagnostics, error) {
	var files []lspFileDiagnostics
	if err := e.call(ctx, protocol.QueryDiagnostics, pathArgs(path), &files); err != nil {
		return nil, err
	}
	out := make([]editor.FileDiagnostics, 0, len(files))
	for _, f := range files {
		fd := editor.FileDiagnostics{Path: f.Path}
		for _, d := range f.Diagnostics {
			fd.Diagnostics = append(fd.Diagnostics, editor.Diagnostic{
				Severity: editor.Severity(d.Severity),
				Message:  d.Message,
				Source:   d.Source,
				Code:     string(d.Code),
				Range:    d.Range.toEditor(),
			})
		}
		out = append(out, fd)
	}
	return out, nil
}

func (e *Editor) OpenEditors(ctx context.Context) ([]editor.OpenEditor, error) {
	var editors []lspOpenEditor
	if err := e.call(ctx, protocol.QueryOpenEditors, map[string]any{}, &editors); err != nil {
		return nil, err
	}
	out := make([]editor.OpenEditor, 0, len(editors))
	for _, oe := range editors {
		item := editor.OpenEditor{Path: oe.Path, LanguageID: oe.LanguageID, Active: oe.IsActive, Dirty: oe.IsDirty}
		if oe.Selection != nil {
			sel := oe.Selection.toEditor()
			item.Selection = &sel
		}
		out = append(out, item)
	}
	return out, nil
}

func (e *Editor) WorkspaceInfo(ctx context.Context) (editor.WorkspaceInfo, error) {
	var info lspWorkspaceInfo
	if err := e.call(ctx, protocol.QueryWorkspaceInfo, map[string]any{}, &info); err != nil {
		return editor.WorkspaceInfo{}, err
	}
	return editor.WorkspaceInfo{Folders: info.Folders, ActiveFile: info.ActiveFile}, nil
}

func (e *Editor) DocumentSymbols(ctx context.Context, path string) (string, []editor.Symbol, error) {
	var res lspDocumentSymbols
	if err := e.call(ctx, protocol.QueryDocumentSymbols, pathArgs(path), &res); err != nil {
		return "", nil, err
	}
	if res.Path == "" {
		res.Path = path
	}
	return res.Path, toSymbols(res.Symbols), nil
}

package tools

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/m4xw311/chatbridge/editor"
	"github.com/m4xw311/chatbridge/protocol"
)

const diagnosticsPerFile = 5

// EditorTool forwards one editor query to the panel.
type EditorTool struct {
	query       string
	label       string
	description string
	params      map[string]interface{}
	editor      EditorQuerier
	format      func(json.RawMessage) string
}

func editorTools(e EditorQuerier) []Tool {
	return []Tool{
		&EditorTool{
			query:       protocol.QueryDiagnostics,
			label:       "Diagnostics",
			description: "Inspect the editor's diagnostics. Args: optional path, severity (error|warning|information|hint) and limit.",
			params: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":     map[string]interface{}{"type": "string", "description": "Limit the result to one file."},
					"severity": map[string]interface{}{"type": "string", "description": "Least severe level to include."},
					"limit":    map[string]interface{}{"type": "integer", "description": "Maximum number of diagnostics."},
				},
			},
			editor: e,
			format: formatDiagnostics,
		},
		&EditorTool{
			query:       protocol.QueryOpenEditors,
			label:       "Open editors",
			description: "List the editors open in the panel with their selections.",
			params:      objectSchema(nil, nil),
			editor:      e,
		},
		&EditorTool{
			query:       protocol.QueryWorkspaceInfo,
			label:       "Workspace info",
			description: "Fetch the workspace folders and the active file.",
			params:      objectSchema(nil, nil),
			editor:      e,
		},
		&EditorTool{
			query:       protocol.QueryDocumentSymbols,
			label:       "Document symbols",
			description: "List document symbols for the active file or a provided path. Args: optional path.",
			params:      objectSchema(nil, map[string]string{"path": "File to list; defaults to the active file."}),
			editor:      e,
		},
	}
}

func (t *EditorTool) Name() string                       { return "editor_" + t.query }
func (t *EditorTool) Description() string                { return t.description }
func (t *EditorTool) Parameters() map[string]interface{} { return t.params }

// Execute reports query failures as output so the model can see them.
func (t *EditorTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.editor == nil {
		return fmt.Sprintf("%s query failed: no editor is connected", t.label), nil
	}
	var payload any
	if len(args) > 0 {
		payload = args
	}
	result, err := t.editor.EditorQuery(ctx, t.query, payload)
	if err != nil {
		return fmt.Sprintf("%s query failed: %s", t.label, editor.ResponseText(err)), nil
	}
	if t.format != nil {
		return t.format(result), nil
	}
	return indentJSON(result), nil
}

func indentJSON(raw json.RawMessage) string {
	var b bytes.Buffer
	if err := json.Indent(&b, raw, "", "  "); err != nil {
		return string(raw)
	}
	return b.String()
}

var severityOrder = []string{"error", "warning", "information", "hint"}

func severityRank(s string) int {
	if i := slices.Index(severityOrder, s); i >= 0 {
		return i
	}
	return len(severityOrder)
}

func formatDiagnostics(raw json.RawMessage) string {
	var res protocol.DiagnosticsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return indentJSON(raw)
	}
	lines := []string{
		"Diagnostics Summary:",
		fmt.Sprintf("  Errors: %d | Warnings: %d | Info: %d | Hints: %d",
			res.Summary.Error, res.Summary.Warning, res.Summary.Information, res.Summary.Hint),
	}
	returned := fmt.Sprintf("  Returned: %d of %d", res.Returned, res.Total)
	if res.Truncated {
		returned += " (truncated)"
	}
	lines = append(lines, returned)
	if len(res.Items) == 0 {
		lines = append(lines, "No diagnostics reported.")
		return strings.Join(lines, "\n")
	}

	lines = append(lines, "", "Files:")
	for _, item := range res.Items {
		if len(item.Diagnostics) == 0 {
			continue
		}
		lines = append(lines, "  "+item.URI)
		diags := slices.Clone(item.Diagnostics)
		slices.SortStableFunc(diags, func(a, b protocol.Diagnostic) int {
			return cmp.Or(
				cmp.Compare(severityRank(a.Severity), severityRank(b.Severity)),
				cmp.Compare(a.Range.Start.Line, b.Range.Start.Line),
				cmp.Compare(a.Range.Start.Character, b.Range.Start.Character),
			)
		})
		for _, d := range diags[:min(len(diags), diagnosticsPerFile)] {
			var extra []string
			if d.Source != "" {
				extra = append(extra, d.Source)
			}
			if d.Code != "" {
				extra = append(extra, d.Code)
			}
			extraText := ""
			if len(extra) > 0 {
				extraText = " (" + strings.Join(extra, ", ") + ")"
			}
			sev := d.Severity
			if sev != "" {
				sev = strings.ToUpper(sev[:1]) + sev[1:]
			}
			lines = append(lines, fmt.Sprintf("    - %s L%d:%d%s: %s", sev, d.Range.Start.Line, d.Range.Start.Character, extraText, d.Message))
		}
		if len(diags) > diagnosticsPerFile {
			lines = append(lines, fmt.Sprintf("    … %d more entries", len(diags)-diagnosticsPerFile))
		}
	}
	return strings.Join(lines, "\n")
}

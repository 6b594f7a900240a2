package mcpeditor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/m4xw311/chatbridge/editor"
	"github.com/m4xw311/chatbridge/protocol"
)

type lspPosition struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type lspRange struct {
	Start lspPosition `json:"start"`
	End   lspPosition `json:"end"`
}

func (r lspRange) toEditor() editor.Range {
	return editor.Range{
		Start: editor.Position{Line: r.Start.Line, Character: r.Start.Character},
		End:   editor.Position{Line: r.End.Line, Character: r.End.Character},
	}
}

// lspSeverity accepts LSP's numeric severities (1 = error .. 4 = hint) and
// their names.
type lspSeverity editor.Severity

func (s *lspSeverity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		sev, ok := editor.ParseSeverity(name)
		if !ok {
			return fmt.Errorf("unknown severity %q", name)
		}
		*s = lspSeverity(sev)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n < 1 || n > 4 {
		return fmt.Errorf("severity %d out of range", n)
	}
	*s = lspSeverity(n - 1)
	return nil
}

// lspCode accepts string and numeric diagnostic codes.
type lspCode string

func (c *lspCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = lspCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return nil
	}
	*c = lspCode(n.String())
	return nil
}

type lspDiagnostic struct {
	Severity lspSeverity `json:"severity"`
	Message  string      `json:"message"`
	Source   string      `json:"source"`
	Code     lspCode     `json:"code"`
	Range    lspRange    `json:"range"`
}

type lspFileDiagnostics struct {
	Path        string          `json:"path"`
	Diagnostics []lspDiagnostic `json:"diagnostics"`
}

type lspOpenEditor struct {
	Path       string    `json:"path"`
	LanguageID string    `json:"languageId"`
	IsActive   bool      `json:"isActive"`
	IsDirty    bool      `json:"isDirty"`
	Selection  *lspRange `json:"selection"`
}

type lspWorkspaceInfo struct {
	Folders    []protocol.WorkspaceFolder `json:"workspaceFolders"`
	ActiveFile string                     `json:"activeFile"`
}

// lspSymbolKind accepts LSP's numeric SymbolKind and plain names.
type lspSymbolKind string

var symbolKinds = []string{
	"file", "module", "namespace", "package", "class", "method", "property",
	"field", "constructor", "enum", "interface", "function", "variable",
	"constant", "string", "number", "boolean", "array", "object", "key",
	"null", "enumMember", "struct", "event", "operator", "typeParameter",
}

func (k *lspSymbolKind) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = lspSymbolKind(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n >= 1 && n <= len(symbolKinds) {
		*k = lspSymbolKind(symbolKinds[n-1])
	} else {
		*k = lspSymbolKind(strconv.Itoa(n))
	}
	return nil
}

type lspSymbol struct {
	Name           string        `json:"name"`
	Detail         string        `json:"detail"`
	Kind           lspSymbolKind `json:"kind"`
	Range          lspRange      `json:"range"`
	SelectionRange lspRange      `json:"selectionRange"`
	Children       []lspSymbol   `json:"children"`
}

type lspDocumentSymbols struct {
	Path    string      `json:"path"`
	Symbols []lspSymbol `json:"symbols"`
}

func toSymbols(in []lspSymbol) []editor.Symbol {
	if len(in) == 0 {
		return nil
	}
	out := make([]editor.Symbol, 0, len(in))
	for _, s := range in {
		out = append(out, editor.Symbol{
			Name:           s.Name,
			Detail:         s.Detail,
			Kind:           string(s.Kind),
			Range:          s.Range.toEditor(),
			SelectionRange: s.SelectionRange.toEditor(),
			Children:       toSymbols(s.Children),
		})
	}
	return out
}

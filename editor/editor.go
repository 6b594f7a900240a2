// Package editor answers the backend's editor queries.
//
// A Capability reports raw editor state with 0-based positions, the way editors
// and language servers do. Resolve validates a query, calls the capability and
// shapes the answer into the wire result: 1-based positions, severity
// filtering, limits and summaries.
package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/protocol"
)

// Severity of a diagnostic. Lower values are more severe.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInformation
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	}
	return "hint"
}

// ParseSeverity reads a severity name. An empty name yields SeverityHint,
// which admits every diagnostic when used as a threshold.
func ParseSeverity(name string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "error", "errors":
		return SeverityError, true
	case "warning", "warnings", "warn":
		return SeverityWarning, true
	case "information", "info":
		return SeverityInformation, true
	case "hint", "hints", "":
		return SeverityHint, true
	}
	return SeverityHint, false
}

// Position is 0-based.
type Position struct {
	Line      int
	Character int
}

type Range struct {
	Start Position
	End   Position
}

type Diagnostic struct {
	Severity Severity
	Message  string
	Source   string
	Code     string
	Range    Range
}

type FileDiagnostics struct {
	Path        string
	Diagnostics []Diagnostic
}

type OpenEditor struct {
	Path       string
	LanguageID string
	Active     bool
	Dirty      bool
	Selection  *Range
}

type WorkspaceInfo struct {
	Folders []protocol.WorkspaceFolder
	// ActiveFile is empty when no document is active.
	ActiveFile string
}

type Symbol struct {
	Name           string
	Detail         string
	Kind           string
	Range          Range
	SelectionRange Range
	Children       []Symbol
}

// Capability is the editor the bridge queries on the backend's behalf.
type Capability interface {
	// Diagnostics reports diagnostics for path, or for every known file when
	// path is empty.
	Diagnostics(ctx context.Context, path string) ([]FileDiagnostics, error)
	OpenEditors(ctx context.Context) ([]OpenEditor, error)
	WorkspaceInfo(ctx context.Context) (WorkspaceInfo, error)
	// DocumentSymbols lists the symbols of path, or of the active document
	// when path is empty, and returns the path it resolved.
	DocumentSymbols(ctx context.Context, path string) (string, []Symbol, error)
}

const (
	DefaultDiagnosticsLimit = 200
	MaxDiagnosticsLimit     = 500
)

// Resolve answers one editor query. Malformed requests fail with an invalid
// query error and capability failures with a capability error; neither is
// fatal to the connection.
func Resolve(ctx context.Context, c Capability, query string, payload json.RawMessage) (json.RawMessage, error) {
	var (
		result any
		err    error
	)
	switch query {
	case "":
		return nil, errors.Typed(errors.InvalidQuery, "missing query name")
	case protocol.QueryDiagnostics:
		var p protocol.DiagnosticsPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		result, err = diagnostics(ctx, c, p)
	case protocol.QueryOpenEditors:
		result, err = openEditors(ctx, c)
	case protocol.QueryWorkspaceInfo:
		result, err = workspaceInfo(ctx, c)
	case protocol.QueryDocumentSymbols:
		var p protocol.DocumentSymbolsPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		result, err = documentSymbols(ctx, c, p)
	default:
		return nil, errors.Typed(errors.InvalidQuery, fmt.Sprintf("unknown query '%s'", query))
	}
	if err != nil {
		if errors.KindOf(err) != "" {
			return nil, err
		}
		return nil, errors.Wrap(errors.Capability, err.Error(), err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(errors.Capability, "failed to encode result", err)
	}
	return data, nil
}

// ResponseText is the text placed in an editor_query_response's error field.
func ResponseText(err error) string {
	var e *errors.E
	if errors.As(err, &e) {
		switch e.Kind {
		case errors.InvalidQuery, errors.Capability:
			if e.Message != "" {
				return e.Message
			}
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func decodePayload(payload json.RawMessage, v any) error {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil
	}
	if payload[0] != '{' {
		return errors.Typed(errors.InvalidQuery, "payload must be a JSON object")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.Wrap(errors.InvalidQuery, "malformed payload: "+err.Error(), err)
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit < 1:
		return DefaultDiagnosticsLimit
	case limit > MaxDiagnosticsLimit:
		return MaxDiagnosticsLimit
	}
	return limit
}

func diagnostics(ctx context.Context, c Capability, p protocol.DiagnosticsPayload) (protocol.DiagnosticsResult, error) {
	threshold, ok := ParseSeverity(p.Severity)
	if !ok {
		return protocol.DiagnosticsResult{}, errors.Typed(errors.InvalidQuery, fmt.Sprintf("unknown severity '%s'", p.Severity))
	}
	limit := clampLimit(p.Limit)

	files, err := c.Diagnostics(ctx, p.Path)
	if err != nil {
		return protocol.DiagnosticsResult{}, err
	}

	res := protocol.DiagnosticsResult{Items: []protocol.FileDiagnostics{}}
	for _, f := range files {
		item := protocol.FileDiagnostics{URI: f.Path, Diagnostics: []protocol.Diagnostic{}}
		matched := 0
		for _, d := range f.Diagnostics {
			if d.Severity > threshold {
				continue
			}
			matched++
			res.Total++
			countSeverity(&res.Summary, d.Severity)
			if res.Returned < limit {
				item.Diagnostics = append(item.Diagnostics, toWireDiagnostic(d))
				res.Returned++
			}
		}
		if len(item.Diagnostics) > 0 || (matched == 0 && p.IncludeEmpty) {
			res.Items = append(res.Items, item)
		}
	}
	res.Truncated = res.Total > res.Returned
	return res, nil
}

func countSeverity(s *protocol.DiagnosticsSummary, sev Severity) {
	switch sev {
	case SeverityError:
		s.Error++
	case SeverityWarning:
		s.Warning++
	case SeverityInformation:
		s.Information++
	default:
		s.Hint++
	}
}

func toWireDiagnostic(d Diagnostic) protocol.Diagnostic {
	return protocol.Diagnostic{
		Severity: d.Severity.String(),
		Message:  d.Message,
		Source:   d.Source,
		Code:     d.Code,
		Range:    toWireRange(d.Range),
	}
}

func toWireRange(r Range) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: r.Start.Line + 1, Character: r.Start.Character + 1},
		End:   protocol.Position{Line: r.End.Line + 1, Character: r.End.Character + 1},
	}
}

func openEditors(ctx context.Context, c Capability) (protocol.OpenEditorsResult, error) {
	editors, err := c.OpenEditors(ctx)
	if err != nil {
		return protocol.OpenEditorsResult{}, err
	}
	res := protocol.OpenEditorsResult{Editors: make([]protocol.OpenEditor, 0, len(editors))}
	for _, e := range editors {
		oe := protocol.OpenEditor{Path: e.Path, LanguageID: e.LanguageID, IsActive: e.Active, IsDirty: e.Dirty}
		if e.Selection != nil {
			r := toWireRange(*e.Selection)
			oe.Selection = &r
		}
		res.Editors = append(res.Editors, oe)
	}
	return res, nil
}

func workspaceInfo(ctx context.Context, c Capability) (protocol.WorkspaceInfoResult, error) {
	info, err := c.WorkspaceInfo(ctx)
	if err != nil {
		return protocol.WorkspaceInfoResult{}, err
	}
	res := protocol.WorkspaceInfoResult{WorkspaceFolders: info.Folders}
	if res.WorkspaceFolders == nil {
		res.WorkspaceFolders = []protocol.WorkspaceFolder{}
	}
	if info.ActiveFile != "" {
		active := info.ActiveFile
		res.ActiveFile = &active
	}
	return res, nil
}

func documentSymbols(ctx context.Context, c Capability, p protocol.DocumentSymbolsPayload) (protocol.DocumentSymbolsResult, error) {
	path, symbols, err := c.DocumentSymbols(ctx, p.Path)
	if err != nil {
		return protocol.DocumentSymbolsResult{}, err
	}
	return protocol.DocumentSymbolsResult{Path: path, Symbols: toWireSymbols(symbols)}, nil
}

func toWireSymbols(symbols []Symbol) []protocol.Symbol {
	out := make([]protocol.Symbol, 0, len(symbols))
	for _, s := range symbols {
		ws := protocol.Symbol{
			Name:           s.Name,
			Detail:         s.Detail,
			Kind:           s.Kind,
			Range:          toWireRange(s.Range),
			SelectionRange: toWireRange(s.SelectionRange),
		}
		if len(s.Children) > 0 {
			ws.Children = toWireSymbols(s.Children)
		}
		out = append(out, ws)
	}
	return out
}

// Querier answers editor queries from a local Capability. It lets a backend
// running beside the panel use the same query contract as the wire.
type Querier struct {
	Capability Capability
}

func (q Querier) EditorQuery(ctx context.Context, query string, payload any) (json.RawMessage, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(errors.InvalidQuery, "malformed payload", err)
		}
		raw = data
	}
	return Resolve(ctx, q.Capability, query, raw)
}

package protocol

// Editor query names.
const (
	QueryDiagnostics     = "diagnostics"
	QueryOpenEditors     = "open_editors"
	QueryWorkspaceInfo   = "workspace_info"
	QueryDocumentSymbols = "document_symbols"
)

// Queries lists every query name the bridge answers.
var Queries = []string{QueryDiagnostics, QueryOpenEditors, QueryWorkspaceInfo, QueryDocumentSymbols}

// DiagnosticsPayload filters a diagnostics query.
type DiagnosticsPayload struct {
	Path         string `json:"path,omitempty"`
	Severity     string `json:"severity,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	IncludeEmpty bool   `json:"includeEmpty,omitempty"`
}

// DocumentSymbolsPayload selects the document whose symbols are listed. An
// empty path means the active document.
type DocumentSymbolsPayload struct {
	Path string `json:"path,omitempty"`
}

// Position is a 1-based line and character.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

type Diagnostic struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Source   string `json:"source,omitempty"`
	Code     string `json:"code,omitempty"`
	Range    Range  `json:"range"`
}

// FileDiagnostics groups one file's diagnostics. URI holds the file's path.
type FileDiagnostics struct {
	URI         string       `json:"uri"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

type DiagnosticsSummary struct {
	Error       int `json:"error"`
	Warning     int `json:"warning"`
	Information int `json:"information"`
	Hint        int `json:"hint"`
}

type DiagnosticsResult struct {
	Items     []FileDiagnostics  `json:"items"`
	Summary   DiagnosticsSummary `json:"summary"`
	Total     int                `json:"total"`
	Returned  int                `json:"returned"`
	Truncated bool               `json:"truncated"`
}

type OpenEditor struct {
	Path       string `json:"path"`
	LanguageID string `json:"languageId"`
	IsActive   bool   `json:"isActive"`
	IsDirty    bool   `json:"isDirty"`
	Selection  *Range `json:"selection,omitempty"`
}

type OpenEditorsResult struct {
	Editors []OpenEditor `json:"editors"`
}

type WorkspaceFolder struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// WorkspaceInfoResult describes the workspace. ActiveFile encodes as null when
// no document is active.
type WorkspaceInfoResult struct {
	WorkspaceFolders []WorkspaceFolder `json:"workspaceFolders"`
	ActiveFile       *string           `json:"activeFile"`
}

type Symbol struct {
	Name           string   `json:"name"`
	Detail         string   `json:"detail"`
	Kind           string   `json:"kind"`
	Range          Range    `json:"range"`
	SelectionRange Range    `json:"selectionRange"`
	Children       []Symbol `json:"children,omitempty"`
}

type DocumentSymbolsResult struct {
	Path    string   `json:"path"`
	Symbols []Symbol `json:"symbols"`
}

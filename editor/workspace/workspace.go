// Package workspace is an editor capability backed by the local filesystem.
//
// Terminal and websocket panels have no host editor, so they track open
// documents themselves and report them through a Workspace. Diagnostics come
// from whatever the panel publishes plus an optional diagnostics command; Go
// document symbols are read with go/parser.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/chatbridge/editor"
	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/protocol"
	"github.com/rs/zerolog"
)

type Options struct {
	// Folders are the workspace roots. The first one resolves relative paths.
	Folders []string
	// Hidden lists glob patterns of paths that are never reported.
	Hidden []string
	// DiagnosticsCommand is run in the first folder on every diagnostics
	// query. Lines of its output shaped like file:line:col: message become
	// diagnostics.
	DiagnosticsCommand []string
	Log                zerolog.Logger
}

type document struct {
	path      string
	dirty     bool
	selection *editor.Range
}

// Workspace implements editor.Capability.
type Workspace struct {
	folders []string
	hidden  []string
	command []string
	log     zerolog.Logger

	mu        sync.Mutex
	documents []*document
	active    string
	published map[string][]editor.Diagnostic
}

var _ editor.Capability = (*Workspace)(nil)

func New(opts Options) *Workspace {
	w := &Workspace{
		hidden:    opts.Hidden,
		command:   opts.DiagnosticsCommand,
		log:       opts.Log.With().Str("component", "workspace").Logger(),
		published: make(map[string][]editor.Diagnostic),
	}
	for _, f := range opts.Folders {
		if abs, err := filepath.Abs(f); err == nil {
			w.folders = append(w.folders, filepath.Clean(abs))
		}
	}
	return w
}

// Resolve turns path into a clean absolute path. Relative paths are taken
// from the first folder.
func (w *Workspace) Resolve(path string) string {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) && len(w.folders) > 0 {
		path = filepath.Join(w.folders[0], path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

// isHidden matches path against the hidden globs, both as given and relative
// to each folder.
func (w *Workspace) isHidden(path string) bool {
	candidates := []string{filepath.ToSlash(path)}
	for _, f := range w.folders {
		if rel, err := filepath.Rel(f, path); err == nil && !strings.HasPrefix(rel, "..") {
			candidates = append(candidates, filepath.ToSlash(rel))
		}
	}
	for _, pattern := range w.hidden {
		for _, c := range candidates {
			match, err := doublestar.PathMatch(pattern, c)
			if err != nil {
				w.log.Warn().Err(err).Str("pattern", pattern).Msg("invalid hidden glob")
				break
			}
			if match {
				return true
			}
		}
	}
	return false
}

// Open records path as an open document and makes it active.
func (w *Workspace) Open(path string) error {
	path = w.Resolve(path)
	if path == "" {
		return errors.New("no path given")
	}
	if w.isHidden(path) {
		return errors.New("access denied: path '%s' is hidden", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open '%s'", path)
	}
	if info.IsDir() {
		return errors.New("'%s' is a directory", path)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.find(path) == nil {
		w.documents = append(w.documents, &document{path: path})
	}
	w.active = path
	return nil
}

// Close forgets an open document. The most recently opened remaining
// document becomes active.
func (w *Workspace) Close(path string) {
	path = w.Resolve(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.documents = slices.DeleteFunc(w.documents, func(d *document) bool { return d.path == path })
	if w.active == path {
		w.active = ""
		if n := len(w.documents); n > 0 {
			w.active = w.documents[n-1].path
		}
	}
}

// SetDirty marks an open document as modified or saved.
func (w *Workspace) SetDirty(path string, dirty bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d := w.find(w.Resolve(path)); d != nil {
		d.dirty = dirty
	}
}

// Select records the selection of an open document, 0-based.
func (w *Workspace) Select(path string, r editor.Range) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d := w.find(w.Resolve(path)); d != nil {
		d.selection = &r
	}
}

// Publish replaces the diagnostics known for path. Publishing nothing clears
// them.
func (w *Workspace) Publish(path string, diags []editor.Diagnostic) {
	path = w.Resolve(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(diags) == 0 {
		delete(w.published, path)
		return
	}
	w.published[path] = slices.Clone(diags)
}

// Active returns the active document, or "" when none is open.
func (w *Workspace) Active() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

func (w *Workspace) find(path string) *document {
	for _, d := range w.documents {
		if d.path == path {
			return d
		}
	}
	return nil
}

func (w *Workspace) OpenEditors(ctx context.Context) ([]editor.OpenEditor, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]editor.OpenEditor, 0, len(w.documents))
	for _, d := range w.documents {
		oe := editor.OpenEditor{
			Path:       d.path,
			LanguageID: LanguageID(d.path),
			Active:     d.path == w.active,
			Dirty:      d.dirty,
		}
		if d.selection != nil {
			sel := *d.selection
			oe.Selection = &sel
		}
		out = append(out, oe)
	}
	return out, nil
}

func (w *Workspace) WorkspaceInfo(ctx context.Context) (editor.WorkspaceInfo, error) {
	info := editor.WorkspaceInfo{Folders: make([]protocol.WorkspaceFolder, 0, len(w.folders))}
	for _, f := range w.folders {
		info.Folders = append(info.Folders, protocol.WorkspaceFolder{Name: filepath.Base(f), Path: f})
	}
	info.ActiveFile = w.Active()
	return info, nil
}

func (w *Workspace) DocumentSymbols(ctx context.Context, path string) (string, []editor.Symbol, error) {
	if path == "" {
		path = w.Active()
		if path == "" {
			return "", nil, errors.Typed(errors.InvalidQuery, "no active document")
		}
	} else {
		path = w.Resolve(path)
	}
	if w.isHidden(path) {
		return "", nil, errors.Typed(errors.Capability, fmt.Sprintf("access denied: path '%s' is hidden", path))
	}
	symbols, err := documentSymbols(path)
	if err != nil {
		return "", nil, err
	}
	return path, symbols, nil
}

var languages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".jsx":  "javascriptreact",
	".json": "json",
	".md":   "markdown",
	".yaml": "yaml",
	".yml":  "yaml",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cs":   "csharp",
	".java": "java",
	".sh":   "shellscript",
	".html": "html",
	".css":  "css",
	".toml": "toml",
	".sql":  "sql",
}

// LanguageID guesses the editor language identifier from a file extension.
func LanguageID(path string) string {
	if base := filepath.Base(path); base == "Makefile" || base == "makefile" {
		return "makefile"
	}
	if id, ok := languages[strings.ToLower(filepath.Ext(path))]; ok {
		return id
	}
	return "plaintext"
}

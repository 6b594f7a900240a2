package workspace

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/m4xw311/chatbridge/editor"
	"github.com/m4xw311/chatbridge/errors"
)

// Diagnostics merges published diagnostics with the output of the
// diagnostics command. Hidden files are left out. A non-empty path limits the
// result to that file.
func (w *Workspace) Diagnostics(ctx context.Context, path string) ([]editor.FileDiagnostics, error) {
	byPath := make(map[string][]editor.Diagnostic)
	w.mu.Lock()
	for p, diags := range w.published {
		byPath[p] = append(byPath[p], diags...)
	}
	for _, d := range w.documents {
		if _, ok := byPath[d.path]; !ok {
			byPath[d.path] = nil
		}
	}
	w.mu.Unlock()

	if len(w.command) > 0 {
		found, err := w.runCommand(ctx)
		if err != nil {
			return nil, err
		}
		for p, diags := range found {
			byPath[p] = append(byPath[p], diags...)
		}
	}

	if path != "" {
		path = w.Resolve(path)
		if w.isHidden(path) {
			return nil, errors.Typed(errors.Capability, "access denied: path '"+path+"' is hidden")
		}
		return []editor.FileDiagnostics{{Path: path, Diagnostics: byPath[path]}}, nil
	}

	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		if !w.isHidden(p) {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)
	out := make([]editor.FileDiagnostics, 0, len(paths))
	for _, p := range paths {
		out = append(out, editor.FileDiagnostics{Path: p, Diagnostics: byPath[p]})
	}
	return out, nil
}

// runCommand runs the diagnostics command in the first folder. Checkers exit
// non-zero when they find problems, so the exit status is ignored as long as
// the command ran.
func (w *Workspace) runCommand(ctx context.Context) (map[string][]editor.Diagnostic, error) {
	cmd := exec.CommandContext(ctx, w.command[0], w.command[1:]...)
	if len(w.folders) > 0 {
		cmd.Dir = w.folders[0]
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, errors.Wrap(errors.Capability, "diagnostics command failed: "+err.Error(), err)
		}
	}
	w.log.Debug().Strs("command", w.command).Int("bytes", len(output)).Msg("diagnostics command finished")
	return ParseDiagnostics(output, cmd.Dir, filepath.Base(w.command[0])), nil
}

var diagnosticLine = regexp.MustCompile(`^(.+?):(\d+)(?::(\d+))?:\s*(?:(error|warning|warn|info|information|note|hint)\s*:\s*)?(.+)$`)

// ParseDiagnostics reads compiler-style output, one diagnostic per line:
//
//	path:line[:col]: [severity:] message
//
// Lines and columns are 1-based in the input and 0-based in the result.
// Relative paths are joined to dir. Lines without a severity are errors.
func ParseDiagnostics(output []byte, dir, source string) map[string][]editor.Diagnostic {
	found := make(map[string][]editor.Diagnostic)
	sc := bufio.NewScanner(bytes.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m := diagnosticLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		path := m[1]
		if !filepath.IsAbs(path) && dir != "" {
			path = filepath.Join(dir, path)
		}
		path = filepath.Clean(path)

		line, _ := strconv.Atoi(m[2])
		col := 1
		if m[3] != "" {
			col, _ = strconv.Atoi(m[3])
		}
		sev := editor.SeverityError
		if m[4] != "" {
			sev = parseSeverity(m[4])
		}
		pos := editor.Position{Line: max(line-1, 0), Character: max(col-1, 0)}
		found[path] = append(found[path], editor.Diagnostic{
			Severity: sev,
			Message:  m[5],
			Source:   source,
			Range:    editor.Range{Start: pos, End: pos},
		})
	}
	return found
}

func parseSeverity(s string) editor.Severity {
	switch s {
	case "note":
		return editor.SeverityInformation
	case "warn":
		return editor.SeverityWarning
	}
	sev, _ := editor.ParseSeverity(s)
	return sev
}

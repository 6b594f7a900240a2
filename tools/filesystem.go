package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/m4xw311/chatbridge/errors"
)

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fs *fsAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file. Args: path (string)."
}
func (t *ReadFileTool) Parameters() map[string]interface{} {
	return objectSchema([]string{"path"}, map[string]string{"path": "File path, absolute or relative to the workspace."})
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return "", errors.New("missing or invalid 'path' argument")
	}

	hidden, err := t.fs.restricted(path, t.fs.access.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", path)
	}

	content, err := os.ReadFile(t.fs.resolve(path))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return string(content), nil
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fs *fsAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Args: path (string), content (string)."
}
func (t *WriteFileTool) Parameters() map[string]interface{} {
	return objectSchema([]string{"path", "content"}, map[string]string{
		"path":    "File path, absolute or relative to the workspace.",
		"content": "The complete new file content.",
	})
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, pathOk := stringArg(args, "path")
	content, contentOk := stringArg(args, "content")
	if !pathOk || !contentOk {
		return "", errors.New("missing or invalid 'path' or 'content' arguments")
	}

	hidden, err := t.fs.restricted(path, t.fs.access.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", path)
	}

	readOnly, err := t.fs.restricted(path, t.fs.access.ReadOnly)
	if err != nil {
		return "", err
	}
	if readOnly {
		return "", errors.New("access denied: path '%s' is read-only", path)
	}

	abs := t.fs.resolve(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create directory for '%s'", path)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// ListDirectoryTool lists a directory, leaving out hidden entries.
type ListDirectoryTool struct {
	fs *fsAccess
}

func (t *ListDirectoryTool) Name() string { return "list_directory" }
func (t *ListDirectoryTool) Description() string {
	return "Lists the entries of a directory; directories end with '/'. Args: path (string, defaults to the workspace)."
}
func (t *ListDirectoryTool) Parameters() map[string]interface{} {
	return objectSchema(nil, map[string]string{"path": "Directory path, absolute or relative to the workspace."})
}

func (t *ListDirectoryTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, _ := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	hidden, err := t.fs.restricted(path, t.fs.access.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", path)
	}

	entries, err := os.ReadDir(t.fs.resolve(path))
	if err != nil {
		return "", errors.Wrapf(err, "failed to list directory '%s'", path)
	}
	var lines []string
	for _, e := range entries {
		child := filepath.Join(path, e.Name())
		if h, _ := t.fs.restricted(child, t.fs.access.Hidden); h {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	if len(lines) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(lines, "\n"), nil
}

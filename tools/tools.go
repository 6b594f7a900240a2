package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/config"
	"github.com/m4xw311/chatbridge/tools/mcp"
	"github.com/rs/zerolog"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Approver asks the user whether a shell command may run.
type Approver interface {
	ApproveShell(ctx context.Context, command string) (bool, error)
}

// EditorQuerier sends an editor query to the panel and returns its result.
type EditorQuerier interface {
	EditorQuery(ctx context.Context, query string, payload any) (json.RawMessage, error)
}

type Options struct {
	// Root is the workspace directory. Relative paths resolve against it.
	Root     string
	Approver Approver
	Editor   EditorQuerier
	Log      zerolog.Logger
}

// ToolRegistry holds all available tools.
type ToolRegistry struct {
	tools      map[string]Tool
	mcpClients map[string]*mcp.MCPClient
	log        zerolog.Logger
}

func NewToolRegistry(ctx context.Context, cfg *config.Config, opts Options) *ToolRegistry {
	r := &ToolRegistry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.MCPClient),
		log:        opts.Log.With().Str("component", "tools").Logger(),
	}
	fs := &fsAccess{root: opts.Root, access: cfg.Assistant.FilesystemAccess}

	r.Register(&ReadFileTool{fs: fs})
	r.Register(&WriteFileTool{fs: fs})
	r.Register(&ListDirectoryTool{fs: fs})
	r.Register(&ShellTool{
		allowedCommands: cfg.Assistant.AllowedCommands,
		allowed:         approval.NewPolicy(cfg.Assistant.AllowedCommands, r.log),
		dir:             opts.Root,
		approver:        opts.Approver,
	})
	for _, t := range editorTools(opts.Editor) {
		r.Register(t)
	}

	for _, srv := range cfg.Assistant.AdditionalMCPServers {
		client, err := mcp.NewMCPClient(ctx, srv.Name, srv.Command, srv.Args, r.log)
		if err != nil {
			r.log.Warn().Err(err).Str("server", srv.Name).Msg("MCP server unavailable")
			continue
		}
		r.mcpClients[srv.Name] = client
	}

	return r
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// GetActiveTools returns the tool instances for a given toolset. MCP tools
// are named "<server>:<tool>"; "<server>:*" (or "<server>.*") selects every
// tool of a server.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	var activeTools []Tool
	for _, toolName := range ts.Tools {
		if server, tool, ok := splitMCPName(toolName); ok {
			client, found := r.mcpClients[server]
			if !found {
				r.log.Warn().Str("tool", toolName).Msg("MCP server for tool is not running")
				continue
			}
			if tool == "*" {
				for _, t := range client.Tools() {
					activeTools = append(activeTools, t)
				}
				continue
			}
			t, found := client.GetTool(tool)
			if !found {
				return nil, fmt.Errorf("tool '%s' from toolset '%s' is not provided by MCP server '%s'", tool, ts.Name, server)
			}
			activeTools = append(activeTools, t)
			continue
		}

		if t, ok := r.GetTool(toolName); ok {
			activeTools = append(activeTools, t)
		} else {
			return nil, fmt.Errorf("tool '%s' from toolset '%s' is not registered", toolName, ts.Name)
		}
	}
	return activeTools, nil
}

func splitMCPName(name string) (server, tool string, ok bool) {
	if strings.HasSuffix(name, ".*") {
		return strings.TrimSuffix(name, ".*"), "*", true
	}
	server, tool, ok = strings.Cut(name, ":")
	return server, tool, ok
}

// Close stops the MCP servers.
func (r *ToolRegistry) Close() {
	names := make([]string, 0, len(r.mcpClients))
	for name := range r.mcpClients {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := r.mcpClients[name].Stop(); err != nil {
			r.log.Debug().Err(err).Str("server", name).Msg("MCP server stop")
		}
	}
}

// Describe lists tools one per line, as "name: description".
func Describe(ts []Tool) string {
	var b strings.Builder
	for _, t := range ts {
		desc, _, _ := strings.Cut(t.Description(), "\n")
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), desc)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// objectSchema builds a JSON schema for an object of string-typed properties.
func objectSchema(required []string, props map[string]string) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	for name, desc := range props {
		properties[name] = map[string]interface{}{"type": "string", "description": desc}
	}
	schema := map[string]interface{}{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringArg(args map[string]interface{}, name string) (string, bool) {
	v, ok := args[name].(string)
	return v, ok
}

type fsAccess struct {
	root   string
	access config.FilesystemAccess
}

func (f *fsAccess) resolve(path string) string {
	if filepath.IsAbs(path) || f.root == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(f.root, path)
}

// restricted reports whether path matches a pattern, either as given or
// relative to the workspace root.
func (f *fsAccess) restricted(path string, patterns []string) (bool, error) {
	abs := f.resolve(path)
	candidates := []string{filepath.ToSlash(path), filepath.ToSlash(abs)}
	if f.root != "" {
		if rel, err := filepath.Rel(f.root, abs); err == nil && !strings.HasPrefix(rel, "..") {
			candidates = append(candidates, filepath.ToSlash(rel))
		}
	}
	for _, c := range candidates {
		restricted, err := isPathRestricted(c, patterns)
		if err != nil || restricted {
			return restricted, err
		}
	}
	return false, nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/chatbridge/errors"
	"gopkg.in/yaml.v3"
)

// WorkspaceEnv names the environment variable consulted when no workspace
// path is configured.
const WorkspaceEnv = "CODEX_AGENT_ROOT"

// Dir is the per-user and per-project configuration directory name.
const Dir = ".chatbridge"

type Backend struct {
	Executable string `yaml:"executable"`
	Module     string `yaml:"module"`
	// Args replaces the default "-u -m <module>" arguments when set.
	Args          []string      `yaml:"args"`
	Env           []string      `yaml:"env"`
	WorkspacePath string        `yaml:"workspace_path"`
	StopGrace     time.Duration `yaml:"stop_grace"`
}

// Argv returns the backend arguments.
func (b Backend) Argv() []string {
	if len(b.Args) > 0 {
		return b.Args
	}
	return []string{"-u", "-m", b.Module}
}

type Approvals struct {
	// AutoApproveCommands are regexes that must match the whole command line;
	// a matching command is approved without asking.
	AutoApproveCommands []string `yaml:"auto_approve_commands"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// Tools maps editor query names to tool names, for servers that don't
	// name their tools after the queries.
	Tools map[string]string `yaml:"tools"`
}

type Editor struct {
	Hidden             []string   `yaml:"hidden"`
	DiagnosticsCommand []string   `yaml:"diagnostics_command"`
	MCPServer          *MCPServer `yaml:"mcp_server"`
}

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// Assistant configures the reference backend.
type Assistant struct {
	LLMClient            string           `yaml:"llm"`
	Model                string           `yaml:"model"`
	SystemPrompt         string           `yaml:"system_prompt"`
	ToolIterations       int              `yaml:"tool_iterations"`
	EditorQueryTimeout   time.Duration    `yaml:"editor_query_timeout"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
}

type Config struct {
	Backend   Backend   `yaml:"backend"`
	Approvals Approvals `yaml:"approvals"`
	Editor    Editor    `yaml:"editor"`
	Assistant Assistant `yaml:"assistant"`
	Trace     bool      `yaml:"trace"`
	TracePath string    `yaml:"trace_path"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Backend: Backend{
			// The bundled backend accepts and ignores -u -m <module>, so a
			// python backend only needs executable set.
			Executable: "assistant",
			Module:     "core.core",
			StopGrace:  time.Second,
		},
		Editor: Editor{
			Hidden: []string{Dir, Dir + "/**"},
		},
		Assistant: Assistant{
			ToolIterations:     3,
			EditorQueryTimeout: 10 * time.Second,
			Toolsets: []Toolset{{
				Name: "default",
				Tools: []string{
					"read_file", "write_file", "list_directory", "shell",
					"editor_diagnostics", "editor_open_editors", "editor_workspace_info", "editor_document_symbols",
				},
			}},
			FilesystemAccess: FilesystemAccess{
				Hidden: []string{Dir, Dir + "/**"},
			},
		},
		TracePath: filepath.Join(Dir, "bridge.trace"),
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, Dir, "config.yaml"))
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	paths = append(paths, filepath.Join(wd, Dir, "config.yaml"))
	return Load(paths...)
}

// Load applies the files in order over the defaults. Missing files are
// skipped.
func Load(paths ...string) (*Config, error) {
	cfg := Default()
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := loadFromFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config '%s'", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Nested sections merge field by field; lists present in the file
	// replace the earlier ones.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) Validate() error {
	if c.Backend.Executable == "" {
		return errors.New("backend.executable must not be empty")
	}
	if len(c.Backend.Args) == 0 && c.Backend.Module == "" {
		return errors.New("backend.module or backend.args must be set")
	}
	if c.Backend.StopGrace < 0 {
		return errors.New("backend.stop_grace must not be negative")
	}
	if c.Assistant.ToolIterations < 1 {
		return errors.New("assistant.tool_iterations must be at least 1")
	}
	if s := c.Editor.MCPServer; s != nil && s.Command == "" {
		return errors.New("editor.mcp_server.command must not be empty")
	}
	return nil
}

// WorkspacePath resolves the backend's working directory: the configured
// path, then $CODEX_AGENT_ROOT, then the current directory.
func (c *Config) WorkspacePath() (string, error) {
	path := c.Backend.WorkspacePath
	if path == "" {
		path = os.Getenv(WorkspaceEnv)
	}
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrapf(err, "could not get working directory")
		}
		path = wd
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "could not resolve workspace path '%s'", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.Wrapf(err, "workspace path '%s' is not accessible", abs)
	}
	if !info.IsDir() {
		return "", errors.New("workspace path '%s' is not a directory", abs)
	}
	return abs, nil
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Assistant.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	return c.GetToolset("default")
}

package main

import (
	"context"
	"io"
	"strings"

	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/bridge"
	"github.com/m4xw311/chatbridge/config"
	"github.com/m4xw311/chatbridge/editor"
	"github.com/m4xw311/chatbridge/editor/mcpeditor"
	"github.com/m4xw311/chatbridge/editor/workspace"
	"github.com/m4xw311/chatbridge/logging"
	"github.com/m4xw311/chatbridge/panel"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables that override the config
// files, such as CHATBRIDGE_BACKEND_EXECUTABLE.
const EnvPrefix = "CHATBRIDGE"

// newViper returns a viper instance reading CHATBRIDGE_* variables. Keys use
// the config file's dotted names.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// overlay applies flag and environment values to cfg. Only values that were
// set on the command line or in the environment win over the files.
func overlay(v *viper.Viper, cfg *config.Config) error {
	if v.IsSet("backend.executable") {
		cfg.Backend.Executable = v.GetString("backend.executable")
	}
	if v.IsSet("backend.module") {
		cfg.Backend.Module = v.GetString("backend.module")
	}
	if v.IsSet("backend.args") {
		cfg.Backend.Args = v.GetStringSlice("backend.args")
	}
	if v.IsSet("backend.workspace_path") {
		cfg.Backend.WorkspacePath = v.GetString("backend.workspace_path")
	}
	if v.IsSet("backend.stop_grace") {
		cfg.Backend.StopGrace = v.GetDuration("backend.stop_grace")
	}
	if v.IsSet("approvals.auto_approve_commands") {
		cfg.Approvals.AutoApproveCommands = v.GetStringSlice("approvals.auto_approve_commands")
	}
	if v.IsSet("trace") {
		cfg.Trace = v.GetBool("trace")
	}
	if v.IsSet("trace_path") {
		cfg.TracePath = v.GetString("trace_path")
	}
	return cfg.Validate()
}

// host is everything a panel command needs: configuration, logging, the
// editor capability and the bridges.
type host struct {
	cfg      *config.Config
	log      zerolog.Logger
	docs     panel.Documents
	registry *bridge.Registry
	closers  []func()
}

// newHost loads the configuration and builds the bridge registry. console
// receives log lines besides the trace file; it may be nil.
func newHost(ctx context.Context, v *viper.Viper, console io.Writer) (*host, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := overlay(v, cfg); err != nil {
		return nil, err
	}

	level := "info"
	if cfg.Trace {
		level = "debug"
	}
	log, traceFile, err := logging.New(logging.Options{Trace: cfg.Trace, Path: cfg.TracePath, Level: level, Console: console})
	if err != nil {
		return nil, err
	}
	h := &host{cfg: cfg, log: log, closers: []func(){func() { traceFile.Close() }}}

	capability, err := h.editor(ctx)
	if err != nil {
		h.close(ctx)
		return nil, err
	}
	policy := approval.NewPolicy(cfg.Approvals.AutoApproveCommands, logging.Component(log, "approval"))
	h.registry = bridge.NewRegistry(func(id string) bridge.Options {
		return bridge.Options{
			Backend: bridge.Backend{
				Executable: cfg.Backend.Executable,
				Args:       cfg.Backend.Argv(),
				Env:        cfg.Backend.Env,
			},
			Workspace: cfg.WorkspacePath,
			Editor:    capability,
			Policy:    policy,
			StopGrace: cfg.Backend.StopGrace,
			Log:       log.With().Str("panel", id).Logger(),
		}
	})
	return h, nil
}

// editor picks the capability that answers the backend's editor queries: the
// configured MCP server, or the workspace tracked by this host.
func (h *host) editor(ctx context.Context) (editor.Capability, error) {
	if srv := h.cfg.Editor.MCPServer; srv != nil {
		e, err := mcpeditor.Dial(ctx, mcpeditor.Server{Command: srv.Command, Args: srv.Args, Tools: srv.Tools}, h.log)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, func() { e.Close() })
		return e, nil
	}
	var folders []string
	if root, err := h.cfg.WorkspacePath(); err == nil {
		folders = append(folders, root)
	} else {
		h.log.Warn().Err(err).Msg("no workspace folder; editor queries will report none")
	}
	ws := workspace.New(workspace.Options{
		Folders:            folders,
		Hidden:             h.cfg.Editor.Hidden,
		DiagnosticsCommand: h.cfg.Editor.DiagnosticsCommand,
		Log:                h.log,
	})
	h.docs = ws
	return ws, nil
}

// close stops every bridge, then releases the editor and the trace file.
func (h *host) close(ctx context.Context) {
	if h.registry != nil {
		if err := h.registry.CloseAll(ctx); err != nil {
			h.log.Warn().Err(err).Msg("closing bridges")
		}
	}
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i]()
	}
}

// Command assistant is the reference backend for the chat bridge. By default
// it speaks the line-delimited JSON protocol on stdin and stdout; with -i it
// chats in the terminal instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/m4xw311/chatbridge/agent"
	"github.com/m4xw311/chatbridge/agent/stdio"
	"github.com/m4xw311/chatbridge/agent/terminal"
	"github.com/m4xw311/chatbridge/config"
	"github.com/m4xw311/chatbridge/editor"
	"github.com/m4xw311/chatbridge/editor/mcpeditor"
	"github.com/m4xw311/chatbridge/editor/workspace"
	"github.com/m4xw311/chatbridge/llm"
	"github.com/m4xw311/chatbridge/logging"
	"github.com/m4xw311/chatbridge/session"
	"github.com/m4xw311/chatbridge/tools"
	"github.com/rs/zerolog"
)

type flags struct {
	session       string
	resume        string
	toolset       string
	interactive   bool
	toolVerbosity string
	trace         bool
	debug         bool
	llm           string
	model         string
	prompt        string
}

// parseFlags reads the command line. -u and -m <module> are accepted and
// ignored so the backend can be started with the same arguments as the
// default python invocation.
func parseFlags(args []string) (*flags, error) {
	fs := flag.NewFlagSet("assistant", flag.ContinueOnError)
	f := &flags{}
	fs.StringVar(&f.session, "s", "", "Session name to create or use")
	fs.StringVar(&f.resume, "r", "", "Resume a session by name")
	fs.StringVar(&f.toolset, "t", "default", "Toolset to use")
	fs.BoolVar(&f.interactive, "i", false, "Chat in the terminal instead of serving the bridge protocol")
	fs.StringVar(&f.toolVerbosity, "tool-verbosity", "none", "Tool verbosity level in the terminal: 'none', 'info', or 'all'")
	fs.BoolVar(&f.trace, "trace", false, "Enable execution tracing to troubleshoot issues")
	fs.BoolVar(&f.debug, "debug", false, "Start with debug metrics enabled")
	fs.StringVar(&f.llm, "llm", "", "LLM provider, overriding the configuration")
	fs.StringVar(&f.model, "model", "", "Model name, overriding the configuration")
	fs.Bool("u", false, "Ignored")
	fs.String("m", "", "Ignored")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.prompt = strings.Join(fs.Args(), " ")
	return f, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "assistant: %+v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f *flags, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if f.llm != "" {
		cfg.Assistant.LLMClient = f.llm
	}
	if f.model != "" {
		cfg.Assistant.Model = f.model
	}

	// stdout belongs to the protocol, so the console log goes to stderr where
	// the bridge shows it as debug lines.
	level := "info"
	if f.trace || cfg.Trace {
		level = "debug"
	}
	log, closer, err := logging.New(logging.Options{
		Trace:   f.trace || cfg.Trace,
		Path:    filepath.Join(config.Dir, "assistant.trace"),
		Level:   level,
		Console: stderr,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	root, err := cfg.WorkspacePath()
	if err != nil {
		return err
	}

	sess, err := openSession(f, stdout)
	if err != nil {
		return err
	}

	client, err := llm.New(ctx, cfg.Assistant.LLMClient, cfg.Assistant.Model)
	if err != nil {
		return fmt.Errorf("initializing LLM client: %w", err)
	}

	if f.interactive {
		verbosity, ok := terminal.ParseToolVerbosity(f.toolVerbosity)
		if !ok {
			return fmt.Errorf("invalid tool verbosity '%s'; must be 'none', 'info', or 'all'", f.toolVerbosity)
		}
		term := terminal.New(stdin, stdout, verbosity)
		term.Debug = f.debug

		capability, closeEditor, err := localEditor(ctx, cfg, root, log)
		if err != nil {
			return err
		}
		defer closeEditor()

		registry := tools.NewToolRegistry(ctx, cfg, tools.Options{Root: root, Approver: term, Editor: editor.Querier{Capability: capability}, Log: log})
		defer registry.Close()
		a, err := agent.New(cfg, sess, f.toolset, client, registry, root, log)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, "The assistant is ready. Type your prompt.")
		return term.Run(ctx, a, f.prompt)
	}

	srv := stdio.New(stdin, stdout, stdio.Options{Debug: f.debug, QueryTimeout: cfg.Assistant.EditorQueryTimeout, Log: log})
	registry := tools.NewToolRegistry(ctx, cfg, tools.Options{Root: root, Approver: srv, Editor: srv, Log: log})
	defer registry.Close()
	a, err := agent.New(cfg, sess, f.toolset, client, registry, root, log)
	if err != nil {
		return err
	}
	log.Info().Str("workspace", root).Int("tools", len(a.AvailableTools)).Msg("serving the bridge protocol")
	return srv.Run(ctx, a)
}

// openSession resumes or creates the named session. Without a name the
// bridge backend keeps its history in memory and the terminal gets a
// timestamped session on disk.
func openSession(f *flags, stdout io.Writer) (*session.Session, error) {
	if f.resume != "" {
		sess, err := session.Load(f.resume)
		if err != nil {
			return nil, fmt.Errorf("resuming session '%s': %w", f.resume, err)
		}
		if f.interactive {
			fmt.Fprintf(stdout, "Resuming session: %s\n", f.resume)
		}
		return sess, nil
	}
	name := f.session
	if name == "" && f.interactive {
		name = defaultSessionName()
	}
	sess, err := session.New(name)
	if err != nil {
		return nil, fmt.Errorf("creating session '%s': %w", name, err)
	}
	if f.interactive {
		fmt.Fprintf(stdout, "Starting new session: %s\n", name)
	}
	return sess, nil
}

// localEditor is the editor the terminal mode queries: the configured MCP
// server if there is one, otherwise the workspace itself.
func localEditor(ctx context.Context, cfg *config.Config, root string, log zerolog.Logger) (editor.Capability, func(), error) {
	if srv := cfg.Editor.MCPServer; srv != nil {
		e, err := mcpeditor.Dial(ctx, mcpeditor.Server{Command: srv.Command, Args: srv.Args, Tools: srv.Tools}, log)
		if err != nil {
			return nil, nil, err
		}
		return e, func() { e.Close() }, nil
	}
	ws := workspace.New(workspace.Options{
		Folders:            []string{root},
		Hidden:             cfg.Editor.Hidden,
		DiagnosticsCommand: cfg.Editor.DiagnosticsCommand,
		Log:                log,
	})
	return ws, func() {}, nil
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "assistant"
	}
	dirName := filepath.Base(wd)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s_%s", dirName, timestamp)
}

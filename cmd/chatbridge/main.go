// Command chatbridge hosts chat panels for the assistant backend. The default
// command opens a panel in the terminal; serve exposes panels to webviews
// over WebSocket.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m4xw311/chatbridge/panel/line"
	"github.com/m4xw311/chatbridge/panel/tui"
	"github.com/m4xw311/chatbridge/panel/ws"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const closeTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "chatbridge:", err)
		os.Exit(1)
	}
}

// isTerminal reports whether r is an interactive terminal.
var isTerminal = func(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	v := newViper()

	root := &cobra.Command{
		Use:           "chatbridge",
		Short:         "Chat with the assistant backend",
		Long:          "chatbridge starts the assistant backend and bridges it to a chat panel in the terminal or in a webview.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	bindConfigFlags(root.PersistentFlags(), v)

	panelCmd := newPanelCmd(v)
	root.AddCommand(panelCmd, newServeCmd(v), newVersionCmd())
	// The bare command opens the terminal panel.
	root.RunE = panelCmd.RunE
	root.Flags().AddFlagSet(panelCmd.Flags())
	return root
}

// bindConfigFlags defines the flags that override config file values and
// binds them to v under the config's keys.
func bindConfigFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.String("backend", "", "Backend executable (default assistant, the bundled backend)")
	fs.String("module", "", "Python module the backend runs")
	fs.StringSlice("backend-args", nil, "Backend arguments, replacing -u -m <module>")
	fs.String("workspace", "", "Working directory for the backend")
	fs.Duration("stop-grace", 0, "How long the backend gets to exit after shutdown")
	fs.StringSlice("auto-approve", nil, "Regular expressions matching whole shell commands approved without asking")
	fs.Bool("trace", false, "Write a trace log")
	fs.String("trace-path", "", "Trace log file")
	for key, flag := range map[string]string{
		"backend.executable":              "backend",
		"backend.module":                  "module",
		"backend.args":                    "backend-args",
		"backend.workspace_path":          "workspace",
		"backend.stop_grace":              "stop-grace",
		"approvals.auto_approve_commands": "auto-approve",
		"trace":                           "trace",
		"trace_path":                      "trace-path",
	} {
		v.BindPFlag(key, fs.Lookup(flag))
	}
}

func newPanelCmd(v *viper.Viper) *cobra.Command {
	var (
		id    string
		plain bool
		style string
	)
	cmd := &cobra.Command{
		Use:   "panel",
		Short: "Open a chat panel in this terminal",
		Long:  "Open a chat panel in this terminal. A full-screen panel is used on an interactive terminal, plain lines otherwise.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := newHost(ctx, v, nil)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
				defer cancel()
				h.close(closeCtx)
			}()

			b, _ := h.registry.Open(id)
			if err := b.Start(ctx); err != nil {
				// Reported on the panel's status line; /reconnect retries.
				h.log.Warn().Err(err).Msg("backend did not start")
			}

			if plain || !isTerminal(cmd.InOrStdin()) {
				return line.New(cmd.InOrStdin(), cmd.OutOrStdout(), h.docs).Run(ctx, b)
			}
			return tui.Run(ctx, b, h.docs, tui.Options{Style: style, Title: "chatbridge · " + id})
		},
	}
	cmd.Flags().StringVar(&id, "panel", ws.DefaultPanel, "Panel identity")
	cmd.Flags().BoolVar(&plain, "plain", false, "Use plain line mode even on a terminal")
	cmd.Flags().StringVar(&style, "style", "auto", "Markdown style: auto, dark, light, notty")
	return cmd
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	var (
		addr    string
		origins []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve chat panels over WebSocket",
		Long:  "Serve chat panels over WebSocket at ws://<addr>/ws. Each ?panel=<id> gets its own backend, kept while the server runs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := newHost(ctx, v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
				defer cancel()
				h.close(closeCtx)
			}()

			srv := ws.NewServer(ctx, ws.Registry{Registry: h.registry}, h.docs, origins, h.log.With().Str("component", "ws").Logger())
			return ws.ListenAndServe(ctx, addr, srv)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "Listen address")
	cmd.Flags().StringSliceVar(&origins, "allow-origin", nil, "Extra browser origins allowed to connect, exact or glob (e.g. vscode-webview://*)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatbridge %s\n", Version)
		},
	}
}

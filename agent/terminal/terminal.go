package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/m4xw311/chatbridge/agent"
	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/session"
	"github.com/m4xw311/chatbridge/tools"
)

// ToolVerbosity controls how much of each tool call is printed.
type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// ParseToolVerbosity accepts none, info and all.
func ParseToolVerbosity(s string) (ToolVerbosity, bool) {
	switch v := ToolVerbosity(s); v {
	case ToolVerbosityNone, ToolVerbosityInfo, ToolVerbosityAll:
		return v, true
	}
	return "", false
}

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	in        *bufio.Reader
	out       io.Writer
	Verbosity ToolVerbosity
	Debug     bool

	approvals *approval.Session
}

var _ tools.Approver = (*Terminal)(nil)

// New creates a new Terminal instance
func New(in io.Reader, out io.Writer, verbosity ToolVerbosity) *Terminal {
	return &Terminal{
		in:        bufio.NewReader(in),
		out:       out,
		Verbosity: verbosity,
		approvals: approval.NewSession(),
	}
}

// Run starts the interactive terminal session
func (t *Terminal) Run(ctx context.Context, a *agent.Agent, initialPrompt string) error {
	// If there's an initial prompt from the command line, use it first
	if initialPrompt != "" {
		if err := t.processTurn(ctx, a, initialPrompt); err != nil {
			return err
		}
	}

	for {
		fmt.Fprint(t.out, "You: ")
		line, err := t.in.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				return nil
			}
			return err
		}

		userInput := strings.TrimSpace(line)
		switch userInput {
		case "":
			continue
		case "/quit", "/exit", "exit", "quit":
			return nil
		case "!new":
			a.Reset()
			fmt.Fprintln(t.out, "[Memory cleared]")
			continue
		case "!tools":
			fmt.Fprintln(t.out, tools.Describe(a.AvailableTools))
			continue
		case "!debug":
			t.Debug = !t.Debug
			fmt.Fprintf(t.out, "Debug metrics %s.\n", map[bool]string{true: "enabled", false: "disabled"}[t.Debug])
			continue
		}

		if err := t.processTurn(ctx, a, userInput); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
	}
}

// ApproveShell asks on the terminal. Answers are y (once), a (all commands for
// the rest of the session) or anything else to deny.
func (t *Terminal) ApproveShell(ctx context.Context, command string) (bool, error) {
	if t.approvals.ApproveAllShellCommands() {
		return true, nil
	}
	if d, ok := t.approvals.Remembered(command); ok {
		return d.Approved(), nil
	}
	fmt.Fprintf(t.out, "Run `%s`? (y = yes, a = approve all, n = no): ", command)
	answer, err := t.in.ReadString('\n')
	if err != nil && answer == "" {
		return false, err
	}
	d := approval.Deny
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		d = approval.Approve
	case "a", "all":
		d = approval.ApproveAll
	}
	t.approvals.Apply(command, d)
	return d.Approved(), nil
}

// processTurn handles a single user input turn
func (t *Terminal) processTurn(ctx context.Context, a *agent.Agent, userInput string) error {
	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			fmt.Fprintf(t.out, "Assistant: %s\n", message)
		},
		OnToolCall: func(toolCall session.ToolCall) {
			switch t.Verbosity {
			case ToolVerbosityAll:
				fmt.Fprintf(t.out, "Calling tool `%s` with args: %v\n", toolCall.Name, toolCall.Args)
			case ToolVerbosityInfo:
				fmt.Fprintf(t.out, "Calling tool `%s`\n", toolCall.Name)
			}
		},
		OnToolResult: func(toolCall session.ToolCall, result string) {
			if t.Verbosity == ToolVerbosityAll {
				fmt.Fprintf(t.out, "Tool `%s` output: %s\n", toolCall.Name, result)
			}
		},
		OnDebug: func(line string) {
			if t.Debug {
				fmt.Fprintln(t.out, line)
			}
		},
		OnWarning: func(warning string) {
			fmt.Fprintf(t.out, "Warning: %s\n", warning)
		},
	}

	return a.ProcessUserInput(ctx, userInput, callbacks)
}

package tools

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/errors"
)

// DeniedMessage is the tool output when the user refuses a command.
const DeniedMessage = "[Tool shell] Command denied by user."

// ShellTool runs a command through the system shell. Commands that
// allowed_commands match in full run directly; anything else needs the user's
// approval.
type ShellTool struct {
	allowedCommands []string
	allowed         *approval.Policy
	dir             string
	approver        Approver
}

func (t *ShellTool) Name() string { return "shell" }
func (t *ShellTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Executes a shell command in the workspace after the user approves it. Args: command (string)."
	}

	allowedList := "Commands matching one of these patterns in full run without approval:\n"
	for _, cmd := range t.allowedCommands {
		allowedList += fmt.Sprintf("- %s\n", cmd)
	}

	return fmt.Sprintf("Executes a shell command in the workspace after the user approves it. Args: command (string).\n%s", allowedList)
}
func (t *ShellTool) Parameters() map[string]interface{} {
	return objectSchema([]string{"command"}, map[string]string{"command": "The command line to run."})
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	command, ok := stringArg(args, "command")
	if !ok || strings.TrimSpace(command) == "" {
		return "", errors.New("missing or invalid 'command' argument")
	}

	if !t.allowed.Allows(command) {
		if t.approver == nil {
			return "", errors.New("command '%s' is not in the list of allowed commands", command)
		}
		approved, err := t.approver.ApproveShell(ctx, command)
		if err != nil {
			return "", errors.Wrapf(err, "approval for '%s' failed", command)
		}
		if !approved {
			return DeniedMessage, nil
		}
	}

	cmd := shellCommand(ctx, command)
	cmd.Dir = t.dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "command execution failed. Output:\n%s", string(output))
	}

	return fmt.Sprintf("Command executed successfully. Output:\n%s", string(output)), nil
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

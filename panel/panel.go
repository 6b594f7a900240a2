// Package panel holds what the chat panels share: the controller interface a
// panel drives, the slash commands typed into a composer, and the JSON shapes
// a webview panel exchanges with the host.
package panel

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/bridge"
	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/event"
)

// Controller is the part of a bridge a panel uses. *bridge.Bridge implements
// it.
type Controller interface {
	Subscribe(fn func(bridge.Event)) event.Disposer
	Snapshot() (bridge.Snapshot, error)
	Send(content string) error
	ToggleDebug() error
	ListTools() error
	NewSession() error
	Reconnect(ctx context.Context) error
	ResolveApproval(id string, d approval.Decision) (bool, error)
}

var _ Controller = (*bridge.Bridge)(nil)

// Documents tracks the files a terminal panel has open. The workspace
// capability implements it.
type Documents interface {
	Open(path string) error
}

// Command is a composer line starting with a slash.
type Command string

const (
	CmdNone      Command = ""
	CmdTools     Command = "tools"
	CmdNew       Command = "new"
	CmdDebug     Command = "debug"
	CmdReconnect Command = "reconnect"
	CmdOpen      Command = "open"
	CmdQuit      Command = "quit"
	CmdHelp      Command = "help"
)

// Help lists the composer commands.
const Help = "/tools list tools, /new new session, /debug toggle debug, /reconnect restart the backend, /open <path> set the active file, /quit exit"

// ParseCommand splits a composer line into a command and its argument. Lines
// that are not commands return CmdNone. An unknown command is reported as
// CmdHelp.
func ParseCommand(line string) (Command, string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return CmdNone, ""
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	switch c := Command(strings.ToLower(name)); c {
	case CmdTools, CmdNew, CmdDebug, CmdReconnect, CmdOpen, CmdQuit, CmdHelp:
		return c, strings.TrimSpace(arg)
	case "exit":
		return CmdQuit, ""
	}
	return CmdHelp, ""
}

// Run executes a command against c. CmdQuit, CmdHelp and CmdNone are left
// to the caller.
func Run(ctx context.Context, c Controller, docs Documents, cmd Command, arg string) error {
	switch cmd {
	case CmdTools:
		return c.ListTools()
	case CmdNew:
		return c.NewSession()
	case CmdDebug:
		return c.ToggleDebug()
	case CmdReconnect:
		return c.Reconnect(ctx)
	case CmdOpen:
		if arg == "" {
			return errors.New("usage: /open <path>")
		}
		if docs == nil {
			return errors.New("this panel has no workspace to open files in")
		}
		return docs.Open(arg)
	}
	return nil
}

// Incoming is a message from a webview panel to the host.
type Incoming struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	Path       string `json:"path,omitempty"`
	ID         string `json:"id,omitempty"`
	Approved   bool   `json:"approved,omitempty"`
	ApproveAll bool   `json:"approve_all,omitempty"`
}

// Webview message types sent by the panel.
const (
	InSend          = "send"
	InToggleDebug   = "toggleDebug"
	InListTools     = "listTools"
	InNewSession    = "newSession"
	InReconnect     = "reconnect"
	InOpen          = "open"
	InShellApproval = "shell_approval_response"
)

// Dispatch applies one webview message. Unknown types are ignored. Toolbar
// requests made while the backend is down fail quietly, as the toolbar is
// disabled then.
func Dispatch(ctx context.Context, c Controller, docs Documents, in Incoming) error {
	switch in.Type {
	case InSend:
		if strings.TrimSpace(in.Content) == "" {
			return nil
		}
		return c.Send(in.Content)
	case InToggleDebug:
		return quiet(c.ToggleDebug())
	case InListTools:
		return quiet(c.ListTools())
	case InNewSession:
		return quiet(c.NewSession())
	case InReconnect:
		return c.Reconnect(ctx)
	case InOpen:
		return Run(ctx, c, docs, CmdOpen, in.Path)
	case InShellApproval:
		_, err := c.ResolveApproval(in.ID, approval.FromFlags(in.Approved, in.ApproveAll))
		return err
	}
	return nil
}

func quiet(err error) error {
	if errors.KindOf(err) == errors.Write {
		return nil
	}
	return err
}

// Outgoing is a message from the host to a webview panel.
type Outgoing struct {
	Type    string   `json:"type"`
	Message *string  `json:"message,omitempty"`
	Level   string   `json:"level,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
	Visible *bool    `json:"visible,omitempty"`
	Lines   []string `json:"lines,omitempty"`
	ID      string   `json:"id,omitempty"`
	Command string   `json:"command,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Encode turns a bridge event into the webview message that renders it.
func Encode(ev bridge.Event) Outgoing {
	switch ev := ev.(type) {
	case bridge.User:
		return Outgoing{Type: "user", Message: &ev.Content}
	case bridge.Assistant:
		return Outgoing{Type: "assistant", Message: &ev.Content}
	case bridge.System:
		return Outgoing{Type: "system", Message: &ev.Content}
	case bridge.Status:
		return Outgoing{Type: "status", Level: string(ev.Level), Message: &ev.Message}
	case bridge.DebugVisibility:
		return Outgoing{Type: "debug-visibility", Visible: &ev.Visible}
	case bridge.DebugLines:
		return Outgoing{Type: "debug-lines", Lines: ev.Lines}
	case bridge.Controls:
		return Outgoing{Type: "controls", Enabled: &ev.Enabled}
	case bridge.Input:
		return Outgoing{Type: "input", Enabled: &ev.Enabled}
	case bridge.ApprovalPrompt:
		return Outgoing{Type: "shell_approval_request", ID: ev.ID, Command: ev.Command, Reason: ev.Reason}
	case bridge.ApprovalDismissed:
		return Outgoing{Type: "shell_approval_dismissed", ID: ev.ID}
	}
	return Outgoing{Type: "unknown"}
}

// Replay returns the events that bring a freshly attached panel up to date
// with s.
func Replay(s bridge.Snapshot) []bridge.Event {
	evs := []bridge.Event{
		bridge.Controls{Enabled: s.Controls},
		bridge.DebugVisibility{Visible: s.DebugVisible},
		bridge.Input{Enabled: s.InputEnabled},
	}
	if s.Prompt != nil {
		evs = append(evs, *s.Prompt)
	}
	return evs
}

// DecodeIncoming parses a webview message.
func DecodeIncoming(data []byte) (Incoming, error) {
	var in Incoming
	if err := json.Unmarshal(data, &in); err != nil {
		return Incoming{}, errors.Wrapf(err, "malformed panel message")
	}
	return in, nil
}

// Package tui is the full-screen terminal chat panel. It shows the
// conversation in a scrolling viewport with assistant replies rendered as
// markdown, a status line, an optional debug pane and a modal for shell
// approvals.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/bridge"
	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/panel"
)

const (
	debugPaneHeight = 8
	maxDebugLines   = 500
	eventBuffer     = 256
)

// Options configures the panel.
type Options struct {
	// Style is a glamour style name; "auto" detects the terminal background.
	Style string
	// Title is shown in the header.
	Title string
}

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entrySystem
	entryStatus
)

type entry struct {
	kind  entryKind
	level bridge.Level
	text  string
}

type eventMsg struct{ ev bridge.Event }

type resultMsg struct {
	err    error
	notice string
}

type theme struct {
	header    lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	system    lipgloss.Style
	info      lipgloss.Style
	warning   lipgloss.Style
	error     lipgloss.Style
	debug     lipgloss.Style
	modal     lipgloss.Style
	footer    lipgloss.Style
}

func newTheme() theme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	amber := lipgloss.Color("#ffd166")
	muted := lipgloss.Color("#9ca3d8")
	return theme{
		header:    lipgloss.NewStyle().Bold(true).Foreground(blue).Padding(0, 1),
		user:      lipgloss.NewStyle().Foreground(mint).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(blue).Bold(true),
		system:    lipgloss.NewStyle().Foreground(muted).Italic(true),
		info:      lipgloss.NewStyle().Foreground(blue),
		warning:   lipgloss.NewStyle().Foreground(amber),
		error:     lipgloss.NewStyle().Foreground(pink).Bold(true),
		debug: lipgloss.NewStyle().Foreground(muted).
			BorderStyle(lipgloss.NormalBorder()).BorderTop(true).BorderForeground(muted),
		modal: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).BorderForeground(amber).Padding(0, 1),
		footer: lipgloss.NewStyle().Foreground(muted),
	}
}

type model struct {
	ctx    context.Context
	c      panel.Controller
	docs   panel.Documents
	events chan tea.Msg
	opts   Options

	theme    theme
	renderer *glamour.TermRenderer
	input    textinput.Model
	chat     viewport.Model
	debug    viewport.Model
	spinner  spinner.Model

	entries      []entry
	debugLines   []string
	debugVisible bool
	controls     bool
	inputEnabled bool
	prompts      []bridge.ApprovalPrompt
	waiting      bool
	status       entry

	width, height int
}

func newModel(ctx context.Context, c panel.Controller, docs panel.Documents, opts Options) model {
	if opts.Style == "" {
		opts.Style = "auto"
	}
	if opts.Title == "" {
		opts.Title = "chatbridge"
	}
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 8000
	input.Placeholder = "Ask the assistant, or /help"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := model{
		ctx:          ctx,
		c:            c,
		docs:         docs,
		events:       make(chan tea.Msg, eventBuffer),
		opts:         opts,
		theme:        newTheme(),
		input:        input,
		chat:         viewport.New(80, 20),
		debug:        viewport.New(80, debugPaneHeight),
		spinner:      sp,
		controls:     true,
		inputEnabled: true,
	}
	m.renderer = m.newRenderer(80)
	return m
}

func (m model) newRenderer(width int) *glamour.TermRenderer {
	opt := glamour.WithStandardStyle(m.opts.Style)
	if m.opts.Style == "auto" {
		opt = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(max(width-4, 20)))
	if err != nil {
		return nil
	}
	return r
}

// Run shows the panel for c until the user quits or ctx is done.
func Run(ctx context.Context, c panel.Controller, docs panel.Documents, opts Options, progOpts ...tea.ProgramOption) error {
	m := newModel(ctx, c, docs, opts)
	events := m.events
	done := make(chan struct{})
	defer close(done)
	dispose := c.Subscribe(func(ev bridge.Event) {
		select {
		case events <- eventMsg{ev}:
		case <-done:
		}
	})
	defer dispose()
	if snap, err := c.Snapshot(); err == nil {
		for _, ev := range panel.Replay(snap) {
			m = m.apply(ev)
		}
	}

	progOpts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, progOpts...)
	_, err := tea.NewProgram(m, progOpts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func waitEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.renderer = m.newRenderer(msg.Width)
		m = m.layout()
	case eventMsg:
		m = m.apply(msg.ev)
		cmds = append(cmds, waitEvent(m.events))
	case resultMsg:
		if msg.err != nil {
			m.waiting = false
			m.status = entry{kind: entryStatus, level: bridge.LevelError, text: msg.err.Error()}
		} else if msg.notice != "" {
			m.status = entry{kind: entryStatus, level: bridge.LevelInfo, text: msg.notice}
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		var cmd tea.Cmd
		m, cmd = m.key(msg)
		return m, cmd
	}
	return m, tea.Batch(cmds...)
}

func (m model) key(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	case "ctrl+d":
		return m, m.call(m.c.ToggleDebug, "")
	}

	if len(m.prompts) > 0 {
		var d approval.Decision
		switch msg.String() {
		case "y":
			d = approval.Approve
		case "a":
			d = approval.ApproveAll
		case "n", "esc":
			d = approval.Deny
		default:
			return m, nil
		}
		id := m.prompts[0].ID
		return m, func() tea.Msg {
			_, err := m.c.ResolveApproval(id, d)
			return resultMsg{err: err}
		}
	}

	if msg.Type != tea.KeyEnter {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	m.input.Reset()
	cmd, arg := panel.ParseCommand(text)
	switch cmd {
	case panel.CmdQuit:
		return m, tea.Quit
	case panel.CmdHelp:
		m.entries = append(m.entries, entry{kind: entrySystem, text: panel.Help})
		return m.refresh(), nil
	case panel.CmdNone:
		if !m.inputEnabled {
			return m, nil
		}
		m.waiting = true
		return m, m.call(func() error { return m.c.Send(text) }, "")
	case panel.CmdOpen:
		return m, m.call(func() error { return panel.Run(m.ctx, m.c, m.docs, cmd, arg) }, "Active file: "+arg)
	}
	return m, m.call(func() error { return panel.Run(m.ctx, m.c, m.docs, cmd, arg) }, "")
}

// call runs fn off the update loop; controller calls wait on the bridge,
// which may be busy emitting events into this panel.
func (m model) call(fn func() error, notice string) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{notice: notice}
	}
}

func (m model) apply(ev bridge.Event) model {
	switch ev := ev.(type) {
	case bridge.User:
		m.entries = append(m.entries, entry{kind: entryUser, text: ev.Content})
	case bridge.Assistant:
		m.waiting = false
		m.entries = append(m.entries, entry{kind: entryAssistant, text: ev.Content})
	case bridge.System:
		m.entries = append(m.entries, entry{kind: entrySystem, text: ev.Content})
	case bridge.Status:
		if ev.Level == bridge.LevelError {
			m.waiting = false
		}
		m.status = entry{kind: entryStatus, level: ev.Level, text: ev.Message}
	case bridge.DebugVisibility:
		m.debugVisible = ev.Visible
		m = m.layout()
	case bridge.DebugLines:
		m.debugLines = append(m.debugLines, ev.Lines...)
		if over := len(m.debugLines) - maxDebugLines; over > 0 {
			m.debugLines = m.debugLines[over:]
		}
		m.debug.SetContent(strings.Join(m.debugLines, "\n"))
		m.debug.GotoBottom()
	case bridge.Controls:
		m.controls = ev.Enabled
		if !ev.Enabled {
			m.waiting = false
		}
	case bridge.Input:
		m.inputEnabled = ev.Enabled
		if ev.Enabled {
			m.input.Focus()
		} else {
			m.input.Blur()
		}
	case bridge.ApprovalPrompt:
		for _, p := range m.prompts {
			if p.ID == ev.ID {
				return m
			}
		}
		m.prompts = append(m.prompts, ev)
	case bridge.ApprovalDismissed:
		for i, p := range m.prompts {
			if p.ID == ev.ID {
				m.prompts = append(m.prompts[:i:i], m.prompts[i+1:]...)
				break
			}
		}
	}
	return m.refresh()
}

func (m model) layout() model {
	if m.width == 0 {
		return m
	}
	h := m.height - 4
	if m.debugVisible {
		h -= debugPaneHeight + 1
	}
	m.chat.Width, m.chat.Height = m.width, max(h, 3)
	m.debug.Width, m.debug.Height = m.width, debugPaneHeight
	m.input.Width = max(m.width-4, 10)
	return m.refresh()
}

func (m model) refresh() model {
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderEntry(e))
		b.WriteString("\n")
	}
	m.chat.SetContent(b.String())
	m.chat.GotoBottom()
	return m
}

func (m model) renderEntry(e entry) string {
	switch e.kind {
	case entryUser:
		return m.theme.user.Render("You") + "\n" + e.text
	case entryAssistant:
		text := e.text
		if m.renderer != nil {
			if out, err := m.renderer.Render(e.text); err == nil {
				text = strings.TrimRight(out, "\n")
			}
		}
		return m.theme.assistant.Render("Assistant") + "\n" + text
	}
	return m.theme.system.Render(e.text)
}

func (m model) statusStyle(level bridge.Level) lipgloss.Style {
	switch level {
	case bridge.LevelWarning:
		return m.theme.warning
	case bridge.LevelError:
		return m.theme.error
	}
	return m.theme.info
}

func (m model) View() string {
	var b strings.Builder
	header := m.opts.Title
	if !m.controls {
		header += " · backend stopped (/reconnect)"
	}
	b.WriteString(m.theme.header.Render(header))
	b.WriteString("\n")
	b.WriteString(m.chat.View())
	b.WriteString("\n")
	if m.debugVisible {
		b.WriteString(m.theme.debug.Width(m.width).Render(m.debug.View()))
		b.WriteString("\n")
	}

	switch {
	case len(m.prompts) > 0:
		p := m.prompts[0]
		body := fmt.Sprintf("Run shell command?\n\n  %s\n", p.Command)
		if p.Reason != "" {
			body += "\n" + p.Reason + "\n"
		}
		body += "\n[y] approve  [a] approve all  [n] deny"
		if n := len(m.prompts) - 1; n > 0 {
			body += fmt.Sprintf("  (%d more waiting)", n)
		}
		b.WriteString(m.theme.modal.Render(body))
	case m.waiting:
		b.WriteString(m.spinner.View() + " waiting for the assistant")
	case m.status.text != "":
		b.WriteString(m.statusStyle(m.status.level).Render(m.status.text))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.theme.footer.Render("enter send · ctrl+d debug · pgup/pgdn scroll · /help · ctrl+c quit"))
	return b.String()
}

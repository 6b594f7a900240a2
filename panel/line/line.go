// Package line is a plain text chat panel for terminals that are not
// interactive, such as piped input or a dumb terminal. It prints each bridge
// event as a line and reads prompts, commands and approval answers line by
// line.
package line

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/bridge"
	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/panel"
)

// Panel renders one bridge on a text stream.
type Panel struct {
	in   io.Reader
	docs panel.Documents

	mu      sync.Mutex
	out     io.Writer
	debug   bool
	pending []bridge.ApprovalPrompt
}

// New creates a panel. docs may be nil, which disables /open.
func New(in io.Reader, out io.Writer, docs panel.Documents) *Panel {
	return &Panel{in: in, out: out, docs: docs}
}

// Run attaches to c and reads input until /quit, end of input or ctx is done.
func (p *Panel) Run(ctx context.Context, c panel.Controller) error {
	dispose := c.Subscribe(p.render)
	defer dispose()
	if snap, err := c.Snapshot(); err == nil {
		for _, ev := range panel.Replay(snap) {
			p.render(ev)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(p.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case text := <-lines:
			if quit := p.handle(ctx, c, text); quit {
				return nil
			}
		}
	}
}

func (p *Panel) handle(ctx context.Context, c panel.Controller, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if prompt, ok := p.firstPrompt(); ok {
		d, ok := approval.Parse(text)
		if !ok {
			p.printf("Answer y (approve), all (approve all) or n (deny).\n")
			return false
		}
		if _, err := c.ResolveApproval(prompt.ID, d); err != nil {
			p.printf("Error: %v\n", err)
		}
		return false
	}

	cmd, arg := panel.ParseCommand(text)
	switch cmd {
	case panel.CmdQuit:
		return true
	case panel.CmdHelp:
		p.printf("%s\n", panel.Help)
		return false
	case panel.CmdNone:
		if err := c.Send(text); err != nil && !errors.Is(err, bridge.ErrEmptyMessage) {
			p.printf("Error: %v\n", err)
		}
		return false
	}
	if err := panel.Run(ctx, c, p.docs, cmd, arg); err != nil {
		p.printf("Error: %v\n", err)
	} else if cmd == panel.CmdOpen {
		p.printf("Active file: %s\n", arg)
	}
	return false
}

func (p *Panel) firstPrompt() (bridge.ApprovalPrompt, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return bridge.ApprovalPrompt{}, false
	}
	return p.pending[0], true
}

func (p *Panel) printf(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, a...)
}

// render runs on the bridge's goroutine.
func (p *Panel) render(ev bridge.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev := ev.(type) {
	case bridge.Assistant:
		fmt.Fprintf(p.out, "Assistant: %s\n", ev.Content)
	case bridge.System:
		fmt.Fprintf(p.out, "%s\n", ev.Content)
	case bridge.Status:
		fmt.Fprintf(p.out, "[%s] %s\n", ev.Level, ev.Message)
	case bridge.DebugVisibility:
		p.debug = ev.Visible
	case bridge.DebugLines:
		if p.debug {
			for _, l := range ev.Lines {
				fmt.Fprintf(p.out, "  %s\n", l)
			}
		}
	case bridge.ApprovalPrompt:
		for _, q := range p.pending {
			if q.ID == ev.ID {
				return
			}
		}
		p.pending = append(p.pending, ev)
		if len(p.pending) == 1 {
			writePrompt(p.out, ev)
		}
	case bridge.ApprovalDismissed:
		for i, q := range p.pending {
			if q.ID == ev.ID {
				p.pending = append(p.pending[:i], p.pending[i+1:]...)
				if i == 0 && len(p.pending) > 0 {
					writePrompt(p.out, p.pending[0])
				}
				return
			}
		}
	}
}

func writePrompt(w io.Writer, ev bridge.ApprovalPrompt) {
	fmt.Fprintf(w, "The assistant wants to run:\n  %s\n", ev.Command)
	if ev.Reason != "" {
		fmt.Fprintf(w, "Reason: %s\n", ev.Reason)
	}
	fmt.Fprint(w, "Approve? (y = yes, all = approve all, n = no): ")
}

// Package paneltest provides a scripted panel.Controller for presenter tests.
package paneltest

import (
	"context"
	"sync"

	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/bridge"
	"github.com/m4xw311/chatbridge/event"
)

// Controller records every call and lets tests emit bridge events.
type Controller struct {
	hub event.Hub[bridge.Event]

	mu    sync.Mutex
	calls []string
	snap  bridge.Snapshot
	// SendErr is returned by Send when set.
	SendErr error
	// Decisions holds every ResolveApproval call.
	Decisions map[string]approval.Decision
}

// New returns a controller whose snapshot reports a running backend.
func New() *Controller {
	return &Controller{
		snap:      bridge.Snapshot{Running: true, Controls: true, InputEnabled: true},
		Decisions: make(map[string]approval.Decision),
	}
}

// Emit delivers ev to every subscriber.
func (c *Controller) Emit(ev bridge.Event) { c.hub.Emit(ev) }

// SetSnapshot replaces what Snapshot returns.
func (c *Controller) SetSnapshot(s bridge.Snapshot) {
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

// Calls returns the recorded calls, such as "send hello" or "tools".
func (c *Controller) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Subscribers reports how many observers are attached.
func (c *Controller) Subscribers() int { return c.hub.Len() }

func (c *Controller) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *Controller) Subscribe(fn func(bridge.Event)) event.Disposer { return c.hub.Subscribe(fn) }

func (c *Controller) Snapshot() (bridge.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, nil
}

func (c *Controller) Send(content string) error {
	c.record("send " + content)
	return c.SendErr
}

func (c *Controller) ToggleDebug() error { c.record("debug"); return nil }
func (c *Controller) ListTools() error   { c.record("tools"); return nil }
func (c *Controller) NewSession() error  { c.record("new"); return nil }

func (c *Controller) Reconnect(ctx context.Context) error { c.record("reconnect"); return nil }

func (c *Controller) ResolveApproval(id string, d approval.Decision) (bool, error) {
	c.record("approval " + id)
	c.mu.Lock()
	c.Decisions[id] = d
	c.mu.Unlock()
	return true, nil
}

// Documents records opened paths.
type Documents struct {
	mu     sync.Mutex
	Opened []string
}

func (d *Documents) Open(path string) error {
	d.mu.Lock()
	d.Opened = append(d.Opened, path)
	d.mu.Unlock()
	return nil
}

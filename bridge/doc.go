// Package bridge pairs one chat panel with one assistant backend process.
//
// A Bridge owns a supervisor for the backend, a table of outstanding
// backend-initiated requests and the approval state of the current
// connection. It routes every inbound message to exactly one primary
// disposition and reports everything the panel needs to render as Events.
//
// # Event loop
//
// All bridge state lives on a single goroutine. Supervisor callbacks and panel
// calls are posted to an unbounded FIFO mailbox and run there one at a time,
// so inbound messages are handled in arrival order and callbacks never block
// the process pumps. Editor queries are resolved off the loop and their
// outcome is posted back.
//
// Observers registered with Subscribe run on the loop goroutine. They must not
// block and must not call the Bridge's blocking methods synchronously.
//
// # Flows
//
//   - User messages are fire-and-forget. Send rejects them while a shell
//     approval prompt is outstanding.
//   - editor_query requests get exactly one editor_query_response carrying
//     either a result or an error.
//   - shell_approval_request prompts are queued and shown one at a time. Once
//     the user approves all, later requests of the same connection are
//     answered without a prompt.
//
// Restarting the backend abandons every outstanding request without sending a
// response. The backend is expected to apply its own timeouts.
//
// # Usage
//
//	b := bridge.New(bridge.Options{
//	    Backend:   bridge.Backend{Executable: "assistant", Args: []string{"-u", "-m", "core.core"}},
//	    Workspace: bridge.StaticWorkspace("/repo"),
//	    Editor:    capability,
//	})
//	dispose := b.Subscribe(func(ev bridge.Event) { ... })
//	defer dispose()
//	if err := b.Start(ctx); err != nil {
//	    // a status event has already been emitted
//	}
//	defer b.Close(ctx)
package bridge

// Package agent runs the assistant's conversation loop for the reference
// backend.
//
// An Agent owns the session history, the LLM client and the active tools.
// ProcessUserInput sends the history to the model, executes any tool calls
// it returns and feeds the results back, until the model answers without
// tools or the iteration budget (assistant.tool_iterations) is spent. Front
// ends observe a turn through ProcessCallbacks.
//
// # Usage
//
//	registry := tools.NewToolRegistry(ctx, cfg, tools.Options{Root: root, Approver: srv, Editor: srv})
//	a, err := agent.New(cfg, sess, "default", client, registry, root, log)
//	if err != nil {
//	    // handle error
//	}
//
//	err = a.ProcessUserInput(ctx, "what does main.go do?", agent.ProcessCallbacks{
//	    OnAssistantMessage: func(message string) { /* show the answer */ },
//	    OnToolResult:       func(tc session.ToolCall, result string) { /* show a notice */ },
//	    OnDebug:            func(line string) { /* timing lines */ },
//	})
//
// # Subpackages
//
// agent/stdio: the line-delimited JSON server the chat bridge launches. It
// forwards editor queries and shell approvals to the panel.
//
// agent/terminal: an interactive terminal front end for using the assistant
// without a panel.
package agent

// Package terminal lets a user talk to the assistant directly in a terminal,
// without a chat panel or bridge in between.
//
// The Terminal reads prompts line by line and prints the assistant's answers.
// It also acts as the shell approver: commands are confirmed on the same
// input stream with y (once), a (approve all for this session) or n.
//
// # Usage
//
//	term := terminal.New(os.Stdin, os.Stdout, terminal.ToolVerbosityInfo)
//	registry := tools.NewToolRegistry(ctx, cfg, tools.Options{Root: root, Approver: term, Editor: editor.Querier{Capability: ws}})
//	a, err := agent.New(cfg, sess, "default", client, registry, root, log)
//	if err != nil {
//	    // handle error
//	}
//	err = term.Run(ctx, a, initialPrompt)
//
// # Commands
//
//   - /quit, /exit: end the session
//   - !new: clear the conversation
//   - !tools: list the active tools
//   - !debug: print timing lines after each answer
//
// # Verbosity Levels
//
//   - none: tool calls are not shown
//   - info: tool names are shown when called
//   - all: tool names, arguments and results are shown
package terminal

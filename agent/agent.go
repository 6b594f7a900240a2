package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/m4xw311/chatbridge/config"
	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/llm"
	"github.com/m4xw311/chatbridge/session"
	"github.com/m4xw311/chatbridge/tools"
	"github.com/rs/zerolog"
)

// LimitReached is recorded for each tool call left unanswered once the
// iteration budget is spent.
const LimitReached = "[Tool execution limit reached]"

type Agent struct {
	Config         *config.Config
	Session        *session.Session
	LLMClient      llm.LLMClient
	AvailableTools []tools.Tool
	SystemPrompt   string
	// MaxIterations bounds the tool rounds of one user turn.
	MaxIterations int
	log           zerolog.Logger
}

// ProcessCallbacks lets each front end observe a turn.
type ProcessCallbacks struct {
	OnAssistantMessage func(message string)
	OnToolCall         func(toolCall session.ToolCall)
	OnToolResult       func(toolCall session.ToolCall, result string)
	// OnDebug receives timing and tool lines shown when debug metrics are on.
	OnDebug   func(line string)
	OnWarning func(warning string)
}

func New(cfg *config.Config, sess *session.Session, toolset string, client llm.LLMClient, registry *tools.ToolRegistry, root string, log zerolog.Logger) (*Agent, error) {
	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}

	activeTools, err := registry.GetActiveTools(ts)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		Config:         cfg,
		Session:        sess,
		LLMClient:      client,
		AvailableTools: activeTools,
		MaxIterations:  max(cfg.Assistant.ToolIterations, 1),
		log:            log.With().Str("component", "agent").Logger(),
	}
	a.SystemPrompt = cfg.Assistant.SystemPrompt
	if a.SystemPrompt == "" {
		a.SystemPrompt = defaultSystemPrompt(root, activeTools)
	}
	return a, nil
}

func defaultSystemPrompt(root string, ts []tools.Tool) string {
	prompt := "You are a coding assistant working inside the user's editor"
	if root != "" {
		prompt += " on the workspace at " + root
	}
	prompt += ".\nUse the tools to inspect files, run commands and ask the editor about diagnostics, open editors and symbols. " +
		"Shell commands may need the user's approval; when one is denied, do not retry it.\n" +
		"Answer concisely in Markdown."
	if len(ts) > 0 {
		prompt += "\n\nAvailable tools:\n" + tools.Describe(ts)
	}
	return prompt
}

// Reset starts a new conversation.
func (a *Agent) Reset() {
	a.Session.Reset()
	if err := a.Session.Save(); err != nil {
		a.log.Warn().Err(err).Msg("failed to save session")
	}
}

func (a *Agent) messages() []session.Message {
	msgs := make([]session.Message, 0, len(a.Session.Messages)+1)
	if a.SystemPrompt != "" {
		msgs = append(msgs, session.Message{Role: "system", Content: a.SystemPrompt})
	}
	return append(msgs, a.Session.Messages...)
}

// ProcessUserInput runs one user turn: LLM -> tools -> LLM ... until the
// model stops calling tools or the iteration budget is spent.
func (a *Agent) ProcessUserInput(ctx context.Context, userInput string, callbacks ProcessCallbacks) error {
	a.Session.AddMessage(session.Message{Role: "user", Content: userInput})
	defer func() {
		if err := a.Session.Save(); err != nil {
			a.log.Warn().Err(err).Msg("failed to save session")
			if callbacks.OnWarning != nil {
				callbacks.OnWarning(fmt.Sprintf("failed to save session: %v", err))
			}
		}
	}()

	var firstOutput string
	for iteration := 0; ; iteration++ {
		start := time.Now()
		resp, err := a.LLMClient.Chat(ctx, a.messages(), a.AvailableTools)
		if err != nil {
			return errors.Wrapf(err, "LLM chat failed")
		}
		label := "Response time"
		if iteration > 0 {
			label = "Tool follow-up time"
		}
		debugf(callbacks, "[DEBUG] %s: %.2fs", label, time.Since(start).Seconds())
		a.Session.AddMessage(*resp)

		if len(resp.ToolCalls) == 0 {
			content := resp.Content
			if content == "" {
				content = firstOutput
			}
			if callbacks.OnAssistantMessage != nil {
				callbacks.OnAssistantMessage(content)
			}
			return nil
		}

		if iteration >= a.MaxIterations {
			for _, tc := range resp.ToolCalls {
				a.Session.AddMessage(session.Message{Role: "tool", Content: LimitReached, ToolCalls: []session.ToolCall{tc}})
			}
			if callbacks.OnToolResult != nil {
				callbacks.OnToolResult(resp.ToolCalls[0], LimitReached)
			}
			content := resp.Content
			if content == "" {
				content = firstOutput
			}
			if callbacks.OnAssistantMessage != nil {
				callbacks.OnAssistantMessage(content)
			}
			return nil
		}

		for _, tc := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return err
			}
			if callbacks.OnToolCall != nil {
				callbacks.OnToolCall(tc)
			}
			result := a.executeTool(ctx, tc)
			if firstOutput == "" {
				firstOutput = result
			}
			a.Session.AddMessage(session.Message{Role: "tool", Content: result, ToolCalls: []session.ToolCall{tc}})
			if callbacks.OnToolResult != nil {
				callbacks.OnToolResult(tc, result)
			}
			debugf(callbacks, "[DEBUG] Tool %s invoked with args: %s", tc.Name, preview(tc.Args))
		}
	}
}

// PlanSteps caps the length of a plan produced by Plan.
const PlanSteps = 25

// Plan asks the model to break request into numbered steps. No tools are
// offered and the exchange is dropped from the history afterwards.
func (a *Agent) Plan(ctx context.Context, request string) (string, time.Duration, error) {
	mark := a.Session.Snapshot()
	defer a.Session.Restore(mark)

	a.Session.AddMessage(session.Message{Role: "user", Content: request})
	a.Session.AddMessage(session.Message{Role: "user", Content: fmt.Sprintf(
		"Given the user's request, break it down into a numbered list of concrete steps (tools or actions) to achieve the goal. "+
			"Only plan up to %d steps. Respond with the plan as a numbered list.", PlanSteps)})

	start := time.Now()
	resp, err := a.LLMClient.Chat(ctx, a.messages(), nil)
	if err != nil {
		return "", 0, errors.Wrapf(err, "LLM chat failed")
	}
	return resp.Content, time.Since(start), nil
}

// executeTool runs a tool call. Failures become the result text so the model
// can react to them.
func (a *Agent) executeTool(ctx context.Context, tc session.ToolCall) string {
	var tool tools.Tool
	for _, t := range a.AvailableTools {
		if t.Name() == tc.Name {
			tool = t
			break
		}
	}
	if tool == nil {
		return fmt.Sprintf("[Tool %s] not found.", tc.Name)
	}
	a.log.Debug().Str("tool", tc.Name).Interface("args", tc.Args).Msg("executing tool")
	output, err := tool.Execute(ctx, tc.Args)
	if err != nil {
		a.log.Warn().Err(err).Str("tool", tc.Name).Msg("tool failed")
		return fmt.Sprintf("[Tool %s] Error: %v", tc.Name, err)
	}
	if output == "" {
		return "(No output)"
	}
	return output
}

func debugf(callbacks ProcessCallbacks, format string, a ...interface{}) {
	if callbacks.OnDebug != nil {
		callbacks.OnDebug(fmt.Sprintf(format, a...))
	}
}

func preview(args map[string]interface{}) string {
	s := fmt.Sprint(args)
	if r := []rune(s); len(r) > 40 {
		return string(r[:40]) + "…"
	}
	return s
}

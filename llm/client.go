package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/session"
	"github.com/m4xw311/chatbridge/tools"
)

// LLMClient is the interface for interacting with a Large Language Model.
type LLMClient interface {
	Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error)
}

// New returns the client for a provider name. An empty or "mock" name gives
// the mock client.
func New(ctx context.Context, provider, model string) (LLMClient, error) {
	switch provider {
	case "gemini":
		return NewGeminiLLMClient(ctx, model)
	case "openai":
		return NewOpenAILLMClient(ctx, model)
	case "bedrock":
		return NewBedrockLLMClient(ctx, model)
	case "anthropic":
		return NewAnthropicLLMClient(ctx, model)
	case "", "mock":
		return &MockLLMClient{}, nil
	}
	return nil, errors.New("unknown llm '%s'; expected gemini, openai, bedrock, anthropic or mock", provider)
}

// MockLLMClient answers without a model. It parrots the last user message,
// except that "/tool <name> <json args>" makes it call that tool and then
// report the tool's output.
type MockLLMClient struct {
	calls int
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	if len(messages) == 0 {
		return nil, errors.New("no messages to answer")
	}
	last := messages[len(messages)-1]
	if last.Role == "tool" {
		name := ""
		if len(last.ToolCalls) > 0 {
			name = last.ToolCalls[0].Name
		}
		return &session.Message{Role: "assistant", Content: fmt.Sprintf("Tool %s returned: %s", name, last.Content)}, nil
	}

	if rest, ok := strings.CutPrefix(last.Content, "/tool "); ok {
		name, rawArgs, _ := strings.Cut(strings.TrimSpace(rest), " ")
		args := map[string]interface{}{}
		if strings.TrimSpace(rawArgs) != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, errors.Wrapf(err, "invalid mock tool arguments")
			}
		}
		m.calls++
		return &session.Message{
			Role:      "assistant",
			ToolCalls: []session.ToolCall{{ToolCallID: fmt.Sprintf("mock_%d", m.calls), Name: name, Args: args}},
		}, nil
	}

	return &session.Message{
		Role:    "assistant",
		Content: fmt.Sprintf("I am a mock LLM. You said: '%s'.", last.Content),
	}, nil
}

// argsJSON encodes tool call arguments for providers that take them as text.
func argsJSON(args map[string]interface{}) []byte {
	if args == nil {
		return []byte("{}")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func schemaProperties(t tools.Tool) map[string]interface{} {
	if props, ok := t.Parameters()["properties"].(map[string]interface{}); ok {
		return props
	}
	return map[string]interface{}{}
}

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ToolCall is a tool invocation requested by the model. On a "tool" message
// it identifies the call the content answers.
type ToolCall struct {
	ToolCallID string                 `json:"tool_call_id"`
	Name       string                 `json:"name"`
	Args       map[string]interface{} `json:"args,omitempty"`
}

type Message struct {
	Role      string     `json:"role"` // "system", "user", "assistant", "tool"
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type Session struct {
	Name     string    `json:"name"`
	Messages []Message `json:"messages"`
	path     string
}

// New creates a new session. A session without a name lives in memory only.
func New(name string) (*Session, error) {
	s := &Session{Name: name, Messages: []Message{}}
	if name == "" {
		return s, nil
	}
	path, err := getSessionPath(name)
	if err != nil {
		return nil, err
	}
	s.path = path
	return s, nil
}

// Load loads an existing session from disk.
func Load(name string) (*Session, error) {
	path, err := getSessionPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read session file %s: %w", path, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse session file %s: %w", path, err)
	}
	s.path = path
	return &s, nil
}

// Save writes the current session state to disk. It does nothing for an
// in-memory session.
func (s *Session) Save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// AddMessage appends a message to the session history.
func (s *Session) AddMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// Reset forgets the conversation.
func (s *Session) Reset() {
	s.Messages = []Message{}
}

// Snapshot returns a mark that Restore rewinds the history to.
func (s *Session) Snapshot() int { return len(s.Messages) }

func (s *Session) Restore(mark int) {
	if mark >= 0 && mark < len(s.Messages) {
		s.Messages = s.Messages[:mark]
	}
}

func getSessionPath(name string) (string, error) {
	sessionDir := filepath.Join(".chatbridge", "sessions")
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return "", fmt.Errorf("could not create session directory: %w", err)
	}
	return filepath.Join(sessionDir, fmt.Sprintf("%s.json", name)), nil
}

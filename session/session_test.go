package session

import (
	"os"
	"testing"
)

func TestInMemorySession(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	s.AddMessage(Message{Role: "user", Content: "hi"})
	mark := s.Snapshot()
	s.AddMessage(Message{Role: "assistant", ToolCalls: []ToolCall{{ToolCallID: "1", Name: "shell"}}})
	s.AddMessage(Message{Role: "tool", Content: "ok", ToolCalls: []ToolCall{{ToolCallID: "1", Name: "shell"}}})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	s.Restore(mark)
	if len(s.Messages) != 1 {
		t.Fatalf("after restore = %+v", s.Messages)
	}
	s.Reset()
	if len(s.Messages) != 0 {
		t.Fatalf("after reset = %+v", s.Messages)
	}
}

func TestSaveAndLoad(t *testing.T) {
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	s, err := New("demo")
	if err != nil {
		t.Fatal(err)
	}
	s.AddMessage(Message{Role: "assistant", Content: "running", ToolCalls: []ToolCall{{ToolCallID: "c1", Name: "read_file", Args: map[string]interface{}{"path": "a.go"}}}})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load("demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].ToolCalls[0].Args["path"] != "a.go" {
		t.Fatalf("loaded = %+v", loaded.Messages)
	}
	if _, err := Load("missing"); err == nil {
		t.Fatal("expected an error for a missing session")
	}
}

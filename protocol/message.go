// Package protocol defines the newline-delimited JSON messages exchanged between
// the chat panel bridge and the assistant backend.
//
// Inbound lines decode into Message, a superset of every field the backend may
// send. Outbound messages are distinct structs so that each one encodes with
// exactly the fields its type requires.
package protocol

import (
	"bytes"
	"encoding/json"
)

// Message types.
const (
	TypeMessage               = "message"
	TypeShutdown              = "shutdown"
	TypeToggleDebug           = "toggle_debug"
	TypeReady                 = "ready"
	TypeAssistant             = "assistant"
	TypeNotification          = "notification"
	TypeSystem                = "system"
	TypeError                 = "error"
	TypeEditorQuery           = "editor_query"
	TypeEditorQueryResponse   = "editor_query_response"
	TypeShellApprovalRequest  = "shell_approval_request"
	TypeShellApprovalResponse = "shell_approval_response"
)

// Debug is the `debug` overlay. The backend sends either a boolean announcing
// the debug toggle state or an array of diagnostic lines.
type Debug struct {
	Toggle *bool
	Lines  []string
}

func (d *Debug) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		d.Toggle = &b
	case '[':
		var lines []string
		if err := json.Unmarshal(data, &lines); err != nil {
			return err
		}
		d.Lines = lines
	}
	return nil
}

func (d Debug) MarshalJSON() ([]byte, error) {
	if d.Toggle != nil {
		return json.Marshal(*d.Toggle)
	}
	if d.Lines == nil {
		return []byte("null"), nil
	}
	return json.Marshal(d.Lines)
}

// IsToggle reports whether the overlay announces a debug toggle state.
func (d *Debug) IsToggle() bool { return d != nil && d.Toggle != nil }

// Message is one decoded inbound line. Fields a given type does not use are
// left at their zero value.
type Message struct {
	Type       string
	ID         string
	Content    string
	Query      string
	Payload    json.RawMessage
	Result     json.RawMessage
	Error      string
	Command    string
	Reason     string
	Approved   bool
	ApproveAll bool
	Debug      *Debug
	Extras     []string
}

// UnmarshalJSON decodes a message leniently: the line must be a JSON object,
// but a field holding an unexpected JSON kind is ignored rather than failing
// the whole line.
func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*m = Message{
		Type:       stringField(fields["type"]),
		ID:         idField(fields["id"]),
		Content:    stringField(fields["content"]),
		Query:      stringField(fields["query"]),
		Payload:    fields["payload"],
		Result:     fields["result"],
		Error:      stringField(fields["error"]),
		Command:    stringField(fields["command"]),
		Reason:     stringField(fields["reason"]),
		Approved:   boolField(fields["approved"]),
		ApproveAll: boolField(fields["approve_all"]),
	}
	if raw, ok := fields["debug"]; ok {
		var d Debug
		if err := d.UnmarshalJSON(raw); err == nil && (d.Toggle != nil || d.Lines != nil) {
			m.Debug = &d
		}
	}
	if raw, ok := fields["extras"]; ok {
		var extras []string
		if err := json.Unmarshal(raw, &extras); err == nil {
			m.Extras = extras
		}
	}
	return nil
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// idField accepts string and numeric ids; numbers keep their JSON spelling.
func idField(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		return stringField(raw)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return n.String()
}

func boolField(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}

// UserMessage is a fire-and-forget chat message from the panel.
type UserMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func NewUserMessage(content string) UserMessage {
	return UserMessage{Type: TypeMessage, Content: content}
}

// Control is a bare control message such as shutdown or toggle_debug.
type Control struct {
	Type string `json:"type"`
}

func Shutdown() Control    { return Control{Type: TypeShutdown} }
func ToggleDebug() Control { return Control{Type: TypeToggleDebug} }

// EditorQueryResponse answers one editor_query. Exactly one of Result and
// Error is encoded; build it with QueryResult or QueryError.
type EditorQueryResponse struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// QueryResult builds a successful response. A nil result encodes as null.
func QueryResult(id string, result json.RawMessage) EditorQueryResponse {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return EditorQueryResponse{Type: TypeEditorQueryResponse, ID: id, Result: result}
}

// QueryError builds a failed response. An empty message is replaced so the
// response always carries an error.
func QueryError(id, message string) EditorQueryResponse {
	if message == "" {
		message = "editor query failed"
	}
	return EditorQueryResponse{Type: TypeEditorQueryResponse, ID: id, Error: message}
}

// ShellApprovalResponse resolves one shell_approval_request.
type ShellApprovalResponse struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Approved   bool   `json:"approved"`
	ApproveAll bool   `json:"approve_all"`
}

func NewShellApprovalResponse(id string, approved, approveAll bool) ShellApprovalResponse {
	return ShellApprovalResponse{Type: TypeShellApprovalResponse, ID: id, Approved: approved, ApproveAll: approveAll}
}

// Outbound messages written by the backend side of the protocol.

// Notice carries chat-oriented output: ready, assistant, notification, system
// and error messages, with optional overlays.
type Notice struct {
	Type    string   `json:"type"`
	Content string   `json:"content,omitempty"`
	Debug   *Debug   `json:"debug,omitempty"`
	Extras  []string `json:"extras,omitempty"`
}

// Ready announces that the backend accepts messages and reports whether its
// debug metrics are on.
func Ready(debug bool) Notice {
	return Notice{Type: TypeReady, Debug: &Debug{Toggle: &debug}}
}

// EditorQuery asks the panel's editor for information.
type EditorQuery struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Query   string `json:"query"`
	Payload any    `json:"payload,omitempty"`
}

// ShellApprovalRequest asks the user to approve a shell command.
type ShellApprovalRequest struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
}

package bridge

// Event is something the panel renders. The concrete types below are the only
// implementations.
type Event interface {
	isEvent()
}

// Level is the severity of a Status event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// User echoes a chat message the bridge delivered to the backend.
type User struct{ Content string }

// Assistant is a reply from the backend.
type Assistant struct{ Content string }

// System is an informational notice, including each entry of an extras overlay.
type System struct{ Content string }

type Status struct {
	Level   Level
	Message string
}

// DebugVisibility shows or hides the debug pane.
type DebugVisibility struct{ Visible bool }

// DebugLines are diagnostic lines for the debug pane: debug overlays, backend
// stderr and framing failures.
type DebugLines struct{ Lines []string }

// Controls enables or disables the toolbar and composer as a whole.
type Controls struct{ Enabled bool }

// Input enables or disables the composer while shell approvals are pending.
type Input struct{ Enabled bool }

// ApprovalPrompt asks the user to decide on a shell command. Only one prompt
// is shown at a time.
type ApprovalPrompt struct {
	ID      string
	Command string
	Reason  string
}

// ApprovalDismissed hides the prompt with the given id.
type ApprovalDismissed struct{ ID string }

func (User) isEvent()              {}
func (Assistant) isEvent()         {}
func (System) isEvent()            {}
func (Status) isEvent()            {}
func (DebugVisibility) isEvent()   {}
func (DebugLines) isEvent()        {}
func (Controls) isEvent()          {}
func (Input) isEvent()             {}
func (ApprovalPrompt) isEvent()    {}
func (ApprovalDismissed) isEvent() {}

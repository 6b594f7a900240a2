package bridge

import (
	"github.com/m4xw311/chatbridge/protocol"
)

// route handles one inbound message on the loop. Overlays are drained first,
// then the message gets at most one primary disposition.
func (b *Bridge) route(gen uint64, m protocol.Message) {
	if gen != b.gen {
		b.log.Debug().Uint64("generation", gen).Str("type", m.Type).Msg("dropping message from a superseded backend")
		return
	}
	if m.Type == "" {
		b.log.Debug().Msg("dropping message without a type")
		return
	}

	b.overlays(m)

	switch m.Type {
	case protocol.TypeReady:
		b.setControls(true)
		b.status(LevelInfo, "Backend ready. Say hello!")
	case protocol.TypeAssistant:
		b.emit(Assistant{Content: m.Content})
	case protocol.TypeNotification, protocol.TypeSystem:
		b.emit(System{Content: m.Content})
	case protocol.TypeError:
		msg := m.Content
		if msg == "" {
			msg = "Unknown backend error."
		}
		b.status(LevelError, msg)
	case protocol.TypeEditorQuery:
		b.editorQuery(gen, m)
	case protocol.TypeShellApprovalRequest:
		b.shellApproval(gen, m)
	default:
		if m.Content != "" {
			b.emit(System{Content: m.Content})
		}
	}
}

func (b *Bridge) overlays(m protocol.Message) {
	if m.Debug.IsToggle() {
		visible := *m.Debug.Toggle
		b.setDebugVisible(visible)
		if visible {
			b.status(LevelInfo, "Debug metrics enabled.")
		} else {
			b.status(LevelInfo, "Debug metrics disabled.")
		}
	} else if m.Debug != nil && len(m.Debug.Lines) > 0 {
		b.emit(DebugLines{Lines: m.Debug.Lines})
	}
	for _, extra := range m.Extras {
		b.emit(System{Content: extra})
	}
}

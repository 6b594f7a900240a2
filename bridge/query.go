package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m4xw311/chatbridge/correlator"
	"github.com/m4xw311/chatbridge/editor"
	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/protocol"
)

// editorQuery registers the query and resolves it off the loop. Every query
// that can be registered is answered exactly once unless the connection is
// torn down first. A query reusing the id of one still outstanding is dropped;
// the outstanding one keeps the id and gets the only answer.
func (b *Bridge) editorQuery(gen uint64, m protocol.Message) {
	if _, dup := b.pending.Get(m.ID); dup && m.ID != "" {
		b.log.Debug().Str("id", m.ID).Str("query", m.Query).Msg("ignoring editor query with an outstanding id")
		b.emit(DebugLines{Lines: []string{"Ignoring editor query " + m.ID + ": the id is still outstanding"}})
		return
	}
	p, err := b.pending.Register(m.ID, correlator.EditorQuery, gen, m.Query)
	if err != nil {
		b.log.Warn().Err(err).Str("id", m.ID).Msg("rejecting editor query")
		b.reply(protocol.QueryError(m.ID, editor.ResponseText(err)))
		return
	}

	ctx, capability := b.queryCtx, b.opts.Editor
	go func() {
		result, err := resolveQuery(ctx, capability, m.Query, m.Payload)
		b.mbox.post(func() { b.finishQuery(p, result, err) })
	}()
}

func resolveQuery(ctx context.Context, c editor.Capability, query string, payload json.RawMessage) (result json.RawMessage, err error) {
	if c == nil {
		return nil, errors.Typed(errors.Capability, "no editor is attached")
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Typed(errors.Capability, fmt.Sprintf("editor capability failed: %v", r))
		}
	}()
	return editor.Resolve(ctx, c, query, payload)
}

func (b *Bridge) finishQuery(p *correlator.Pending, result json.RawMessage, err error) {
	if p.Generation != b.gen {
		return
	}
	if _, ok := b.pending.Resolve(p.ID, correlator.EditorQuery); !ok {
		return
	}
	if err != nil {
		b.log.Debug().Err(err).Str("id", p.ID).Str("query", fmt.Sprint(p.Data)).Msg("editor query failed")
		b.reply(protocol.QueryError(p.ID, editor.ResponseText(err)))
		return
	}
	b.reply(protocol.QueryResult(p.ID, result))
}

// reply writes a response to the backend. A failed write concerns only this
// exchange, so it is logged and shown in the debug pane.
func (b *Bridge) reply(v any) {
	if err := b.sup.Send(v); err != nil {
		b.log.Warn().Err(err).Msg("failed to write response")
		b.emit(DebugLines{Lines: []string{"Failed to write response: " + err.Error()}})
	}
}

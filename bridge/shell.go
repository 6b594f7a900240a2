package bridge

import (
	"slices"

	"github.com/m4xw311/chatbridge/approval"
	"github.com/m4xw311/chatbridge/correlator"
	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/protocol"
)

// shellApproval registers an approval request. It is settled at once when the
// session or the policy allows it; otherwise it joins the prompt queue.
func (b *Bridge) shellApproval(gen uint64, m protocol.Message) {
	req := shellRequest{Command: m.Command, Reason: m.Reason}
	p, err := b.pending.Register(m.ID, correlator.ShellApproval, gen, req)
	if err != nil {
		b.log.Warn().Err(err).Str("id", m.ID).Msg("ignoring shell approval request")
		b.emit(DebugLines{Lines: []string{"Ignoring shell approval request: " + err.Error()}})
		return
	}

	if d, outcome := approval.Evaluate(b.session, b.opts.Policy, req.Command); outcome != approval.Prompt {
		b.autoResolve(p, d, outcome)
		return
	}

	b.prompts = append(b.prompts, p)
	if len(b.prompts) == 1 {
		b.emit(Input{Enabled: false})
		b.emit(promptFor(p))
	}
}

// autoResolve answers without asking. The user sees a debug line, not a chat
// notice.
func (b *Bridge) autoResolve(p *correlator.Pending, d approval.Decision, outcome approval.Outcome) {
	if _, ok := b.pending.Resolve(p.ID, correlator.ShellApproval); !ok {
		return
	}
	req, _ := p.Data.(shellRequest)
	reason := "approve all is on for this session"
	if outcome == approval.ByPolicy {
		reason = "matches an auto-approve pattern"
	}
	b.log.Info().Str("id", p.ID).Str("command", req.Command).Str("reason", reason).Msg("auto-approved shell command")
	b.emit(DebugLines{Lines: []string{"Auto-approved shell command (" + reason + "): " + req.Command}})
	b.reply(protocol.NewShellApprovalResponse(p.ID, d.Approved(), d.EscalatesSession()))
}

// ResolveApproval applies the user's decision to the pending request with the
// given id. It reports false when no such request is outstanding, which
// covers duplicate answers. The returned error is the write failure, if any.
func (b *Bridge) ResolveApproval(id string, d approval.Decision) (bool, error) {
	if !d.Valid() {
		return false, errors.Typed(errors.InvalidQuery, "unknown decision '"+string(d)+"'")
	}
	var resolved bool
	err := b.call(func() error {
		p, ok := b.pending.Resolve(id, correlator.ShellApproval)
		if !ok {
			return nil
		}
		resolved = true
		return b.decide(p, d)
	})
	return resolved, err
}

func (b *Bridge) decide(p *correlator.Pending, d approval.Decision) error {
	idx := slices.IndexFunc(b.prompts, func(q *correlator.Pending) bool { return q.ID == p.ID })
	if idx >= 0 {
		b.prompts = slices.Delete(b.prompts, idx, idx+1)
	}

	req, _ := p.Data.(shellRequest)
	b.session.Apply(req.Command, d)
	err := b.sup.Send(protocol.NewShellApprovalResponse(p.ID, d.Approved(), d.EscalatesSession()))
	if err != nil {
		b.log.Warn().Err(err).Str("id", p.ID).Msg("failed to write approval response")
		b.status(LevelError, "Failed to send approval: "+err.Error())
	}
	b.emit(ApprovalDismissed{ID: p.ID})

	if d.EscalatesSession() {
		rest := b.prompts
		b.prompts = nil
		for _, q := range rest {
			b.emit(ApprovalDismissed{ID: q.ID})
			b.autoResolve(q, approval.ApproveAll, approval.BySession)
		}
	}

	if len(b.prompts) == 0 {
		b.emit(Input{Enabled: true})
	} else if idx == 0 {
		b.emit(promptFor(b.prompts[0]))
	}
	return err
}
